package storage

import (
	"slices"
	"strings"
	"time"

	"github.com/samber/mo"
)

// CalendarQuery selects calendars. Empty fields match everything.
type CalendarQuery struct {
	Owner       string
	OwnerEmails []string
}

func (q CalendarQuery) Matches(c *Calendar) bool {
	if q.Owner != "" && c.Owner != q.Owner {
		return false
	}
	if len(q.OwnerEmails) > 0 && !containsFold(q.OwnerEmails, c.OwnerEmail) {
		return false
	}
	return true
}

// EventQuery selects events. Empty fields match everything.
type EventQuery struct {
	CalendarID  CalendarID
	UUID        string
	OwnerEmails []string // calendars owned by any of these addresses
	ExcludeID   EventID
	MastersOnly bool
	// Recurrence selects the overrides replacing this occurrence.
	Recurrence mo.Option[time.Time]
}

// SameOccurrence narrows q to events standing for the same occurrence as
// ev: masters for a master, overrides of the same recurrence otherwise.
func (q EventQuery) SameOccurrence(ev *Event) EventQuery {
	q.UUID = ev.UUID
	if rec, ok := ev.Recurrence.Get(); ok {
		q.Recurrence = mo.Some(rec)
		q.MastersOnly = false
	} else {
		q.MastersOnly = true
		q.Recurrence = mo.None[time.Time]()
	}
	return q
}

// Matches evaluates q against ev living in cal.
func (q EventQuery) Matches(ev *Event, cal *Calendar) bool {
	if q.CalendarID != 0 && ev.CalendarID != q.CalendarID {
		return false
	}
	if q.UUID != "" && ev.UUID != q.UUID {
		return false
	}
	if q.ExcludeID != 0 && ev.ID == q.ExcludeID {
		return false
	}
	if q.MastersOnly && ev.IsOverride() {
		return false
	}
	if want, ok := q.Recurrence.Get(); ok {
		got, has := ev.Recurrence.Get()
		if !has || !got.Equal(want) {
			return false
		}
	}
	if len(q.OwnerEmails) > 0 && (cal == nil || !containsFold(q.OwnerEmails, cal.OwnerEmail)) {
		return false
	}
	return true
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool { return strings.EqualFold(v, s) })
}
