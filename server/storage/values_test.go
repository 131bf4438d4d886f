package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValuesApplyAttendeeOps(t *testing.T) {
	ev := validEvent()
	ev.Sequence = 3
	ev.Organizer = "org@example.com"
	ev.Attendees = []Attendee{
		{ID: 1, Email: "a@example.com", Status: PartStatNeedsAction},
		{ID: 2, Email: "b@example.com", Status: PartStatNeedsAction},
	}

	v := &EventValues{
		UUID:      ev.UUID,
		Summary:   "Renamed",
		Start:     ev.Start,
		End:       ev.End,
		Organizer: ev.Organizer,
		Attendees: []ChildOp[Attendee]{
			{Op: OpUpdate, Value: Attendee{ID: 1, Email: "a@example.com", Status: PartStatAccepted}},
			{Op: OpDelete, Value: Attendee{ID: 2}},
			{Op: OpCreate, Value: Attendee{ID: 99, Email: "c@example.com"}},
		},
	}
	v.Apply(ev)

	assert.Equal(t, "Renamed", ev.Summary)
	assert.Equal(t, 3, ev.Sequence)
	require.Len(t, ev.Attendees, 2)
	assert.Equal(t, PartStatAccepted, ev.Attendees[0].Status)
	assert.Equal(t, "c@example.com", ev.Attendees[1].Email)
	assert.Zero(t, ev.Attendees[1].ID)
}

func TestEventHelpers(t *testing.T) {
	ev := validEvent()
	assert.Equal(t, time.Hour, ev.Duration())
	assert.False(t, ev.IsRecurring())

	ev.Attendees = []Attendee{{Email: "Bob@Example.com"}}
	a, ok := ev.Attendee("bob@example.com")
	require.True(t, ok)
	a.Status = PartStatDeclined
	assert.Equal(t, PartStatDeclined, ev.Attendees[0].Status)

	rec := ev.Start.AddDate(0, 0, 1)
	ev.RRules = []RuleEntry{{Rule: recurrence.Rule{Freq: recurrence.Daily}}}
	ev.Recurrences = []*Event{{UUID: ev.UUID, Recurrence: mo.Some(rec)}}
	assert.True(t, ev.IsRecurring())
	_, ok = ev.Override(rec)
	assert.True(t, ok)

	c := ev.Clone()
	c.Attendees[0].Email = "x"
	c.Recurrences[0].Summary = "x"
	assert.Equal(t, "Bob@Example.com", ev.Attendees[0].Email)
	assert.Empty(t, ev.Recurrences[0].Summary)

	rs := ev.RuleSet()
	assert.Equal(t, ev.Start, rs.Start)
	assert.Len(t, rs.RRules, 1)
}

func TestEventRuleSetZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	utcStart := time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC)
	allDay := time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		ev       *Event
		wantZone *time.Location
		wantHour int
	}{
		{"named zone", &Event{Start: utcStart, Timezone: "Europe/Berlin"}, berlin, 10},
		{"unknown zone keeps start", &Event{Start: utcStart, Timezone: "Mars/Olympus"}, time.UTC, 9},
		{"no zone keeps start", &Event{Start: utcStart.In(berlin)}, berlin, 10},
		{"all day stays floating", &Event{Start: allDay, AllDay: true, Timezone: "Europe/Berlin"}, time.UTC, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.RDates = []DateEntry{{Time: utcStart.AddDate(0, 0, 1)}, {Time: allDay, DateOnly: true}}
			tt.ev.ExDates = []DateEntry{{Time: utcStart.AddDate(0, 0, 2)}}
			rs := tt.ev.RuleSet()
			assert.Equal(t, tt.wantZone.String(), rs.Start.Location().String())
			assert.Equal(t, tt.wantHour, rs.Start.Hour())
			assert.True(t, rs.Start.Equal(tt.ev.Start))

			if !tt.ev.AllDay {
				assert.Equal(t, tt.wantZone.String(), rs.RDates[0].Time.Location().String())
				assert.Equal(t, tt.wantZone.String(), rs.ExDates[0].Time.Location().String())
			}
			assert.Equal(t, allDay, rs.RDates[1].Time)
		})
	}
}

func TestErrorTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewNotFoundError("event", 4))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))

	tx := NewTransactionError("replication failed", NewPermissionError("bob", "no"))
	typ, ok := TypeOf(tx)
	require.True(t, ok)
	assert.Equal(t, ErrTransactionFailure, typ)
	assert.True(t, errors.Is(tx, tx.Err))

	assert.True(t, IsValidation(&recurrence.ValidationError{Field: "freq"}))
	_, ok = TypeOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestEventQueryMatches(t *testing.T) {
	cal := NewMockCalendar(1, "alice", "alice", "alice@example.com")
	master := validEvent()
	master.ID = 1
	rec := master.Start.AddDate(0, 0, 1)
	override := validEvent()
	override.ID = 2
	override.Parent = mo.Some(EventID(1))
	override.Recurrence = mo.Some(rec)

	q := EventQuery{}.SameOccurrence(master)
	assert.True(t, q.Matches(master, cal))
	assert.False(t, q.Matches(override, cal))

	q = EventQuery{OwnerEmails: []string{"ALICE@example.com"}}.SameOccurrence(override)
	assert.True(t, q.Matches(override, cal))
	assert.False(t, q.Matches(master, cal))
	assert.False(t, q.Matches(override, nil))

	assert.False(t, EventQuery{ExcludeID: 2}.Matches(override, cal))
	assert.False(t, EventQuery{CalendarID: 9}.Matches(master, cal))
}
