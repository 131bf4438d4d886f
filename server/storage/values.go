package storage

import (
	"slices"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Op is a child-record instruction produced by decoding.
type Op int

const (
	OpCreate Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChildOp is one instruction on a child record. Update and delete carry the
// existing record's ID in Value.
type ChildOp[T any] struct {
	Op    Op
	Value T
}

// RecurrenceOp is one instruction on an override. ID is set for update and
// delete, Values for create and update.
type RecurrenceOp struct {
	Op     Op
	ID     EventID
	Values *EventValues
}

// EventValues is the field mapping a decoded calendar object produces for
// create or update. It never carries Sequence; stores own that counter.
type EventValues struct {
	UUID           string
	Summary        string
	Comment        string
	AllDay         bool
	Start          time.Time
	End            mo.Option[time.Time]
	Timezone       string
	Categories     []Category
	Classification Classification
	Location       mo.Option[Location]
	Status         Status
	Organizer      string
	Transp         Transparency
	Recurrence     mo.Option[time.Time]
	Foreign        []ical.Prop

	Attendees []ChildOp[Attendee]

	// Recurrence children and alarms are replaced wholesale.
	Alarms  []Alarm
	RDates  []DateEntry
	ExDates []DateEntry
	RRules  []RuleEntry
	ExRules []RuleEntry

	Recurrences []RecurrenceOp
}

// Apply writes v onto ev. Overrides listed in v.Recurrences are left to the
// caller since each is an event of its own.
func (v *EventValues) Apply(ev *Event) {
	ev.UUID = v.UUID
	ev.Summary = v.Summary
	ev.Comment = v.Comment
	ev.AllDay = v.AllDay
	ev.Start = v.Start
	ev.End = v.End
	ev.Timezone = v.Timezone
	ev.Categories = slices.Clone(v.Categories)
	ev.Classification = v.Classification
	ev.Location = v.Location
	ev.Status = v.Status
	ev.Organizer = v.Organizer
	ev.Transp = v.Transp
	ev.Recurrence = v.Recurrence
	ev.Foreign = slices.Clone(v.Foreign)
	ev.Alarms = slices.Clone(v.Alarms)
	ev.RDates = slices.Clone(v.RDates)
	ev.ExDates = slices.Clone(v.ExDates)
	ev.RRules = slices.Clone(v.RRules)
	ev.ExRules = slices.Clone(v.ExRules)

	for _, op := range v.Attendees {
		switch op.Op {
		case OpCreate:
			a := op.Value
			a.ID = 0
			ev.Attendees = append(ev.Attendees, a)
		case OpUpdate:
			if i := slices.IndexFunc(ev.Attendees, func(a Attendee) bool { return a.ID == op.Value.ID }); i >= 0 {
				ev.Attendees[i] = op.Value
			}
		case OpDelete:
			ev.Attendees = slices.DeleteFunc(ev.Attendees, func(a Attendee) bool { return a.ID == op.Value.ID })
		}
	}
}

// NewEvent builds an unsaved event in calendar from v.
func (v *EventValues) NewEvent(calendar CalendarID) *Event {
	ev := &Event{CalendarID: calendar}
	v.Apply(ev)
	return ev
}
