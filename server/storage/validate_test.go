package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *Event {
	start := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	return NewMockEvent(0, 1, "uid-1", "Planning", start, start.Add(time.Hour))
}

func TestValidateCalendar(t *testing.T) {
	tests := []struct {
		name  string
		cal   Calendar
		field string
	}{
		{"valid", Calendar{Name: "alice", Owner: "u1", OwnerEmail: "a@example.com"}, ""},
		{"empty name", Calendar{Name: " ", Owner: "u1", OwnerEmail: "a@example.com"}, "name"},
		{"ics suffix", Calendar{Name: "alice.ICS", Owner: "u1", OwnerEmail: "a@example.com"}, "name"},
		{"slash", Calendar{Name: "a/b", Owner: "u1", OwnerEmail: "a@example.com"}, "name"},
		{"no owner", Calendar{Name: "alice", OwnerEmail: "a@example.com"}, "owner"},
		{"owner without email", Calendar{Name: "alice", Owner: "u1"}, "owner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCalendar(&tt.cal)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var se *Error
			if assert.ErrorAs(t, err, &se) {
				assert.Equal(t, ErrValidation, se.Type)
				assert.Equal(t, tt.field, se.Field)
			}
		})
	}
}

func TestValidateEventDefaults(t *testing.T) {
	tests := []struct {
		name      string
		class     Classification
		transp    Transparency
		wantClass Classification
		wantTrans Transparency
	}{
		{"unset", "", "", ClassPublic, TranspOpaque},
		{"explicit", ClassPrivate, TranspTransparent, ClassPrivate, TranspTransparent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			ev.Classification = tt.class
			ev.Transp = tt.transp
			require.NoError(t, ValidateEvent(ev, nil))
			assert.Equal(t, tt.wantClass, ev.Classification)
			assert.Equal(t, tt.wantTrans, ev.Transp)
		})
	}
}

func TestValidateEvent(t *testing.T) {
	master := validEvent()
	master.ID = 7
	master.Organizer = "org@example.com"

	override := func(mod func(*Event)) *Event {
		ev := validEvent()
		ev.Parent = mo.Some(EventID(7))
		ev.Recurrence = mo.Some(ev.Start.AddDate(0, 0, 7))
		ev.Organizer = "org@example.com"
		mod(ev)
		return ev
	}

	tests := []struct {
		name   string
		ev     *Event
		master *Event
		field  string
	}{
		{"valid", validEvent(), nil, ""},
		{"no calendar", func() *Event { e := validEvent(); e.CalendarID = 0; return e }(), nil, "calendar"},
		{"no uuid", func() *Event { e := validEvent(); e.UUID = ""; return e }(), nil, "uuid"},
		{"end before start", func() *Event { e := validEvent(); e.End = mo.Some(e.Start.Add(-time.Minute)); return e }(), nil, "dtend"},
		{"bad class", func() *Event { e := validEvent(); e.Classification = "secret"; return e }(), nil, "classification"},
		{"recurrence on master", func() *Event { e := validEvent(); e.Recurrence = mo.Some(e.Start); return e }(), nil, "recurrence"},
		{"attendees without organizer", func() *Event {
			e := validEvent()
			e.Attendees = []Attendee{{Email: "b@example.com"}}
			return e
		}(), nil, "organizer"},
		{"duplicate attendee", func() *Event {
			e := validEvent()
			e.Organizer = "org@example.com"
			e.Attendees = []Attendee{{Email: "b@example.com"}, {Email: "B@example.com"}}
			return e
		}(), nil, "attendees"},
		{"bad rule", func() *Event {
			e := validEvent()
			e.RRules = []RuleEntry{{Rule: recurrence.Rule{Freq: "FORTNIGHTLY"}}}
			return e
		}(), nil, "freq"},
		{"valid override", override(func(*Event) {}), master, ""},
		{"override without master", override(func(*Event) {}), nil, "parent"},
		{"override with rrule", override(func(e *Event) {
			e.RRules = []RuleEntry{{Rule: recurrence.Rule{Freq: recurrence.Daily}}}
		}), master, "rrules"},
		{"override with exdates", override(func(e *Event) { e.ExDates = []DateEntry{{Time: e.Start}} }), master, "exdates"},
		{"override of other uuid", override(func(e *Event) { e.UUID = "other" }), master, "parent"},
		{"override without organizer", override(func(e *Event) { e.Organizer = "" }), master, "organizer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEvent(tt.ev, tt.master)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, IsValidation(err), "got %v", err)
			var se *Error
			var ve *recurrence.ValidationError
			switch {
			case errors.As(err, &se):
				assert.Equal(t, tt.field, se.Field)
			case errors.As(err, &ve):
				assert.Equal(t, tt.field, ve.Field)
			default:
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
