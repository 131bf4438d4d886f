package storage

import (
	"strings"
)

// CalendarFileSuffix is reserved for the whole-calendar resource.
const CalendarFileSuffix = ".ics"

// ValidateCalendar checks the single-calendar rules. Uniqueness of name and
// owner is enforced by stores.
func ValidateCalendar(cal *Calendar) error {
	switch {
	case strings.TrimSpace(cal.Name) == "":
		return NewValidationError("name", "required")
	case strings.HasSuffix(strings.ToLower(cal.Name), CalendarFileSuffix):
		return NewValidationError("name", "must not end with "+CalendarFileSuffix)
	case strings.Contains(cal.Name, "/"):
		return NewValidationError("name", "must not contain '/'")
	case cal.Owner == "":
		return NewValidationError("owner", "required")
	case cal.OwnerEmail == "":
		return NewValidationError("owner", "owner must have an email address")
	}
	return nil
}

// ValidateEvent checks an event before it is written. master is the loaded
// parent of an override and nil otherwise. An unset classification or
// transparency is filled in with its default first.
func ValidateEvent(ev *Event, master *Event) error {
	ev.ApplyDefaults()
	if ev.CalendarID == 0 {
		return NewValidationError("calendar", "required")
	}
	if ev.UUID == "" {
		return NewValidationError("uuid", "required")
	}
	if ev.Start.IsZero() {
		return NewValidationError("dtstart", "required")
	}
	if end, ok := ev.End.Get(); ok && end.Before(ev.Start) {
		return NewValidationError("dtend", "must not be before dtstart")
	}
	if _, ok := ParseClassification(string(ev.Classification)); !ok {
		return NewValidationError("classification", "unknown value "+string(ev.Classification))
	}
	if _, ok := ParseStatus(string(ev.Status)); !ok {
		return NewValidationError("status", "unknown value "+string(ev.Status))
	}
	if _, ok := ParseTransparency(string(ev.Transp)); !ok {
		return NewValidationError("transp", "unknown value "+string(ev.Transp))
	}

	if ev.IsOverride() {
		if master == nil {
			return NewValidationError("parent", "master event not found")
		}
		if master.IsOverride() {
			return NewValidationError("parent", "must reference a master event")
		}
		if master.UUID != ev.UUID || master.CalendarID != ev.CalendarID {
			return NewValidationError("parent", "must share uuid and calendar with the override")
		}
		if !ev.Recurrence.IsPresent() {
			return NewValidationError("recurrence", "required on an override")
		}
		switch {
		case len(ev.RDates) > 0:
			return NewValidationError("rdates", "not allowed on an override")
		case len(ev.RRules) > 0:
			return NewValidationError("rrules", "not allowed on an override")
		case len(ev.ExDates) > 0:
			return NewValidationError("exdates", "not allowed on an override")
		case len(ev.ExRules) > 0:
			return NewValidationError("exrules", "not allowed on an override")
		case len(ev.Recurrences) > 0:
			return NewValidationError("recurrences", "not allowed on an override")
		}
		if master.Organizer != "" && ev.Organizer == "" {
			return NewValidationError("organizer", "required when the master has an organizer")
		}
	} else {
		if ev.Recurrence.IsPresent() {
			return NewValidationError("recurrence", "only allowed on an override")
		}
		if len(ev.Attendees) > 0 && ev.Organizer == "" {
			return NewValidationError("organizer", "required when attendees are present")
		}
	}

	for _, r := range ev.RRules {
		if err := r.Rule.Validate(); err != nil {
			return err
		}
	}
	for _, r := range ev.ExRules {
		if err := r.Rule.Validate(); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(ev.Attendees))
	for _, a := range ev.Attendees {
		email := strings.ToLower(a.Email)
		if email == "" {
			return NewValidationError("attendees", "attendee email required")
		}
		if seen[email] {
			return NewValidationError("attendees", "duplicate attendee "+a.Email)
		}
		seen[email] = true
		if _, ok := ParsePartStat(string(a.Status)); !ok {
			return NewValidationError("attendees", "unknown status "+string(a.Status))
		}
	}
	return nil
}
