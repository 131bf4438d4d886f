package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-ical"
)

// ProductID is written as PRODID on every calendar this server renders.
const ProductID = "-//Caldora//Go Calendar//EN"

// NewCalendarData returns an empty VCALENDAR with PRODID and VERSION set.
func NewCalendarData() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	return cal
}

// CalendarToICS encodes cal to text.
func CalendarToICS(cal *ical.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

// ICSToCalendar decodes exactly one VCALENDAR from text.
func ICSToCalendar(ics string) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(strings.NewReader(ics)).Decode()
	if err != nil {
		return nil, NewValidationError("calendar-data", "failed to decode calendar: "+err.Error())
	}
	return cal, nil
}

// ChildrenNamed returns the direct children of comp with the given name.
func ChildrenNamed(comp *ical.Component, name string) []*ical.Component {
	var out []*ical.Component
	for _, child := range comp.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}
