package codec

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
)

// Encode renders ev as a VEVENT followed by one VEVENT per loaded override,
// all sharing the same UID.
func Encode(ev *storage.Event) []*ical.Component {
	comps := []*ical.Component{encodeOne(ev)}
	for _, o := range ev.Recurrences {
		comps = append(comps, encodeOne(o))
	}
	return comps
}

// EncodeCalendar wraps the given masters and their overrides in a VCALENDAR,
// preceded by a VTIMEZONE for every TZID their times reference.
func EncodeCalendar(events []*storage.Event) *ical.Calendar {
	cal := storage.NewCalendarData()
	cal.Children = append(cal.Children, timezones(events)...)
	for _, ev := range events {
		cal.Children = append(cal.Children, Encode(ev)...)
	}
	return cal
}

// emptyCalendar is the text of a calendar without events. The encoder
// refuses a VCALENDAR without components.
const emptyCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + storage.ProductID + "\r\nEND:VCALENDAR\r\n"

// EncodeText renders events as iCalendar text.
func EncodeText(events ...*storage.Event) (string, error) {
	if len(events) == 0 {
		return emptyCalendar, nil
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(EncodeCalendar(events)); err != nil {
		return "", fmt.Errorf("encode calendar: %w", err)
	}
	return buf.String(), nil
}

func encodeOne(ev *storage.Event) *ical.Component {
	comp := ical.NewComponent(ical.CompEvent)
	for _, p := range ev.Foreign {
		p.Params = cloneParams(p.Params)
		comp.Props.Add(&p)
	}

	loc, _ := zone(ev.Timezone)

	setText(comp, propSummary, ev.Summary)
	setText(comp, propComment, ev.Comment)

	comp.Props.Set(timeProp(ical.PropDateTimeStart, ev.Start, ev.AllDay, loc))
	if end, ok := ev.End.Get(); ok {
		comp.Props.Set(timeProp(ical.PropDateTimeEnd, end, ev.AllDay, loc))
	} else {
		comp.Props.Del(ical.PropDateTimeEnd)
	}
	comp.Props.Del(propDuration)

	stamp := ev.UpdatedAt
	if stamp.IsZero() {
		stamp = ev.CreatedAt
	}
	if stamp.IsZero() {
		stamp = ev.Start
	}
	if !ev.CreatedAt.IsZero() {
		comp.Props.Set(timeProp(propCreated, ev.CreatedAt, false, nil))
	}
	comp.Props.Set(timeProp(ical.PropDateTimeStamp, stamp, false, nil))
	comp.Props.Set(timeProp(propLastModified, stamp, false, nil))

	if rec, ok := ev.Recurrence.Get(); ok {
		comp.Props.Set(timeProp(propRecurrenceID, rec, ev.AllDay, loc))
	}
	if ev.Status != storage.StatusNone {
		setValue(comp, propStatus, strings.ToUpper(string(ev.Status)))
	} else {
		comp.Props.Del(propStatus)
	}
	comp.Props.SetText(ical.PropUID, ev.UUID)
	setValue(comp, propSequence, strconv.Itoa(ev.Sequence))

	if len(ev.Categories) > 0 {
		names := make([]string, len(ev.Categories))
		for i, c := range ev.Categories {
			names[i] = c.Name
		}
		setValue(comp, propCategories, joinTextList(names))
	}

	// an unrecognised CLASS carried in Foreign wins over the default
	if comp.Props.Get(propClass) == nil {
		class := ev.Classification
		if class == "" {
			class = storage.ClassPublic
		}
		setValue(comp, propClass, strings.ToUpper(string(class)))
	}
	transp := ev.Transp
	if transp == "" {
		transp = storage.TranspOpaque
	}
	setValue(comp, propTransp, strings.ToUpper(string(transp)))

	if place, ok := ev.Location.Get(); ok {
		comp.Props.SetText(propLocation, place.Name)
	}
	if ev.Organizer != "" {
		setValue(comp, propOrganizer, "MAILTO:"+ev.Organizer)
	}

	for _, a := range ev.Attendees {
		comp.Props.Add(attendeeProp(a))
	}

	var rdates, exdates []recurrence.Date
	for _, d := range ev.RDates {
		rdates = append(rdates, d.Date())
	}
	for _, d := range ev.ExDates {
		exdates = append(exdates, d.Date())
	}
	for _, p := range recurrence.DateListProps(propRDate, rdates) {
		comp.Props.Add(&p)
	}
	for _, p := range recurrence.DateListProps(propExDate, exdates) {
		comp.Props.Add(&p)
	}
	for _, r := range ev.RRules {
		addValue(comp, propRRule, r.Rule.String())
	}
	for _, r := range ev.ExRules {
		addValue(comp, propExRule, r.Rule.String())
	}

	for _, a := range ev.Alarms {
		if a.Component != nil {
			comp.Children = append(comp.Children, a.Component)
		}
	}
	return comp
}

func attendeeProp(a storage.Attendee) *ical.Prop {
	p := ical.NewProp(propAttendee)
	for k, v := range a.Params {
		p.Params[k] = slices.Clone(v)
	}
	if a.Status != storage.PartStatNone {
		p.Params.Set(paramPartStat, strings.ToUpper(string(a.Status)))
	} else if _, known := storage.ParsePartStat(p.Params.Get(paramPartStat)); known {
		delete(p.Params, paramPartStat)
	}
	p.Value = "MAILTO:" + a.Email
	return p
}

func setText(comp *ical.Component, name, value string) {
	if value == "" {
		comp.Props.Del(name)
		return
	}
	comp.Props.SetText(name, value)
}

func setValue(comp *ical.Component, name, value string) {
	p := ical.NewProp(name)
	p.Value = value
	comp.Props.Set(p)
}

func addValue(comp *ical.Component, name, value string) {
	p := ical.NewProp(name)
	p.Value = value
	comp.Props.Add(p)
}

func cloneParams(p ical.Params) ical.Params {
	out := make(ical.Params, len(p))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	return out
}
