package codec

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// TagResolver looks up existing categories and locations by name.
// storage.Reader satisfies it.
type TagResolver interface {
	LookupCategory(ctx context.Context, name string) (storage.Category, error)
	LookupLocation(ctx context.Context, name string) (storage.Location, error)
}

// Decode parses iCalendar text into the values for creating, or updating
// existing, an event. It never writes: unknown tags come back with ID 0 and
// the store creates them.
func Decode(ctx context.Context, data string, existing *storage.Event, tags TagResolver) (*storage.EventValues, error) {
	cal, err := storage.ICSToCalendar(data)
	if err != nil {
		return nil, err
	}
	vevents := storage.ChildrenNamed(cal.Component, ical.CompEvent)
	if len(vevents) == 0 {
		return nil, storage.NewValidationError("calendar-data", "no VEVENT found")
	}

	primary := vevents[0]
	if i := slices.IndexFunc(vevents, func(c *ical.Component) bool { return c.Props.Get(propRecurrenceID) == nil }); i >= 0 {
		primary = vevents[i]
	}
	d := decoder{ctx: ctx, tags: tags, calTZ: calendarTimezone(cal)}

	values, err := d.event(primary, existing)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		values.UUID = existing.UUID
	} else if values.UUID == "" {
		values.UUID = uuid.NewString()
	}

	var stale []*storage.Event
	if existing != nil {
		stale = slices.Clone(existing.Recurrences)
	}
	for _, vevent := range vevents {
		if vevent == primary {
			continue
		}
		if vevent.Props.Get(propRecurrenceID) == nil {
			return nil, storage.NewValidationError("recurrence", "more than one VEVENT without RECURRENCE-ID")
		}
		var match *storage.Event
		if rec, err := d.recurrenceID(vevent); err == nil {
			if i := slices.IndexFunc(stale, func(o *storage.Event) bool {
				r, ok := o.Recurrence.Get()
				return ok && r.Equal(rec)
			}); i >= 0 {
				match = stale[i]
				stale = slices.Delete(stale, i, i+1)
			}
		}
		ov, err := d.event(vevent, match)
		if err != nil {
			return nil, err
		}
		ov.UUID = values.UUID
		if match != nil {
			values.Recurrences = append(values.Recurrences, storage.RecurrenceOp{Op: storage.OpUpdate, ID: match.ID, Values: ov})
		} else {
			values.Recurrences = append(values.Recurrences, storage.RecurrenceOp{Op: storage.OpCreate, Values: ov})
		}
	}
	for _, o := range stale {
		values.Recurrences = append(values.Recurrences, storage.RecurrenceOp{Op: storage.OpDelete, ID: o.ID})
	}
	return values, nil
}

// calendarTimezone returns the first VTIMEZONE's TZID when Go knows it.
func calendarTimezone(cal *ical.Calendar) string {
	for _, tz := range storage.ChildrenNamed(cal.Component, ical.CompTimezone) {
		if p := tz.Props.Get(propTZID); p != nil {
			if _, ok := zone(p.Value); ok {
				return p.Value
			}
		}
	}
	return ""
}

type decoder struct {
	ctx   context.Context
	tags  TagResolver
	calTZ string
}

func (d *decoder) event(vevent *ical.Component, existing *storage.Event) (*storage.EventValues, error) {
	v := &storage.EventValues{
		Classification: storage.ClassPublic,
		Transp:         storage.TranspOpaque,
	}
	if p := vevent.Props.Get(ical.PropUID); p != nil {
		v.UUID = p.Value
	}
	v.Summary = text(vevent, propSummary)
	v.Comment = text(vevent, propComment)

	start := vevent.Props.Get(ical.PropDateTimeStart)
	if start == nil {
		return nil, storage.NewValidationError("dtstart", "required")
	}
	v.Timezone = d.calTZ
	if tzid := start.Params.Get(ical.ParamTimezoneID); tzid != "" {
		if _, ok := zone(tzid); ok {
			v.Timezone = tzid
		}
	}
	loc := time.UTC
	if l, ok := zone(v.Timezone); ok {
		loc = l
	}

	dtstart, err := parseTime(start, loc)
	if err != nil {
		return nil, err
	}
	v.AllDay = dtstart.DateOnly
	v.Start = dtstart.Time
	if end := vevent.Props.Get(ical.PropDateTimeEnd); end != nil {
		dtend, err := parseTime(end, loc)
		if err != nil {
			return nil, err
		}
		v.End = mo.Some(dtend.Time)
	} else if dur := vevent.Props.Get(propDuration); dur != nil {
		delta, err := dur.Duration()
		if err != nil {
			return nil, storage.NewValidationError("duration", err.Error())
		}
		v.End = mo.Some(v.Start.Add(delta))
	}
	if vevent.Props.Get(propRecurrenceID) != nil {
		rec, err := d.recurrenceIDIn(vevent, loc)
		if err != nil {
			return nil, err
		}
		v.Recurrence = mo.Some(rec)
	}

	if p := vevent.Props.Get(propStatus); p != nil {
		if st, ok := storage.ParseStatus(p.Value); ok {
			v.Status = st
		}
	}
	if p := vevent.Props.Get(propTransp); p != nil {
		if t, ok := storage.ParseTransparency(p.Value); ok {
			v.Transp = t
		}
	}
	if p := vevent.Props.Get(propOrganizer); p != nil {
		v.Organizer = stripMailto(p.Value)
	}
	if err := d.resolveTags(vevent, v); err != nil {
		return nil, err
	}

	v.Foreign = foreignProps(vevent)
	if p := vevent.Props.Get(propClass); p != nil {
		if class, ok := storage.ParseClassification(p.Value); ok {
			v.Classification = class
		} else {
			v.Foreign = append(v.Foreign, *p)
		}
	}

	v.Attendees = diffAttendees(vevent.Props.Values(propAttendee), existing)

	if v.RDates, err = dateEntries(vevent, propRDate, loc); err != nil {
		return nil, err
	}
	if v.ExDates, err = dateEntries(vevent, propExDate, loc); err != nil {
		return nil, err
	}
	if v.RRules, err = ruleEntries(vevent, propRRule); err != nil {
		return nil, err
	}
	if v.ExRules, err = ruleEntries(vevent, propExRule); err != nil {
		return nil, err
	}
	for _, alarm := range storage.ChildrenNamed(vevent, ical.CompAlarm) {
		v.Alarms = append(v.Alarms, storage.Alarm{Component: alarm})
	}
	return v, nil
}

func (d *decoder) recurrenceID(vevent *ical.Component) (time.Time, error) {
	loc := time.UTC
	tz := d.calTZ
	if p := vevent.Props.Get(ical.PropDateTimeStart); p != nil && p.Params.Get(ical.ParamTimezoneID) != "" {
		tz = p.Params.Get(ical.ParamTimezoneID)
	}
	if l, ok := zone(tz); ok {
		loc = l
	}
	return d.recurrenceIDIn(vevent, loc)
}

func (d *decoder) recurrenceIDIn(vevent *ical.Component, loc *time.Location) (time.Time, error) {
	rec, err := parseTime(vevent.Props.Get(propRecurrenceID), loc)
	if err != nil {
		return time.Time{}, err
	}
	return rec.Time, nil
}

func (d *decoder) resolveTags(vevent *ical.Component, v *storage.EventValues) error {
	for _, p := range vevent.Props.Values(propCategories) {
		for _, name := range splitTextList(p.Value) {
			name = strings.TrimSpace(name)
			if name == "" || slices.ContainsFunc(v.Categories, func(c storage.Category) bool { return c.Name == name }) {
				continue
			}
			c, err := d.tags.LookupCategory(d.ctx, name)
			if storage.IsNotFound(err) {
				c, err = storage.Category{Name: name}, nil
			}
			if err != nil {
				return fmt.Errorf("lookup category %q: %w", name, err)
			}
			v.Categories = append(v.Categories, c)
		}
	}
	if name := strings.TrimSpace(text(vevent, propLocation)); name != "" {
		l, err := d.tags.LookupLocation(d.ctx, name)
		if storage.IsNotFound(err) {
			l, err = storage.Location{Name: name}, nil
		}
		if err != nil {
			return fmt.Errorf("lookup location %q: %w", name, err)
		}
		v.Location = mo.Some(l)
	}
	return nil
}

// diffAttendees matches incoming lines to existing attendees by email.
func diffAttendees(props []ical.Prop, existing *storage.Event) []storage.ChildOp[storage.Attendee] {
	var current []storage.Attendee
	if existing != nil {
		current = slices.Clone(existing.Attendees)
	}
	var ops []storage.ChildOp[storage.Attendee]
	for _, p := range props {
		a := storage.Attendee{
			Email:  stripMailto(p.Value),
			Params: cloneParams(p.Params),
		}
		if st, ok := storage.ParsePartStat(p.Params.Get(paramPartStat)); ok {
			a.Status = st
		}
		i := slices.IndexFunc(current, func(c storage.Attendee) bool { return strings.EqualFold(c.Email, a.Email) })
		if i < 0 {
			ops = append(ops, storage.ChildOp[storage.Attendee]{Op: storage.OpCreate, Value: a})
			continue
		}
		a.ID = current[i].ID
		current = slices.Delete(current, i, i+1)
		ops = append(ops, storage.ChildOp[storage.Attendee]{Op: storage.OpUpdate, Value: a})
	}
	for _, gone := range current {
		ops = append(ops, storage.ChildOp[storage.Attendee]{Op: storage.OpDelete, Value: gone})
	}
	return ops
}

func dateEntries(vevent *ical.Component, name string, loc *time.Location) ([]storage.DateEntry, error) {
	var out []storage.DateEntry
	for _, p := range vevent.Props.Values(name) {
		dates, err := recurrence.ParseDateList(&p, loc)
		if err != nil {
			return nil, err
		}
		for _, d := range dates {
			out = append(out, storage.DateEntry{DateOnly: d.DateOnly, Time: d.Time})
		}
	}
	return out, nil
}

func ruleEntries(vevent *ical.Component, name string) ([]storage.RuleEntry, error) {
	var out []storage.RuleEntry
	for _, p := range vevent.Props.Values(name) {
		rule, err := recurrence.ParseRule(p.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.RuleEntry{Rule: rule})
	}
	return out, nil
}

// foreignProps collects the properties the model does not interpret, ordered
// by name and then by appearance.
func foreignProps(vevent *ical.Component) []ical.Prop {
	names := make([]string, 0, len(vevent.Props))
	for name := range vevent.Props {
		if !ownedProps[name] && name != propClass {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	var out []ical.Prop
	for _, name := range names {
		for _, p := range vevent.Props[name] {
			p.Params = cloneParams(p.Params)
			out = append(out, p)
		}
	}
	return out
}

func text(comp *ical.Component, name string) string {
	p := comp.Props.Get(name)
	if p == nil {
		return ""
	}
	s, err := p.Text()
	if err != nil {
		return p.Value
	}
	return s
}
