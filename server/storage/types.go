package storage

import (
	"slices"
	"strings"
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

type (
	CalendarID int64
	EventID    int64
)

// Calendar is a personal calendar collection. Each owner has exactly one.
type Calendar struct {
	ID          CalendarID
	Name        string
	Owner       string // user id
	OwnerEmail  string
	Description string
	ReadUsers   []string
	WriteUsers  []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CanRead reports whether user may read the calendar.
func (c *Calendar) CanRead(user string) bool {
	return c.Owner == user || slices.Contains(c.ReadUsers, user) || slices.Contains(c.WriteUsers, user)
}

// CanWrite reports whether user may modify the calendar and its events.
func (c *Calendar) CanWrite(user string) bool {
	return c.Owner == user || slices.Contains(c.WriteUsers, user)
}

// Category and Location are name-keyed tags. An ID of 0 means the tag does
// not exist yet; stores create it on write.
type Category struct {
	ID   int64
	Name string
}

type Location struct {
	ID   int64
	Name string
}

type Classification string

const (
	ClassPublic       Classification = "public"
	ClassPrivate      Classification = "private"
	ClassConfidential Classification = "confidential"
)

// ParseClassification maps a CLASS value. Unknown values report false.
func ParseClassification(s string) (Classification, bool) {
	switch c := Classification(strings.ToLower(s)); c {
	case ClassPublic, ClassPrivate, ClassConfidential:
		return c, true
	}
	return ClassPublic, false
}

type Status string

const (
	StatusNone      Status = ""
	StatusTentative Status = "tentative"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusNone, StatusTentative, StatusConfirmed, StatusCancelled:
		return st, true
	}
	return StatusNone, false
}

type Transparency string

const (
	TranspOpaque      Transparency = "opaque"
	TranspTransparent Transparency = "transparent"
)

func ParseTransparency(s string) (Transparency, bool) {
	switch t := Transparency(strings.ToLower(s)); t {
	case TranspOpaque, TranspTransparent:
		return t, true
	}
	return TranspOpaque, false
}

// PartStat is an attendee participation status.
type PartStat string

const (
	PartStatNone        PartStat = ""
	PartStatNeedsAction PartStat = "needs-action"
	PartStatAccepted    PartStat = "accepted"
	PartStatDeclined    PartStat = "declined"
	PartStatTentative   PartStat = "tentative"
	PartStatDelegated   PartStat = "delegated"
)

func ParsePartStat(s string) (PartStat, bool) {
	switch p := PartStat(strings.ToLower(s)); p {
	case PartStatNone, PartStatNeedsAction, PartStatAccepted, PartStatDeclined, PartStatTentative, PartStatDelegated:
		return p, true
	}
	return PartStatNone, false
}

// Attendee keeps the parameters of the line it was read from so they
// survive re-rendering.
type Attendee struct {
	ID     int64
	Email  string
	Status PartStat
	Params ical.Params
}

// DateEntry is an RDATE or EXDATE child.
type DateEntry struct {
	ID       int64
	DateOnly bool
	Time     time.Time
}

func (d DateEntry) Date() recurrence.Date {
	return recurrence.Date{Time: d.Time, DateOnly: d.DateOnly}
}

// RuleEntry is an RRULE or EXRULE child.
type RuleEntry struct {
	ID   int64
	Rule recurrence.Rule
}

// Alarm is a VALARM block kept as-is.
type Alarm struct {
	ID        int64
	Component *ical.Component
}

// Event is the aggregate root. Overrides share UUID and CalendarID with
// their master, point at it through Parent and carry the replaced
// occurrence in Recurrence.
type Event struct {
	ID         EventID
	CalendarID CalendarID
	UUID       string
	Sequence   int

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
	Attendees      []Attendee
	Transp         Transparency
	Alarms         []Alarm

	RDates  []DateEntry
	ExDates []DateEntry
	RRules  []RuleEntry
	ExRules []RuleEntry

	// Recurrences is populated by stores for masters only.
	Recurrences []*Event
	Parent      mo.Option[EventID]
	Recurrence  mo.Option[time.Time]

	// Foreign holds properties the model does not interpret, in order.
	Foreign []ical.Prop

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ApplyDefaults sets an empty classification to public and an empty
// transparency to opaque.
func (e *Event) ApplyDefaults() {
	if e.Classification == "" {
		e.Classification = ClassPublic
	}
	if e.Transp == "" {
		e.Transp = TranspOpaque
	}
}

// IsOverride reports whether the event replaces one occurrence of a master.
func (e *Event) IsOverride() bool {
	return e.Parent.IsPresent()
}

// IsRecurring reports whether the event is a master with any recurrence data.
func (e *Event) IsRecurring() bool {
	return len(e.RDates) > 0 || len(e.RRules) > 0 || len(e.ExDates) > 0 ||
		len(e.ExRules) > 0 || len(e.Recurrences) > 0
}

// Duration is End-Start, or zero without an end.
func (e *Event) Duration() time.Duration {
	end, ok := e.End.Get()
	if !ok {
		return 0
	}
	return end.Sub(e.Start)
}

// RuleSet converts the recurrence children for expansion. Timed values are
// moved into the event's zone so rules keep their wall-clock time across
// offset changes whatever zone the store loaded them in.
func (e *Event) RuleSet() recurrence.RuleSet {
	loc := e.Zone()
	inZone := func(d DateEntry) recurrence.Date {
		rd := d.Date()
		if !rd.DateOnly {
			rd.Time = rd.Time.In(loc)
		}
		return rd
	}

	rs := recurrence.RuleSet{Start: e.Start}
	if !e.AllDay {
		rs.Start = e.Start.In(loc)
	}
	for _, r := range e.RRules {
		rs.RRules = append(rs.RRules, r.Rule)
	}
	for _, r := range e.ExRules {
		rs.ExRules = append(rs.ExRules, r.Rule)
	}
	for _, d := range e.RDates {
		rs.RDates = append(rs.RDates, inZone(d))
	}
	for _, d := range e.ExDates {
		rs.ExDates = append(rs.ExDates, inZone(d))
	}
	return rs
}

// Zone resolves Timezone, falling back to the zone Start carries.
func (e *Event) Zone() *time.Location {
	if e.Timezone != "" {
		if loc, err := time.LoadLocation(e.Timezone); err == nil {
			return loc
		}
	}
	return e.Start.Location()
}

// Attendee returns the attendee with the given email, compared without case.
func (e *Event) Attendee(email string) (*Attendee, bool) {
	for i := range e.Attendees {
		if strings.EqualFold(e.Attendees[i].Email, email) {
			return &e.Attendees[i], true
		}
	}
	return nil, false
}

// Override returns the loaded override replacing the occurrence at t.
func (e *Event) Override(t time.Time) (*Event, bool) {
	for _, r := range e.Recurrences {
		if rec, ok := r.Recurrence.Get(); ok && rec.Equal(t) {
			return r, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the event graph.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Categories = slices.Clone(e.Categories)
	c.Attendees = make([]Attendee, len(e.Attendees))
	for i, a := range e.Attendees {
		a.Params = cloneParams(a.Params)
		c.Attendees[i] = a
	}
	if e.Attendees == nil {
		c.Attendees = nil
	}
	c.Alarms = slices.Clone(e.Alarms)
	c.RDates = slices.Clone(e.RDates)
	c.ExDates = slices.Clone(e.ExDates)
	c.RRules = slices.Clone(e.RRules)
	c.ExRules = slices.Clone(e.ExRules)
	c.Foreign = make([]ical.Prop, len(e.Foreign))
	for i, p := range e.Foreign {
		p.Params = cloneParams(p.Params)
		c.Foreign[i] = p
	}
	if e.Foreign == nil {
		c.Foreign = nil
	}
	c.Recurrences = nil
	for _, r := range e.Recurrences {
		c.Recurrences = append(c.Recurrences, r.Clone())
	}
	return &c
}

func cloneParams(p ical.Params) ical.Params {
	if p == nil {
		return nil
	}
	out := make(ical.Params, len(p))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	return out
}
