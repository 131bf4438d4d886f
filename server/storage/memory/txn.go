package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/samber/mo"
)

// txn operates on one state without locking; the caller holds Store.mu.
type txn struct {
	st    *state
	store *Store
}

var _ storage.Tx = (*txn)(nil)

func (t *txn) GetCalendar(_ context.Context, id storage.CalendarID) (*storage.Calendar, error) {
	cal, ok := t.st.calendars[id]
	if !ok {
		return nil, storage.NewNotFoundError("calendar", id)
	}
	return cloneCalendar(cal), nil
}

func (t *txn) GetCalendarByName(_ context.Context, name string) (*storage.Calendar, error) {
	for _, id := range sortedKeys(t.st.calendars) {
		if cal := t.st.calendars[id]; cal.Name == name {
			return cloneCalendar(cal), nil
		}
	}
	return nil, storage.NewNotFoundError("calendar", name)
}

func (t *txn) FindCalendars(_ context.Context, q storage.CalendarQuery) ([]*storage.Calendar, error) {
	var out []*storage.Calendar
	for _, id := range sortedKeys(t.st.calendars) {
		if cal := t.st.calendars[id]; q.Matches(cal) {
			out = append(out, cloneCalendar(cal))
		}
	}
	return out, nil
}

func (t *txn) GetEvent(_ context.Context, id storage.EventID) (*storage.Event, error) {
	ev, ok := t.st.events[id]
	if !ok {
		return nil, storage.NewNotFoundError("event", id)
	}
	return t.load(ev), nil
}

func (t *txn) FindEvents(_ context.Context, q storage.EventQuery) ([]*storage.Event, error) {
	var out []*storage.Event
	for _, id := range sortedKeys(t.st.events) {
		ev := t.st.events[id]
		if q.Matches(ev, t.st.calendars[ev.CalendarID]) {
			out = append(out, t.load(ev))
		}
	}
	return out, nil
}

// load copies ev and attaches its overrides ordered by recurrence.
func (t *txn) load(ev *storage.Event) *storage.Event {
	c := ev.Clone()
	if ev.IsOverride() {
		return c
	}
	for _, other := range t.st.events {
		if p, ok := other.Parent.Get(); ok && p == ev.ID {
			c.Recurrences = append(c.Recurrences, other.Clone())
		}
	}
	slices.SortFunc(c.Recurrences, func(a, b *storage.Event) int {
		return a.Recurrence.OrEmpty().Compare(b.Recurrence.OrEmpty())
	})
	return c
}

func (t *txn) LookupCategory(_ context.Context, name string) (storage.Category, error) {
	c, ok := t.st.categories[name]
	if !ok {
		return storage.Category{}, storage.NewNotFoundError("category", name)
	}
	return c, nil
}

func (t *txn) LookupLocation(_ context.Context, name string) (storage.Location, error) {
	l, ok := t.st.locations[name]
	if !ok {
		return storage.Location{}, storage.NewNotFoundError("location", name)
	}
	return l, nil
}

func (t *txn) CreateCalendar(_ context.Context, acc storage.Access, cal *storage.Calendar) error {
	if !acc.IsReplication() && acc.User() != cal.Owner {
		return storage.NewPermissionError(acc.User(), "cannot create a calendar for "+cal.Owner)
	}
	if err := t.checkCalendar(cal, 0); err != nil {
		return err
	}
	now := t.store.now()
	cal.ID = storage.CalendarID(t.st.newID())
	cal.CreatedAt, cal.UpdatedAt = now, now
	t.st.calendars[cal.ID] = cloneCalendar(cal)
	t.store.logger.Debug("calendar created", "id", cal.ID, "name", cal.Name, "owner", cal.Owner)
	return nil
}

func (t *txn) UpdateCalendar(_ context.Context, acc storage.Access, cal *storage.Calendar) error {
	existing, ok := t.st.calendars[cal.ID]
	if !ok {
		return storage.NewNotFoundError("calendar", cal.ID)
	}
	if err := acc.CheckWrite(existing); err != nil {
		return err
	}
	if err := t.checkCalendar(cal, cal.ID); err != nil {
		return err
	}
	cal.CreatedAt = existing.CreatedAt
	cal.UpdatedAt = t.store.now()
	t.st.calendars[cal.ID] = cloneCalendar(cal)
	t.store.logger.Debug("calendar updated", "id", cal.ID)
	return nil
}

func (t *txn) checkCalendar(cal *storage.Calendar, self storage.CalendarID) error {
	if err := storage.ValidateCalendar(cal); err != nil {
		return err
	}
	for id, other := range t.st.calendars {
		if id == self {
			continue
		}
		if other.Name == cal.Name {
			return storage.NewValidationError("name", "calendar "+cal.Name+" already exists")
		}
		if other.Owner == cal.Owner {
			return storage.NewValidationError("owner", cal.Owner+" already owns a calendar")
		}
	}
	return nil
}

func (t *txn) DeleteCalendar(_ context.Context, acc storage.Access, id storage.CalendarID) error {
	cal, ok := t.st.calendars[id]
	if !ok {
		return storage.NewNotFoundError("calendar", id)
	}
	if err := acc.CheckWrite(cal); err != nil {
		return err
	}
	for eid, ev := range t.st.events {
		if ev.CalendarID == id {
			delete(t.st.events, eid)
		}
	}
	delete(t.st.calendars, id)
	t.store.logger.Debug("calendar deleted", "id", id)
	return nil
}

func (t *txn) CreateEvent(_ context.Context, acc storage.Access, ev *storage.Event) error {
	cal, ok := t.st.calendars[ev.CalendarID]
	if !ok {
		return storage.NewNotFoundError("calendar", ev.CalendarID)
	}
	if err := acc.CheckWrite(cal); err != nil {
		return err
	}
	if err := t.checkEvent(ev, 0); err != nil {
		return err
	}
	now := t.store.now()
	ev.ID = storage.EventID(t.st.newID())
	ev.Sequence = 0
	ev.CreatedAt, ev.UpdatedAt = now, now
	t.save(ev)
	t.store.logger.Debug("event created", "id", ev.ID, "uuid", ev.UUID, "calendar", ev.CalendarID)
	return nil
}

func (t *txn) UpdateEvent(_ context.Context, acc storage.Access, ev *storage.Event) error {
	existing, ok := t.st.events[ev.ID]
	if !ok {
		return storage.NewNotFoundError("event", ev.ID)
	}
	if err := acc.CheckWrite(t.st.calendars[existing.CalendarID]); err != nil {
		return err
	}
	if ev.CalendarID != existing.CalendarID {
		return storage.NewValidationError("calendar", "an event cannot move between calendars")
	}
	if ev.Parent != existing.Parent {
		return storage.NewValidationError("parent", "an event cannot change its master")
	}
	if err := t.checkEvent(ev, ev.ID); err != nil {
		return err
	}
	ev.Sequence = existing.Sequence + 1
	ev.CreatedAt = existing.CreatedAt
	ev.UpdatedAt = t.store.now()
	t.save(ev)
	t.store.logger.Debug("event updated", "id", ev.ID, "sequence", ev.Sequence)
	return nil
}

func (t *txn) DeleteEvent(_ context.Context, acc storage.Access, id storage.EventID) error {
	ev, ok := t.st.events[id]
	if !ok {
		return storage.NewNotFoundError("event", id)
	}
	if err := acc.CheckWrite(t.st.calendars[ev.CalendarID]); err != nil {
		return err
	}
	for oid, other := range t.st.events {
		if p, ok := other.Parent.Get(); ok && p == id {
			delete(t.st.events, oid)
		}
	}
	delete(t.st.events, id)
	t.store.logger.Debug("event deleted", "id", id)
	return nil
}

// checkEvent validates ev and enforces (uuid, calendar, recurrence) uniqueness.
func (t *txn) checkEvent(ev *storage.Event, self storage.EventID) error {
	var master *storage.Event
	if p, ok := ev.Parent.Get(); ok {
		master = t.st.events[p]
	}
	if err := storage.ValidateEvent(ev, master); err != nil {
		return err
	}
	key := recurrenceKey(ev)
	for id, other := range t.st.events {
		if id != self && other.CalendarID == ev.CalendarID && other.UUID == ev.UUID && recurrenceKey(other) == key {
			return storage.NewValidationError("uuid", "event "+ev.UUID+" already exists in this calendar")
		}
	}
	return nil
}

// save assigns tag and child identities, then stores a copy without overrides.
func (t *txn) save(ev *storage.Event) {
	for i, c := range ev.Categories {
		ev.Categories[i] = t.category(c.Name)
	}
	if loc, ok := ev.Location.Get(); ok {
		ev.Location = mo.Some(t.location(loc.Name))
	}
	for i := range ev.Attendees {
		if ev.Attendees[i].ID == 0 {
			ev.Attendees[i].ID = t.st.newID()
		}
	}
	for i := range ev.Alarms {
		if ev.Alarms[i].ID == 0 {
			ev.Alarms[i].ID = t.st.newID()
		}
	}
	t.dateIDs(ev.RDates)
	t.dateIDs(ev.ExDates)
	t.ruleIDs(ev.RRules)
	t.ruleIDs(ev.ExRules)

	stored := ev.Clone()
	stored.Recurrences = nil
	t.st.events[ev.ID] = stored
}

func (t *txn) dateIDs(dates []storage.DateEntry) {
	for i := range dates {
		if dates[i].ID == 0 {
			dates[i].ID = t.st.newID()
		}
	}
}

func (t *txn) ruleIDs(rules []storage.RuleEntry) {
	for i := range rules {
		if rules[i].ID == 0 {
			rules[i].ID = t.st.newID()
		}
	}
}

func (t *txn) category(name string) storage.Category {
	name = strings.TrimSpace(name)
	if c, ok := t.st.categories[name]; ok {
		return c
	}
	c := storage.Category{ID: t.st.newID(), Name: name}
	t.st.categories[name] = c
	return c
}

func (t *txn) location(name string) storage.Location {
	name = strings.TrimSpace(name)
	if l, ok := t.st.locations[name]; ok {
		return l
	}
	l := storage.Location{ID: t.st.newID(), Name: name}
	t.st.locations[name] = l
	return l
}
