// Package replication keeps the copies of an event in its attendees'
// calendars consistent with the organizer's copy.
//
// Every public operation runs in one storage.Storage.Atomic unit. The
// triggering write is made with the caller's UserAccess; writes into other
// calendars use storage.ReplicationAccess, and any failure among them fails
// the whole operation with a transaction error.
package replication

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/samber/mo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cyp0633/caldora/server/replication"

// Coordinator writes events and fans the writes out to attendee calendars.
type Coordinator struct {
	store  storage.Storage
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for the coordinator
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(store storage.Storage, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create stores ev on behalf of user and copies it into the calendars of its
// attendees when the calendar owner organizes it.
func (c *Coordinator) Create(ctx context.Context, user string, ev *storage.Event) error {
	return c.atomic(ctx, "replication.Create", ev.UUID, func(ctx context.Context, tx storage.Tx) error {
		return c.create(ctx, tx, storage.UserAccess(user), ev)
	})
}

// Update stores ev on behalf of user. Organizer edits are pushed to every
// attendee copy; attendee edits push only the attendee's own participation
// status back to the organizer.
func (c *Coordinator) Update(ctx context.Context, user string, ev *storage.Event) error {
	return c.atomic(ctx, "replication.Update", ev.UUID, func(ctx context.Context, tx storage.Tx) error {
		return c.update(ctx, tx, storage.UserAccess(user), ev)
	})
}

// Delete removes an event on behalf of user. When the organizer deletes, all
// attendee copies go too; when an attendee deletes their copy, the organizer's
// copy keeps the event and marks that attendee declined.
func (c *Coordinator) Delete(ctx context.Context, user string, id storage.EventID) error {
	return c.atomic(ctx, "replication.Delete", "", func(ctx context.Context, tx storage.Tx) error {
		return c.delete(ctx, tx, storage.UserAccess(user), id)
	})
}

// SetParticipation sets the calendar owner's own attendee status on an event
// and propagates it like any other update.
func (c *Coordinator) SetParticipation(ctx context.Context, user string, id storage.EventID, status storage.PartStat) (*storage.Event, error) {
	var out *storage.Event
	err := c.atomic(ctx, "replication.SetParticipation", "", func(ctx context.Context, tx storage.Tx) error {
		ev, err := tx.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		cal, err := tx.GetCalendar(ctx, ev.CalendarID)
		if err != nil {
			return err
		}
		a, ok := ev.Attendee(cal.OwnerEmail)
		if !ok {
			return storage.NewNotFoundError("attendee", cal.OwnerEmail)
		}
		a.Status = status
		if err := c.update(ctx, tx, storage.UserAccess(user), ev); err != nil {
			return err
		}
		out, err = tx.GetEvent(ctx, id)
		return err
	})
	return out, err
}

// Apply writes decoded values into calendar: it creates a new master, or
// updates id when present, then creates, updates and deletes overrides as
// listed. The stored master is returned with its overrides loaded.
func (c *Coordinator) Apply(ctx context.Context, user string, calendar storage.CalendarID, id mo.Option[storage.EventID], v *storage.EventValues) (*storage.Event, error) {
	var out *storage.Event
	err := c.atomic(ctx, "replication.Apply", v.UUID, func(ctx context.Context, tx storage.Tx) error {
		acc := storage.UserAccess(user)

		var master *storage.Event
		if existingID, ok := id.Get(); ok {
			existing, err := tx.GetEvent(ctx, existingID)
			if err != nil {
				return err
			}
			if existing.CalendarID != calendar {
				return storage.NewValidationError("calendar", "event belongs to another calendar")
			}
			master = existing.Clone()
			v.Apply(master)
			if err := c.update(ctx, tx, acc, master); err != nil {
				return err
			}
		} else {
			master = v.NewEvent(calendar)
			if err := c.create(ctx, tx, acc, master); err != nil {
				return err
			}
		}

		for _, op := range v.Recurrences {
			switch op.Op {
			case storage.OpCreate:
				o := op.Values.NewEvent(calendar)
				o.Parent = mo.Some(master.ID)
				if err := c.create(ctx, tx, acc, o); err != nil {
					return err
				}
			case storage.OpUpdate:
				cur, err := tx.GetEvent(ctx, op.ID)
				if err != nil {
					return err
				}
				o := cur.Clone()
				op.Values.Apply(o)
				if err := c.update(ctx, tx, acc, o); err != nil {
					return err
				}
			case storage.OpDelete:
				if err := c.delete(ctx, tx, acc, op.ID); err != nil {
					return err
				}
			}
		}

		var err error
		out, err = tx.GetEvent(ctx, master.ID)
		return err
	})
	return out, err
}

func (c *Coordinator) atomic(ctx context.Context, name, uuid string, fn func(context.Context, storage.Tx) error) error {
	ctx, span := c.tracer.Start(ctx, name)
	defer span.End()
	if uuid != "" {
		span.SetAttributes(attribute.String("event.uuid", uuid))
	}

	err := c.store.Atomic(ctx, func(tx storage.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
	}
	return err
}

func (c *Coordinator) create(ctx context.Context, tx storage.Tx, acc storage.Access, ev *storage.Event) error {
	if err := tx.CreateEvent(ctx, acc, ev); err != nil {
		return err
	}
	c.logger.Info("event created", "uuid", ev.UUID, "calendar_id", ev.CalendarID, "id", ev.ID)
	return c.replicate(ctx, tx, ev.ID)
}

func (c *Coordinator) update(ctx context.Context, tx storage.Tx, acc storage.Access, ev *storage.Event) error {
	if err := tx.UpdateEvent(ctx, acc, ev); err != nil {
		return err
	}
	c.logger.Info("event updated", "uuid", ev.UUID, "calendar_id", ev.CalendarID, "sequence", ev.Sequence)
	return c.replicate(ctx, tx, ev.ID)
}

func (c *Coordinator) delete(ctx context.Context, tx storage.Tx, acc storage.Access, id storage.EventID) error {
	ev, err := tx.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	s, err := c.load(ctx, tx, ev)
	if err != nil {
		return err
	}
	if err := tx.DeleteEvent(ctx, acc, id); err != nil {
		return err
	}
	c.logger.Info("event deleted", "uuid", ev.UUID, "calendar_id", ev.CalendarID, "id", id)

	switch {
	case s.organizes():
		err = c.deleteCopies(ctx, tx, s)
	case s.organizer() != "":
		err = c.decline(ctx, tx, s)
	}
	if err != nil {
		return storage.NewTransactionError("failed to replicate delete of "+ev.UUID, err)
	}
	return nil
}

// scope is an event together with what replication needs to know about it.
type scope struct {
	ev     *storage.Event
	cal    *storage.Calendar
	master *storage.Event // ev itself unless ev is an override
}

func (c *Coordinator) load(ctx context.Context, tx storage.Tx, ev *storage.Event) (*scope, error) {
	cal, err := tx.GetCalendar(ctx, ev.CalendarID)
	if err != nil {
		return nil, err
	}
	s := &scope{ev: ev, cal: cal, master: ev}
	if p, ok := ev.Parent.Get(); ok {
		if s.master, err = tx.GetEvent(ctx, p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *scope) organizer() string {
	if s.ev.Organizer != "" {
		return s.ev.Organizer
	}
	return s.master.Organizer
}

// organizes reports whether the calendar owner organizes the event, directly
// or through the master of an override.
func (s *scope) organizes() bool {
	return strings.EqualFold(s.ev.Organizer, s.cal.OwnerEmail) ||
		(s.ev.IsOverride() && strings.EqualFold(s.master.Organizer, s.cal.OwnerEmail))
}

// attendees lists the attendee emails other than the owner's, optionally
// skipping those who declined. An override without its own attendee list
// uses the master's.
func (s *scope) attendees(withDeclined bool) []string {
	source := s.ev
	if s.ev.IsOverride() && (len(s.ev.Attendees) == 0 || !strings.EqualFold(s.ev.Organizer, s.cal.OwnerEmail)) {
		source = s.master
	}
	var out []string
	for _, a := range source.Attendees {
		if strings.EqualFold(a.Email, s.cal.OwnerEmail) {
			continue
		}
		if !withDeclined && a.Status == storage.PartStatDeclined {
			continue
		}
		out = append(out, a.Email)
	}
	return out
}

// replicate reloads the stored event and runs the organizer or attendee
// side of the fan-out for it.
func (c *Coordinator) replicate(ctx context.Context, tx storage.Tx, id storage.EventID) error {
	ev, err := tx.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	s, err := c.load(ctx, tx, ev)
	if err != nil {
		return err
	}
	switch {
	case s.organizes():
		err = c.push(ctx, tx, s)
	case s.organizer() != "":
		err = c.reportParticipation(ctx, tx, s)
	}
	if err != nil {
		return storage.NewTransactionError("failed to replicate "+ev.UUID, err)
	}
	return nil
}

// push updates the existing attendee copies of the occurrence and creates
// the missing ones.
func (c *Coordinator) push(ctx context.Context, tx storage.Tx, s *scope) error {
	emails := s.attendees(false)
	if len(emails) == 0 {
		return nil
	}

	copies, err := tx.FindEvents(ctx, storage.EventQuery{OwnerEmails: emails, ExcludeID: s.ev.ID}.SameOccurrence(s.ev))
	if err != nil {
		return err
	}
	covered := map[storage.CalendarID]bool{s.cal.ID: true}
	for _, cp := range copies {
		syncFields(s.ev, cp)
		if err := tx.UpdateEvent(ctx, storage.ReplicationAccess(), cp); err != nil {
			return fmt.Errorf("update copy %d: %w", cp.ID, err)
		}
		covered[cp.CalendarID] = true
		c.logger.Debug("copy updated", "uuid", cp.UUID, "calendar_id", cp.CalendarID)
	}

	cals, err := tx.FindCalendars(ctx, storage.CalendarQuery{OwnerEmails: emails})
	if err != nil {
		return err
	}
	for _, cal := range cals {
		if covered[cal.ID] {
			continue
		}
		if err := c.copyInto(ctx, tx, s.ev, cal); err != nil {
			return fmt.Errorf("copy into calendar %s: %w", cal.Name, err)
		}
	}
	return nil
}

// copyInto creates ev in cal. A master is copied with all its overrides; an
// override is attached to the same-uuid master already in cal, if any.
func (c *Coordinator) copyInto(ctx context.Context, tx storage.Tx, ev *storage.Event, cal *storage.Calendar) error {
	if !ev.IsOverride() {
		cp := detach(ev, cal.ID)
		if err := tx.CreateEvent(ctx, storage.ReplicationAccess(), cp); err != nil {
			return err
		}
		for _, o := range ev.Recurrences {
			oc := detach(o, cal.ID)
			oc.Parent = mo.Some(cp.ID)
			if err := tx.CreateEvent(ctx, storage.ReplicationAccess(), oc); err != nil {
				return err
			}
		}
		c.logger.Debug("copy created", "uuid", ev.UUID, "calendar_id", cal.ID, "overrides", len(ev.Recurrences))
		return nil
	}

	parents, err := tx.FindEvents(ctx, storage.EventQuery{CalendarID: cal.ID, UUID: ev.UUID, MastersOnly: true})
	if err != nil {
		return err
	}
	for _, p := range parents {
		oc := detach(ev, cal.ID)
		oc.Parent = mo.Some(p.ID)
		if err := tx.CreateEvent(ctx, storage.ReplicationAccess(), oc); err != nil {
			return err
		}
		c.logger.Debug("override copy created", "uuid", ev.UUID, "calendar_id", cal.ID)
	}
	return nil
}

// reportParticipation writes the owner's status on their own copy into the
// organizer's copy of the same occurrence.
func (c *Coordinator) reportParticipation(ctx context.Context, tx storage.Tx, s *scope) error {
	mine, ok := s.ev.Attendee(s.cal.OwnerEmail)
	if !ok {
		return nil
	}
	return c.setOrganizerStatus(ctx, tx, s, mine.Status)
}

func (c *Coordinator) decline(ctx context.Context, tx storage.Tx, s *scope) error {
	return c.setOrganizerStatus(ctx, tx, s, storage.PartStatDeclined)
}

func (c *Coordinator) setOrganizerStatus(ctx context.Context, tx storage.Tx, s *scope, status storage.PartStat) error {
	copies, err := tx.FindEvents(ctx, storage.EventQuery{OwnerEmails: []string{s.organizer()}, ExcludeID: s.ev.ID}.SameOccurrence(s.ev))
	if err != nil {
		return err
	}
	if len(copies) == 0 {
		return nil
	}
	theirs := copies[0]
	a, ok := theirs.Attendee(s.cal.OwnerEmail)
	if !ok || a.Status == status {
		return nil
	}
	a.Status = status
	if err := tx.UpdateEvent(ctx, storage.ReplicationAccess(), theirs); err != nil {
		return fmt.Errorf("update organizer copy %d: %w", theirs.ID, err)
	}
	c.logger.Debug("participation reported", "uuid", theirs.UUID, "email", s.cal.OwnerEmail, "status", status)
	return nil
}

// deleteCopies removes every attendee copy of the occurrence, declined
// attendees included.
func (c *Coordinator) deleteCopies(ctx context.Context, tx storage.Tx, s *scope) error {
	emails := s.attendees(true)
	if len(emails) == 0 {
		return nil
	}
	copies, err := tx.FindEvents(ctx, storage.EventQuery{OwnerEmails: emails, ExcludeID: s.ev.ID}.SameOccurrence(s.ev))
	if err != nil {
		return err
	}
	for _, cp := range copies {
		if err := tx.DeleteEvent(ctx, storage.ReplicationAccess(), cp.ID); err != nil {
			return fmt.Errorf("delete copy %d: %w", cp.ID, err)
		}
		c.logger.Debug("copy deleted", "uuid", cp.UUID, "calendar_id", cp.CalendarID)
	}
	return nil
}

// syncFields copies the fields an organizer controls. Attendees and alarms
// stay as the attendee has them.
func syncFields(src, dst *storage.Event) {
	dst.Summary = src.Summary
	dst.Comment = src.Comment
	dst.AllDay = src.AllDay
	dst.Start = src.Start
	dst.End = src.End
	dst.Timezone = src.Timezone
	dst.Location = src.Location
	dst.Status = src.Status
	dst.Organizer = src.Organizer
	dst.RDates = freshDates(src.RDates)
	dst.ExDates = freshDates(src.ExDates)
	dst.RRules = freshRules(src.RRules)
	dst.ExRules = freshRules(src.ExRules)
}

// detach returns a copy of ev for calendar with every stored identity
// cleared, ready for CreateEvent.
func detach(ev *storage.Event, calendar storage.CalendarID) *storage.Event {
	cp := ev.Clone()
	cp.ID = 0
	cp.CalendarID = calendar
	cp.Parent = mo.None[storage.EventID]()
	cp.Recurrences = nil
	for i := range cp.Attendees {
		cp.Attendees[i].ID = 0
	}
	for i := range cp.Alarms {
		cp.Alarms[i].ID = 0
	}
	cp.RDates = freshDates(cp.RDates)
	cp.ExDates = freshDates(cp.ExDates)
	cp.RRules = freshRules(cp.RRules)
	cp.ExRules = freshRules(cp.ExRules)
	return cp
}

func freshDates(in []storage.DateEntry) []storage.DateEntry {
	if in == nil {
		return nil
	}
	out := make([]storage.DateEntry, len(in))
	for i, d := range in {
		d.ID = 0
		out[i] = d
	}
	return out
}

func freshRules(in []storage.RuleEntry) []storage.RuleEntry {
	if in == nil {
		return nil
	}
	out := make([]storage.RuleEntry, len(in))
	for i, r := range in {
		r.ID = 0
		out[i] = r
	}
	return out
}
