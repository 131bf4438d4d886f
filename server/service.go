package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/codec"
	"github.com/cyp0633/caldora/server/freebusy"
	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/replication"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/samber/mo"
)

// Service exposes the calendar operations the transport needs. It takes
// already authorized (user, calendar) pairs; permission failures come from
// the store's access checks.
type Service struct {
	store       storage.Storage
	coordinator *replication.Coordinator
	freebusy    *freebusy.Calculator
	logger      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	logger *slog.Logger
	engine *recurrence.Engine
	now    func() time.Time
}

// WithServiceLogger sets the logger shared by the service and its components.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(c *serviceConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecurrenceEngine sets the engine used for free/busy expansion.
func WithRecurrenceEngine(engine *recurrence.Engine) ServiceOption {
	return func(c *serviceConfig) {
		c.engine = engine
	}
}

// WithServiceClock replaces time.Now in generated free/busy replies.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(c *serviceConfig) {
		c.now = now
	}
}

func NewService(store storage.Storage, opts ...ServiceOption) *Service {
	cfg := serviceConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		store:       store,
		coordinator: replication.New(store, replication.WithLogger(cfg.logger)),
		freebusy: freebusy.New(store,
			freebusy.WithLogger(cfg.logger),
			freebusy.WithEngine(cfg.engine),
			freebusy.WithClock(cfg.now)),
		logger: cfg.logger,
	}
}

// RenderCalendarAsText renders every master of the calendar with its
// overrides.
func (s *Service) RenderCalendarAsText(ctx context.Context, id storage.CalendarID) (string, error) {
	events, err := s.store.FindEvents(ctx, storage.EventQuery{CalendarID: id, MastersOnly: true})
	if err != nil {
		return "", err
	}
	return codec.EncodeText(events...)
}

// RenderEventAsText renders an event. An override renders its whole master
// so the result stays a complete calendar object.
func (s *Service) RenderEventAsText(ctx context.Context, id storage.EventID) (string, error) {
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return "", err
	}
	if p, ok := ev.Parent.Get(); ok {
		if ev, err = s.store.GetEvent(ctx, p); err != nil {
			return "", err
		}
	}
	return codec.EncodeText(ev)
}

// ImportText decodes text into values for creating an event in calendar, or
// for updating event when given.
func (s *Service) ImportText(ctx context.Context, calendar storage.CalendarID, event mo.Option[storage.EventID], text string) (*storage.EventValues, error) {
	var existing *storage.Event
	if id, ok := event.Get(); ok {
		ev, err := s.store.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		if ev.CalendarID != calendar {
			return nil, storage.NewNotFoundError("event", id)
		}
		existing = ev
	}
	return codec.Decode(ctx, text, existing, s.store)
}

// ComputeFreebusy renders the calendar's busy time between start and end as
// a METHOD:REPLY VFREEBUSY.
func (s *Service) ComputeFreebusy(ctx context.Context, calendar storage.CalendarID, start, end time.Time) (string, error) {
	w := freebusy.Window{Start: start, End: end}
	intervals, err := s.freebusy.FreeBusy(ctx, calendar, w)
	if err != nil {
		return "", err
	}
	return storage.CalendarToICS(s.freebusy.RenderReply(w, intervals))
}

// HandleSchedulePost answers a free/busy request posted to calendar's
// outbox. Only the owner may post.
func (s *Service) HandleSchedulePost(ctx context.Context, user string, calendar storage.CalendarID, text string) (string, error) {
	cal, err := s.store.GetCalendar(ctx, calendar)
	if err != nil {
		return "", err
	}
	if cal.Owner != user {
		return "", storage.NewPermissionError(user, "only the owner may post to "+cal.Name)
	}
	items, err := s.freebusy.Schedule(ctx, text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := (&xml.ScheduleResponse{Items: items}).WriteTo(&buf); err != nil {
		return "", fmt.Errorf("failed to write schedule-response: %w", err)
	}
	return buf.String(), nil
}

// PutEvent imports text into calendar, updating the master with uuid when it
// exists, and replicates the result.
func (s *Service) PutEvent(ctx context.Context, user string, calendar storage.CalendarID, uuid string, text string) (ev *storage.Event, created bool, err error) {
	existing, err := s.EventByUUID(ctx, calendar, uuid)
	if err != nil && !storage.IsNotFound(err) {
		return nil, false, err
	}
	id := mo.None[storage.EventID]()
	if existing != nil {
		id = mo.Some(existing.ID)
	}
	values, err := s.ImportText(ctx, calendar, id, text)
	if err != nil {
		return nil, false, err
	}
	ev, err = s.coordinator.Apply(ctx, user, calendar, id, values)
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("event stored", "uuid", ev.UUID, "calendar_id", calendar, "created", existing == nil)
	return ev, existing == nil, nil
}

// DeleteEvent deletes an event and replicates the deletion.
func (s *Service) DeleteEvent(ctx context.Context, user string, id storage.EventID) error {
	return s.coordinator.Delete(ctx, user, id)
}

// DeleteCalendar deletes a calendar with all its events.
func (s *Service) DeleteCalendar(ctx context.Context, user string, id storage.CalendarID) error {
	if err := s.store.DeleteCalendar(ctx, storage.UserAccess(user), id); err != nil {
		return err
	}
	s.logger.Info("calendar deleted", "calendar_id", id, "user", user)
	return nil
}

// SetParticipation records user's reply on an event in their calendar.
func (s *Service) SetParticipation(ctx context.Context, user string, id storage.EventID, status storage.PartStat) (*storage.Event, error) {
	return s.coordinator.SetParticipation(ctx, user, id, status)
}

// Calendar looks a calendar up by name.
func (s *Service) Calendar(ctx context.Context, name string) (*storage.Calendar, error) {
	return s.store.GetCalendarByName(ctx, name)
}

// ReadableCalendars lists the calendars user may read, ordered by name.
func (s *Service) ReadableCalendars(ctx context.Context, user string) ([]*storage.Calendar, error) {
	all, err := s.store.FindCalendars(ctx, storage.CalendarQuery{})
	if err != nil {
		return nil, err
	}
	out := slices.DeleteFunc(all, func(c *storage.Calendar) bool { return !c.CanRead(user) })
	slices.SortFunc(out, func(a, b *storage.Calendar) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// OwnCalendar returns the calendar owned by user.
func (s *Service) OwnCalendar(ctx context.Context, user string) (*storage.Calendar, error) {
	cals, err := s.store.FindCalendars(ctx, storage.CalendarQuery{Owner: user})
	if err != nil {
		return nil, err
	}
	if len(cals) == 0 {
		return nil, storage.NewNotFoundError("calendar of", user)
	}
	return cals[0], nil
}

// EventByUUID returns the master event with uuid in calendar.
func (s *Service) EventByUUID(ctx context.Context, calendar storage.CalendarID, uuid string) (*storage.Event, error) {
	evs, err := s.store.FindEvents(ctx, storage.EventQuery{CalendarID: calendar, UUID: uuid, MastersOnly: true})
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, storage.NewNotFoundError("event", uuid)
	}
	return evs[0], nil
}

// Events lists the masters of calendar.
func (s *Service) Events(ctx context.Context, calendar storage.CalendarID) ([]*storage.Event, error) {
	return s.store.FindEvents(ctx, storage.EventQuery{CalendarID: calendar, MastersOnly: true})
}

// ETag derives an entity tag from rendered text. Content lines are hashed
// in sorted order so property order does not change the tag.
func ETag(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	slices.Sort(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return `"` + hex.EncodeToString(h.Sum(nil)[:8]) + `"`
}
