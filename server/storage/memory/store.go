// memory based implementation for testing and single-process deployments
package memory

import (
	"cmp"
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cyp0633/caldora/server/storage"
)

// Store implements storage.Storage with maps guarded by a single mutex.
// Atomic runs against a copy of the data that replaces the original only when
// the callback succeeds.
type Store struct {
	mu     sync.Mutex
	data   *state
	logger *slog.Logger
	now    func() time.Time
}

type state struct {
	calendars  map[storage.CalendarID]*storage.Calendar
	events     map[storage.EventID]*storage.Event
	categories map[string]storage.Category
	locations  map[string]storage.Location
	nextID     int64
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new in-memory storage
func New(opts ...Option) *Store {
	s := &Store{
		data: &state{
			calendars:  make(map[storage.CalendarID]*storage.Calendar),
			events:     make(map[storage.EventID]*storage.Event),
			categories: make(map[string]storage.Category),
			locations:  make(map[string]storage.Location),
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.Storage = (*Store)(nil)

// Atomic implements storage.Storage.
func (s *Store) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atomicLocked(ctx, fn)
}

func (s *Store) atomicLocked(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&txn{st: work, store: s}); err != nil {
		s.logger.Debug("transaction rolled back", "error", err)
		return err
	}
	s.data = work
	return nil
}

func (s *Store) read(ctx context.Context) (*txn, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	return &txn{st: s.data, store: s}, s.mu.Unlock, nil
}

func (s *Store) GetCalendar(ctx context.Context, id storage.CalendarID) (*storage.Calendar, error) {
	tx, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return tx.GetCalendar(ctx, id)
}

func (s *Store) GetCalendarByName(ctx context.Context, name string) (*storage.Calendar, error) {
	tx, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return tx.GetCalendarByName(ctx, name)
}

func (s *Store) FindCalendars(ctx context.Context, q storage.CalendarQuery) ([]*storage.Calendar, error) {
	tx, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return tx.FindCalendars(ctx, q)
}

func (s *Store) GetEvent(ctx context.Context, id storage.EventID) (*storage.Event, error) {
	tx, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return tx.GetEvent(ctx, id)
}

func (s *Store) FindEvents(ctx context.Context, q storage.EventQuery) ([]*storage.Event, error) {
	tx, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return tx.FindEvents(ctx, q)
}

func (s *Store) LookupCategory(ctx context.Context, name string) (storage.Category, error) {
	tx, unlock, err := s.read(ctx)
	if err != nil {
		return storage.Category{}, err
	}
	defer unlock()
	return tx.LookupCategory(ctx, name)
}

func (s *Store) LookupLocation(ctx context.Context, name string) (storage.Location, error) {
	tx, unlock, err := s.read(ctx)
	if err != nil {
		return storage.Location{}, err
	}
	defer unlock()
	return tx.LookupLocation(ctx, name)
}

func (s *Store) CreateCalendar(ctx context.Context, acc storage.Access, cal *storage.Calendar) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.CreateCalendar(ctx, acc, cal) })
}

func (s *Store) UpdateCalendar(ctx context.Context, acc storage.Access, cal *storage.Calendar) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.UpdateCalendar(ctx, acc, cal) })
}

func (s *Store) DeleteCalendar(ctx context.Context, acc storage.Access, id storage.CalendarID) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.DeleteCalendar(ctx, acc, id) })
}

func (s *Store) CreateEvent(ctx context.Context, acc storage.Access, ev *storage.Event) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.CreateEvent(ctx, acc, ev) })
}

func (s *Store) UpdateEvent(ctx context.Context, acc storage.Access, ev *storage.Event) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.UpdateEvent(ctx, acc, ev) })
}

func (s *Store) DeleteEvent(ctx context.Context, acc storage.Access, id storage.EventID) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.DeleteEvent(ctx, acc, id) })
}

func (st *state) clone() *state {
	c := &state{
		calendars:  make(map[storage.CalendarID]*storage.Calendar, len(st.calendars)),
		events:     make(map[storage.EventID]*storage.Event, len(st.events)),
		categories: maps.Clone(st.categories),
		locations:  maps.Clone(st.locations),
		nextID:     st.nextID,
	}
	for id, cal := range st.calendars {
		c.calendars[id] = cloneCalendar(cal)
	}
	for id, ev := range st.events {
		c.events[id] = ev.Clone()
	}
	return c
}

func (st *state) newID() int64 {
	st.nextID++
	return st.nextID
}

func cloneCalendar(cal *storage.Calendar) *storage.Calendar {
	c := *cal
	c.ReadUsers = slices.Clone(cal.ReadUsers)
	c.WriteUsers = slices.Clone(cal.WriteUsers)
	return &c
}

func recurrenceKey(ev *storage.Event) string {
	if rec, ok := ev.Recurrence.Get(); ok {
		return strconv.FormatInt(rec.UTC().UnixNano(), 10)
	}
	return ""
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
