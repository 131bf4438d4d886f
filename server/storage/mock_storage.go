package storage

import (
	"context"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"
)

// MockStorage implements the Storage interface for testing
type MockStorage struct {
	mock.Mock
}

var _ Storage = (*MockStorage)(nil)

func (m *MockStorage) GetCalendar(ctx context.Context, id CalendarID) (*Calendar, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Calendar), args.Error(1)
}

func (m *MockStorage) GetCalendarByName(ctx context.Context, name string) (*Calendar, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Calendar), args.Error(1)
}

func (m *MockStorage) FindCalendars(ctx context.Context, q CalendarQuery) ([]*Calendar, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Calendar), args.Error(1)
}

func (m *MockStorage) GetEvent(ctx context.Context, id EventID) (*Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Event), args.Error(1)
}

func (m *MockStorage) FindEvents(ctx context.Context, q EventQuery) ([]*Event, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Event), args.Error(1)
}

func (m *MockStorage) LookupCategory(ctx context.Context, name string) (Category, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(Category), args.Error(1)
}

func (m *MockStorage) LookupLocation(ctx context.Context, name string) (Location, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(Location), args.Error(1)
}

func (m *MockStorage) CreateCalendar(ctx context.Context, acc Access, cal *Calendar) error {
	return m.Called(ctx, acc, cal).Error(0)
}

func (m *MockStorage) UpdateCalendar(ctx context.Context, acc Access, cal *Calendar) error {
	return m.Called(ctx, acc, cal).Error(0)
}

func (m *MockStorage) DeleteCalendar(ctx context.Context, acc Access, id CalendarID) error {
	return m.Called(ctx, acc, id).Error(0)
}

func (m *MockStorage) CreateEvent(ctx context.Context, acc Access, ev *Event) error {
	return m.Called(ctx, acc, ev).Error(0)
}

func (m *MockStorage) UpdateEvent(ctx context.Context, acc Access, ev *Event) error {
	return m.Called(ctx, acc, ev).Error(0)
}

func (m *MockStorage) DeleteEvent(ctx context.Context, acc Access, id EventID) error {
	return m.Called(ctx, acc, id).Error(0)
}

// Atomic records the call and, unless an error is configured, runs fn
// against the mock itself.
func (m *MockStorage) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := m.Called(ctx).Error(0); err != nil {
		return err
	}
	return fn(m)
}

// --- Helper methods for creating test data ---

// NewMockCalendar creates a test Calendar owned by owner.
func NewMockCalendar(id CalendarID, name, owner, email string) *Calendar {
	now := time.Now()
	return &Calendar{
		ID:         id,
		Name:       name,
		Owner:      owner,
		OwnerEmail: email,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewMockEvent creates a plain opaque public event.
func NewMockEvent(id EventID, calendar CalendarID, uid, summary string, start, end time.Time) *Event {
	return &Event{
		ID:             id,
		CalendarID:     calendar,
		UUID:           uid,
		Summary:        summary,
		Start:          start,
		End:            mo.Some(end),
		Classification: ClassPublic,
		Transp:         TranspOpaque,
		CreatedAt:      start,
		UpdatedAt:      start,
	}
}
