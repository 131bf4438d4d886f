package storage

import (
	"context"
)

// Access identifies on whose behalf a write runs. UserAccess writes are
// checked against calendar ownership and write grants. ReplicationAccess
// skips those checks and is reserved for the replication coordinator, which
// must write into calendars the initiating user does not own.
type Access struct {
	user        string
	replication bool
}

func UserAccess(user string) Access {
	return Access{user: user}
}

func ReplicationAccess() Access {
	return Access{replication: true}
}

func (a Access) User() string {
	return a.user
}

func (a Access) IsReplication() bool {
	return a.replication
}

// CheckWrite returns a permission error unless a may modify cal.
func (a Access) CheckWrite(cal *Calendar) error {
	if a.replication || cal.CanWrite(a.user) {
		return nil
	}
	return NewPermissionError(a.user, "no write access to calendar "+cal.Name)
}

// Reader is the read side of the storage collaborator. Returned events are
// fully loaded: tags, attendees, recurrence children and, for masters, their
// overrides ordered by recurrence.
type Reader interface {
	GetCalendar(ctx context.Context, id CalendarID) (*Calendar, error)
	GetCalendarByName(ctx context.Context, name string) (*Calendar, error)
	FindCalendars(ctx context.Context, q CalendarQuery) ([]*Calendar, error)

	GetEvent(ctx context.Context, id EventID) (*Event, error)
	FindEvents(ctx context.Context, q EventQuery) ([]*Event, error)

	// LookupCategory and LookupLocation return ErrNotFound for unknown names.
	LookupCategory(ctx context.Context, name string) (Category, error)
	LookupLocation(ctx context.Context, name string) (Location, error)
}

// Writer is the write side. Stores assign identities and audit timestamps,
// start Sequence at 0 and increment it by one on every UpdateEvent, ignoring
// whatever the caller put there. Event.Recurrences is never written; overrides
// are separate events. Deleting a master deletes its overrides, deleting a
// calendar deletes its events.
type Writer interface {
	CreateCalendar(ctx context.Context, acc Access, cal *Calendar) error
	UpdateCalendar(ctx context.Context, acc Access, cal *Calendar) error
	DeleteCalendar(ctx context.Context, acc Access, id CalendarID) error

	CreateEvent(ctx context.Context, acc Access, ev *Event) error
	UpdateEvent(ctx context.Context, acc Access, ev *Event) error
	DeleteEvent(ctx context.Context, acc Access, id EventID) error
}

// Tx is a unit of work inside Storage.Atomic.
type Tx interface {
	Reader
	Writer
}

// Storage interface connects your backend storage (e.g. database) with this
// server. Please use the error types provided.
type Storage interface {
	Tx
	// Atomic runs fn in a transaction: either every write made through tx
	// is committed or none is.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// ResourceType indicates the type of CalDAV resource identified by the URL path.
// This is distinct from CalDAV prop "resourcetype".
type ResourceType int

const (
	ResourceUnknown ResourceType = iota
	ResourceHomeSet
	ResourceCollection
	ResourceCalendarFile
	ResourceObject
	ResourceServiceRoot
)

// String provides a human-readable representation of the ResourceType.
func (rt ResourceType) String() string {
	switch rt {
	case ResourceHomeSet:
		return "HomeSet"
	case ResourceCollection:
		return "Collection"
	case ResourceCalendarFile:
		return "CalendarFile"
	case ResourceObject:
		return "Object"
	case ResourceServiceRoot:
		return "ServiceRoot"
	default:
		return "Unknown"
	}
}
