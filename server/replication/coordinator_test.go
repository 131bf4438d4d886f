package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/storage/memory"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	coord *Coordinator
	cals  map[string]*storage.Calendar // by owner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), cals: map[string]*storage.Calendar{}}
	f.coord = New(f.store)
	for _, owner := range []string{"olga", "ann", "ben"} {
		cal := &storage.Calendar{Name: owner, Owner: owner, OwnerEmail: owner + "@example.com"}
		require.NoError(t, f.store.CreateCalendar(context.Background(), storage.UserAccess(owner), cal))
		f.cals[owner] = cal
	}
	return f
}

func meeting(cal *storage.Calendar) *storage.Event {
	return &storage.Event{
		CalendarID:     cal.ID,
		UUID:           "meeting",
		Summary:        "Weekly sync",
		Start:          start,
		End:            mo.Some(start.Add(time.Hour)),
		Classification: storage.ClassPublic,
		Transp:         storage.TranspOpaque,
		Organizer:      "olga@example.com",
		Attendees: []storage.Attendee{
			{Email: "olga@example.com", Status: storage.PartStatAccepted},
			{Email: "ann@example.com", Status: storage.PartStatNeedsAction},
			{Email: "ben@example.com", Status: storage.PartStatNeedsAction},
		},
	}
}

// copyOf returns owner's master copy of the meeting, or nil.
func (f *fixture) copyOf(t *testing.T, owner string) *storage.Event {
	t.Helper()
	evs, err := f.store.FindEvents(context.Background(), storage.EventQuery{
		CalendarID:  f.cals[owner].ID,
		UUID:        "meeting",
		MastersOnly: true,
	})
	require.NoError(t, err)
	if len(evs) == 0 {
		return nil
	}
	require.Len(t, evs, 1)
	return evs[0]
}

func statusOf(t *testing.T, ev *storage.Event, email string) storage.PartStat {
	t.Helper()
	a, ok := ev.Attendee(email)
	require.True(t, ok, "attendee %s", email)
	return a.Status
}

func TestOrganizerCreateFansOut(t *testing.T) {
	f := newFixture(t)
	ev := meeting(f.cals["olga"])
	require.NoError(t, f.coord.Create(context.Background(), "olga", ev))

	for _, owner := range []string{"ann", "ben"} {
		evs, err := f.store.FindEvents(context.Background(), storage.EventQuery{OwnerEmails: []string{owner + "@example.com"}})
		require.NoError(t, err)
		require.Len(t, evs, 1, owner)
		assert.Equal(t, "meeting", evs[0].UUID)
		assert.Equal(t, "Weekly sync", evs[0].Summary)
		assert.Equal(t, f.cals[owner].ID, evs[0].CalendarID)
		assert.Len(t, evs[0].Attendees, 3)
	}
}

func TestDeclinedAttendeesAreNotCopied(t *testing.T) {
	f := newFixture(t)
	ev := meeting(f.cals["olga"])
	ev.Attendees[2].Status = storage.PartStatDeclined
	require.NoError(t, f.coord.Create(context.Background(), "olga", ev))

	assert.NotNil(t, f.copyOf(t, "ann"))
	assert.Nil(t, f.copyOf(t, "ben"))
}

func TestOrganizerUpdateKeepsAttendeeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := meeting(f.cals["olga"])
	require.NoError(t, f.coord.Create(ctx, "olga", ev))

	annCopy := f.copyOf(t, "ann")
	_, err := f.coord.SetParticipation(ctx, "ann", annCopy.ID, storage.PartStatAccepted)
	require.NoError(t, err)

	updated, err := f.store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	updated.Summary = "Weekly sync (moved)"
	updated.Start = start.Add(time.Hour)
	updated.End = mo.Some(start.Add(2 * time.Hour))
	updated.Attendees[1].Status = storage.PartStatNeedsAction
	require.NoError(t, f.coord.Update(ctx, "olga", updated))

	for _, owner := range []string{"ann", "ben"} {
		cp := f.copyOf(t, owner)
		assert.Equal(t, "Weekly sync (moved)", cp.Summary, owner)
		assert.True(t, cp.Start.Equal(start.Add(time.Hour)), owner)
	}
	assert.Equal(t, storage.PartStatAccepted, statusOf(t, f.copyOf(t, "ann"), "ann@example.com"))
	assert.Equal(t, storage.PartStatNeedsAction, statusOf(t, f.copyOf(t, "ben"), "ben@example.com"))
}

func TestAttendeeDeclineReachesOrganizerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.coord.Create(ctx, "olga", meeting(f.cals["olga"])))

	annCopy := f.copyOf(t, "ann")
	got, err := f.coord.SetParticipation(ctx, "ann", annCopy.ID, storage.PartStatDeclined)
	require.NoError(t, err)
	assert.Equal(t, storage.PartStatDeclined, statusOf(t, got, "ann@example.com"))

	assert.Equal(t, storage.PartStatDeclined, statusOf(t, f.copyOf(t, "olga"), "ann@example.com"))
	ben := f.copyOf(t, "ben")
	assert.Equal(t, storage.PartStatNeedsAction, statusOf(t, ben, "ann@example.com"))
	assert.Equal(t, storage.PartStatNeedsAction, statusOf(t, ben, "ben@example.com"))
	assert.Equal(t, 0, ben.Sequence)
}

func TestAttendeeCannotEditOrganizerFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.coord.Create(ctx, "olga", meeting(f.cals["olga"])))

	annCopy := f.copyOf(t, "ann")
	annCopy.Summary = "my private title"
	require.NoError(t, f.coord.Update(ctx, "ann", annCopy))

	assert.Equal(t, "Weekly sync", f.copyOf(t, "olga").Summary)
	assert.Equal(t, "Weekly sync", f.copyOf(t, "ben").Summary)
	assert.Equal(t, "my private title", f.copyOf(t, "ann").Summary)
}

func TestDeletionAsymmetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := meeting(f.cals["olga"])
	require.NoError(t, f.coord.Create(ctx, "olga", ev))

	require.NoError(t, f.coord.Delete(ctx, "ben", f.copyOf(t, "ben").ID))
	assert.Nil(t, f.copyOf(t, "ben"))
	organizer := f.copyOf(t, "olga")
	require.NotNil(t, organizer)
	assert.Equal(t, storage.PartStatDeclined, statusOf(t, organizer, "ben@example.com"))

	require.NoError(t, f.coord.Delete(ctx, "olga", ev.ID))
	assert.Nil(t, f.copyOf(t, "olga"))
	assert.Nil(t, f.copyOf(t, "ann"))
}

func TestOverridesFollowTheirMaster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule, err := recurrence.ParseRule("FREQ=DAILY;COUNT=5")
	require.NoError(t, err)

	master := meeting(f.cals["olga"])
	master.RRules = []storage.RuleEntry{{Rule: rule}}
	require.NoError(t, f.coord.Create(ctx, "olga", master))

	second := start.AddDate(0, 0, 1)
	override := &storage.Event{
		CalendarID:     master.CalendarID,
		UUID:           master.UUID,
		Summary:        "Weekly sync (late)",
		Start:          second.Add(3 * time.Hour),
		End:            mo.Some(second.Add(4 * time.Hour)),
		Classification: storage.ClassPublic,
		Transp:         storage.TranspOpaque,
		Organizer:      master.Organizer,
		Parent:         mo.Some(master.ID),
		Recurrence:     mo.Some(second),
	}
	require.NoError(t, f.coord.Create(ctx, "olga", override))

	for _, owner := range []string{"ann", "ben"} {
		cp := f.copyOf(t, owner)
		require.Len(t, cp.Recurrences, 1, owner)
		o := cp.Recurrences[0]
		assert.Equal(t, cp.ID, o.Parent.MustGet())
		assert.Equal(t, "Weekly sync (late)", o.Summary)
		assert.True(t, o.Recurrence.MustGet().Equal(second))
		require.Len(t, cp.RRules, 1)
	}

	require.NoError(t, f.coord.Delete(ctx, "olga", override.ID))
	for _, owner := range []string{"ann", "ben"} {
		assert.Empty(t, f.copyOf(t, owner).Recurrences, owner)
	}
}

func TestNewAttendeeGetsMasterWithOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule, err := recurrence.ParseRule("FREQ=DAILY;COUNT=5")
	require.NoError(t, err)

	master := meeting(f.cals["olga"])
	master.Attendees = master.Attendees[:2]
	master.RRules = []storage.RuleEntry{{Rule: rule}}
	require.NoError(t, f.coord.Create(ctx, "olga", master))
	second := start.AddDate(0, 0, 1)
	require.NoError(t, f.coord.Create(ctx, "olga", &storage.Event{
		CalendarID:     master.CalendarID,
		UUID:           master.UUID,
		Start:          second,
		Classification: storage.ClassPublic,
		Transp:         storage.TranspOpaque,
		Organizer:      master.Organizer,
		Parent:         mo.Some(master.ID),
		Recurrence:     mo.Some(second),
		Status:         storage.StatusCancelled,
	}))
	assert.Nil(t, f.copyOf(t, "ben"))

	updated, err := f.store.GetEvent(ctx, master.ID)
	require.NoError(t, err)
	updated.Attendees = append(updated.Attendees, storage.Attendee{Email: "ben@example.com"})
	require.NoError(t, f.coord.Update(ctx, "olga", updated))

	ben := f.copyOf(t, "ben")
	require.NotNil(t, ben)
	require.Len(t, ben.Recurrences, 1)
	assert.Equal(t, storage.StatusCancelled, ben.Recurrences[0].Status)
}

// failingStore refuses every replicated create.
type failingStore struct {
	*memory.Store
}

func (s failingStore) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.Store.Atomic(ctx, func(tx storage.Tx) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	storage.Tx
}

func (t failingTx) CreateEvent(ctx context.Context, acc storage.Access, ev *storage.Event) error {
	if acc.IsReplication() {
		return errors.New("disk full")
	}
	return t.Tx.CreateEvent(ctx, acc, ev)
}

func TestFanOutFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	coord := New(failingStore{f.store})

	err := coord.Create(context.Background(), "olga", meeting(f.cals["olga"]))
	require.Error(t, err)
	assert.True(t, storage.IsTransactionFailure(err))
	assert.Nil(t, f.copyOf(t, "olga"))
}

func TestPermissionDeniedWritesNothing(t *testing.T) {
	f := newFixture(t)
	err := f.coord.Create(context.Background(), "ann", meeting(f.cals["olga"]))
	require.Error(t, err)
	assert.True(t, storage.IsPermissionDenied(err))
	assert.Nil(t, f.copyOf(t, "ann"))
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cal := f.cals["olga"].ID
	second := start.AddDate(0, 0, 1)
	third := start.AddDate(0, 0, 2)
	rule, err := recurrence.ParseRule("FREQ=DAILY;COUNT=5")
	require.NoError(t, err)

	values := func(summary string) *storage.EventValues {
		return &storage.EventValues{
			UUID:           "meeting",
			Summary:        summary,
			Start:          start,
			End:            mo.Some(start.Add(time.Hour)),
			Classification: storage.ClassPublic,
			Transp:         storage.TranspOpaque,
			Organizer:      "olga@example.com",
			Attendees: []storage.ChildOp[storage.Attendee]{
				{Op: storage.OpCreate, Value: storage.Attendee{Email: "ann@example.com"}},
			},
			RRules: []storage.RuleEntry{{Rule: rule}},
		}
	}
	override := func(rec time.Time, summary string) *storage.EventValues {
		return &storage.EventValues{
			UUID:           "meeting",
			Summary:        summary,
			Start:          rec.Add(time.Hour),
			Classification: storage.ClassPublic,
			Transp:         storage.TranspOpaque,
			Organizer:      "olga@example.com",
			Recurrence:     mo.Some(rec),
		}
	}

	v := values("first")
	v.Recurrences = []storage.RecurrenceOp{
		{Op: storage.OpCreate, Values: override(second, "second")},
		{Op: storage.OpCreate, Values: override(third, "third")},
	}
	created, err := f.coord.Apply(ctx, "olga", cal, mo.None[storage.EventID](), v)
	require.NoError(t, err)
	require.Len(t, created.Recurrences, 2)
	require.Len(t, f.copyOf(t, "ann").Recurrences, 2)

	v = values("renamed")
	v.Attendees = []storage.ChildOp[storage.Attendee]{{Op: storage.OpUpdate, Value: created.Attendees[0]}}
	v.Recurrences = []storage.RecurrenceOp{
		{Op: storage.OpUpdate, ID: created.Recurrences[0].ID, Values: override(second, "second, renamed")},
		{Op: storage.OpDelete, ID: created.Recurrences[1].ID},
	}
	updated, err := f.coord.Apply(ctx, "olga", cal, mo.Some(created.ID), v)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Summary)
	assert.Equal(t, 1, updated.Sequence)
	require.Len(t, updated.Recurrences, 1)
	assert.Equal(t, "second, renamed", updated.Recurrences[0].Summary)

	ann := f.copyOf(t, "ann")
	assert.Equal(t, "renamed", ann.Summary)
	require.Len(t, ann.Recurrences, 1)
	assert.Equal(t, "second, renamed", ann.Recurrences[0].Summary)

	_, err = f.coord.Apply(ctx, "olga", f.cals["ann"].ID, mo.Some(created.ID), values("x"))
	assert.True(t, storage.IsValidation(err))
}
