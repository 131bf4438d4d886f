package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleDeleteEvent(t *testing.T) {
	f := newFixture(t)
	etag := f.putMeeting().Header().Get(headerETag)

	rec := f.do(http.MethodDelete, "/dav/Calendars/alice/meeting.ics", "alice", "", map[string]string{"If-Match": `"stale"`})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = f.do(http.MethodDelete, "/dav/Calendars/alice/meeting.ics", "alice", "", map[string]string{"If-Match": etag})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/dav/Calendars/alice/meeting.ics", "alice", "", nil).Code)
	// the organizer's delete removes the attendee copies
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/dav/Calendars/bob/meeting.ics", "bob", "", nil).Code)
}

func TestHandleDeleteByAttendeeDeclines(t *testing.T) {
	f := newFixture(t)
	f.putMeeting()

	rec := f.do(http.MethodDelete, "/dav/Calendars/bob/meeting.ics", "bob", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	evs, err := f.store.FindEvents(context.Background(), storage.EventQuery{CalendarID: f.calendarID("alice"), UUID: "meeting"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	bob, ok := evs[0].Attendee("bob@example.com")
	require.True(t, ok)
	assert.Equal(t, storage.PartStatDeclined, bob.Status)
}

func TestHandleDeleteRejects(t *testing.T) {
	f := newFixture(t)
	f.putMeeting()

	tests := []struct {
		name string
		user string
		path string
		want int
	}{
		{"missing event", "alice", "/dav/Calendars/alice/nope.ics", http.StatusNotFound},
		{"calendar file", "alice", "/dav/Calendars/alice.ics", http.StatusForbidden},
		{"home set", "alice", "/dav/Calendars/", http.StatusMethodNotAllowed},
		{"reader", "carol", "/dav/Calendars/alice/meeting.ics", http.StatusForbidden},
		{"stranger", "bob", "/dav/Calendars/alice/", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodDelete, tt.path, tt.user, "", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/dav/Calendars/alice/meeting.ics", "alice", "", nil).Code)
}

func TestHandleDeleteCalendar(t *testing.T) {
	f := newFixture(t)
	f.putMeeting()

	rec := f.do(http.MethodDelete, "/dav/Calendars/alice/", "alice", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/dav/Calendars/alice.ics", "alice", "", nil).Code)
	_, err := f.store.GetCalendarByName(context.Background(), "alice")
	assert.True(t, storage.IsNotFound(err))
}
