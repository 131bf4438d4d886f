package server

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var calendarType = map[string]string{"Content-Type": "text/calendar; charset=utf-8"}

func TestHandlePutCreates(t *testing.T) {
	f := newFixture(t)
	rec := f.putMeeting()

	assert.Equal(t, "/dav/Calendars/alice/meeting.ics", rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Header().Get(headerETag))

	get := f.do(http.MethodGet, "/dav/Calendars/alice/meeting.ics", "alice", "", nil)
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, rec.Header().Get(headerETag), get.Header().Get(headerETag))
	assert.Contains(t, get.Body.String(), "SUMMARY:Planning")
}

func TestHandlePutLocationUsesBodyUID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPut, "/dav/Calendars/alice/client-name.ics", "alice", meetingICS, calendarType)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/dav/Calendars/alice/meeting.ics", rec.Header().Get("Location"))
}

func TestHandlePutReplicatesToAttendees(t *testing.T) {
	f := newFixture(t)
	f.putMeeting()

	evs, err := f.store.FindEvents(context.Background(), storage.EventQuery{CalendarID: f.calendarID("bob"), UUID: "meeting"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "Planning", evs[0].Summary)

	get := f.do(http.MethodGet, "/dav/Calendars/bob/meeting.ics", "bob", "", nil)
	assert.Equal(t, http.StatusOK, get.Code)
}

func TestHandlePutUpdates(t *testing.T) {
	f := newFixture(t)
	etag := f.putMeeting().Header().Get(headerETag)

	updated := strings.Replace(meetingICS, "SUMMARY:Planning", "SUMMARY:Retro", 1)
	headers := map[string]string{"Content-Type": "text/calendar", "If-Match": etag}
	rec := f.do(http.MethodPut, "/dav/Calendars/alice/meeting.ics", "alice", updated, headers)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.NotEqual(t, etag, rec.Header().Get(headerETag))

	// bob's copy follows the organizer
	evs, err := f.store.FindEvents(context.Background(), storage.EventQuery{CalendarID: f.calendarID("bob"), UUID: "meeting"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "Retro", evs[0].Summary)
}

func TestHandlePutRejects(t *testing.T) {
	f := newFixture(t)
	f.putMeeting()

	tests := []struct {
		name    string
		user    string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{
			name:    "if-none-match star on existing",
			path:    "/dav/Calendars/alice/meeting.ics",
			headers: map[string]string{"Content-Type": "text/calendar", "If-None-Match": "*"},
			want:    http.StatusPreconditionFailed,
		},
		{
			name:    "stale if-match",
			path:    "/dav/Calendars/alice/meeting.ics",
			headers: map[string]string{"Content-Type": "text/calendar", "If-Match": `"stale"`},
			want:    http.StatusPreconditionFailed,
		},
		{
			name:    "if-match on missing event",
			path:    "/dav/Calendars/alice/other.ics",
			headers: map[string]string{"Content-Type": "text/calendar", "If-Match": `"any"`},
			want:    http.StatusPreconditionFailed,
		},
		{
			name:    "wrong content type",
			path:    "/dav/Calendars/alice/other.ics",
			headers: map[string]string{"Content-Type": "application/json"},
			want:    http.StatusUnsupportedMediaType,
		},
		{
			name:    "whole calendar file",
			path:    "/dav/Calendars/alice.ics",
			headers: calendarType,
			want:    http.StatusForbidden,
		},
		{
			name:    "collection",
			path:    "/dav/Calendars/alice/",
			headers: calendarType,
			want:    http.StatusMethodNotAllowed,
		},
		{
			name:    "malformed body",
			path:    "/dav/Calendars/alice/other.ics",
			body:    "BEGIN:VCALENDAR\r\nnot ical",
			headers: calendarType,
			want:    http.StatusBadRequest,
		},
		{
			name:    "no event in body",
			path:    "/dav/Calendars/alice/other.ics",
			body:    "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Test//EN\r\nBEGIN:VTODO\r\nUID:x\r\nDTSTAMP:20240301T000000Z\r\nEND:VTODO\r\nEND:VCALENDAR\r\n",
			headers: calendarType,
			want:    http.StatusBadRequest,
		},
		{
			name:    "reader without write grant",
			user:    "carol",
			path:    "/dav/Calendars/alice/other.ics",
			body:    strings.Replace(meetingICS, "UID:meeting", "UID:other", 1),
			headers: calendarType,
			want:    http.StatusForbidden,
		},
		{
			name:    "stranger",
			user:    "bob",
			path:    "/dav/Calendars/alice/other.ics",
			body:    meetingICS,
			headers: calendarType,
			want:    http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := tt.user
			if user == "" {
				user = "alice"
			}
			body := tt.body
			if body == "" {
				body = meetingICS
			}
			rec := f.do(http.MethodPut, tt.path, user, body, tt.headers)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	evs, err := f.store.FindEvents(context.Background(), storage.EventQuery{CalendarID: f.calendarID("alice"), MastersOnly: true})
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
