package server

import (
	"net/http"
	"testing"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const freebusyRequest = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Test//EN\r\n" +
	"METHOD:REQUEST\r\n" +
	"BEGIN:VFREEBUSY\r\n" +
	"UID:fb-1\r\n" +
	"DTSTAMP:20240301T120000Z\r\n" +
	"DTSTART:20240304T000000Z\r\n" +
	"DTEND:20240305T000000Z\r\n" +
	"ORGANIZER:mailto:alice@example.com\r\n" +
	"ATTENDEE:mailto:bob@example.com\r\n" +
	"ATTENDEE:mailto:stranger@example.org\r\n" +
	"END:VFREEBUSY\r\n" +
	"END:VCALENDAR\r\n"

func TestHandlePostFreeBusy(t *testing.T) {
	f := newFixture(t)
	f.putMeeting()

	rec := f.do(http.MethodPost, "/dav/Calendars/alice/", "alice", freebusyRequest, calendarType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, mimeTypeXML, rec.Header().Get(headerContentType))

	resp, err := xml.ParseScheduleResponse(rec.Body)
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)

	bob := resp.Items[0]
	assert.Equal(t, "mailto:bob@example.com", bob.Recipient)
	assert.Equal(t, xml.RequestStatusSuccess, bob.RequestStatus)
	data, ok := bob.CalendarData.Get()
	require.True(t, ok)
	// bob's replicated copy of the meeting makes him busy
	assert.Contains(t, data, "20240304T100000Z/20240304T110000Z")

	stranger := resp.Items[1]
	assert.Equal(t, xml.RequestStatusNoScheduling, stranger.RequestStatus)
	assert.True(t, stranger.CalendarData.IsAbsent())
}

func TestHandlePostRejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		user    string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{"reader is not owner", "carol", "/dav/Calendars/alice/", freebusyRequest, calendarType, http.StatusForbidden},
		{"stranger", "bob", "/dav/Calendars/alice/", freebusyRequest, calendarType, http.StatusForbidden},
		{"not a collection", "alice", "/dav/Calendars/alice.ics", freebusyRequest, calendarType, http.StatusMethodNotAllowed},
		{"wrong content type", "alice", "/dav/Calendars/alice/", freebusyRequest, map[string]string{"Content-Type": "text/plain"}, http.StatusUnsupportedMediaType},
		{"not a request", "alice", "/dav/Calendars/alice/", meetingICS, calendarType, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, tt.path, tt.user, tt.body, tt.headers)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
