package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMkCalendar(t *testing.T) {
	f := newFixture(t)
	body := `<?xml version="1.0" encoding="utf-8"?>
<C:mkcalendar xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:set><D:prop><D:displayname>Second</D:displayname></D:prop></D:set>
</C:mkcalendar>`

	for _, method := range []string{"MKCALENDAR", "MKCOL"} {
		t.Run(method, func(t *testing.T) {
			rec := f.do(method, "/dav/Calendars/second/", "alice", body, nil)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	cals, err := f.store.FindCalendars(context.Background(), storage.CalendarQuery{Owner: "alice"})
	require.NoError(t, err)
	assert.Len(t, cals, 1)
}
