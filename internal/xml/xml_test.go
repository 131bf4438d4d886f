package xml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultistatusRoundTrip(t *testing.T) {
	ms := &MultistatusResponse{Responses: []Response{
		{
			Href: "/Calendars/alice/",
			PropStats: []PropStat{
				{
					Props: []Property{
						{Name: TagResourcetype, Namespace: DAV, Children: []Property{
							{Name: TagCollection, Namespace: DAV},
							{Name: TagCalendar, Namespace: CalDAV},
						}},
						{Name: "displayname", Namespace: DAV, TextContent: "alice"},
					},
					Status: StatusOK,
				},
				{
					Props:  []Property{{Name: "getctag", Namespace: CalendarServer}},
					Status: StatusNotFound,
				},
			},
		},
		{Href: "/Calendars/gone/", Status: StatusNotFound},
	}}

	var buf bytes.Buffer
	_, err := ms.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav"`)
	assert.Contains(t, out, "<C:calendar/>")
	assert.Contains(t, out, "<CS:getctag/>")

	parsed, err := ParseMultistatus(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, parsed.Responses, 2)

	first := parsed.Responses[0]
	assert.Equal(t, "/Calendars/alice/", first.Href)
	rt, ok := first.Find(StatusOK, Name{Space: DAV, Local: TagResourcetype})
	require.True(t, ok)
	require.Len(t, rt.Children, 2)
	assert.Equal(t, Name{Space: CalDAV, Local: TagCalendar}, rt.Children[1].XMLName())
	name, ok := first.Find(StatusOK, Name{Space: DAV, Local: "displayname"})
	require.True(t, ok)
	assert.Equal(t, "alice", name.TextContent)
	_, ok = first.Find(StatusNotFound, Name{Space: CalendarServer, Local: "getctag"})
	assert.True(t, ok)

	assert.Equal(t, StatusNotFound, parsed.Responses[1].Status)
}

func TestParseMultistatusRejectsOtherRoots(t *testing.T) {
	_, err := ParseMultistatus(strings.NewReader(`<D:propfind xmlns:D="DAV:"/>`))
	assert.Error(t, err)
}

func TestParsePropfind(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    PropfindRequest
		wantErr bool
	}{
		{name: "empty body is allprop", body: "", want: PropfindRequest{AllProp: true}},
		{
			name: "named properties across namespaces",
			body: `<?xml version="1.0"?>
<propfind xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <prop><resourcetype/><C:calendar-home-set/></prop>
</propfind>`,
			want: PropfindRequest{Props: []Name{
				{Space: DAV, Local: "resourcetype"},
				{Space: CalDAV, Local: "calendar-home-set"},
			}},
		},
		{name: "allprop", body: `<D:propfind xmlns:D="DAV:"><D:allprop/></D:propfind>`, want: PropfindRequest{AllProp: true}},
		{name: "propname", body: `<D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`, want: PropfindRequest{PropNames: true}},
		{name: "wrong root", body: `<D:report xmlns:D="DAV:"/>`, wantErr: true},
		{name: "no properties", body: `<D:propfind xmlns:D="DAV:"/>`, wantErr: true},
		{name: "malformed", body: `<propfind`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePropfind(strings.NewReader(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDepth(t *testing.T) {
	d, err := ParseDepth("", mo.Some(0))
	require.NoError(t, err)
	assert.Equal(t, mo.Some(0), d)

	d, err = ParseDepth("1", mo.Some(0))
	require.NoError(t, err)
	assert.Equal(t, 1, d.MustGet())

	d, err = ParseDepth("infinity", mo.Some(0))
	require.NoError(t, err)
	assert.True(t, d.IsAbsent())

	_, err = ParseDepth("2", mo.Some(0))
	assert.Error(t, err)
}

func TestScheduleResponseRoundTrip(t *testing.T) {
	sr := &ScheduleResponse{Items: []ScheduleResponseItem{
		{Recipient: "mailto:bob@example.com", RequestStatus: RequestStatusSuccess, CalendarData: mo.Some("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")},
		{Recipient: "mailto:nobody@example.com", RequestStatus: RequestStatusNoScheduling},
	}}

	var buf bytes.Buffer
	_, err := sr.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "<C:schedule-response")

	parsed, err := ParseScheduleResponse(&buf)
	require.NoError(t, err)
	require.Len(t, parsed.Items, 2)
	assert.Equal(t, "mailto:bob@example.com", parsed.Items[0].Recipient)
	assert.Equal(t, RequestStatusSuccess, parsed.Items[0].RequestStatus)
	assert.Contains(t, parsed.Items[0].CalendarData.MustGet(), "BEGIN:VCALENDAR")
	assert.Equal(t, RequestStatusNoScheduling, parsed.Items[1].RequestStatus)
	assert.True(t, parsed.Items[1].CalendarData.IsAbsent())
}

func TestPrefixDefaultsToDAV(t *testing.T) {
	assert.Equal(t, "C", Prefix(CalDAV))
	assert.Equal(t, "D", Prefix("urn:unknown"))
}
