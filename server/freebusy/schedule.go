package freebusy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/caldora/internal/xml"
	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/samber/mo"
	"go.opentelemetry.io/otel/attribute"
)

const (
	propMethod    = "METHOD"
	propFreeBusy  = "FREEBUSY"
	propOrganizer = "ORGANIZER"
	propAttendee  = "ATTENDEE"
	paramFBType   = "FBTYPE"

	methodReply   = "REPLY"
	methodRequest = "REQUEST"

	dateLayout = "20060102"
	utcLayout  = "20060102T150405Z"
)

// RenderReply builds a METHOD:REPLY calendar with one VFREEBUSY listing
// every interval as its own FREEBUSY line.
func (c *Calculator) RenderReply(w Window, intervals []Interval) *ical.Calendar {
	cal := storage.NewCalendarData()
	cal.Props.SetText(propMethod, methodReply)

	fb := ical.NewComponent(ical.CompFreeBusy)
	fb.Props.Set(windowProp(ical.PropDateTimeStart, w.Start, w.StartDate))
	fb.Props.Set(windowProp(ical.PropDateTimeEnd, w.End, w.EndDate))
	fb.Props.Set(windowProp(ical.PropDateTimeStamp, c.now(), false))
	fb.Props.SetText(ical.PropUID, uuid.NewString())
	for _, iv := range intervals {
		p := ical.NewProp(propFreeBusy)
		p.Params.Set(paramFBType, string(iv.Type))
		p.Value = iv.Start.UTC().Format(utcLayout) + "/" + iv.End.UTC().Format(utcLayout)
		fb.Props.Add(p)
	}
	cal.Children = append(cal.Children, fb)
	return cal
}

// Schedule answers a free/busy REQUEST: one item per ATTENDEE, with the
// attendee's free/busy attached when a calendar is owned by that address and
// a soft "no scheduling support" status otherwise. Checking that the caller
// may post to the target outbox is left to the caller.
func (c *Calculator) Schedule(ctx context.Context, text string) ([]xml.ScheduleResponseItem, error) {
	ctx, span := c.tracer.Start(ctx, "freebusy.Schedule")
	defer span.End()

	cal, err := storage.ICSToCalendar(text)
	if err != nil {
		return nil, err
	}
	if m := cal.Props.Get(propMethod); m == nil || !strings.EqualFold(m.Value, methodRequest) {
		return nil, storage.NewValidationError("method", "free/busy requests must use METHOD:REQUEST")
	}
	requests := storage.ChildrenNamed(cal.Component, ical.CompFreeBusy)
	if len(requests) == 0 {
		return nil, storage.NewValidationError("calendar-data", "no VFREEBUSY found")
	}
	req := requests[0]
	w, err := requestWindow(req)
	if err != nil {
		return nil, err
	}

	attendees := req.Props.Values(propAttendee)
	span.SetAttributes(attribute.Int("freebusy.recipients", len(attendees)))
	items := make([]xml.ScheduleResponseItem, 0, len(attendees))
	for _, att := range attendees {
		item := xml.ScheduleResponseItem{Recipient: att.Value, RequestStatus: xml.RequestStatusNoScheduling}
		email := stripMailto(att.Value)
		cals, err := c.store.FindCalendars(ctx, storage.CalendarQuery{OwnerEmails: []string{email}})
		if err != nil {
			return nil, fmt.Errorf("failed to find calendar for %s: %w", email, err)
		}
		if len(cals) == 0 {
			c.logger.Debug("no calendar for schedule recipient", "email", email)
			items = append(items, item)
			continue
		}

		intervals, err := c.FreeBusy(ctx, cals[0].ID, w)
		if err != nil {
			return nil, err
		}
		reply := c.RenderReply(w, intervals)
		fb := reply.Children[0]
		for _, name := range []string{ical.PropDateTimeStamp, ical.PropUID, propOrganizer} {
			if p := req.Props.Get(name); p != nil {
				fb.Props.Set(p)
			}
		}
		fb.Props.Add(&att)

		data, err := storage.CalendarToICS(reply)
		if err != nil {
			return nil, err
		}
		item.RequestStatus = xml.RequestStatusSuccess
		item.CalendarData = mo.Some(data)
		items = append(items, item)
	}

	return items, nil
}

// requestWindow reads DTSTART and DTEND of a VFREEBUSY request.
func requestWindow(req *ical.Component) (Window, error) {
	start, err := singleDate(req, ical.PropDateTimeStart)
	if err != nil {
		return Window{}, err
	}
	end, err := singleDate(req, ical.PropDateTimeEnd)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start.Time, End: end.Time, StartDate: start.DateOnly, EndDate: end.DateOnly}, nil
}

func singleDate(comp *ical.Component, name string) (recurrence.Date, error) {
	p := comp.Props.Get(name)
	if p == nil {
		return recurrence.Date{}, storage.NewValidationError(strings.ToLower(name), "required")
	}
	dates, err := recurrence.ParseDateList(p, time.UTC)
	if err != nil {
		return recurrence.Date{}, err
	}
	if len(dates) != 1 {
		return recurrence.Date{}, storage.NewValidationError(strings.ToLower(name), "expected a single value")
	}
	return dates[0], nil
}

func windowProp(name string, t time.Time, dateOnly bool) *ical.Prop {
	p := ical.NewProp(name)
	if dateOnly {
		p.Params.Set(ical.ParamValue, string(ical.ValueDate))
		p.Value = t.Format(dateLayout)
		return p
	}
	p.Value = t.UTC().Format(utcLayout)
	return p
}

func stripMailto(v string) string {
	const mailto = "mailto:"
	if len(v) >= len(mailto) && strings.EqualFold(v[:len(mailto)], mailto) {
		return v[len(mailto):]
	}
	return v
}
