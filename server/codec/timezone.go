package codec

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/cyp0633/caldora/server/storage"
	"github.com/emersion/go-ical"
)

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// timezones returns one VTIMEZONE per named zone referenced by a timed
// event or override, ordered by TZID. Each is anchored at the year of the
// earliest start in that zone.
func timezones(events []*storage.Event) []*ical.Component {
	first := make(map[string]time.Time)
	locs := make(map[string]*time.Location)
	visit := func(ev *storage.Event) {
		if ev.AllDay {
			return
		}
		loc, ok := zone(ev.Timezone)
		if !ok || loc == time.UTC {
			return
		}
		name := loc.String()
		if t, seen := first[name]; !seen || ev.Start.Before(t) {
			first[name] = ev.Start
			locs[name] = loc
		}
	}
	for _, ev := range events {
		visit(ev)
		for _, o := range ev.Recurrences {
			visit(o)
		}
	}

	names := make([]string, 0, len(locs))
	for name := range locs {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]*ical.Component, 0, len(names))
	for _, name := range names {
		loc := locs[name]
		out = append(out, vtimezone(loc, first[name].In(loc).Year()))
	}
	return out
}

// vtimezone describes loc from year on. Zones changing offset during that
// year get one observance per change, repeating yearly on the same nth
// weekday; others get a single STANDARD observance.
func vtimezone(loc *time.Location, year int) *ical.Component {
	tz := ical.NewComponent(ical.CompTimezone)
	tz.Props.SetText(ical.PropTimezoneID, loc.String())

	shifts := offsetShifts(loc, year)
	if len(shifts) == 0 {
		name, offset := time.Date(year, 1, 1, 0, 0, 0, 0, loc).Zone()
		epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
		tz.Children = append(tz.Children, observance(ical.CompTimezoneStandard, name, offset, offset, epoch, ""))
		return tz
	}
	for _, s := range shifts {
		kind := ical.CompTimezoneStandard
		if s.to > s.from {
			kind = ical.CompTimezoneDaylight
		}
		tz.Children = append(tz.Children, observance(kind, s.name, s.from, s.to, s.local, yearlyRule(s.local)))
	}
	return tz
}

func observance(kind, name string, from, to int, local time.Time, rule string) *ical.Component {
	c := ical.NewComponent(kind)
	setValue(c, ical.PropDateTimeStart, local.Format(localLayout))
	setValue(c, ical.PropTimezoneOffsetFrom, utcOffset(from))
	setValue(c, ical.PropTimezoneOffsetTo, utcOffset(to))
	if name != "" {
		c.Props.SetText(ical.PropTimezoneName, name)
	}
	if rule != "" {
		setValue(c, ical.PropRecurrenceRule, rule)
	}
	return c
}

// offsetShift is one change of UTC offset. local is the wall-clock time of
// the change under the old offset.
type offsetShift struct {
	local    time.Time
	name     string
	from, to int
}

func offsetShifts(loc *time.Location, year int) []offsetShift {
	var out []offsetShift
	day := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	_, prev := day.In(loc).Zone()
	for ; day.Year() == year; day = day.AddDate(0, 0, 1) {
		_, next := day.AddDate(0, 0, 1).In(loc).Zone()
		if next == prev {
			continue
		}
		secs := sort.Search(86400, func(i int) bool {
			_, off := day.Add(time.Duration(i+1) * time.Second).In(loc).Zone()
			return off != prev
		})
		at := day.Add(time.Duration(secs+1) * time.Second)
		name, to := at.In(loc).Zone()
		out = append(out, offsetShift{
			local: at.In(time.FixedZone("", prev)),
			name:  name,
			from:  prev,
			to:    to,
		})
		prev = to
	}
	return out
}

// yearlyRule repeats a change on the same weekday of its month, counted
// from the end when it falls in the last seven days.
func yearlyRule(local time.Time) string {
	n := (local.Day()-1)/7 + 1
	lastDay := time.Date(local.Year(), local.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if local.Day()+7 > lastDay {
		n = -1
	}
	return fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%d%s", int(local.Month()), n, weekdayCodes[local.Weekday()])
}

// utcOffset formats seconds east of UTC as ±hhmm[ss].
func utcOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	h, m, s := secs/3600, secs/60%60, secs%60
	if s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}
