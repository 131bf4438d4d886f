package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const (
	dateLayout  = "20060102"
	utcLayout   = "20060102T150405Z"
	localLayout = "20060102T150405"
)

// ParseDateList parses an RDATE or EXDATE property. DATE values become
// midnight UTC; floating date-times are read in loc, and TZID wins over loc.
func ParseDateList(prop *ical.Prop, loc *time.Location) ([]Date, error) {
	if prop == nil || strings.TrimSpace(prop.Value) == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	isDateOnly := strings.EqualFold(prop.Params.Get(ical.ParamValue), string(ical.ValueDate))
	if tzid := prop.Params.Get(ical.ParamTimezoneID); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	var out []Date
	for _, s := range strings.Split(prop.Value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		d, err := parseDateValue(s, isDateOnly, loc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prop.Name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseDateValue(s string, isDateOnly bool, loc *time.Location) (Date, error) {
	if isDateOnly || len(s) == len(dateLayout) {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return Date{}, &ValidationError{Field: "date", Value: s, Message: "invalid date"}
		}
		return Date{Time: t, DateOnly: true}, nil
	}
	if strings.HasSuffix(s, "Z") {
		t, err := time.Parse(utcLayout, s)
		if err != nil {
			return Date{}, &ValidationError{Field: "date", Value: s, Message: "invalid date-time"}
		}
		return Date{Time: t}, nil
	}
	t, err := time.ParseInLocation(localLayout, s, loc)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Value: s, Message: "invalid date-time"}
	}
	return Date{Time: t}, nil
}

// DateListProps renders dates as at most two properties named name: one
// VALUE=DATE list and one UTC date-time list.
func DateListProps(name string, dates []Date) []ical.Prop {
	var dateOnly, dateTimes []string
	for _, d := range dates {
		if d.DateOnly {
			dateOnly = append(dateOnly, d.Time.Format(dateLayout))
		} else {
			dateTimes = append(dateTimes, d.Time.UTC().Format(utcLayout))
		}
	}

	var props []ical.Prop
	if len(dateOnly) > 0 {
		p := ical.NewProp(name)
		p.Params.Set(ical.ParamValue, string(ical.ValueDate))
		p.Value = strings.Join(dateOnly, ",")
		props = append(props, *p)
	}
	if len(dateTimes) > 0 {
		p := ical.NewProp(name)
		p.Value = strings.Join(dateTimes, ",")
		props = append(props, *p)
	}
	return props
}
