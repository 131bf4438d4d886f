package recurrence

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is the FREQ part of a recurrence rule.
type Frequency string

const (
	Secondly Frequency = "SECONDLY"
	Minutely Frequency = "MINUTELY"
	Hourly   Frequency = "HOURLY"
	Daily    Frequency = "DAILY"
	Weekly   Frequency = "WEEKLY"
	Monthly  Frequency = "MONTHLY"
	Yearly   Frequency = "YEARLY"
)

var frequencies = map[Frequency]rrule.Frequency{
	Secondly: rrule.SECONDLY,
	Minutely: rrule.MINUTELY,
	Hourly:   rrule.HOURLY,
	Daily:    rrule.DAILY,
	Weekly:   rrule.WEEKLY,
	Monthly:  rrule.MONTHLY,
	Yearly:   rrule.YEARLY,
}

// Weekday is a two-letter iCalendar weekday code.
type Weekday string

const (
	Sunday    Weekday = "SU"
	Monday    Weekday = "MO"
	Tuesday   Weekday = "TU"
	Wednesday Weekday = "WE"
	Thursday  Weekday = "TH"
	Friday    Weekday = "FR"
	Saturday  Weekday = "SA"
)

var weekdays = map[Weekday]rrule.Weekday{
	Sunday:    rrule.SU,
	Monday:    rrule.MO,
	Tuesday:   rrule.TU,
	Wednesday: rrule.WE,
	Thursday:  rrule.TH,
	Friday:    rrule.FR,
	Saturday:  rrule.SA,
}

// WeekdayNum is a BYDAY entry. N is the optional ordinal, 0 meaning every
// such weekday in the period.
type WeekdayNum struct {
	N   int
	Day Weekday
}

func (w WeekdayNum) String() string {
	if w.N == 0 {
		return string(w.Day)
	}
	return strconv.Itoa(w.N) + string(w.Day)
}

// Rule is a validated RRULE or EXRULE value.
type Rule struct {
	Freq Frequency
	// Until is the zero time when unset. UntilDate marks a DATE-valued UNTIL.
	Until     time.Time
	UntilDate bool
	Count     int
	Interval  int

	BySecond   []int
	ByMinute   []int
	ByHour     []int
	ByDay      []WeekdayNum
	ByMonthDay []int
	ByYearDay  []int
	ByWeekNo   []int
	ByMonth    []int
	BySetPos   []int
	Wkst       Weekday
}

// NewRule validates r and returns it.
func NewRule(r Rule) (Rule, error) {
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate checks frequency, termination and every BY* bound.
func (r Rule) Validate() error {
	if _, ok := frequencies[r.Freq]; !ok {
		return &ValidationError{Field: "freq", Value: r.Freq, Message: "unknown frequency"}
	}
	if !r.Until.IsZero() && r.Count != 0 {
		return &ValidationError{Field: "count", Value: r.Count, Message: "only one of until or count may be set"}
	}
	if r.Count < 0 {
		return &ValidationError{Field: "count", Value: r.Count, Message: "must not be negative"}
	}
	if r.Interval < 0 {
		return &ValidationError{Field: "interval", Value: r.Interval, Message: "must not be negative"}
	}
	if r.Wkst != "" {
		if _, ok := weekdays[r.Wkst]; !ok {
			return &ValidationError{Field: "wkst", Value: r.Wkst, Message: "unknown weekday"}
		}
	}

	ranges := []struct {
		field    string
		values   []int
		min, max int
		signed   bool
	}{
		{"bysecond", r.BySecond, 0, 59, false},
		{"byminute", r.ByMinute, 0, 59, false},
		{"byhour", r.ByHour, 0, 23, false},
		{"bymonthday", r.ByMonthDay, 1, 31, true},
		{"byyearday", r.ByYearDay, 1, 366, true},
		{"byweekno", r.ByWeekNo, 1, 53, true},
		{"bymonth", r.ByMonth, 1, 12, false},
		{"bysetpos", r.BySetPos, 1, 366, true},
	}
	for _, rg := range ranges {
		for _, v := range rg.values {
			n := v
			if rg.signed && n < 0 {
				n = -n
			}
			if n < rg.min || n > rg.max {
				bound := fmt.Sprintf("%d..%d", rg.min, rg.max)
				if rg.signed {
					bound = "±" + bound
				}
				return &ValidationError{Field: rg.field, Value: v, Message: "out of range " + bound}
			}
		}
	}

	for _, d := range r.ByDay {
		if _, ok := weekdays[d.Day]; !ok {
			return &ValidationError{Field: "byday", Value: d.String(), Message: "unknown weekday"}
		}
		if d.N < -53 || d.N > 53 {
			return &ValidationError{Field: "byday", Value: d.String(), Message: "ordinal out of range ±1..53"}
		}
	}
	return nil
}

// ParseRule parses an RRULE property value such as "FREQ=WEEKLY;BYDAY=MO,WE".
func ParseRule(value string) (Rule, error) {
	var r Rule
	for _, part := range strings.Split(value, ";") {
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, &ValidationError{Field: "rule", Value: part, Message: "expected NAME=VALUE"}
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		var err error
		switch key {
		case "FREQ":
			r.Freq = Frequency(strings.ToUpper(val))
		case "UNTIL":
			r.Until, r.UntilDate, err = parseUntil(val)
		case "COUNT":
			r.Count, err = parseInt(key, val)
		case "INTERVAL":
			r.Interval, err = parseInt(key, val)
		case "WKST":
			r.Wkst = Weekday(strings.ToUpper(val))
		case "BYSECOND":
			r.BySecond, err = parseIntList(key, val)
		case "BYMINUTE":
			r.ByMinute, err = parseIntList(key, val)
		case "BYHOUR":
			r.ByHour, err = parseIntList(key, val)
		case "BYDAY":
			r.ByDay, err = parseByDay(val)
		case "BYMONTHDAY":
			r.ByMonthDay, err = parseIntList(key, val)
		case "BYYEARDAY":
			r.ByYearDay, err = parseIntList(key, val)
		case "BYWEEKNO":
			r.ByWeekNo, err = parseIntList(key, val)
		case "BYMONTH":
			r.ByMonth, err = parseIntList(key, val)
		case "BYSETPOS":
			r.BySetPos, err = parseIntList(key, val)
		default:
			return Rule{}, &ValidationError{Field: strings.ToLower(key), Value: val, Message: "unsupported rule part"}
		}
		if err != nil {
			return Rule{}, err
		}
	}
	return NewRule(r)
}

// String renders the rule as an RRULE value.
func (r Rule) String() string {
	parts := []string{"FREQ=" + string(r.Freq)}
	if !r.Until.IsZero() {
		if r.UntilDate {
			parts = append(parts, "UNTIL="+r.Until.Format(dateLayout))
		} else {
			parts = append(parts, "UNTIL="+r.Until.UTC().Format(utcLayout))
		}
	} else if r.Count != 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Wkst != "" {
		parts = append(parts, "WKST="+string(r.Wkst))
	}
	if r.Interval != 0 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	parts = appendInts(parts, "BYSECOND", r.BySecond)
	parts = appendInts(parts, "BYMINUTE", r.ByMinute)
	parts = appendInts(parts, "BYHOUR", r.ByHour)
	if len(r.ByDay) > 0 {
		days := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			days[i] = d.String()
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	parts = appendInts(parts, "BYMONTHDAY", r.ByMonthDay)
	parts = appendInts(parts, "BYYEARDAY", r.ByYearDay)
	parts = appendInts(parts, "BYWEEKNO", r.ByWeekNo)
	parts = appendInts(parts, "BYMONTH", r.ByMonth)
	parts = appendInts(parts, "BYSETPOS", r.BySetPos)
	return strings.Join(parts, ";")
}

// Equal reports whether two rules carry the same fields.
func (r Rule) Equal(o Rule) bool {
	return r.String() == o.String()
}

// Options converts the rule to rrule-go options anchored at dtstart. A
// DATE-valued UNTIL includes the whole day in dtstart's zone.
func (r Rule) Options(dtstart time.Time) rrule.ROption {
	opt := rrule.ROption{
		Freq:       frequencies[r.Freq],
		Dtstart:    dtstart,
		Interval:   max(r.Interval, 1),
		Count:      r.Count,
		Bysecond:   slices.Clone(r.BySecond),
		Byminute:   slices.Clone(r.ByMinute),
		Byhour:     slices.Clone(r.ByHour),
		Bymonthday: slices.Clone(r.ByMonthDay),
		Byyearday:  slices.Clone(r.ByYearDay),
		Byweekno:   slices.Clone(r.ByWeekNo),
		Bymonth:    slices.Clone(r.ByMonth),
		Bysetpos:   slices.Clone(r.BySetPos),
	}
	if !r.Until.IsZero() {
		until := r.Until
		if r.UntilDate {
			y, m, d := until.Date()
			until = time.Date(y, m, d, 23, 59, 59, 0, dtstart.Location())
		}
		opt.Until = until
	}
	if r.Wkst != "" {
		opt.Wkst = weekdays[r.Wkst]
	}
	for _, d := range r.ByDay {
		wd := weekdays[d.Day]
		if d.N != 0 {
			wd = wd.Nth(d.N)
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}
	return opt
}

func (r Rule) compile(dtstart time.Time) (*rrule.RRule, error) {
	rr, err := rrule.NewRRule(r.Options(dtstart))
	if err != nil {
		return nil, fmt.Errorf("compile rule %q: %w", r.String(), err)
	}
	return rr, nil
}

func parseUntil(val string) (time.Time, bool, error) {
	if len(val) == len(dateLayout) {
		t, err := time.Parse(dateLayout, val)
		if err != nil {
			return time.Time{}, false, &ValidationError{Field: "until", Value: val, Message: "invalid date"}
		}
		return t, true, nil
	}
	layout := localLayout
	if strings.HasSuffix(val, "Z") {
		layout = utcLayout
	}
	t, err := time.Parse(layout, val)
	if err != nil {
		return time.Time{}, false, &ValidationError{Field: "until", Value: val, Message: "invalid date-time"}
	}
	return t.UTC(), false, nil
}

func parseInt(key, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, &ValidationError{Field: strings.ToLower(key), Value: val, Message: "not an integer"}
	}
	return n, nil
}

func parseIntList(key, val string) ([]int, error) {
	var out []int
	for _, s := range strings.Split(val, ",") {
		n, err := parseInt(key, strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parseByDay(val string) ([]WeekdayNum, error) {
	var out []WeekdayNum
	for _, s := range strings.Split(val, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if len(s) < 2 {
			return nil, &ValidationError{Field: "byday", Value: s, Message: "invalid weekday"}
		}
		wd := WeekdayNum{Day: Weekday(s[len(s)-2:])}
		if ord := s[:len(s)-2]; ord != "" {
			n, err := strconv.Atoi(ord)
			if err != nil || n == 0 {
				return nil, &ValidationError{Field: "byday", Value: s, Message: "invalid ordinal"}
			}
			wd.N = n
		}
		out = append(out, wd)
	}
	return out, nil
}

func appendInts(parts []string, name string, values []int) []string {
	if len(values) == 0 {
		return parts
	}
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = strconv.Itoa(v)
	}
	return append(parts, name+"="+strings.Join(s, ","))
}
