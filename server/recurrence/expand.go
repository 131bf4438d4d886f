package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrExpansionLimit is returned when a window holds more occurrences, or
// needs more candidates scanned, than the expansion options allow.
var ErrExpansionLimit = errors.New("recurrence expansion limit exceeded")

// Expand returns the occurrences of rs within [windowStart, windowEnd], both
// bounds inclusive, in strictly increasing order. The returned sequence holds
// no cursor state and may be ranged over any number of times.
func Expand(rs RuleSet, windowStart, windowEnd time.Time) (iter.Seq[time.Time], error) {
	return ExpandWithOptions(rs, windowStart, windowEnd, DefaultExpansionOptions)
}

// ExpandWithOptions is Expand with explicit caps. A window exceeding a cap
// fails with ErrExpansionLimit rather than yielding a partial result.
func ExpandWithOptions(rs RuleSet, windowStart, windowEnd time.Time, opts ExpansionOptions) (iter.Seq[time.Time], error) {
	out, err := expand(rs, windowStart, windowEnd, opts)
	if err != nil {
		return nil, err
	}
	return slices.Values(out), nil
}

func expand(rs RuleSet, windowStart, windowEnd time.Time, opts ExpansionOptions) ([]time.Time, error) {
	if windowStart.IsZero() || windowEnd.IsZero() {
		return nil, &ValidationError{Field: "window", Message: "expansion requires a finite window"}
	}
	if rs.Start.IsZero() {
		return nil, &ValidationError{Field: "dtstart", Message: "required for expansion"}
	}
	rules, err := compileAll(rs.RRules, rs.Start)
	if err != nil {
		return nil, err
	}
	exrules, err := compileAll(rs.ExRules, rs.Start)
	if err != nil {
		return nil, err
	}
	if windowEnd.Before(windowStart) {
		return nil, nil
	}

	w := window{start: windowStart, end: windowEnd, opts: opts}
	found := make(map[int64]time.Time)
	add := func(t time.Time) {
		if w.contains(t) {
			found[t.UnixNano()] = t
		}
	}
	add(rs.Start)
	for _, d := range rs.RDates {
		add(d.Time)
	}
	for _, rr := range rules {
		if err := w.scan(rr, add); err != nil {
			return nil, err
		}
	}

	excluded := make(map[int64]bool)
	for _, rr := range exrules {
		if err := w.scan(rr, func(t time.Time) { excluded[t.UnixNano()] = true }); err != nil {
			return nil, err
		}
	}

	out := make([]time.Time, 0, len(found))
	for k, t := range found {
		if excluded[k] || isExcluded(t, rs.ExDates) {
			continue
		}
		out = append(out, t)
	}
	if opts.MaxOccurrences > 0 && len(out) > opts.MaxOccurrences {
		return nil, fmt.Errorf("%w: %d occurrences in window, limit is %d", ErrExpansionLimit, len(out), opts.MaxOccurrences)
	}
	slices.SortFunc(out, time.Time.Compare)
	return out, nil
}

// window bounds a scan of one compiled rule.
type window struct {
	start, end time.Time
	opts       ExpansionOptions
	scanned    int
}

func (w *window) contains(t time.Time) bool {
	return !t.Before(w.start) && !t.After(w.end)
}

// scan passes every occurrence of rr inside the window to fn. Candidates
// before the window count against MaxIterations.
func (w *window) scan(rr *rrule.RRule, fn func(time.Time)) error {
	next := rr.Iterator()
	for {
		t, ok := next()
		if !ok || t.After(w.end) {
			return nil
		}
		w.scanned++
		if w.opts.MaxIterations > 0 && w.scanned > w.opts.MaxIterations {
			return fmt.Errorf("%w: scanned %d candidates, limit is %d", ErrExpansionLimit, w.scanned-1, w.opts.MaxIterations)
		}
		if !t.Before(w.start) {
			fn(t)
		}
	}
}

// Occurrences expands rs and applies overrides. Each occurrence lasts
// duration unless its override supplies an end.
func Occurrences(rs RuleSet, duration time.Duration, overrides []Override, windowStart, windowEnd time.Time) (iter.Seq[TimeOccurrence], error) {
	starts, err := Expand(rs, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	return applyOverrides(starts, duration, overrides), nil
}

func applyOverrides(starts iter.Seq[time.Time], duration time.Duration, overrides []Override) iter.Seq[TimeOccurrence] {
	index := make(map[int64]int, len(overrides))
	for i, o := range overrides {
		index[o.Recurrence.UnixNano()] = i
	}
	return func(yield func(TimeOccurrence) bool) {
		for t := range starts {
			occ := TimeOccurrence{Start: t, End: t.Add(duration), RecurrenceID: t, Override: -1}
			if i, ok := index[t.UnixNano()]; ok {
				o := overrides[i]
				occ.IsException = true
				occ.Override = i
				if !o.Start.IsZero() {
					occ.Start = o.Start
				}
				occ.End = occ.Start.Add(duration)
				if !o.End.IsZero() {
					occ.End = o.End
				}
			}
			if !yield(occ) {
				return
			}
		}
	}
}

// compileAll builds one rrule-go rule per entry, all anchored at dtstart.
func compileAll(rules []Rule, dtstart time.Time) ([]*rrule.RRule, error) {
	out := make([]*rrule.RRule, 0, len(rules))
	for _, r := range rules {
		rr, err := r.compile(dtstart)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, nil
}

// isExcluded checks if a given time is in the EXDATE list. Date-only
// entries match any occurrence on that day in the occurrence's zone.
func isExcluded(t time.Time, exdates []Date) bool {
	for _, exdate := range exdates {
		if !exdate.DateOnly {
			if t.Equal(exdate.Time) {
				return true
			}
			continue
		}
		ty, tm, td := t.Date()
		ey, em, ed := exdate.Time.Date()
		if ty == ey && tm == em && td == ed {
			return true
		}
	}
	return false
}
