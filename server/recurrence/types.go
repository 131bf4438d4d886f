package recurrence

import (
	"time"
)

// Date is an RDATE or EXDATE entry. DateOnly entries hold midnight of the
// date and match any occurrence on that day.
type Date struct {
	Time     time.Time
	DateOnly bool
}

// RuleSet contains all recurrence-related information of a master event.
type RuleSet struct {
	Start   time.Time
	RRules  []Rule
	ExRules []Rule
	RDates  []Date
	ExDates []Date
}

// IsRecurring reports whether the set carries anything beyond its start.
func (rs RuleSet) IsRecurring() bool {
	return len(rs.RRules) > 0 || len(rs.ExRules) > 0 || len(rs.RDates) > 0 || len(rs.ExDates) > 0
}

// Override replaces the occurrence originally at Recurrence. A zero Start or
// End keeps the computed value.
type Override struct {
	Recurrence time.Time
	Start      time.Time
	End        time.Time
}

// TimeOccurrence represents a single occurrence of an event in time
type TimeOccurrence struct {
	Start        time.Time
	End          time.Time
	RecurrenceID time.Time // the computed start this occurrence stands for
	IsException  bool      // superseded by an override
	Override     int       // index into the overrides slice, -1 if none
}

// ExpansionOptions bounds the work of one expansion. Exceeding either limit
// is an error; zero disables the limit.
type ExpansionOptions struct {
	MaxOccurrences int // occurrences allowed in the window
	MaxIterations  int // candidates scanned per window, including those before it
}

// DefaultExpansionOptions allows an hourly series over a year and scans
// about twenty years of a minutely one.
var DefaultExpansionOptions = ExpansionOptions{
	MaxOccurrences: 10000,
	MaxIterations:  10000000,
}
