package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name      string
		rule      Rule
		wantField string
	}{
		{name: "minimal daily", rule: Rule{Freq: Daily}},
		{name: "unknown frequency", rule: Rule{Freq: "FORTNIGHTLY"}, wantField: "freq"},
		{name: "until and count", rule: Rule{Freq: Daily, Count: 3, Until: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, wantField: "count"},
		{name: "bysecond upper bound", rule: Rule{Freq: Minutely, BySecond: []int{0, 59}}},
		{name: "bysecond 60", rule: Rule{Freq: Minutely, BySecond: []int{60}}, wantField: "bysecond"},
		{name: "byminute negative", rule: Rule{Freq: Hourly, ByMinute: []int{-1}}, wantField: "byminute"},
		{name: "byhour 24", rule: Rule{Freq: Daily, ByHour: []int{24}}, wantField: "byhour"},
		{name: "bymonthday negative ok", rule: Rule{Freq: Monthly, ByMonthDay: []int{-31, 31}}},
		{name: "bymonthday zero", rule: Rule{Freq: Monthly, ByMonthDay: []int{0}}, wantField: "bymonthday"},
		{name: "byyearday 367", rule: Rule{Freq: Yearly, ByYearDay: []int{367}}, wantField: "byyearday"},
		{name: "byyearday -366 ok", rule: Rule{Freq: Yearly, ByYearDay: []int{-366}}},
		{name: "byweekno 54", rule: Rule{Freq: Yearly, ByWeekNo: []int{54}}, wantField: "byweekno"},
		{name: "bymonth 13", rule: Rule{Freq: Yearly, ByMonth: []int{13}}, wantField: "bymonth"},
		{name: "bymonth negative", rule: Rule{Freq: Yearly, ByMonth: []int{-1}}, wantField: "bymonth"},
		{name: "bysetpos -366 ok", rule: Rule{Freq: Monthly, BySetPos: []int{-366, 1}}},
		{name: "bysetpos 0", rule: Rule{Freq: Monthly, BySetPos: []int{0}}, wantField: "bysetpos"},
		{name: "byday ordinal ok", rule: Rule{Freq: Yearly, ByDay: []WeekdayNum{{N: -53, Day: Monday}, {N: 53, Day: Sunday}}}},
		{name: "byday ordinal 54", rule: Rule{Freq: Yearly, ByDay: []WeekdayNum{{N: 54, Day: Monday}}}, wantField: "byday"},
		{name: "byday unknown weekday", rule: Rule{Freq: Weekly, ByDay: []WeekdayNum{{Day: "XX"}}}, wantField: "byday"},
		{name: "bad wkst", rule: Rule{Freq: Weekly, Wkst: "ZZ"}, wantField: "wkst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRule(tt.rule)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestParseRule(t *testing.T) {
	r, err := ParseRule("FREQ=MONTHLY;INTERVAL=2;BYDAY=-1FR,2MO;BYMONTH=1,6;COUNT=10;WKST=SU")
	require.NoError(t, err)

	assert.Equal(t, Monthly, r.Freq)
	assert.Equal(t, 2, r.Interval)
	assert.Equal(t, 10, r.Count)
	assert.Equal(t, Sunday, r.Wkst)
	assert.Equal(t, []WeekdayNum{{N: -1, Day: Friday}, {N: 2, Day: Monday}}, r.ByDay)
	assert.Equal(t, []int{1, 6}, r.ByMonth)
}

func TestParseRule_Until(t *testing.T) {
	r, err := ParseRule("FREQ=DAILY;UNTIL=20240131")
	require.NoError(t, err)
	assert.True(t, r.UntilDate)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), r.Until)

	r, err = ParseRule("FREQ=DAILY;UNTIL=20240131T100000Z")
	require.NoError(t, err)
	assert.False(t, r.UntilDate)
	assert.Equal(t, time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC), r.Until)
}

func TestParseRule_Rejects(t *testing.T) {
	for _, value := range []string{
		"FREQ=DAILY;COUNT=2;UNTIL=20240101",
		"FREQ=DAILY;BYHOUR=25",
		"FREQ=DAILY;COUNT=x",
		"FREQ=DAILY;BYDAY=0MO",
		"FREQ=DAILY;FOO=1",
		"BYHOUR=1",
	} {
		t.Run(value, func(t *testing.T) {
			_, err := ParseRule(value)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestRule_String(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{
			name: "field order",
			rule: Rule{Freq: Weekly, Count: 4, Wkst: Monday, Interval: 2, ByHour: []int{9}, ByDay: []WeekdayNum{{Day: Tuesday}, {N: -1, Day: Friday}}},
			want: "FREQ=WEEKLY;COUNT=4;WKST=MO;INTERVAL=2;BYHOUR=9;BYDAY=TU,-1FR",
		},
		{
			name: "date until",
			rule: Rule{Freq: Daily, Until: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), UntilDate: true},
			want: "FREQ=DAILY;UNTIL=20240301",
		},
		{
			name: "zoned until rendered in UTC",
			rule: Rule{Freq: Daily, Until: time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))},
			want: "FREQ=DAILY;UNTIL=20240301T090000Z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.String())
		})
	}
}

func TestRule_StringRoundTrip(t *testing.T) {
	in := "FREQ=YEARLY;UNTIL=20301231T235959Z;WKST=SU;INTERVAL=1;BYMINUTE=0,30;BYHOUR=8;BYDAY=1MO;BYMONTHDAY=-1;BYYEARDAY=100;BYWEEKNO=20;BYMONTH=5;BYSETPOS=-1"
	r, err := ParseRule(in)
	require.NoError(t, err)
	assert.Equal(t, in, r.String())

	again, err := ParseRule(r.String())
	require.NoError(t, err)
	assert.True(t, r.Equal(again))
}
