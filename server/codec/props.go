// Package codec converts stored events to and from iCalendar text.
package codec

import (
	"strings"
	"time"

	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/emersion/go-ical"
)

// Property names the model owns. Anything else on a VEVENT is kept verbatim
// in Event.Foreign.
const (
	propSummary      = "SUMMARY"
	propComment      = "COMMENT"
	propDuration     = "DURATION"
	propCreated      = "CREATED"
	propLastModified = "LAST-MODIFIED"
	propRecurrenceID = "RECURRENCE-ID"
	propStatus       = "STATUS"
	propSequence     = "SEQUENCE"
	propCategories   = "CATEGORIES"
	propClass        = "CLASS"
	propTransp       = "TRANSP"
	propLocation     = "LOCATION"
	propOrganizer    = "ORGANIZER"
	propAttendee     = "ATTENDEE"
	propRDate        = "RDATE"
	propExDate       = "EXDATE"
	propRRule        = "RRULE"
	propExRule       = "EXRULE"
	propTZID         = "TZID"

	paramPartStat = "PARTSTAT"
	mailto        = "mailto:"
)

const (
	dateLayout  = "20060102"
	utcLayout   = "20060102T150405Z"
	localLayout = "20060102T150405"
)

var ownedProps = map[string]bool{
	ical.PropUID:           true,
	ical.PropDateTimeStart: true,
	ical.PropDateTimeEnd:   true,
	ical.PropDateTimeStamp: true,
	propSummary:            true,
	propComment:            true,
	propDuration:           true,
	propCreated:            true,
	propLastModified:       true,
	propRecurrenceID:       true,
	propStatus:             true,
	propSequence:           true,
	propCategories:         true,
	propTransp:             true,
	propLocation:           true,
	propOrganizer:          true,
	propAttendee:           true,
	propRDate:              true,
	propExDate:             true,
	propRRule:              true,
	propExRule:             true,
}

// timeProp renders t as DATE when dateOnly, as a TZID-qualified local
// date-time when loc is a named zone, and as UTC otherwise.
func timeProp(name string, t time.Time, dateOnly bool, loc *time.Location) *ical.Prop {
	p := ical.NewProp(name)
	switch {
	case dateOnly:
		p.Params.Set(ical.ParamValue, string(ical.ValueDate))
		p.Value = t.Format(dateLayout)
	case loc != nil && loc != time.UTC:
		p.Params.Set(ical.ParamTimezoneID, loc.String())
		p.Value = t.In(loc).Format(localLayout)
	default:
		p.Value = t.UTC().Format(utcLayout)
	}
	return p
}

// parseTime reads a single DATE or DATE-TIME property. Floating values and
// unknown TZIDs fall back to loc.
func parseTime(p *ical.Prop, loc *time.Location) (recurrence.Date, error) {
	dates, err := recurrence.ParseDateList(p, loc)
	if err != nil {
		return recurrence.Date{}, err
	}
	if len(dates) != 1 {
		return recurrence.Date{}, &recurrence.ValidationError{Field: strings.ToLower(p.Name), Value: p.Value, Message: "expected a single value"}
	}
	return dates[0], nil
}

// zone resolves a TZID, reporting false for unknown names.
func zone(tzid string) (*time.Location, bool) {
	if tzid == "" {
		return nil, false
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return nil, false
	}
	return loc, true
}

func stripMailto(v string) string {
	if len(v) >= len(mailto) && strings.EqualFold(v[:len(mailto)], mailto) {
		return v[len(mailto):]
	}
	return v
}

var textEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)

// joinTextList renders a comma separated TEXT list.
func joinTextList(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = textEscaper.Replace(v)
	}
	return strings.Join(escaped, ",")
}

// splitTextList splits a TEXT list on unescaped commas and unescapes each item.
func splitTextList(value string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\\' && i+1 < len(value) {
			i++
			switch value[i] {
			case 'n', 'N':
				cur.WriteByte('\n')
			default:
				cur.WriteByte(value[i])
			}
			continue
		}
		if c == ',' {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	out = append(out, cur.String())
	return out
}
