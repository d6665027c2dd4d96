package outlook

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// graphRecurrence is Graph's structured recurrence description.
type graphRecurrence struct {
	Pattern struct {
		Type       string   `json:"type"`
		Interval   int      `json:"interval"`
		DaysOfWeek []string `json:"daysOfWeek"`
		DayOfMonth int      `json:"dayOfMonth"`
		Month      int      `json:"month"`
		// first|second|third|fourth|last, for relative monthly/yearly.
		Index string `json:"index"`
	} `json:"pattern"`
	Range struct {
		Type                string `json:"type"` // endDate|noEnd|numbered
		EndDate             string `json:"endDate"`
		NumberOfOccurrences int    `json:"numberOfOccurrences"`
	} `json:"range"`
}

var rruleDays = map[string]string{
	"monday":    "MO",
	"tuesday":   "TU",
	"wednesday": "WE",
	"thursday":  "TH",
	"friday":    "FR",
	"saturday":  "SA",
	"sunday":    "SU",
}

var rruleIndexes = map[string]int{
	"first":  1,
	"second": 2,
	"third":  3,
	"fourth": 4,
	"last":   -1,
}

// synthesizeRRule translates Graph's {type, interval, daysOfWeek, dayOfMonth,
// month, range} description into RFC 5545 RRULE text. Graph's
// absolute/relative monthly and yearly distinctions collapse onto the MONTHLY
// and YEARLY frequencies with BYMONTHDAY or an ordinal BYDAY.
func synthesizeRRule(rec *graphRecurrence) (string, error) {
	var parts []string

	switch rec.Pattern.Type {
	case "daily":
		parts = append(parts, "FREQ=DAILY")
	case "weekly":
		parts = append(parts, "FREQ=WEEKLY")
	case "absoluteMonthly", "relativeMonthly":
		parts = append(parts, "FREQ=MONTHLY")
	case "absoluteYearly", "relativeYearly":
		parts = append(parts, "FREQ=YEARLY")
	default:
		return "", fmt.Errorf("unsupported recurrence type %q", rec.Pattern.Type)
	}

	if rec.Pattern.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", rec.Pattern.Interval))
	}

	switch rec.Pattern.Type {
	case "weekly":
		days, err := byDay(rec.Pattern.DaysOfWeek, 0)
		if err != nil {
			return "", err
		}
		if days != "" {
			parts = append(parts, "BYDAY="+days)
		}
	case "absoluteMonthly":
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", rec.Pattern.DayOfMonth))
	case "relativeMonthly":
		days, err := byDay(rec.Pattern.DaysOfWeek, rruleIndexes[rec.Pattern.Index])
		if err != nil {
			return "", err
		}
		parts = append(parts, "BYDAY="+days)
	case "absoluteYearly":
		parts = append(parts, fmt.Sprintf("BYMONTH=%d", rec.Pattern.Month))
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", rec.Pattern.DayOfMonth))
	case "relativeYearly":
		parts = append(parts, fmt.Sprintf("BYMONTH=%d", rec.Pattern.Month))
		days, err := byDay(rec.Pattern.DaysOfWeek, rruleIndexes[rec.Pattern.Index])
		if err != nil {
			return "", err
		}
		parts = append(parts, "BYDAY="+days)
	}

	switch rec.Range.Type {
	case "endDate":
		until, err := time.Parse("2006-01-02", rec.Range.EndDate)
		if err != nil {
			return "", fmt.Errorf("bad recurrence end date %q: %w", rec.Range.EndDate, err)
		}
		parts = append(parts, "UNTIL="+until.Format("20060102"))
	case "numbered":
		parts = append(parts, fmt.Sprintf("COUNT=%d", rec.Range.NumberOfOccurrences))
	}

	rule := strings.Join(parts, ";")

	// Round-trip through a conformant parser so a bad synthesis never reaches
	// storage as recurrence text.
	if _, err := rrule.StrToRRule(rule); err != nil {
		return "", fmt.Errorf("synthesized rule %q invalid: %w", rule, err)
	}
	return rule, nil
}

// byDay renders a BYDAY value list. index 0 means plain weekday names; a
// non-zero index prefixes the ordinal used by relative monthly/yearly rules.
func byDay(days []string, index int) (string, error) {
	out := make([]string, 0, len(days))
	for _, d := range days {
		abbr, ok := rruleDays[strings.ToLower(d)]
		if !ok {
			return "", fmt.Errorf("unknown day of week %q", d)
		}
		if index != 0 {
			abbr = fmt.Sprintf("%d%s", index, abbr)
		}
		out = append(out, abbr)
	}
	return strings.Join(out, ","), nil
}
