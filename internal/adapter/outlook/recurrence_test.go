package outlook

import (
	"encoding/json"
	"testing"
)

func decodeRecurrence(t *testing.T, raw string) *graphRecurrence {
	t.Helper()
	var rec graphRecurrence
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("decode recurrence: %v", err)
	}
	return &rec
}

func TestSynthesizeRRule(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "biweekly on monday and wednesday",
			raw: `{"pattern": {"type": "weekly", "interval": 2, "daysOfWeek": ["monday", "wednesday"]},
			      "range": {"type": "noEnd"}}`,
			want: "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE",
		},
		{
			name: "daily",
			raw:  `{"pattern": {"type": "daily", "interval": 1}, "range": {"type": "noEnd"}}`,
			want: "FREQ=DAILY",
		},
		{
			name: "monthly on the 15th until a date",
			raw: `{"pattern": {"type": "absoluteMonthly", "interval": 1, "dayOfMonth": 15},
			      "range": {"type": "endDate", "endDate": "2026-12-31"}}`,
			want: "FREQ=MONTHLY;BYMONTHDAY=15;UNTIL=20261231",
		},
		{
			name: "second tuesday of each month",
			raw: `{"pattern": {"type": "relativeMonthly", "interval": 1, "daysOfWeek": ["tuesday"], "index": "second"},
			      "range": {"type": "noEnd"}}`,
			want: "FREQ=MONTHLY;BYDAY=2TU",
		},
		{
			name: "last friday of each month",
			raw: `{"pattern": {"type": "relativeMonthly", "interval": 1, "daysOfWeek": ["friday"], "index": "last"},
			      "range": {"type": "noEnd"}}`,
			want: "FREQ=MONTHLY;BYDAY=-1FR",
		},
		{
			name: "yearly on march 10 for ten occurrences",
			raw: `{"pattern": {"type": "absoluteYearly", "interval": 1, "dayOfMonth": 10, "month": 3},
			      "range": {"type": "numbered", "numberOfOccurrences": 10}}`,
			want: "FREQ=YEARLY;BYMONTH=3;BYMONTHDAY=10;COUNT=10",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := synthesizeRRule(decodeRecurrence(t, tc.raw))
			if err != nil {
				t.Fatalf("synthesizeRRule: %v", err)
			}
			if got != tc.want {
				t.Errorf("rule = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSynthesizeRRuleRejectsUnknownType(t *testing.T) {
	rec := decodeRecurrence(t, `{"pattern": {"type": "lunar"}, "range": {"type": "noEnd"}}`)
	if _, err := synthesizeRRule(rec); err == nil {
		t.Error("expected an error for an unknown recurrence type")
	}
}

func TestSynthesizeRRuleRejectsUnknownWeekday(t *testing.T) {
	rec := decodeRecurrence(t, `{"pattern": {"type": "weekly", "daysOfWeek": ["someday"]}, "range": {"type": "noEnd"}}`)
	if _, err := synthesizeRRule(rec); err == nil {
		t.Error("expected an error for an unknown weekday")
	}
}

func TestParseShowAsTreatsFreeAsTentative(t *testing.T) {
	if got := parseShowAs("free"); got != "tentative" {
		t.Errorf("showAs free = %q, want tentative", got)
	}
	if got := parseShowAs("busy"); got != "confirmed" {
		t.Errorf("showAs busy = %q, want confirmed", got)
	}
}
