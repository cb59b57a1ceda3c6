package schedule

import (
	"strings"
	"testing"
	"time"

	"loadplane/internal/apperr"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestToRuleExpression(t *testing.T) {
	sameYear := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	nextYear := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expr   string
		expiry *time.Time
		want   string
	}{
		{"both wildcards", "0 0 * * *", nil, "cron(0 0 * * ? *)"},
		{"dow only", "30 9 * * 1-5", nil, "cron(30 9 ? * 2-6 *)"},
		{"sunday as zero", "0 6 * * 0", nil, "cron(0 6 ? * 1 *)"},
		{"sunday as seven", "0 6 * * 7", nil, "cron(0 6 ? * 1 *)"},
		{"dow list", "0 6 * * 1,3,5", nil, "cron(0 6 ? * 2,4,6 *)"},
		{"range ending sunday", "0 3 * * 5-7", nil, "cron(0 3 ? * 1,6-7 *)"},
		{"range ending sunday with step", "0 3 * * 1-7/3", nil, "cron(0 3 ? * 1,2-7/3 *)"},
		{"zero through seven", "0 3 * * 0-7", nil, "cron(0 3 ? * 1-7 *)"},
		{"dow names kept", "0 6 * * MON", nil, "cron(0 6 ? * MON *)"},
		{"dom only", "15 3 1 * *", nil, "cron(15 3 1 * ? *)"},
		{"both constrained", "15 3 1 * 2", nil, "cron(15 3 1 * ? *)"},
		{"expiry same year", "0 0 * * *", &sameYear, "cron(0 0 * * ? 2024)"},
		{"expiry later year", "0 0 * * *", &nextYear, "cron(0 0 * * ? 2024-2026)"},
		{"no expiry matches every year", "30 9 * * 1-5", nil, "cron(30 9 ? * 2-6 *)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToRuleExpression(tt.expr, now, tt.expiry)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestToRuleExpression_NoExpiryRunsPastYearEnd(t *testing.T) {
	newYearsEve := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)

	got, err := ToRuleExpression("0 9 * * 1", newYearsEve, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(got, " *)") {
		t.Errorf("recurring rule without expiry should match every year, got %s", got)
	}
}

func TestParse_SundayRanges(t *testing.T) {
	tests := []struct {
		expr string
		want []string
	}{
		{"0 3 * * 5-7", []string{"2024-03-15 03:00:00", "2024-03-16 03:00:00", "2024-03-17 03:00:00", "2024-03-22 03:00:00"}},
		{"0 3 * * 0-7", []string{"2024-03-11 03:00:00", "2024-03-12 03:00:00", "2024-03-13 03:00:00"}},
		{"0 3 * * 1-7/3", []string{"2024-03-11 03:00:00", "2024-03-14 03:00:00", "2024-03-17 03:00:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sched, err := Parse(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			at := now
			for _, want := range tt.want {
				at = sched.Next(at)
				if got := at.Format(TimeLayout); got != want {
					t.Fatalf("got %s, want %s", got, want)
				}
			}
		})
	}
}

func TestToRuleExpression_NeverBothUnconstrained(t *testing.T) {
	exprs := []string{
		"0 0 * * *", "5 4 * * 0", "5 4 * * 7", "0 12 15 * *", "0 12 15 6 3",
		"0 0 1,15 * *", "0 0 * 1-6 *", "0 0 */2 * *", "0 0 * * */2", "59 23 31 12 6",
	}
	for _, expr := range exprs {
		got, err := ToRuleExpression(expr, now, nil)
		if err != nil {
			t.Fatalf("%s: %v", expr, err)
		}
		f := strings.Fields(strings.TrimSuffix(strings.TrimPrefix(got, "cron("), ")"))
		if len(f) != 6 {
			t.Fatalf("%s: expected 6 fields, got %q", expr, got)
		}
		if f[2] == "?" && f[4] == "?" {
			t.Errorf("%s: both day fields are '?': %s", expr, got)
		}
		if f[2] == "*" && f[4] == "*" {
			t.Errorf("%s: both day fields are '*': %s", expr, got)
		}
		in := strings.Fields(expr)
		if f[2] == "*" && in[2] != "*" {
			t.Errorf("%s: constrained day-of-month lost: %s", expr, got)
		}
	}
}

func TestToRuleExpression_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * *", "61 * * * *", "0 0 * * 9", "a b c d e"} {
		if _, err := ToRuleExpression(expr, now, nil); !apperr.Is(err, apperr.KindInvalidParameter) {
			t.Errorf("%q: expected InvalidParameter, got %v", expr, err)
		}
	}
}

func TestNextRun_FutureWithoutExpiry(t *testing.T) {
	from := time.Now()
	got, err := NextRun("0 0 * * *", from, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	next, err := time.ParseInLocation(TimeLayout, got, time.UTC)
	if err != nil {
		t.Fatalf("bad layout %q: %v", got, err)
	}
	if !next.After(from) {
		t.Errorf("next run %s is not after %s", next, from)
	}
}

func TestNextRun_PastExpiry(t *testing.T) {
	expiry := now.Add(time.Hour)

	got, err := NextRun("0 0 * * *", now, &expiry)
	if err != nil {
		t.Fatalf("informational call should not fail: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty next run, got %q", got)
	}

	if _, err := NextRunForSchedule("0 0 * * *", now, &expiry); !apperr.Is(err, apperr.KindInvalidParameter) {
		t.Errorf("expected InvalidParameter from schedule creation, got %v", err)
	}
}

func TestNextRunForSchedule(t *testing.T) {
	got, err := NextRunForSchedule("30 9 * * 1", now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2024-03-10 is a Sunday
	want := time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParseExpiry(t *testing.T) {
	got, err := ParseExpiry("2024-05-01")
	if err != nil {
		t.Fatal(err)
	}
	if got.Format(TimeLayout) != "2024-05-01 23:59:59" {
		t.Errorf("got %s", got.Format(TimeLayout))
	}
	if got, _ := ParseExpiry(""); got != nil {
		t.Errorf("expected nil expiry, got %v", got)
	}
	if _, err := ParseExpiry("tomorrow"); !apperr.Is(err, apperr.KindInvalidParameter) {
		t.Errorf("expected InvalidParameter, got %v", err)
	}
}
