package schedule

import (
	"fmt"
	"time"

	"loadplane/internal/apperr"
)

// Recurrence values accepted on schedule requests.
const (
	Daily    = "daily"
	Weekly   = "weekly"
	Biweekly = "biweekly"
	Monthly  = "monthly"
)

// Rule is a computed scheduler expression.
type Rule struct {
	Expression string
	// Next is the run after the one the rule is created for, or zero for
	// one-time schedules.
	Next time.Time
}

// ParseStart combines a schedule date ("2006-01-02") and time ("15:04") into
// a UTC timestamp.
func ParseStart(date, clock string) (time.Time, error) {
	if date == "" || clock == "" {
		return time.Time{}, apperr.InvalidParameter("scheduleDate and scheduleTime are required")
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, apperr.InvalidParameter("invalid schedule date/time %q %q", date, clock)
	}
	return t, nil
}

// OneTime returns a rule firing exactly once at t.
func OneTime(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("cron(%d %d %d %d ? %d)", t.Minute(), t.Hour(), t.Day(), int(t.Month()), t.Year())
}

// Recurring returns the rule for a recurrence whose first run is at start.
// now is the moment the rule is created; Next is measured from it.
func Recurring(recurrence string, start, now time.Time) (Rule, error) {
	start, now = start.UTC(), now.UTC()
	switch recurrence {
	case Daily:
		return Rule{Expression: "rate(1 day)", Next: now.AddDate(0, 0, 1)}, nil
	case Weekly:
		return Rule{Expression: "rate(7 days)", Next: now.AddDate(0, 0, 7)}, nil
	case Biweekly:
		return Rule{Expression: "rate(14 days)", Next: now.AddDate(0, 0, 14)}, nil
	case Monthly:
		return Rule{
			Expression: fmt.Sprintf("cron(%d %d %d * ? *)", start.Minute(), start.Hour(), start.Day()),
			Next:       now.AddDate(0, 1, 0),
		}, nil
	case "":
		return Rule{Expression: OneTime(start)}, nil
	}
	return Rule{}, apperr.InvalidParameter("invalid recurrence %q, expected daily, weekly, biweekly or monthly", recurrence)
}

// NextRecurrence returns when a recurring test runs after one launched at now.
func NextRecurrence(recurrence string, now time.Time) (time.Time, error) {
	r, err := Recurring(recurrence, now, now)
	if err != nil {
		return time.Time{}, err
	}
	return r.Next, nil
}
