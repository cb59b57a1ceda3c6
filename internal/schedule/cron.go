// Package schedule translates operator schedules into rule expressions and
// computes when scheduled tests run next.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"loadplane/internal/apperr"

	"github.com/robfig/cron/v3"
)

// TimeLayout is the layout of nextRun and the other persisted timestamps.
const TimeLayout = "2006-01-02 15:04:05"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Fields splits a 5-field cron expression.
func Fields(expr string) ([]string, error) {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return nil, apperr.InvalidParameter("cron expression %q must have 5 fields, got %d", expr, len(f))
	}
	return f, nil
}

// Parse validates a 5-field cron expression and returns its schedule.
// Sunday may be written as 0 or 7.
func Parse(expr string) (cron.Schedule, error) {
	f, err := Fields(expr)
	if err != nil {
		return nil, err
	}
	f[4] = sundayAsZero(f[4])
	sched, err := parser.Parse(strings.Join(f, " "))
	if err != nil {
		return nil, apperr.InvalidParameter("invalid cron expression %q: %v", expr, err)
	}
	return sched, nil
}

// sundayAsZero rewrites day-of-week 7 to 0, which is all the parser accepts.
func sundayAsZero(dow string) string {
	items := strings.Split(dow, ",")
	var out []string
	for _, item := range items {
		base, step, hasStep := strings.Cut(item, "/")
		switch {
		case base == "7":
			base = "0"
		case strings.HasSuffix(base, "-7"):
			lo := strings.TrimSuffix(base, "-7")
			switch lo {
			case "7":
				base, hasStep = "0", false
			case "0":
				base = "0-6"
			default:
				base = lo + "-6"
				if reachesSunday(lo, step, hasStep) {
					out = append(out, "0")
				}
			}
		}
		if hasStep {
			base += "/" + step
		}
		out = append(out, base)
	}
	return strings.Join(out, ",")
}

// reachesSunday reports whether the range lo-7 with the given step includes 7.
func reachesSunday(lo, step string, hasStep bool) bool {
	if !hasStep {
		return true
	}
	from, err := strconv.Atoi(lo)
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(step)
	if err != nil || n <= 0 {
		return false
	}
	return (7-from)%n == 0
}

// ToRuleExpression converts a 5-field cron expression into the rule scheduler
// dialect: cron(minute hour day-of-month month day-of-week year).
//
// Exactly one day field becomes "?". Day-of-week numbers move from 0-based
// (Sunday 0 or 7) to 1-based (Sunday 1). The year is the current year, or
// "current-expiry" when expiry falls in a later year; without an expiry every
// year matches.
func ToRuleExpression(expr string, now time.Time, expiry *time.Time) (string, error) {
	if _, err := Parse(expr); err != nil {
		return "", err
	}
	f, _ := Fields(expr)
	minute, hour, dom, month, dow := f[0], f[1], f[2], f[3], f[4]

	switch {
	case dom == "*" && dow == "*":
		dow = "?"
	case dom == "*" || dom == "?":
		dom = "?"
		dow = shiftDayOfWeek(sundayAsZero(dow))
	default:
		// day-of-month constrained, with or without day-of-week
		dow = "?"
	}

	year := "*"
	if expiry != nil {
		year = strconv.Itoa(now.Year())
		if expiry.Year() > now.Year() {
			year = fmt.Sprintf("%d-%d", now.Year(), expiry.Year())
		}
	}
	return fmt.Sprintf("cron(%s %s %s %s %s %s)", minute, hour, dom, month, dow, year), nil
}

// shiftDayOfWeek maps 0-based day-of-week numbers to the 1-based dialect.
// Names, wildcards and step values are left alone. dow must already be
// normalized by sundayAsZero so that no range wraps past Saturday.
func shiftDayOfWeek(dow string) string {
	items := strings.Split(dow, ",")
	for i, item := range items {
		base, step, hasStep := strings.Cut(item, "/")
		if lo, hi, isRange := strings.Cut(base, "-"); isRange {
			base = shiftDay(lo) + "-" + shiftDay(hi)
		} else {
			base = shiftDay(base)
		}
		if hasStep {
			base += "/" + step
		}
		items[i] = base
	}
	return strings.Join(items, ",")
}

func shiftDay(tok string) string {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return tok
	}
	if n == 0 || n == 7 {
		return "1"
	}
	return strconv.Itoa(n + 1)
}

// ParseExpiry parses a cron expiry date, either a date or a full timestamp.
// A date expires at the end of that day (UTC).
func ParseExpiry(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(TimeLayout, s, time.UTC); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return nil, apperr.InvalidParameter("invalid cron expiry date %q", s)
	}
	end := d.Add(24*time.Hour - time.Second)
	return &end, nil
}

// NextRun returns the first occurrence of expr after from, formatted with
// TimeLayout. It returns "" when that occurrence falls after expiry.
func NextRun(expr string, from time.Time, expiry *time.Time) (string, error) {
	sched, err := Parse(expr)
	if err != nil {
		return "", err
	}
	next := sched.Next(from.UTC())
	if expiry != nil && next.After(*expiry) {
		return "", nil
	}
	return next.Format(TimeLayout), nil
}

// NextRunForSchedule is NextRun for the schedule-creation path, where an
// occurrence past expiry means the schedule can never fire.
func NextRunForSchedule(expr string, from time.Time, expiry *time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(from.UTC())
	if expiry != nil && next.After(*expiry) {
		return time.Time{}, apperr.InvalidParameter(
			"next run %s of cron %q is after the expiry date %s",
			next.Format(TimeLayout), expr, expiry.Format(TimeLayout))
	}
	return next, nil
}
