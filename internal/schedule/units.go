package schedule

import (
	"regexp"
	"strconv"
	"time"

	"loadplane/internal/apperr"
)

var timeUnit = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)?$`)

var unitDurations = map[string]time.Duration{
	"":   time.Second,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
}

// ParseDuration parses an execution time value such as "30s" or "2h".
// A bare number means seconds; "" is zero.
func ParseDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	m := timeUnit.FindStringSubmatch(v)
	if m == nil {
		return 0, apperr.InvalidParameter("invalid time value %q, expected a number with an optional ms|s|m|h|d unit", v)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, apperr.InvalidParameter("invalid time value %q", v)
	}
	return time.Duration(n) * unitDurations[m[2]], nil
}

// ValidateRampUp checks a ramp-up value (zero allowed).
func ValidateRampUp(v string) error {
	_, err := ParseDuration(v)
	return err
}

// ValidateHoldFor checks a hold-for value, which must be positive.
func ValidateHoldFor(v string) error {
	d, err := ParseDuration(v)
	if err != nil {
		return err
	}
	if d <= 0 {
		return apperr.InvalidParameter("hold-for must be greater than zero, got %q", v)
	}
	return nil
}

var secondsOrMinutes = regexp.MustCompile(`^(\d+)(s|m)?$`)

// DurationSeconds converts a ramp-up or hold-for value to whole seconds for
// the workflow input. Only seconds and minutes are accepted here.
func DurationSeconds(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	m := secondsOrMinutes.FindStringSubmatch(v)
	if m == nil {
		return 0, apperr.InvalidParameter("invalid duration %q, expected seconds (s) or minutes (m)", v)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, apperr.InvalidParameter("invalid duration %q", v)
	}
	if m[2] == "m" {
		n *= 60
	}
	return n, nil
}
