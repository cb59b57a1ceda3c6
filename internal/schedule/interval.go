package schedule

import (
	"regexp"
	"time"

	"loadplane/internal/apperr"
)

const (
	// startupPerRegion approximates the time to provision tasks in one region.
	startupPerRegion = 90 * time.Second
	// largeRunTasks is the total task count above which startup doubles.
	largeRunTasks = 100
	// maxOccurrences bounds the interval walk.
	maxOccurrences = 1000
)

var singleMinute = regexp.MustCompile(`^\d+$`)

// EstimateDuration approximates how long one run takes from launch to the
// end of hold-for.
func EstimateDuration(regions, totalTasks int, rampUp, holdFor string) (time.Duration, error) {
	startup := time.Duration(regions) * startupPerRegion
	if totalTasks > largeRunTasks {
		startup *= 2
	}
	ramp, err := ParseDuration(rampUp)
	if err != nil {
		return 0, err
	}
	hold, err := ParseDuration(holdFor)
	if err != nil {
		return 0, err
	}
	return startup + ramp + hold, nil
}

// CheckInterval verifies that consecutive runs of expr cannot overlap.
// The minute field must be a single value, and every pair of occurrences
// between from and expiry must be at least minGap apart. Without an expiry
// the first maxOccurrences occurrences are checked.
func CheckInterval(expr string, from time.Time, expiry *time.Time, minGap time.Duration) error {
	f, err := Fields(expr)
	if err != nil {
		return err
	}
	if !singleMinute.MatchString(f[0]) {
		return apperr.InvalidParameter(
			"cron minute field %q must be a single value; runs more frequent than hourly are not supported", f[0])
	}
	sched, err := Parse(expr)
	if err != nil {
		return err
	}

	prev := sched.Next(from.UTC())
	for i := 0; i < maxOccurrences; i++ {
		if expiry != nil && prev.After(*expiry) {
			return nil
		}
		next := sched.Next(prev)
		if next.IsZero() || (expiry != nil && next.After(*expiry)) {
			return nil
		}
		if gap := next.Sub(prev); gap < minGap {
			return apperr.InvalidParameter(
				"runs at %s and %s are %s apart, but a run takes about %s",
				prev.Format(TimeLayout), next.Format(TimeLayout), gap, minGap)
		}
		prev = next
	}
	return nil
}
