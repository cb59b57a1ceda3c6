package schedule

import (
	"testing"
	"time"

	"loadplane/internal/apperr"
)

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name    string
		regions int
		tasks   int
		rampUp  string
		holdFor string
		want    time.Duration
	}{
		{"single region", 1, 5, "30s", "1m", 90*time.Second + 30*time.Second + time.Minute},
		{"two regions", 2, 10, "0", "5m", 180*time.Second + 5*time.Minute},
		{"large run doubles startup", 1, 101, "", "1h", 180*time.Second + time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EstimateDuration(tt.regions, tt.tasks, tt.rampUp, tt.holdFor)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckInterval(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	expiry := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expr    string
		gap     time.Duration
		wantErr bool
	}{
		{"hourly with short runs", "0 * * * *", 30 * time.Minute, false},
		{"hourly with long runs", "0 * * * *", 2 * time.Hour, true},
		{"daily", "0 3 * * *", 3 * time.Hour, false},
		{"minute list rejected", "0,30 * * * *", time.Minute, true},
		{"minute step rejected", "*/15 * * * *", time.Minute, true},
		{"minute wildcard rejected", "* 3 * * *", time.Minute, true},
		{"uneven hours", "0 1,2 * * *", 2 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckInterval(tt.expr, from, &expiry, tt.gap)
			if tt.wantErr && !apperr.Is(err, apperr.KindInvalidParameter) {
				t.Errorf("expected InvalidParameter, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckInterval_StopsAtExpiry(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Only the 1:00 run on Jan 1 happens before expiry, so the close 2:00 run is never compared.
	expiry := time.Date(2024, 1, 1, 1, 30, 0, 0, time.UTC)

	if err := CheckInterval("0 1,2 * * *", from, &expiry, 2*time.Hour); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
