package schedule

import (
	"testing"
	"time"

	"loadplane/internal/apperr"
)

func TestDurationSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"2m", 120, false},
		{"120s", 120, false},
		{"45", 45, false},
		{"", 0, false},
		{"1h", 0, true},
		{"1d", 0, true},
		{"500ms", 0, true},
		{"-5s", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DurationSeconds(tt.in)
			if tt.wantErr {
				if !apperr.Is(err, apperr.KindInvalidParameter) {
					t.Errorf("expected InvalidParameter, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"250ms": 250 * time.Millisecond,
		"30s":   30 * time.Second,
		"5m":    5 * time.Minute,
		"2h":    2 * time.Hour,
		"1d":    24 * time.Hour,
		"10":    10 * time.Second,
	}
	for in, want := range tests {
		got, err := ParseDuration(in)
		if err != nil {
			t.Errorf("%s: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%s: got %s, want %s", in, got, want)
		}
	}
	if _, err := ParseDuration("5w"); !apperr.Is(err, apperr.KindInvalidParameter) {
		t.Errorf("expected InvalidParameter for unknown unit, got %v", err)
	}
}

func TestValidateHoldFor(t *testing.T) {
	if err := ValidateHoldFor("0s"); err == nil {
		t.Error("expected zero hold-for to be rejected")
	}
	if err := ValidateHoldFor("1m"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateRampUp("0"); err != nil {
		t.Errorf("zero ramp-up should be valid: %v", err)
	}
}
