package reconnect

import (
	"testing"
	"time"
)

func TestPolicy_DelayBounds(t *testing.T) {
	p := NewPolicy()

	for attempt := uint32(0); attempt <= 20; attempt++ {
		d := p.DelayForAttempt(attempt)

		if d <= 0 {
			t.Fatalf("attempt %d: delay %v is not positive", attempt, d)
		}

		upper := time.Duration(float64(p.MaxDelay) * (1 + p.JitterFraction))
		if d > upper {
			t.Errorf("attempt %d: delay %v exceeds jittered cap %v", attempt, d, upper)
		}
	}
}

func TestPolicy_ExponentialGrowth(t *testing.T) {
	p := Policy{
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0, // deterministic
	}

	tests := []struct {
		attempt uint32
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := p.DelayForAttempt(tt.attempt); got != tt.want {
			t.Errorf("DelayForAttempt(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_JitterRange(t *testing.T) {
	p := Policy{
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	lower := time.Duration(float64(time.Second) * 0.9)
	upper := time.Duration(float64(time.Second) * 1.1)

	seen := make(map[time.Duration]bool)
	for i := 0; i < 200; i++ {
		d := p.DelayForAttempt(0)
		if d < lower || d > upper {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lower, upper)
		}
		seen[d] = true
	}

	// Jitter must actually vary the schedule.
	if len(seen) < 2 {
		t.Errorf("jitter produced %d distinct delays, want several", len(seen))
	}
}

func TestPolicy_OverflowSafeAtLargeAttempts(t *testing.T) {
	p := NewPolicy()

	d := p.DelayForAttempt(1 << 30)
	if d <= 0 {
		t.Fatalf("delay at huge attempt = %v, want positive", d)
	}
	upper := time.Duration(float64(p.MaxDelay) * (1 + p.JitterFraction))
	if d > upper {
		t.Errorf("delay at huge attempt = %v exceeds cap %v", d, upper)
	}
}
