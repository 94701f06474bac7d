package client

import (
	"testing"
	"time"
)

func TestBackoffDelay_WithinJitterBounds(t *testing.T) {
	b := Backoff{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.25,
	}

	for attempt := 0; attempt < 10; attempt++ {
		base := float64(time.Second) * pow(2, attempt)
		if base > float64(30*time.Second) {
			base = float64(30 * time.Second)
		}
		lo := time.Duration(base * 0.75)
		hi := time.Duration(base * 1.25)

		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoffDelay_CappedAtMax(t *testing.T) {
	b := Backoff{
		Initial:    time.Second,
		Max:        5 * time.Second,
		Multiplier: 2,
		Jitter:     0,
	}

	if d := b.Delay(20); d != 5*time.Second {
		t.Errorf("Expected delay capped at max, got %v", d)
	}
}

func TestBackoffDelay_NoJitterIsDeterministic(t *testing.T) {
	b := Backoff{
		Initial:    100 * time.Millisecond,
		Max:        time.Minute,
		Multiplier: 2,
		Jitter:     0,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for attempt, w := range want {
		if d := b.Delay(attempt); d != w {
			t.Errorf("attempt %d: got %v, want %v", attempt, d, w)
		}
	}
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
