package backoff

import (
	"testing"
	"time"
)

func TestDelaySchedule(t *testing.T) {
	s := DefaultSchedule
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		64 * time.Second,
		64 * time.Second, // capped beyond MaxRetries too, schedule itself has no ceiling
	}
	for n, exp := range want {
		if got := s.Delay(n); got != exp {
			t.Errorf("Delay(%d) = %v, want %v", n, got, exp)
		}
	}
}

func TestDelayNegativeAttempt(t *testing.T) {
	s := DefaultSchedule
	if got := s.Delay(-1); got != s.Initial {
		t.Errorf("Delay(-1) = %v, want %v", got, s.Initial)
	}
}
