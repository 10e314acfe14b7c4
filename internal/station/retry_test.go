package station

import (
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Min: 500 * time.Millisecond, Max: 8 * time.Second}
	want := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second, // capped
		8 * time.Second,
	}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v; want %v", i+1, got, w)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	p := DefaultRetryPolicy
	prev := time.Duration(0)
	for n := 1; n <= 12; n++ {
		d := p.Backoff(n)
		if d < prev {
			t.Fatalf("Backoff(%d) = %v decreased from %v", n, d, prev)
		}
		prev = d
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	p := DefaultRetryPolicy
	if got := p.Backoff(0); got != p.Min {
		t.Errorf("Backoff(0) = %v; want %v", got, p.Min)
	}
	if got := p.Backoff(-3); got != p.Min {
		t.Errorf("Backoff(-3) = %v; want %v", got, p.Min)
	}
}

func TestExhausted(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5}
	for n := 1; n <= 5; n++ {
		if p.Exhausted(n) {
			t.Errorf("Exhausted(%d) = true within budget", n)
		}
	}
	if !p.Exhausted(6) {
		t.Error("Exhausted(6) = false past budget")
	}
}
