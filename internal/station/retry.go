package station

import "time"

// RetryPolicy bounds reconnect attempts: a maximum attempt count and a
// capped-exponential spacing function. Spacing is monotonic non-decreasing
// so a flapping access point is never hammered.
type RetryPolicy struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy mirrors the firmware's five-attempt budget.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	Min:         500 * time.Millisecond,
	Max:         8 * time.Second,
}

// Backoff returns the wait before retry attempt n (1-based): Min doubled
// per attempt, capped at Max.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Min
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Exhausted reports whether attempt n is past the budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}
