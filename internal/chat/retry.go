package chat

import "time"

// Retryer decides how long to wait before the next connection attempt.
type Retryer interface {
	// NextDelay returns the delay before retry number attempt (0-based) and
	// whether to retry at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a successful connection.
	Reset()
}

// FixedDelay retries a bounded number of times with a constant delay.
type FixedDelay struct {
	Delay      time.Duration
	MaxRetries int // 0 means retry forever
}

// DefaultRetryer matches the widget's socket settings: five attempts one
// second apart.
func DefaultRetryer() *FixedDelay {
	return NewFixedDelay(time.Second, 5)
}

// NewFixedDelay creates a fixed delay retryer.
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{Delay: delay, MaxRetries: maxRetries}
}

// NextDelay implements Retryer.
func (r *FixedDelay) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// Reset implements Retryer.
func (r *FixedDelay) Reset() {}
