package stream

import (
	"math"
	"time"
)

// State is the position of a feed task in its poll loop.
type State int

const (
	StatePolling    State = iota // last fetch succeeded, waiting for the next tick
	StateBackingOff              // last fetch failed, waiting for the retry delay
	StateCancelled               // closed or given up; the task is gone
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateBackingOff:
		return "backing_off"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RetryPolicy decides how long a feed waits after its n-th consecutive failed fetch, and
// whether it should keep trying at all.
type RetryPolicy interface {
	Next(failures int) (delay time.Duration, retry bool)
}

// FixedRetry retries after the same delay. MaxRetries <= 0 retries forever.
type FixedRetry struct {
	Delay      time.Duration
	MaxRetries int
}

func (p FixedRetry) Next(failures int) (time.Duration, bool) {
	if p.MaxRetries > 0 && failures > p.MaxRetries {
		return 0, false
	}
	return p.Delay, true
}

// ExponentialRetry doubles the delay per consecutive failure: Base * 2^(failures-1), capped at
// Max. Max <= 0 means no cap; the delay then saturates instead of overflowing. A non-positive
// Base counts as one second. MaxRetries <= 0 retries forever.
type ExponentialRetry struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

const maxDelay = time.Duration(math.MaxInt64)

func (p ExponentialRetry) Next(failures int) (time.Duration, bool) {
	if p.MaxRetries > 0 && failures > p.MaxRetries {
		return 0, false
	}
	delay := p.Base
	if delay <= 0 {
		delay = time.Second
	}
	// stops after at most 63 doublings: either the cap or saturation is reached
	for i := 1; i < failures; i++ {
		if p.Max > 0 && delay >= p.Max {
			break
		}
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay, true
}

// DefaultRetryPolicy retries every second forever with no backoff.
func DefaultRetryPolicy() RetryPolicy {
	return FixedRetry{Delay: time.Second}
}
