package publish

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffPolicy returns the wait before retrying after the given 1-based attempt.
type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// LinearBackoff waits attempt * Step.
type LinearBackoff struct {
	Step time.Duration
}

// NewLinearBackoff builds a LinearBackoff with the given step.
func NewLinearBackoff(step time.Duration) LinearBackoff {
	return LinearBackoff{Step: step}
}

// Delay implements BackoffPolicy.
func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.Step <= 0 {
		return 0
	}
	return time.Duration(attempt) * b.Step
}

// ExponentialBackoff doubles the delay per attempt up to Max, with optional jitter.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

// NewExponentialBackoff builds a policy with sane defaults.
func NewExponentialBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		Base:   250 * time.Millisecond,
		Max:    5 * time.Second,
		Jitter: true,
	}
}

// Delay implements BackoffPolicy.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.Base <= 0 {
		return 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if !b.Jitter {
		return time.Duration(delay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
