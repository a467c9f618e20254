// internal/service/retry.go
package service

import (
	"math/rand/v2"
	"time"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
)

// Verdict is what the dispatcher should do after an attempt.
type Verdict int

const (
	VerdictDone  Verdict = iota // terminal outcome, nothing else to do
	VerdictRetry                // schedule another attempt after Delay
	VerdictAbort                // stop the whole campaign
)

// RetryPolicy decides whether a failed attempt is repeated and how long to
// wait before doing so.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to this fraction of the delay at random.
	Jitter float64
}

// DefaultRetryPolicy allows 3 attempts with 1s, 2s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// ShouldRetry reports whether an error of the given class, seen after
// `attempts` attempts, deserves another try and after what delay.
func (p RetryPolicy) ShouldRetry(class appErrors.Class, attempts int) (bool, time.Duration) {
	if class != appErrors.ClassTransient {
		return false, 0
	}
	if attempts >= p.maxAttempts() {
		return false, 0
	}
	return true, p.Backoff(attempts)
}

// Decide folds ShouldRetry into a dispatcher verdict.
func (p RetryPolicy) Decide(class appErrors.Class, attempts int) (Verdict, time.Duration) {
	if class == appErrors.ClassFatal {
		return VerdictAbort, 0
	}
	if retry, delay := p.ShouldRetry(class, attempts); retry {
		return VerdictRetry, delay
	}
	return VerdictDone, 0
}

// Backoff is BaseDelay * 2^(attempts-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 && delay > 0 {
		delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
	}
	return delay
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
