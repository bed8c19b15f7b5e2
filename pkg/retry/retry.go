// Package retry implements the two backoff strategies the engine selects
// between by the shape of a node's RetryDelay: fixed-delay and
// exponential backoff, with 1-based attempt numbering and a
// stop-not-reset retry contract between attempts.
package retry

import (
	"math"
	"time"

	"github.com/flowcore/dagflow/pkg/workflow"
)

const (
	defaultFixedDelay = 1000 * time.Millisecond
	defaultBaseDelay  = 1000 * time.Millisecond
	defaultMaxDelay   = 30000 * time.Millisecond
)

// Strategy answers how long to wait before a given 1-based attempt.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// ShouldRetry reports whether another attempt is permitted: attempt
// numbering is 1-based, and a retry is allowed while attempt <= maxRetries.
func ShouldRetry(attempt, maxRetries int) bool {
	return attempt <= maxRetries
}

// Fixed always waits the same duration.
type Fixed struct {
	Delay_ time.Duration
}

func (f Fixed) Delay(attempt int) time.Duration { return f.Delay_ }

// Exponential waits baseDelay*2^(attempt-1), capped at maxDelay.
type Exponential struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	d := float64(e.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(e.MaxDelay) {
		d = float64(e.MaxDelay)
	}
	return time.Duration(d)
}

// FromRetryDelay selects Fixed or Exponential: a RetryDelay with
// BaseDelay/MaxDelay set selects exponential backoff (falling back to the
// documented defaults for whichever half is zero); otherwise a fixed
// delay, defaulting to 1000ms when Fixed is zero too.
func FromRetryDelay(d workflow.RetryDelay) Strategy {
	if d.IsExponential() {
		base := defaultBaseDelay
		if d.BaseDelay > 0 {
			base = time.Duration(d.BaseDelay) * time.Millisecond
		}
		max := defaultMaxDelay
		if d.MaxDelay > 0 {
			max = time.Duration(d.MaxDelay) * time.Millisecond
		}
		return Exponential{BaseDelay: base, MaxDelay: max}
	}
	if d.Fixed > 0 {
		return Fixed{Delay_: time.Duration(d.Fixed) * time.Millisecond}
	}
	return Fixed{Delay_: defaultFixedDelay}
}

// Sleep waits for d or until ctx-like cancellation fires, whichever comes
// first, via a pre-fired channel so cancellation wakes the wait
// immediately instead of waiting out the remaining delay. Returns true if
// the sleep completed normally, false if cancelled.
func Sleep(d time.Duration, cancelled <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-cancelled:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-cancelled:
		return false
	}
}
