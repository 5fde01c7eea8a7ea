package executor

import (
	"context"
	"errors"
	"net"
	"time"

	dserrors "github.com/systmms/secretops/internal/errors"
)

// Default retry budget.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = time.Second
)

// RetryPolicy decides whether and when to run another attempt.
type RetryPolicy interface {
	// NextDelay returns the wait before the attempt following attempt (0-indexed).
	NextDelay(attempt int) time.Duration
	// Retryable classifies err independently of the remaining budget.
	Retryable(err error) bool
	// ShouldRetry reports whether err on attempt (0-indexed) earns another try.
	ShouldRetry(err error, attempt int) bool
	// MaxAttempts returns the total number of attempts including the first.
	MaxAttempts() int
}

// FixedDelayPolicy retries retryable errors with a constant delay.
type FixedDelayPolicy struct {
	maxAttempts int
	delay       time.Duration
	retryable   func(error) bool
}

// NewFixedDelayPolicy creates a fixed delay policy. Non-positive values fall
// back to the defaults; a nil classifier uses IsRetryable.
func NewFixedDelayPolicy(maxAttempts int, delay time.Duration, retryable func(error) bool) *FixedDelayPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	if retryable == nil {
		retryable = IsRetryable
	}
	return &FixedDelayPolicy{maxAttempts: maxAttempts, delay: delay, retryable: retryable}
}

// DefaultPolicy returns three attempts one second apart.
func DefaultPolicy() *FixedDelayPolicy {
	return NewFixedDelayPolicy(DefaultMaxAttempts, DefaultDelay, nil)
}

func (p *FixedDelayPolicy) NextDelay(int) time.Duration {
	return p.delay
}

func (p *FixedDelayPolicy) Retryable(err error) bool {
	return p.retryable(err)
}

func (p *FixedDelayPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.maxAttempts-1 {
		return false
	}
	return p.retryable(err)
}

func (p *FixedDelayPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// IsRetryable is the default classifier. Taxonomy errors are never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if dserrors.IsTerminal(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return dserrors.IsRetryable(err)
}
