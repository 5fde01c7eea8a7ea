package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/metrics"
)

// Executor runs provider calls with timeout and retry.
type Executor interface {
	// Run blocks until the call succeeds or fails for good.
	Run(ctx context.Context, call Call) error
	// Submit starts the call and returns immediately.
	Submit(ctx context.Context, call Call) *Future
}

// Do runs fn through ex and returns its value. A timed-out attempt may keep
// running on a pool worker; its value is dropped once its context is done.
func Do[T any](ctx context.Context, ex Executor, call Call, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		mu     sync.Mutex
		result T
	)
	call.Fn = func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		result = v
		return nil
	}
	if err := ex.Run(ctx, call); err != nil {
		var zero T
		return zero, err
	}
	mu.Lock()
	defer mu.Unlock()
	return result, nil
}

// attemptFunc runs one attempt of a call. Pool ships it to a worker.
type attemptFunc func(ctx context.Context, fn func(context.Context) error) error

// retrier holds the loop shared by both executors.
type retrier struct {
	policy   RetryPolicy
	timeouts Timeouts
	logger   *logging.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func newRetrier(policy RetryPolicy, timeouts Timeouts, logger *logging.Logger) retrier {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return retrier{policy: policy, timeouts: timeouts, logger: logger.Named("executor"), sleep: sleepCtx}
}

func (r retrier) run(ctx context.Context, call Call, attempt attemptFunc) error {
	if call.Fn == nil {
		return errors.New("executor: call has no function")
	}
	if call.CorrelationID == "" {
		call.CorrelationID = CorrelationID(ctx)
	}
	if call.CorrelationID == "" {
		call.CorrelationID = NewCorrelationID()
	}
	ctx = WithCorrelationID(ctx, call.CorrelationID)

	timeout := call.Timeout
	if timeout <= 0 {
		timeout = r.timeouts.For(call.Operation)
	}

	var history []dserrors.Attempt
	var lastErr error
	for i := 0; i < r.policy.MaxAttempts(); i++ {
		if err := ctx.Err(); err != nil {
			return r.fail(call, history, err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := attempt(attemptCtx, call.Fn)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			metrics.ObserveAttempt(call.Provider, string(call.Operation), metrics.OutcomeSuccess, elapsed)
			if i > 0 {
				r.logger.Debug("%s %s succeeded on attempt %d [%s]", call.Provider, call.Operation, i+1, call.CorrelationID)
			}
			return nil
		}
		lastErr = err

		if dserrors.IsTerminal(err) {
			metrics.ObserveAttempt(call.Provider, string(call.Operation), metrics.OutcomeTerminal, elapsed)
			return err
		}

		retryable := r.policy.Retryable(err)
		history = append(history, dserrors.Attempt{Number: i + 1, Retryable: retryable, Err: err.Error()})

		if !retryable {
			metrics.ObserveAttempt(call.Provider, string(call.Operation), metrics.OutcomeTerminal, elapsed)
			return r.fail(call, history, err)
		}
		metrics.ObserveAttempt(call.Provider, string(call.Operation), metrics.OutcomeRetryable, elapsed)
		if !r.policy.ShouldRetry(err, i) {
			break
		}

		delay := r.policy.NextDelay(i)
		r.logger.Debug("%s %s attempt %d failed, retrying in %s [%s]: %v",
			call.Provider, call.Operation, i+1, delay, call.CorrelationID, err)
		if err := r.sleep(ctx, delay); err != nil {
			return r.fail(call, history, err)
		}
	}

	metrics.ObserveExhausted(call.Provider, string(call.Operation))
	r.logger.Warn("%s %s failed after %d attempts [%s]", call.Provider, call.Operation, len(history), call.CorrelationID)
	return r.fail(call, history, lastErr)
}

func (r retrier) fail(call Call, history []dserrors.Attempt, err error) error {
	return dserrors.ProviderOperationError{
		ProviderType:  call.Provider,
		Operation:     string(call.Operation),
		Target:        call.Target,
		CorrelationID: call.CorrelationID,
		Attempts:      history,
		Err:           err,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
