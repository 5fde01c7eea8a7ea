package executor

import (
	"context"

	"github.com/systmms/secretops/internal/logging"
)

// InProcess runs calls on the caller's goroutine.
type InProcess struct {
	retrier
}

// NewInProcess creates an in-process executor.
func NewInProcess(policy RetryPolicy, timeouts Timeouts, logger *logging.Logger) *InProcess {
	return &InProcess{retrier: newRetrier(policy, timeouts, logger)}
}

func (e *InProcess) Run(ctx context.Context, call Call) error {
	return e.run(ctx, call, direct)
}

func (e *InProcess) Submit(ctx context.Context, call Call) *Future {
	f := newFuture()
	go func() {
		f.complete(e.Run(ctx, call))
	}()
	return f
}

func direct(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
