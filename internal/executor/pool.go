package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/systmms/secretops/internal/logging"
)

// ErrClosed is returned for calls submitted after Close.
var ErrClosed = errors.New("executor is closed")

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 8

type job struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// Pool dispatches each attempt to a fixed set of workers. The retry loop and
// its delays run outside the workers so a sleeping retry never holds a worker.
type Pool struct {
	retrier

	jobs     chan job
	quit     chan struct{}
	wg       sync.WaitGroup
	closeMu  sync.RWMutex
	closed   bool
	closeOne sync.Once
}

// NewPool starts workers goroutines.
func NewPool(workers int, policy RetryPolicy, timeouts Timeouts, logger *logging.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		retrier: newRetrier(policy, timeouts, logger),
		jobs:    make(chan job),
		quit:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			j.result <- safeCall(j.ctx, j.fn)
		}
	}
}

func (p *Pool) Run(ctx context.Context, call Call) error {
	p.closeMu.RLock()
	closed := p.closed
	p.closeMu.RUnlock()
	if closed {
		return ErrClosed
	}
	return p.run(ctx, call, p.dispatch)
}

func (p *Pool) Submit(ctx context.Context, call Call) *Future {
	f := newFuture()
	go func() {
		f.complete(p.Run(ctx, call))
	}()
	return f
}

func (p *Pool) dispatch(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case p.jobs <- j:
	case <-p.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		// The worker observes the same deadline and will finish shortly.
		return ctx.Err()
	}
}

// Close stops the workers after in-flight attempts complete.
func (p *Pool) Close() {
	p.closeOne.Do(func() {
		p.closeMu.Lock()
		p.closed = true
		p.closeMu.Unlock()
		close(p.quit)
		p.wg.Wait()
	})
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider call panicked: %v", r)
		}
	}()
	return fn(ctx)
}
