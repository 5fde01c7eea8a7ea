package executor

import "context"

// Future is the pending result of a submitted Call.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the call has finished, successfully or not.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the call finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the call's result. It must only be read after Done is closed.
func (f *Future) Err() error {
	return f.err
}
