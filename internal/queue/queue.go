// Package queue delivers TransitionTasks at least once.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/pkg/secret"
)

// Handler processes one task. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, task secret.TransitionTask) error

// Queue is an at-least-once task queue.
type Queue interface {
	Enqueue(ctx context.Context, task secret.TransitionTask) error

	// Consume delivers tasks to h until ctx is done.
	Consume(ctx context.Context, h Handler) error
}

// Delivery is a task together with its delivery count.
type Delivery struct {
	Task     secret.TransitionTask
	Attempts int
	LastErr  string
}

const (
	DefaultMaxDeliveries   = 5
	DefaultRedeliveryDelay = time.Second
)

// MemoryQueue is an in-process queue. A task whose key is already pending is
// not enqueued twice. Failed deliveries go back to the tail until
// MaxDeliveries is reached, then to the dead-letter list.
type MemoryQueue struct {
	MaxDeliveries   int
	RedeliveryDelay time.Duration

	mu      sync.Mutex
	pending []*Delivery
	keys    map[string]bool
	dead    []Delivery
	notify  chan struct{}
	logger  *logging.Logger
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(logger *logging.Logger) *MemoryQueue {
	if logger == nil {
		logger = logging.Nop()
	}
	return &MemoryQueue{
		MaxDeliveries:   DefaultMaxDeliveries,
		RedeliveryDelay: DefaultRedeliveryDelay,
		keys:            make(map[string]bool),
		notify:          make(chan struct{}, 1),
		logger:          logger.Named("queue"),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task secret.TransitionTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.SecretID == "" {
		return fmt.Errorf("transition task has no secret id")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.keys[task.Key()] {
		q.logger.Debug("Transition for secret %s already queued", task.SecretID)
		return nil
	}
	q.keys[task.Key()] = true
	q.pending = append(q.pending, &Delivery{Task: task})
	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of pending tasks.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters returns tasks that used up their delivery budget.
func (q *MemoryQueue) DeadLetters() []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Delivery(nil), q.dead...)
}

func (q *MemoryQueue) pop() *Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	d := q.pending[0]
	q.pending = q.pending[1:]
	return d
}

// deliver runs h for d and settles the outcome.
func (q *MemoryQueue) deliver(ctx context.Context, d *Delivery, h Handler) {
	d.Attempts++
	err := h(ctx, d.Task)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err == nil {
		delete(q.keys, d.Task.Key())
		return
	}

	d.LastErr = err.Error()
	limit := q.MaxDeliveries
	if limit <= 0 {
		limit = DefaultMaxDeliveries
	}
	if d.Attempts >= limit {
		q.logger.Error("Transition for secret %s abandoned after %d deliveries: %v", d.Task.SecretID, d.Attempts, err)
		delete(q.keys, d.Task.Key())
		q.dead = append(q.dead, *d)
		return
	}
	q.logger.Warn("Transition for secret %s failed (delivery %d/%d): %v", d.Task.SecretID, d.Attempts, limit, err)
	q.pending = append(q.pending, d)
}

// Consume delivers tasks one at a time until ctx is done. Run it from several
// goroutines for parallel consumers.
func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		if d := q.pop(); d != nil {
			if d.Attempts > 0 && q.RedeliveryDelay > 0 {
				select {
				case <-ctx.Done():
					q.requeue(d)
					return ctx.Err()
				case <-time.After(q.RedeliveryDelay):
				}
			}
			q.deliver(ctx, d, h)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) requeue(d *Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append([]*Delivery{d}, q.pending...)
}

// Drain delivers tasks until the queue is empty, including redeliveries, and
// returns the number of deliveries made.
func (q *MemoryQueue) Drain(ctx context.Context, h Handler) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		d := q.pop()
		if d == nil {
			return n, nil
		}
		if d.Attempts > 0 && q.RedeliveryDelay > 0 {
			select {
			case <-ctx.Done():
				q.requeue(d)
				return n, ctx.Err()
			case <-time.After(q.RedeliveryDelay):
			}
		}
		q.deliver(ctx, d, h)
		n++
	}
}
