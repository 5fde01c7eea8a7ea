package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/pkg/secret"
)

func task(id string) secret.TransitionTask {
	return secret.TransitionTask{TenantID: "t1", SecretID: id, FromProviderType: secret.Local, ToProviderType: secret.Vault, ToConfigID: "v1"}
}

func newQueue() *MemoryQueue {
	q := NewMemoryQueue(logging.Nop())
	q.RedeliveryDelay = 0
	return q
}

func TestMemoryQueue_DeduplicatesPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newQueue()
	require.NoError(t, q.Enqueue(ctx, task("s1")))
	require.NoError(t, q.Enqueue(ctx, task("s1")))
	require.NoError(t, q.Enqueue(ctx, task("s2")))
	assert.Equal(t, 2, q.Len())

	assert.Error(t, q.Enqueue(ctx, secret.TransitionTask{}))

	var seen []string
	n, err := q.Drain(ctx, func(_ context.Context, tk secret.TransitionTask) error {
		seen = append(seen, tk.SecretID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"s1", "s2"}, seen)

	require.NoError(t, q.Enqueue(ctx, task("s1")), "a settled key can be queued again")
	assert.Equal(t, 1, q.Len())
}

func TestMemoryQueue_Redelivery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantDead  int
	}{
		{name: "succeeds first time", failures: 0, wantCalls: 1},
		{name: "succeeds on redelivery", failures: 2, wantCalls: 3},
		{name: "dead lettered", failures: 10, wantCalls: 3, wantDead: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := newQueue()
			q.MaxDeliveries = 3
			require.NoError(t, q.Enqueue(context.Background(), task("s1")))

			calls := 0
			n, err := q.Drain(context.Background(), func(context.Context, secret.TransitionTask) error {
				calls++
				if calls <= tt.failures {
					return errors.New("provider unavailable")
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantCalls, n)

			dead := q.DeadLetters()
			require.Len(t, dead, tt.wantDead)
			if tt.wantDead > 0 {
				assert.Equal(t, 3, dead[0].Attempts)
				assert.Equal(t, "provider unavailable", dead[0].LastErr)
			}
		})
	}
}

func TestMemoryQueue_Consume(t *testing.T) {
	t.Parallel()

	q := newQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	wg.Add(3)
	handler := func(_ context.Context, tk secret.TransitionTask) error {
		mu.Lock()
		seen[tk.SecretID]++
		mu.Unlock()
		wg.Done()
		return nil
	}

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- q.Consume(ctx, handler) }()
	}

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, task(id)))
	}

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks were not consumed")
	}

	cancel()
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-done, context.Canceled)
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, seen)
}

func TestMemoryQueue_DrainStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := newQueue()
	require.NoError(t, q.Enqueue(context.Background(), task("s1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := q.Drain(ctx, func(context.Context, secret.TransitionTask) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Equal(t, 1, q.Len())
}
