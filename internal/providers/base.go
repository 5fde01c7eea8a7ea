package providers

import (
	"context"

	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// base holds the identity and executor shared by the network providers.
type base struct {
	typ      secret.ProviderType
	configID string
	exec     executor.Executor
	logger   *logging.Logger
}

func newBase(t secret.ProviderType, cfg provider.Config, deps Deps) base {
	return base{
		typ:      t,
		configID: cfg.ID(),
		exec:     deps.executorFor(t, cfg),
		logger:   deps.logger().Named(string(t)),
	}
}

func (b base) Type() secret.ProviderType { return b.typ }

func (b base) ConfigID() string { return b.configID }

// run executes fn through the executor.
func (b base) run(ctx context.Context, op executor.Operation, target string, fn func(ctx context.Context) error) error {
	return b.exec.Run(ctx, executor.Call{
		Operation: op,
		Provider:  string(b.typ),
		Target:    target,
		Fn:        fn,
	})
}

// call executes fn through the executor and returns its value.
func call[T any](ctx context.Context, b base, op executor.Operation, target string, fn func(ctx context.Context) (T, error)) (T, error) {
	return executor.Do(ctx, b.exec, executor.Call{
		Operation: op,
		Provider:  string(b.typ),
		Target:    target,
	}, fn)
}
