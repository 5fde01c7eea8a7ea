package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/systmms/secretops/internal/crypto"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// Deps carries the shared collaborators handed to every factory.
type Deps struct {
	// Executor runs network calls. Usually the worker pool.
	Executor executor.Executor

	// InProcess runs calls on the caller's goroutine. Used for global
	// CLOUD_KMS configs when DirectGlobalCloudKMS is set.
	InProcess executor.Executor

	Logger *logging.Logger

	// Local encrypts LOCAL records. Required for LOCAL and for the envelope
	// providers' fallback paths.
	Local *crypto.LocalCipher

	DirectGlobalCloudKMS bool
}

func (d Deps) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.Nop()
	}
	return d.Logger
}

// executorFor picks the executor for cfg.
func (d Deps) executorFor(t secret.ProviderType, cfg provider.Config) executor.Executor {
	if t == secret.CloudKMS && d.DirectGlobalCloudKMS && cfg.SecretManagerConfig != nil && cfg.IsGlobal() && d.InProcess != nil {
		return d.InProcess
	}
	if d.Executor != nil {
		return d.Executor
	}
	if d.InProcess != nil {
		return d.InProcess
	}
	return executor.NewInProcess(nil, executor.DefaultTimeouts(), d.Logger)
}

// Factory builds a provider from a resolved config.
type Factory func(cfg provider.Config, deps Deps) (provider.Provider, error)

// Registry maps provider types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[secret.ProviderType]Factory
	deps      Deps
}

// NewRegistry returns a registry with the built-in factories.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		factories: make(map[secret.ProviderType]Factory),
		deps:      deps,
	}
	r.RegisterFactory(secret.Local, NewLocalProviderFactory)
	r.RegisterFactory(secret.KMS, NewAWSKMSProviderFactory)
	r.RegisterFactory(secret.CloudSecretsManager, NewAWSSecretsManagerProviderFactory)
	r.RegisterFactory(secret.Vault, NewVaultProviderFactory)
	r.RegisterFactory(secret.CloudKeyVault, NewAzureKeyVaultProviderFactory)
	r.RegisterFactory(secret.EnterpriseVault, NewAkeylessProviderFactory)
	r.RegisterFactory(secret.CloudKMS, NewGCPKMSProviderFactory)
	r.RegisterFactory(secret.GCPSecretManager, NewGCPSecretManagerProviderFactory)
	return r
}

// RegisterFactory installs or replaces the factory for t.
func (r *Registry) RegisterFactory(t secret.ProviderType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

// Deps returns the collaborators handed to factories.
func (r *Registry) Deps() Deps {
	return r.deps
}

// CreateProvider builds the provider for cfg. A nil config yields the
// implicit LOCAL provider.
func (r *Registry) CreateProvider(cfg provider.Config) (provider.Provider, error) {
	t := secret.Local
	if cfg.SecretManagerConfig != nil {
		t = cfg.ProviderType
	}

	r.mu.RLock()
	factory, ok := r.factories[t]
	r.mu.RUnlock()
	if !ok {
		return nil, dserrors.UnsupportedOperationError{
			ProviderType: string(t),
			Operation:    "create provider",
			Reason:       "no factory registered",
		}
	}

	p, err := factory(cfg, r.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider %s: %w", t, cfg.ID(), err)
	}
	return p, nil
}

// Local returns the implicit LOCAL provider.
func (r *Registry) Local() (provider.Provider, error) {
	return r.CreateProvider(provider.Config{})
}

// SupportedTypes lists registered provider types.
func (r *Registry) SupportedTypes() []secret.ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]secret.ProviderType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsSupported reports whether t has a factory.
func (r *Registry) IsSupported(t secret.ProviderType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}
