package commands

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/systmms/secretops/internal/audit"
	"github.com/systmms/secretops/internal/blob"
	"github.com/systmms/secretops/internal/config"
	"github.com/systmms/secretops/internal/crypto"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/migration"
	"github.com/systmms/secretops/internal/providers"
	"github.com/systmms/secretops/internal/queue"
	"github.com/systmms/secretops/internal/registry"
	"github.com/systmms/secretops/internal/secure"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
	"github.com/systmms/secretops/pkg/secretstore"
)

// Runtime holds the components commands operate on.
type Runtime struct {
	Registry    *registry.Registry
	Secrets     *secretstore.Store
	Coordinator *migration.Coordinator

	closers []func()
}

// Close releases every resource Open acquired, in reverse order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Open builds a Runtime from cfg, loading the configuration first when
// needed, and saves the bootstrap secret managers it defines.
func Open(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg.Definition == nil {
		if err := cfg.Load(); err != nil {
			return nil, err
		}
	}
	def := cfg.Definition
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		rt.Close()
		return nil, err
	}

	src, err := def.KeySource(ctx)
	if err != nil {
		return fail(err)
	}
	master, err := secure.LoadMasterKey(ctx, src)
	if err != nil {
		return fail(err)
	}
	rt.closers = append(rt.closers, master.Destroy)
	logger.Debug("Loaded master key from %s", src.Describe())

	records, err := storage.Open(ctx, def.StorageOptions())
	if err != nil {
		return fail(err)
	}
	rt.closers = append(rt.closers, func() { _ = records.Close() })

	blobs, err := blob.Open(ctx, def.BlobOptions())
	if err != nil {
		return fail(err)
	}

	var changes audit.ChangeLog
	if def.ChangeLog.Driver == "memory" {
		changes = audit.NewMemoryLog()
	} else {
		dir := def.ChangeLog.Dir
		if dir == "" {
			dir = audit.DefaultDir()
		}
		changes = audit.NewFileLog(dir, logger)
	}

	pool := executor.NewPool(def.Executor.Workers, def.RetryPolicy(), def.Timeouts(), logger)
	rt.closers = append(rt.closers, pool.Close)

	factories := providers.NewRegistry(providers.Deps{
		Executor:             pool,
		InProcess:            executor.NewInProcess(def.RetryPolicy(), def.Timeouts(), logger),
		Logger:               logger,
		Local:                crypto.NewLocalCipher(master),
		DirectGlobalCloudKMS: def.Features.DirectGlobalCloudKMS,
	})
	rt.Registry = registry.New(records, factories, logger, registry.WithLocalFallback(def.Features.LocalFallback()))

	rt.Secrets, err = secretstore.New(secretstore.Options{
		Registry:   rt.Registry,
		Blobs:      blobs,
		Authorizer: def.Authorizer(logger),
		ChangeLog:  changes,
		Logger:     logger,
		Actor:      actor(),
	})
	if err != nil {
		return fail(err)
	}

	q := queue.NewMemoryQueue(logger)
	q.MaxDeliveries = def.Queue.MaxDeliveries
	q.RedeliveryDelay = def.Queue.RedeliveryDelay
	rt.Coordinator, err = migration.New(migration.Options{
		Secrets:   rt.Secrets,
		Queue:     q,
		Logger:    logger,
		VerifyAll: def.Features.VerifyAllMigrations,
	})
	if err != nil {
		return fail(err)
	}

	if err := Bootstrap(ctx, rt.Registry, def.SecretManagers, logger); err != nil {
		return fail(err)
	}
	return rt, nil
}

// Bootstrap saves every manager that has no config of the same name in its
// tenant yet. Existing configs are left untouched.
func Bootstrap(ctx context.Context, reg *registry.Registry, managers []config.ManagerConfig, logger *logging.Logger) error {
	for _, m := range managers {
		typ, err := secret.ParseProviderType(m.Type)
		if err != nil {
			return err
		}
		existing, err := reg.List(ctx, m.Tenant, true)
		if err != nil {
			return err
		}
		if hasManager(existing, m.Tenant, m.Name) {
			logger.Debug("Secret manager %s of tenant %s already exists", m.Name, m.Tenant)
			continue
		}
		saved, err := reg.Save(ctx, provider.Config{
			SecretManagerConfig: &secret.SecretManagerConfig{
				TenantID:     m.Tenant,
				ProviderType: typ,
				DisplayName:  m.Name,
				IsDefault:    m.Default,
				Settings:     m.Settings,
			},
			Credentials: m.Credentials,
		})
		if err != nil {
			return fmt.Errorf("failed to bootstrap secret manager %s: %w", m.Name, err)
		}
		logger.Info("Created secret manager %s (%s) for tenant %s", saved.DisplayName, saved.ProviderType, saved.TenantID)
	}
	return nil
}

func hasManager(cfgs []provider.Config, tenant, name string) bool {
	for _, c := range cfgs {
		if c.TenantID == tenant && c.DisplayName == name {
			return true
		}
	}
	return false
}

func actor() string {
	for _, v := range []string{"SECRETOPS_ACTOR", "USER", "USERNAME"} {
		if a := os.Getenv(v); a != "" {
			return a
		}
	}
	return "secretops"
}

// App is shared by all commands. The runtime is opened on first use.
type App struct {
	Config *config.Config

	// Tenant is set by the --tenant flag.
	Tenant string

	mu sync.Mutex
	rt *Runtime
}

// NewApp creates an App over cfg.
func NewApp(cfg *config.Config) *App {
	return &App{Config: cfg}
}

// NewAppWithRuntime creates an App that uses rt instead of opening one.
func NewAppWithRuntime(cfg *config.Config, rt *Runtime) *App {
	return &App{Config: cfg, rt: rt}
}

// Runtime returns the opened runtime.
func (a *App) Runtime(ctx context.Context) (*Runtime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt != nil {
		return a.rt, nil
	}
	rt, err := Open(ctx, a.Config)
	if err != nil {
		return nil, err
	}
	a.rt = rt
	return rt, nil
}

// Close closes the runtime if one was opened.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt != nil {
		a.rt.Close()
		a.rt = nil
	}
}

// TenantID returns the selected tenant, defaulting to the global tenant.
func (a *App) TenantID() string {
	if a.Tenant == "" {
		return secret.GlobalTenant
	}
	return a.Tenant
}

func (a *App) logger() *logging.Logger {
	if a.Config == nil || a.Config.Logger == nil {
		return logging.Nop()
	}
	return a.Config.Logger
}
