package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systmms/secretops/internal/audit"
	"github.com/systmms/secretops/internal/blob"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/permissions"
	"github.com/systmms/secretops/internal/providers"
	"github.com/systmms/secretops/internal/registry"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
	"github.com/systmms/secretops/pkg/secretstore"
	"github.com/systmms/secretops/tests/fakes"
)

// Stack is a secret store wired to in-memory storage. Every provider type
// except LOCAL is backed by a FakeProvider, one per config id; LOCAL uses
// the real local cipher.
type Stack struct {
	Records   *storage.MemoryStore
	Blobs     *blob.MemoryStore
	ChangeLog *audit.MemoryLog
	Factories *providers.Registry
	Registry  *registry.Registry
	Secrets   *secretstore.Store

	mu    sync.Mutex
	fakes map[string]*fakes.FakeProvider
}

// StackOption adjusts the secret store options of a Stack.
type StackOption func(*secretstore.Options)

// WithAuthorizer installs a permission check.
func WithAuthorizer(a permissions.Authorizer) StackOption {
	return func(o *secretstore.Options) { o.Authorizer = a }
}

// WithLogger sets the secret store logger.
func WithLogger(l *logging.Logger) StackOption {
	return func(o *secretstore.Options) { o.Logger = l }
}

// WithMaxFileSize lowers the file size limit.
func WithMaxFileSize(n int64) StackOption {
	return func(o *secretstore.Options) { o.MaxFileSize = n }
}

// NewStack builds a Stack. Secret manager configs are saved without the
// validation round trip so fakes only see the calls a test makes.
func NewStack(t testing.TB, opts ...StackOption) *Stack {
	t.Helper()

	s := &Stack{
		Records:   storage.NewMemoryStore(),
		Blobs:     blob.NewMemoryStore(),
		ChangeLog: audit.NewMemoryLog(),
		Factories: providers.NewRegistry(ProviderDeps(t)),
		fakes:     make(map[string]*fakes.FakeProvider),
	}
	for _, typ := range secret.AllProviderTypes() {
		if typ == secret.Local {
			continue
		}
		typ := typ
		s.Factories.RegisterFactory(typ, func(cfg provider.Config, _ providers.Deps) (provider.Provider, error) {
			return s.Fake(typ, cfg.ID()), nil
		})
	}
	s.Registry = registry.New(s.Records, s.Factories, logging.Nop(), registry.WithoutValidation())

	storeOpts := secretstore.Options{
		Registry:  s.Registry,
		Blobs:     s.Blobs,
		ChangeLog: s.ChangeLog,
		Logger:    logging.Nop(),
		Actor:     "test",
	}
	for _, opt := range opts {
		opt(&storeOpts)
	}
	store, err := secretstore.New(storeOpts)
	require.NoError(t, err)
	s.Secrets = store
	t.Cleanup(func() { _ = s.Records.Close() })
	return s
}

// Fake returns the fake provider behind configs of typ with id.
func (s *Stack) Fake(typ secret.ProviderType, id string) *fakes.FakeProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(typ) + "/" + id
	f, ok := s.fakes[key]
	if !ok {
		f = fakes.NewFakeProvider(typ, id)
		s.fakes[key] = f
	}
	return f
}

// AddManager saves a secret manager config for tenant and returns it.
func (s *Stack) AddManager(t testing.TB, tenant, name string, typ secret.ProviderType, isDefault bool) *secret.SecretManagerConfig {
	t.Helper()

	settings, creds := sampleSettings(typ)
	saved, err := s.Registry.Save(context.Background(), provider.Config{
		SecretManagerConfig: &secret.SecretManagerConfig{
			TenantID:     tenant,
			ProviderType: typ,
			DisplayName:  name,
			IsDefault:    isDefault,
			Settings:     settings,
		},
		Credentials: creds,
	})
	require.NoError(t, err)
	return saved
}

// FakeFor returns the fake provider behind cfg.
func (s *Stack) FakeFor(cfg *secret.SecretManagerConfig) *fakes.FakeProvider {
	return s.Fake(cfg.ProviderType, cfg.ID)
}

// Record loads a record straight from storage.
func (s *Stack) Record(t testing.TB, id string) *secret.EncryptedRecord {
	t.Helper()
	rec, err := s.Records.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return rec
}

// sampleSettings returns settings and credentials that pass schema checks
// for typ.
func sampleSettings(typ secret.ProviderType) (map[string]string, map[string]string) {
	switch typ {
	case secret.KMS:
		return map[string]string{"key_id": "alias/secretops", "region": "us-east-1"},
			map[string]string{"access_key_id": "AKIAEXAMPLE", "secret_access_key": "wJalrXUtnFEMI"}
	case secret.CloudSecretsManager:
		return map[string]string{"region": "us-east-1"},
			map[string]string{"access_key_id": "AKIAEXAMPLE", "secret_access_key": "wJalrXUtnFEMI"}
	case secret.Vault:
		return map[string]string{"address": "https://vault.example.com"},
			map[string]string{"token": "hvs.root-token"}
	case secret.CloudKeyVault:
		return map[string]string{"vault_url": "https://example.vault.azure.net"},
			map[string]string{"client_secret": "azure-secret"}
	case secret.EnterpriseVault:
		return map[string]string{"access_id": "p-123"},
			map[string]string{"access_key": "akeyless-key"}
	case secret.CloudKMS:
		return map[string]string{"key_name": "projects/p/locations/global/keyRings/r/cryptoKeys/k"},
			map[string]string{"credentials_json": `{"type":"service_account"}`}
	case secret.GCPSecretManager:
		return map[string]string{"project_id": "p"},
			map[string]string{"credentials_json": `{"type":"service_account"}`}
	}
	return map[string]string{}, nil
}
