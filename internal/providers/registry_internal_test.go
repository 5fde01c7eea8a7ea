package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

func TestExecutorFor(t *testing.T) {
	t.Parallel()

	pool := executor.NewInProcess(nil, executor.DefaultTimeouts(), logging.Nop())
	inline := executor.NewInProcess(nil, executor.DefaultTimeouts(), logging.Nop())

	global := provider.Config{SecretManagerConfig: &secret.SecretManagerConfig{ID: "g1", TenantID: secret.GlobalTenant, ProviderType: secret.CloudKMS}}
	tenant := provider.Config{SecretManagerConfig: &secret.SecretManagerConfig{ID: "c1", TenantID: "t1", ProviderType: secret.CloudKMS}}

	tests := []struct {
		name   string
		deps   Deps
		typ    secret.ProviderType
		cfg    provider.Config
		direct bool
	}{
		{"global cloud kms runs inline", Deps{Executor: pool, InProcess: inline, DirectGlobalCloudKMS: true}, secret.CloudKMS, global, true},
		{"flag off uses pool", Deps{Executor: pool, InProcess: inline}, secret.CloudKMS, global, false},
		{"tenant config uses pool", Deps{Executor: pool, InProcess: inline, DirectGlobalCloudKMS: true}, secret.CloudKMS, tenant, false},
		{"other types use pool", Deps{Executor: pool, InProcess: inline, DirectGlobalCloudKMS: true}, secret.KMS, global, false},
		{"no pool falls back", Deps{InProcess: inline}, secret.Vault, tenant, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.deps.executorFor(tt.typ, tt.cfg)
			if tt.direct {
				assert.Same(t, inline, got)
			} else {
				assert.Same(t, pool, got)
			}
		})
	}

	assert.NotNil(t, Deps{}.executorFor(secret.Local, provider.Config{}))
}
