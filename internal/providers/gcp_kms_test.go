package providers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/providers"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
	"github.com/systmms/secretops/tests/fakes"
	"github.com/systmms/secretops/tests/testutil"
)

func TestGCPKMSKeyNameFromParts(t *testing.T) {
	t.Parallel()

	want := "projects/p1/locations/europe-west1/keyRings/ring/cryptoKeys/key"
	client := fakes.NewFakeCloudKMSClient(want)
	cfg := testutil.ProviderConfig(secret.CloudKMS, "gkms-1", map[string]string{
		"project_id": "p1",
		"location":   "europe-west1",
		"key_ring":   "ring",
		"crypto_key": "key",
	})
	p, err := providers.NewGCPKMSProvider(cfg, testutil.ProviderDeps(t), providers.WithCloudKMSClient(client))
	require.NoError(t, err)

	rec, err := p.Encrypt(context.Background(), provider.EncryptRequest{TenantID: "t1", Name: "x", Plaintext: []byte("v")})
	require.NoError(t, err)
	got, err := p.Decrypt(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestGCPKMSBindsTenant(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeCloudKMSClient(testCloudKMSKey)
	cfg := testutil.ProviderConfig(secret.CloudKMS, "gkms-1", map[string]string{"key_name": testCloudKMSKey})
	p, err := providers.NewGCPKMSProvider(cfg, testutil.ProviderDeps(t), providers.WithCloudKMSClient(client))
	require.NoError(t, err)

	rec, err := p.Encrypt(context.Background(), provider.EncryptRequest{TenantID: "t1", Name: "x", Plaintext: []byte("v")})
	require.NoError(t, err)
	rec.TenantID = "t2"
	_, err = p.Decrypt(context.Background(), rec)
	assert.Error(t, err)
}

// countingExecutor records how many calls went through it.
type countingExecutor struct {
	executor.Executor
	calls int
}

func (c *countingExecutor) Run(ctx context.Context, call executor.Call) error {
	c.calls++
	return c.Executor.Run(ctx, call)
}

func TestGCPKMSGlobalConfigRunsInline(t *testing.T) {
	t.Parallel()

	newExec := func() *countingExecutor {
		return &countingExecutor{Executor: executor.NewInProcess(nil, executor.DefaultTimeouts(), logging.Nop())}
	}

	tests := []struct {
		name       string
		tenant     string
		direct     bool
		wantInline bool
	}{
		{name: "global with flag", tenant: secret.GlobalTenant, direct: true, wantInline: true},
		{name: "global without flag", tenant: secret.GlobalTenant},
		{name: "tenant with flag", tenant: "t1", direct: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pool, inline := newExec(), newExec()
			deps := providers.Deps{Executor: pool, InProcess: inline, Local: testutil.LocalCipher(t), DirectGlobalCloudKMS: tt.direct}

			cfg := testutil.ProviderConfig(secret.CloudKMS, "gkms-1", map[string]string{"key_name": testCloudKMSKey})
			cfg.TenantID = tt.tenant
			p, err := providers.NewGCPKMSProvider(cfg, deps, providers.WithCloudKMSClient(fakes.NewFakeCloudKMSClient(testCloudKMSKey)))
			require.NoError(t, err)

			_, err = p.Encrypt(context.Background(), provider.EncryptRequest{TenantID: "t1", Name: "x", Plaintext: []byte("v")})
			require.NoError(t, err)

			if tt.wantInline {
				assert.Equal(t, 1, inline.calls)
				assert.Zero(t, pool.calls)
			} else {
				assert.Equal(t, 1, pool.calls)
				assert.Zero(t, inline.calls)
			}
		})
	}
}
