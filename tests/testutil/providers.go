package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/systmms/secretops/internal/crypto"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/providers"
	"github.com/systmms/secretops/internal/secure"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// FastExecutor returns an in-process executor that makes up to three attempts
// a millisecond apart, so retry paths run without slowing tests.
func FastExecutor() *executor.InProcess {
	return executor.NewInProcess(
		executor.NewFixedDelayPolicy(3, time.Millisecond, nil),
		executor.DefaultTimeouts(),
		logging.Nop(),
	)
}

// MasterKey returns a random master key sealed in a SecureBuffer. The buffer
// is destroyed when the test ends.
func MasterKey(t testing.TB) *secure.SecureBuffer {
	t.Helper()

	raw, err := secure.DecodeKey(secure.GenerateKey())
	require.NoError(t, err)
	buf, err := secure.NewSecureBuffer(raw)
	require.NoError(t, err)
	t.Cleanup(buf.Destroy)
	return buf
}

// LocalCipher returns a LocalCipher over a fresh master key.
func LocalCipher(t testing.TB) *crypto.LocalCipher {
	t.Helper()
	return crypto.NewLocalCipher(MasterKey(t))
}

// ProviderDeps returns factory dependencies wired to a FastExecutor and a
// fresh local cipher.
func ProviderDeps(t testing.TB) providers.Deps {
	t.Helper()

	exec := FastExecutor()
	return providers.Deps{
		Executor:  exec,
		InProcess: exec,
		Logger:    logging.Nop(),
		Local:     LocalCipher(t),
	}
}

// ProviderConfig builds a resolved config for tenant "t1".
func ProviderConfig(t secret.ProviderType, id string, settings map[string]string) provider.Config {
	return provider.Config{
		SecretManagerConfig: &secret.SecretManagerConfig{
			ID:           id,
			TenantID:     "t1",
			ProviderType: t,
			DisplayName:  id,
			Settings:     settings,
		},
		Credentials: map[string]string{},
	}
}
