package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/permissions"
	"github.com/systmms/secretops/internal/secure"
	"github.com/systmms/secretops/pkg/secret"
)

const fullConfig = `version: 0
storage:
  driver: postgres
  dsn: postgres://secretops@localhost/secretops?sslmode=disable
blobs:
  driver: s3
  bucket: secretops-files
  prefix: tenants
  region: eu-west-1
local_key:
  source: file
  ref: /etc/secretops/master.key
executor:
  workers: 4
  attempts: 5
  delay: 250ms
  decrypt_timeout: 3s
features:
  direct_global_cloud_kms: true
  verify_all_migrations: true
permissions:
  default:
    require_restrictions: true
  tenants:
    acme:
      read_only: true
secret_managers:
  - name: vault
    tenant: acme
    type: vault
    default: true
    settings:
      address: https://vault.example.com
    credentials:
      token: ${TEST_VAULT_TOKEN}
  - name: kms
    type: KMS
    settings:
      key_id: alias/secretops
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secretops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func load(t *testing.T, path string) (*Definition, error) {
	t.Helper()
	cfg := &Config{Path: path, Logger: logging.Nop(), EnvFiles: []string{}}
	err := cfg.Load()
	return cfg.Definition, err
}

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("TEST_VAULT_TOKEN", "hvs.from-env")

	def, err := load(t, writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "postgres", def.Storage.Driver)
	assert.Equal(t, "secretops-files", def.Blobs.Bucket)
	assert.Equal(t, "file", def.LocalKey.Source)
	assert.Equal(t, 4, def.Executor.Workers)
	assert.Equal(t, 5, def.Executor.Attempts)
	assert.Equal(t, 250*time.Millisecond, def.Executor.Delay)
	assert.Equal(t, 3*time.Second, def.Executor.DecryptTimeout)
	assert.Equal(t, 30*time.Second, def.Executor.EncryptTimeout, "unset values get defaults")
	assert.True(t, def.Features.DirectGlobalCloudKMS)
	assert.True(t, def.Features.VerifyAllMigrations)
	assert.True(t, def.Features.LocalFallback())

	require.Len(t, def.SecretManagers, 2)
	assert.Equal(t, "hvs.from-env", def.SecretManagers[0].Credentials["token"])
	assert.Equal(t, secret.GlobalTenant, def.SecretManagers[1].Tenant)

	require.NotNil(t, def.Permissions.Default)
	assert.True(t, def.Permissions.Tenants["acme"].ReadOnly)
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	def, err := load(t, writeConfig(t, "version: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), def)

	assert.Equal(t, "memory", def.Storage.Driver)
	assert.Equal(t, "memory", def.Blobs.Driver)
	assert.Equal(t, "env", def.LocalKey.Source)
	assert.Equal(t, "SECRETOPS_MASTER_KEY", def.LocalKey.Ref)
	assert.Equal(t, 3, def.Executor.Attempts)
	assert.Equal(t, time.Second, def.Executor.Delay)
	assert.Equal(t, 10*time.Second, def.Executor.DecryptTimeout)
	assert.Equal(t, "/metrics", def.Metrics.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := load(t, "/nonexistent/path/to/secretops.yaml")
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "path", cfgErr.Field)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoad_DefaultPathMayBeMissing(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	def, err := load(t, DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, "memory", def.Storage.Driver)
}

func TestLoad_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"invalid yaml", "version: 0\nstorage: [[[\n", "path"},
		{"version", "version: 2\n", "version"},
		{"storage driver", "storage:\n  driver: sqlite\n", "storage.driver"},
		{"sql without dsn", "storage:\n  driver: mysql\n", "storage.dsn"},
		{"blob driver", "blobs:\n  driver: gcs\n", "blobs.driver"},
		{"s3 without bucket", "blobs:\n  driver: s3\n", "blobs.bucket"},
		{"key source", "local_key:\n  source: hsm\n", "local_key.source"},
		{"file key without ref", "local_key:\n  source: file\n", "local_key.ref"},
		{"negative workers", "executor:\n  workers: -1\n", "executor"},
		{"change log", "change_log:\n  driver: kafka\n", "change_log.driver"},
		{"manager without name", "secret_managers:\n  - type: vault\n", "secret_managers[0].name"},
		{"manager type", "secret_managers:\n  - name: x\n    type: dropbox\n", "secret_managers[0].type"},
		{
			"duplicate manager",
			"secret_managers:\n  - {name: x, tenant: t1, type: vault}\n  - {name: x, tenant: t1, type: kms}\n",
			"secret_managers[1].name",
		},
		{
			"two defaults",
			"secret_managers:\n  - {name: x, tenant: t1, type: vault, default: true}\n  - {name: y, tenant: t1, type: kms, default: true}\n",
			"secret_managers[1].default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := load(t, writeConfig(t, tt.content))
			var cfgErr dserrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_SameNameInDifferentTenants(t *testing.T) {
	t.Parallel()

	def, err := load(t, writeConfig(t, "secret_managers:\n  - {name: x, tenant: t1, type: vault, default: true}\n  - {name: x, tenant: t2, type: vault, default: true}\n"))
	require.NoError(t, err)
	assert.Len(t, def.SecretManagers, 2)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SECRETOPS_STORAGE_DRIVER", "mysql")
	t.Setenv("SECRETOPS_STORAGE_DSN", "root@tcp(localhost:3306)/secretops")
	t.Setenv("SECRETOPS_EXECUTOR_WORKERS", "16")
	t.Setenv("SECRETOPS_EXECUTOR_DELAY", "2s")
	t.Setenv("SECRETOPS_FALLBACK_TO_LOCAL", "false")
	t.Setenv("SECRETOPS_VERIFY_ALL_MIGRATIONS", "true")

	def, err := load(t, writeConfig(t, "storage:\n  driver: memory\nexecutor:\n  workers: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, "mysql", def.Storage.Driver)
	assert.Equal(t, "root@tcp(localhost:3306)/secretops", def.Storage.DSN)
	assert.Equal(t, 16, def.Executor.Workers)
	assert.Equal(t, 2*time.Second, def.Executor.Delay)
	assert.False(t, def.Features.LocalFallback())
	assert.True(t, def.Features.VerifyAllMigrations)
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	t.Setenv("SECRETOPS_QUEUE_WORKERS", "many")

	_, err := load(t, writeConfig(t, "version: 0\n"))
	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "SECRETOPS_QUEUE_WORKERS", cfgErr.Field)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SECRETOPS_METRICS_ADDR=127.0.0.1:9191\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SECRETOPS_METRICS_ADDR") })

	cfg := &Config{Path: writeConfig(t, "version: 0\n"), Logger: logging.Nop(), EnvFiles: []string{envFile, filepath.Join(dir, "missing.env")}}
	require.NoError(t, cfg.Load())
	assert.Equal(t, "127.0.0.1:9191", cfg.Definition.Metrics.Addr)
}

func TestDefinition_KeySource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		key    LocalKeyConfig
		expect secure.KeySource
	}{
		{"env", LocalKeyConfig{Source: "env", Ref: "MASTER"}, secure.EnvKeySource{Var: "MASTER"}},
		{"file", LocalKeyConfig{Source: "file", Ref: "/run/key"}, secure.FileKeySource{Path: "/run/key"}},
		{"keyring", LocalKeyConfig{Source: "keyring", Ref: "secretops/prod"}, secure.KeyringKeySource{Service: "secretops", Account: "prod"}},
		{"keyring without account", LocalKeyConfig{Source: "keyring", Ref: "secretops"}, secure.KeyringKeySource{Service: "secretops", Account: "master-key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			def := &Definition{LocalKey: tt.key}
			src, err := def.KeySource(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expect, src)
		})
	}
}

func TestDefinition_Components(t *testing.T) {
	t.Parallel()

	def := Default()
	def.Executor.Attempts = 4
	def.Executor.Delay = 0
	def.Blobs = BlobConfig{Driver: "s3", Bucket: "b", Endpoint: "http://localhost:4566", PathStyle: true}

	assert.Equal(t, 4, def.RetryPolicy().MaxAttempts())
	assert.Equal(t, time.Duration(0), def.RetryPolicy().NextDelay(0))
	assert.Equal(t, 10*time.Second, def.Timeouts().Decrypt)
	assert.Equal(t, "memory", def.StorageOptions().Driver)

	opts := def.BlobOptions()
	assert.Equal(t, "s3", opts.Driver)
	assert.Equal(t, "http://localhost:4566", opts.S3.Endpoint)
	assert.True(t, opts.S3.PathStyle)

	assert.IsType(t, permissions.AllowAll{}, def.Authorizer(logging.Nop()))
	def.Permissions.Tenants = map[string]permissions.TenantPolicy{"t1": {ReadOnly: true}}
	assert.IsType(t, &permissions.PermissionChecker{}, def.Authorizer(logging.Nop()))
}
