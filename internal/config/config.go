package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/permissions"
	"github.com/systmms/secretops/pkg/secret"
)

// DefaultPath is the configuration file looked up when --config is not given.
const DefaultPath = "secretops.yaml"

// Config holds the runtime configuration
type Config struct {
	Path   string
	Logger *logging.Logger

	// EnvFiles are loaded with godotenv before overrides are applied.
	// Missing files are ignored. Defaults to ".env".
	EnvFiles []string

	Definition *Definition
}

// Definition represents the secretops.yaml structure
type Definition struct {
	Version     int               `yaml:"version"`
	Storage     StorageConfig     `yaml:"storage"`
	Blobs       BlobConfig        `yaml:"blobs"`
	LocalKey    LocalKeyConfig    `yaml:"local_key"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Queue       QueueConfig       `yaml:"queue"`
	Features    Features          `yaml:"features"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	ChangeLog   ChangeLogConfig   `yaml:"change_log"`
	Permissions PermissionsConfig `yaml:"permissions,omitempty"`

	// SecretManagers are saved through the registry on startup when no
	// config with the same name exists for the tenant.
	SecretManagers []ManagerConfig `yaml:"secret_managers,omitempty"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory (default), postgres or mysql
	DSN    string `yaml:"dsn,omitempty"`
}

// BlobConfig selects where file ciphertext lives.
type BlobConfig struct {
	Driver    string `yaml:"driver"` // memory (default) or s3
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Profile   string `yaml:"profile,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// LocalKeyConfig names the source of the LOCAL master key.
type LocalKeyConfig struct {
	Source string `yaml:"source"` // env (default), file, keyring or ssm
	Ref    string `yaml:"ref"`

	// Region applies to the ssm source.
	Region string `yaml:"region,omitempty"`
}

// ExecutorConfig tunes the remote executor.
type ExecutorConfig struct {
	Workers        int           `yaml:"workers"`
	Attempts       int           `yaml:"attempts"`
	Delay          time.Duration `yaml:"delay"`
	EncryptTimeout time.Duration `yaml:"encrypt_timeout"`
	DecryptTimeout time.Duration `yaml:"decrypt_timeout"`
}

// QueueConfig tunes the in-memory transition queue.
type QueueConfig struct {
	Workers         int           `yaml:"workers"`
	MaxDeliveries   int           `yaml:"max_deliveries"`
	RedeliveryDelay time.Duration `yaml:"redelivery_delay"`
}

// Features are runtime toggles.
type Features struct {
	DirectGlobalCloudKMS bool `yaml:"direct_global_cloud_kms"`
	VerifyAllMigrations  bool `yaml:"verify_all_migrations"`

	// FallbackToLocal defaults to true when unset.
	FallbackToLocal *bool `yaml:"fallback_to_local,omitempty"`
}

// LocalFallback reports whether tenants without any default fall back to the
// implicit LOCAL config.
func (f Features) LocalFallback() bool {
	return f.FallbackToLocal == nil || *f.FallbackToLocal
}

// MetricsConfig configures the /metrics endpoint of `secretops serve`.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// ChangeLogConfig selects the change-log backend.
type ChangeLogConfig struct {
	Driver string `yaml:"driver"` // memory or file (default)
	Dir    string `yaml:"dir,omitempty"`
}

// PermissionsConfig holds tenant policies. Tenants without a policy use
// Default; with no default they are unrestricted.
type PermissionsConfig struct {
	Default *permissions.TenantPolicy            `yaml:"default,omitempty"`
	Tenants map[string]permissions.TenantPolicy `yaml:"tenants,omitempty"`
}

// ManagerConfig bootstraps one secret manager config.
type ManagerConfig struct {
	Name     string            `yaml:"name"`
	Tenant   string            `yaml:"tenant"`
	Type     string            `yaml:"type"`
	Default  bool              `yaml:"default,omitempty"`
	Settings map[string]string `yaml:"settings,omitempty"`

	// Credentials are expanded against the environment, so values such as
	// "${VAULT_TOKEN}" stay out of the file.
	Credentials map[string]string `yaml:"credentials,omitempty"`
}

// Default returns a definition with every default applied.
func Default() *Definition {
	def := &Definition{}
	def.applyDefaults()
	return def
}

func (d *Definition) applyDefaults() {
	if d.Storage.Driver == "" {
		d.Storage.Driver = "memory"
	}
	if d.Blobs.Driver == "" {
		d.Blobs.Driver = "memory"
	}
	if d.LocalKey.Source == "" {
		d.LocalKey.Source = "env"
	}
	if d.LocalKey.Source == "env" && d.LocalKey.Ref == "" {
		d.LocalKey.Ref = "SECRETOPS_MASTER_KEY"
	}
	if d.LocalKey.Source == "keyring" && d.LocalKey.Ref == "" {
		d.LocalKey.Ref = "secretops/master-key"
	}
	if d.Executor.Workers == 0 {
		d.Executor.Workers = 8
	}
	if d.Executor.Attempts == 0 {
		d.Executor.Attempts = 3
	}
	if d.Executor.Delay == 0 {
		d.Executor.Delay = time.Second
	}
	if d.Executor.EncryptTimeout == 0 {
		d.Executor.EncryptTimeout = 30 * time.Second
	}
	if d.Executor.DecryptTimeout == 0 {
		d.Executor.DecryptTimeout = 10 * time.Second
	}
	if d.Queue.Workers == 0 {
		d.Queue.Workers = 2
	}
	if d.Queue.MaxDeliveries == 0 {
		d.Queue.MaxDeliveries = 5
	}
	if d.Queue.RedeliveryDelay == 0 {
		d.Queue.RedeliveryDelay = 5 * time.Second
	}
	if d.Metrics.Addr == "" {
		d.Metrics.Addr = ":9090"
	}
	if d.Metrics.Path == "" {
		d.Metrics.Path = "/metrics"
	}
	if d.ChangeLog.Driver == "" {
		d.ChangeLog.Driver = "file"
	}
	for i := range d.SecretManagers {
		if d.SecretManagers[i].Tenant == "" {
			d.SecretManagers[i].Tenant = secret.GlobalTenant
		}
	}
}

// Load reads and parses the secretops.yaml file, then applies .env files and
// SECRETOPS_* overrides. A missing file is only an error when Path was set
// explicitly to something other than DefaultPath.
func (c *Config) Load() error {
	c.loadEnvFiles()

	def := &Definition{}
	data, err := os.ReadFile(c.Path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, def); err != nil {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    fmt.Sprintf("invalid YAML syntax in configuration file: %v", err),
				Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
			}
		}
	case errors.Is(err, os.ErrNotExist) && (c.Path == "" || c.Path == DefaultPath):
		c.logger().Debug("No %s found, using defaults and environment", DefaultPath)
	case errors.Is(err, os.ErrNotExist):
		return dserrors.ConfigError{
			Field:      "path",
			Value:      c.Path,
			Message:    "configuration file not found",
			Suggestion: "Check the --config flag or create the file",
		}
	default:
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	if def.Version != 0 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of secretops.yaml",
		}
	}

	if err := applyEnv(def, os.LookupEnv); err != nil {
		return err
	}
	def.applyDefaults()
	def.expandCredentials()
	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = def
	return nil
}

func (c *Config) loadEnvFiles() {
	files := c.EnvFiles
	if files == nil {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Load never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil {
			c.logger().Warn("Failed to load %s: %v", f, err)
		}
	}
}

func (c *Config) logger() *logging.Logger {
	if c.Logger == nil {
		return logging.Nop()
	}
	return c.Logger
}

func (d *Definition) expandCredentials() {
	for i := range d.SecretManagers {
		for k, v := range d.SecretManagers[i].Credentials {
			d.SecretManagers[i].Credentials[k] = os.ExpandEnv(v)
		}
	}
}

// Validate checks the definition after defaults were applied.
func (d *Definition) Validate() error {
	switch strings.ToLower(d.Storage.Driver) {
	case "memory":
	case "postgres", "postgresql", "mysql", "mariadb":
		if d.Storage.DSN == "" {
			return dserrors.ConfigError{
				Field:      "storage.dsn",
				Message:    "a DSN is required for SQL storage",
				Suggestion: "Set storage.dsn or SECRETOPS_STORAGE_DSN",
			}
		}
	default:
		return dserrors.ConfigError{
			Field:      "storage.driver",
			Value:      d.Storage.Driver,
			Message:    "unsupported storage driver",
			Suggestion: "Use one of: memory, postgres, mysql",
		}
	}

	switch strings.ToLower(d.Blobs.Driver) {
	case "memory":
	case "s3":
		if d.Blobs.Bucket == "" {
			return dserrors.ConfigError{
				Field:      "blobs.bucket",
				Message:    "bucket is required for the s3 blob store",
				Suggestion: "Set blobs.bucket or SECRETOPS_BLOBS_BUCKET",
			}
		}
	default:
		return dserrors.ConfigError{
			Field:      "blobs.driver",
			Value:      d.Blobs.Driver,
			Message:    "unsupported blob store",
			Suggestion: "Use one of: memory, s3",
		}
	}

	switch d.LocalKey.Source {
	case "env", "keyring":
	case "file", "ssm":
		if d.LocalKey.Ref == "" {
			return dserrors.ConfigError{
				Field:   "local_key.ref",
				Message: fmt.Sprintf("the %s key source needs a ref", d.LocalKey.Source),
			}
		}
	default:
		return dserrors.ConfigError{
			Field:      "local_key.source",
			Value:      d.LocalKey.Source,
			Message:    "unsupported master key source",
			Suggestion: "Use one of: env, file, keyring, ssm",
		}
	}

	if d.Executor.Workers < 0 || d.Executor.Attempts < 0 || d.Queue.Workers < 0 || d.Queue.MaxDeliveries < 0 {
		return dserrors.ConfigError{
			Field:   "executor",
			Message: "worker and attempt counts must not be negative",
		}
	}

	switch d.ChangeLog.Driver {
	case "memory", "file":
	default:
		return dserrors.ConfigError{
			Field:      "change_log.driver",
			Value:      d.ChangeLog.Driver,
			Message:    "unsupported change log",
			Suggestion: "Use one of: memory, file",
		}
	}

	return d.validateManagers()
}

func (d *Definition) validateManagers() error {
	seen := make(map[string]bool)
	defaults := make(map[string]string)
	for i, m := range d.SecretManagers {
		field := fmt.Sprintf("secret_managers[%d]", i)
		if m.Name == "" {
			return dserrors.ConfigError{Field: field + ".name", Message: "secret manager name is required"}
		}
		if _, err := secret.ParseProviderType(m.Type); err != nil {
			return dserrors.ConfigError{
				Field:      field + ".type",
				Value:      m.Type,
				Message:    "unknown secret manager type",
				Suggestion: fmt.Sprintf("Use one of: %s", typeNames()),
			}
		}
		key := m.Tenant + "/" + m.Name
		if seen[key] {
			return dserrors.ConfigError{
				Field:   field + ".name",
				Value:   m.Name,
				Message: fmt.Sprintf("secret manager %s is defined twice for tenant %s", m.Name, m.Tenant),
			}
		}
		seen[key] = true
		if m.Default {
			if other, ok := defaults[m.Tenant]; ok {
				return dserrors.ConfigError{
					Field:   field + ".default",
					Value:   m.Name,
					Message: fmt.Sprintf("tenant %s already has default %s", m.Tenant, other),
				}
			}
			defaults[m.Tenant] = m.Name
		}
	}
	return nil
}

func typeNames() string {
	var names []string
	for _, t := range secret.AllProviderTypes() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
