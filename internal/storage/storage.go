// Package storage persists EncryptedRecord and SecretManagerConfig documents.
//
// Every write is conditioned on the Version the caller observed. A create is a
// save with an empty ID; an update must carry the stored Version and fails
// with ErrConflict when another writer got there first. Reference checks that
// guard deletion run inside the store at delete time.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// SQL drivers selectable through Open.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/pkg/secret"
)

// ErrConflict is returned when a conditioned write observed a stale version.
var ErrConflict = errors.New("version conflict")

// IsConflict reports whether err is or wraps ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func conflict(resource, id string, expected int64) error {
	return fmt.Errorf("%s %s at version %d: %w", resource, id, expected, ErrConflict)
}

// RecordQuery filters ListRecords. Zero fields do not filter.
type RecordQuery struct {
	TenantID         string
	Kind             secret.Kind
	ProviderType     secret.ProviderType
	ProviderConfigID string
	IsFile           *bool

	Offset int
	Limit  int
}

func (q RecordQuery) matches(r *secret.EncryptedRecord) bool {
	if q.TenantID != "" && r.TenantID != q.TenantID {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.ProviderType != "" && r.ProviderType != q.ProviderType {
		return false
	}
	if q.ProviderConfigID != "" && r.ProviderConfigID != q.ProviderConfigID {
		return false
	}
	if q.IsFile != nil && r.IsFile != *q.IsFile {
		return false
	}
	return true
}

// RecordStore persists encrypted records.
type RecordStore interface {
	// GetRecord returns NotFoundError when id is unknown.
	GetRecord(ctx context.Context, id string) (*secret.EncryptedRecord, error)

	// FindRecord looks a record up by its unique (tenant, kind, name) key.
	FindRecord(ctx context.Context, tenantID string, kind secret.Kind, name string) (*secret.EncryptedRecord, error)

	// ListRecords returns matching records ordered by name, then id.
	ListRecords(ctx context.Context, q RecordQuery) ([]*secret.EncryptedRecord, error)

	// CountRecords ignores Offset and Limit.
	CountRecords(ctx context.Context, q RecordQuery) (int, error)

	// SaveRecord creates rec when its ID is empty, otherwise updates it if the
	// stored Version equals rec.Version. The stored copy is returned.
	SaveRecord(ctx context.Context, rec *secret.EncryptedRecord) (*secret.EncryptedRecord, error)

	// DeleteRecord removes the record at version. It fails with InUseError
	// while the record has owners.
	DeleteRecord(ctx context.Context, id string, version int64) error
}

// ConfigStore persists secret manager configs.
type ConfigStore interface {
	GetConfig(ctx context.Context, id string) (*secret.SecretManagerConfig, error)

	// ListConfigs returns the configs of one tenant ordered by display name.
	ListConfigs(ctx context.Context, tenantID string) ([]*secret.SecretManagerConfig, error)

	// SaveConfig creates or version-checks an update like SaveRecord. When
	// cfg.IsDefault is set, every other config of the tenant loses its default
	// flag in the same write.
	SaveConfig(ctx context.Context, cfg *secret.SecretManagerConfig) (*secret.SecretManagerConfig, error)

	// DeleteConfig fails with InUseError while any record references id.
	DeleteConfig(ctx context.Context, id string) error
}

// Store is the document store used by the registry, the secret store and the
// migration coordinator.
type Store interface {
	RecordStore
	ConfigStore
	Close() error
}

// Options selects a store implementation.
type Options struct {
	// Driver is memory, postgres, postgresql, mysql or mariadb.
	Driver string
	DSN    string
}

var driverMap = map[string]string{
	"postgresql": "postgres",
	"postgres":   "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

// Open builds the store named by opts.Driver. SQL stores have their schema
// created before Open returns.
func Open(ctx context.Context, opts Options) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Driver))
	if name == "" || name == "memory" {
		return NewMemoryStore(), nil
	}

	driver, ok := driverMap[name]
	if !ok {
		return nil, dserrors.ConfigError{
			Field:      "storage.driver",
			Value:      opts.Driver,
			Message:    "unsupported storage driver",
			Suggestion: "Use one of: memory, postgres, mysql",
		}
	}
	if opts.DSN == "" {
		return nil, dserrors.ConfigError{
			Field:      "storage.dsn",
			Message:    "a DSN is required for SQL storage",
			Suggestion: "Set storage.dsn or SECRETOPS_STORAGE_DSN",
		}
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	store := NewSQLStore(db, Dialect(driver))
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func recordNotFound(id string) error {
	return dserrors.NotFoundError{Resource: "secret", ID: id}
}

func configNotFound(id string) error {
	return dserrors.NotFoundError{Resource: "secret manager", ID: id}
}

func duplicateRecord(rec *secret.EncryptedRecord) error {
	resource := "secret"
	if rec.IsFile {
		resource = "file"
	}
	return dserrors.DuplicateNameError{Resource: resource, Name: rec.Name, TenantID: rec.TenantID}
}

func recordInUse(rec *secret.EncryptedRecord) error {
	return dserrors.InUseError{Resource: "secret", ID: rec.ID, Name: rec.Name, References: append([]string(nil), rec.Owners...)}
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
