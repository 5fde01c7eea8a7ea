package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/pkg/secret"
)

// Dialect is the SQL flavour a SQLStore speaks.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS secret_records (
		id VARCHAR(64) PRIMARY KEY,
		tenant_id VARCHAR(128) NOT NULL,
		name VARCHAR(255) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		is_file BOOLEAN NOT NULL,
		provider_type VARCHAR(32) NOT NULL,
		provider_config_id VARCHAR(64) NOT NULL,
		owner_count INTEGER NOT NULL,
		version BIGINT NOT NULL,
		document TEXT NOT NULL,
		UNIQUE (tenant_id, kind, name)
	)`,
	`CREATE TABLE IF NOT EXISTS secret_manager_configs (
		id VARCHAR(64) PRIMARY KEY,
		tenant_id VARCHAR(128) NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		is_default BOOLEAN NOT NULL,
		version BIGINT NOT NULL,
		document TEXT NOT NULL,
		UNIQUE (tenant_id, display_name)
	)`,
}

const recordColumns = "version, document"

// SQLStore keeps each document as JSON next to the columns it is queried by.
// Version and the default flag live in columns and win over the JSON copy.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	if dialect == "" {
		dialect = Postgres
	}
	return &SQLStore{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates the tables when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites '?' placeholders for the dialect.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) scanRecord(row *sql.Row) (*secret.EncryptedRecord, error) {
	var (
		version int64
		doc     string
	)
	if err := row.Scan(&version, &doc); err != nil {
		return nil, err
	}
	var rec secret.EncryptedRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode secret document: %w", err)
	}
	rec.Version = version
	return &rec, nil
}

func (s *SQLStore) getRecord(ctx context.Context, q queryer, id string) (*secret.EncryptedRecord, error) {
	row := q.QueryRowContext(ctx, s.rebind("SELECT "+recordColumns+" FROM secret_records WHERE id = ?"), id)
	rec, err := s.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recordNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLStore) GetRecord(ctx context.Context, id string) (*secret.EncryptedRecord, error) {
	return s.getRecord(ctx, s.db, id)
}

func (s *SQLStore) FindRecord(ctx context.Context, tenantID string, kind secret.Kind, name string) (*secret.EncryptedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+recordColumns+" FROM secret_records WHERE tenant_id = ? AND kind = ? AND name = ?"),
		tenantID, string(kind), name)
	rec, err := s.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dserrors.NotFoundError{Resource: "secret", Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find secret %s: %w", name, err)
	}
	return rec, nil
}

func (q RecordQuery) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if q.TenantID != "" {
		add("tenant_id = ?", q.TenantID)
	}
	if q.Kind != "" {
		add("kind = ?", string(q.Kind))
	}
	if q.ProviderType != "" {
		add("provider_type = ?", string(q.ProviderType))
	}
	if q.ProviderConfigID != "" {
		add("provider_config_id = ?", q.ProviderConfigID)
	}
	if q.IsFile != nil {
		add("is_file = ?", *q.IsFile)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLStore) ListRecords(ctx context.Context, q RecordQuery) ([]*secret.EncryptedRecord, error) {
	where, args := q.where()
	query := "SELECT " + recordColumns + " FROM secret_records" + where + " ORDER BY name, id"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		if q.Limit <= 0 && s.dialect == MySQL {
			// MySQL has no OFFSET without LIMIT.
			query += " LIMIT 18446744073709551615"
		}
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*secret.EncryptedRecord{}
	for rows.Next() {
		var (
			version int64
			doc     string
		)
		if err := rows.Scan(&version, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan secret: %w", err)
		}
		var rec secret.EncryptedRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode secret document: %w", err)
		}
		rec.Version = version
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountRecords(ctx context.Context, q RecordQuery) (int, error) {
	where, args := q.where()
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM secret_records"+where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count secrets: %w", err)
	}
	return n, nil
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveRecord(ctx context.Context, rec *secret.EncryptedRecord) (*secret.EncryptedRecord, error) {
	stored := rec.Clone()
	now := s.now()
	create := stored.ID == "" || stored.Version == 0
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var other string
		err := tx.QueryRowContext(ctx,
			s.rebind("SELECT id FROM secret_records WHERE tenant_id = ? AND kind = ? AND name = ? AND id <> ?"),
			stored.TenantID, string(stored.Kind), stored.Name, stored.ID).Scan(&other)
		switch {
		case err == nil:
			return duplicateRecord(stored)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check secret name: %w", err)
		}

		if create {
			stored.Version = 1
			stored.CreatedAt = now
			stored.UpdatedAt = now
			doc, err := json.Marshal(stored)
			if err != nil {
				return fmt.Errorf("failed to encode secret document: %w", err)
			}
			_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO secret_records
				(id, tenant_id, name, kind, is_file, provider_type, provider_config_id, owner_count, version, document)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				stored.ID, stored.TenantID, stored.Name, string(stored.Kind), stored.IsFile,
				string(stored.ProviderType), stored.ProviderConfigID, len(stored.Owners), stored.Version, string(doc))
			if err != nil {
				return fmt.Errorf("failed to insert secret %s: %w", stored.Name, err)
			}
			return nil
		}

		current, err := s.getRecord(ctx, tx, stored.ID)
		if err != nil {
			return err
		}
		expected := stored.Version
		stored.Version = expected + 1
		stored.CreatedAt = current.CreatedAt
		stored.UpdatedAt = now
		doc, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to encode secret document: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE secret_records SET
			name = ?, kind = ?, is_file = ?, provider_type = ?, provider_config_id = ?, owner_count = ?, version = ?, document = ?
			WHERE id = ? AND version = ?`),
			stored.Name, string(stored.Kind), stored.IsFile, string(stored.ProviderType), stored.ProviderConfigID,
			len(stored.Owners), stored.Version, string(doc), stored.ID, expected)
		if err != nil {
			return fmt.Errorf("failed to update secret %s: %w", stored.Name, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return conflict("secret", stored.ID, expected)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLStore) DeleteRecord(ctx context.Context, id string, version int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM secret_records WHERE id = ? AND version = ? AND owner_count = 0"), id, version)
	if err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	current, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if current.Version != version {
		return conflict("secret", id, version)
	}
	return recordInUse(current)
}

func (s *SQLStore) scanConfig(scan func(dest ...any) error) (*secret.SecretManagerConfig, error) {
	var (
		isDefault bool
		version   int64
		doc       string
	)
	if err := scan(&isDefault, &version, &doc); err != nil {
		return nil, err
	}
	var cfg secret.SecretManagerConfig
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode secret manager document: %w", err)
	}
	cfg.IsDefault = isDefault
	cfg.Version = version
	return &cfg, nil
}

func (s *SQLStore) getConfig(ctx context.Context, q queryer, id string) (*secret.SecretManagerConfig, error) {
	row := q.QueryRowContext(ctx, s.rebind("SELECT is_default, version, document FROM secret_manager_configs WHERE id = ?"), id)
	cfg, err := s.scanConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, configNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret manager %s: %w", id, err)
	}
	return cfg, nil
}

func (s *SQLStore) GetConfig(ctx context.Context, id string) (*secret.SecretManagerConfig, error) {
	return s.getConfig(ctx, s.db, id)
}

func (s *SQLStore) ListConfigs(ctx context.Context, tenantID string) ([]*secret.SecretManagerConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT is_default, version, document FROM secret_manager_configs WHERE tenant_id = ? ORDER BY display_name, id"),
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list secret managers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*secret.SecretManagerConfig
	for rows.Next() {
		cfg, err := s.scanConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveConfig(ctx context.Context, cfg *secret.SecretManagerConfig) (*secret.SecretManagerConfig, error) {
	stored := cfg.Clone()
	now := s.now()
	create := stored.ID == "" || stored.Version == 0
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var other string
		err := tx.QueryRowContext(ctx,
			s.rebind("SELECT id FROM secret_manager_configs WHERE tenant_id = ? AND display_name = ? AND id <> ?"),
			stored.TenantID, stored.DisplayName, stored.ID).Scan(&other)
		switch {
		case err == nil:
			return dserrors.DuplicateNameError{Resource: "secret manager", Name: stored.DisplayName, TenantID: stored.TenantID}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check secret manager name: %w", err)
		}

		if stored.IsDefault {
			if _, err := tx.ExecContext(ctx,
				s.rebind("UPDATE secret_manager_configs SET is_default = ?, version = version + 1 WHERE tenant_id = ? AND id <> ? AND is_default = ?"),
				false, stored.TenantID, stored.ID, true); err != nil {
				return fmt.Errorf("failed to clear default secret managers: %w", err)
			}
		}

		if create {
			stored.Version = 1
			stored.CreatedAt = now
			stored.UpdatedAt = now
			doc, err := json.Marshal(stored)
			if err != nil {
				return fmt.Errorf("failed to encode secret manager document: %w", err)
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO secret_manager_configs
				(id, tenant_id, display_name, is_default, version, document) VALUES (?, ?, ?, ?, ?, ?)`),
				stored.ID, stored.TenantID, stored.DisplayName, stored.IsDefault, stored.Version, string(doc)); err != nil {
				return fmt.Errorf("failed to insert secret manager %s: %w", stored.DisplayName, err)
			}
			return nil
		}

		current, err := s.getConfig(ctx, tx, stored.ID)
		if err != nil {
			return err
		}
		expected := stored.Version
		stored.Version = expected + 1
		stored.CreatedAt = current.CreatedAt
		stored.UpdatedAt = now
		doc, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to encode secret manager document: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE secret_manager_configs SET
			display_name = ?, is_default = ?, version = ?, document = ? WHERE id = ? AND version = ?`),
			stored.DisplayName, stored.IsDefault, stored.Version, string(doc), stored.ID, expected)
		if err != nil {
			return fmt.Errorf("failed to update secret manager %s: %w", stored.DisplayName, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return conflict("secret manager", stored.ID, expected)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLStore) DeleteConfig(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cfg, err := s.getConfig(ctx, tx, id)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, s.rebind("SELECT name FROM secret_records WHERE provider_config_id = ? ORDER BY name"), id)
		if err != nil {
			return fmt.Errorf("failed to check secret manager references: %w", err)
		}
		var refs []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan reference: %w", err)
			}
			refs = append(refs, name)
		}
		_ = rows.Close()
		if len(refs) > 0 {
			return dserrors.InUseError{Resource: "secret manager", ID: id, Name: cfg.DisplayName, References: refs}
		}

		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM secret_manager_configs WHERE id = ?"), id); err != nil {
			return fmt.Errorf("failed to delete secret manager %s: %w", id, err)
		}
		return nil
	})
}
