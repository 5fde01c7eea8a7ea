package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/pkg/secret"
)

func newMockStore(t *testing.T, dialect Dialect) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, dialect), mock
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func recordDoc(t *testing.T, rec *secret.EncryptedRecord) string {
	t.Helper()
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(b)
}

func TestSQLStore_Rebind(t *testing.T) {
	t.Parallel()

	pg := NewSQLStore(nil, Postgres)
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	my := NewSQLStore(nil, MySQL)
	assert.Equal(t, "a = ? AND b = ?", my.rebind("a = ? AND b = ?"))
}

func TestSQLStore_Migrate(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, Postgres)
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS secret_records")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS secret_manager_configs")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(mock sqlmock.Sqlmock)
		notFound bool
	}{
		{
			name: "found",
			setup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"version", "document"}).
					AddRow(int64(4), recordDoc(t, &secret.EncryptedRecord{ID: "r1", Name: "db-pass", Version: 1}))
				mock.ExpectQuery(q("FROM secret_records WHERE id = $1")).WithArgs("r1").WillReturnRows(rows)
			},
		},
		{
			name: "missing",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(q("FROM secret_records WHERE id = $1")).WithArgs("r1").WillReturnError(sql.ErrNoRows)
			},
			notFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, mock := newMockStore(t, Postgres)
			tt.setup(mock)

			rec, err := s.GetRecord(context.Background(), "r1")
			if tt.notFound {
				assert.True(t, dserrors.IsNotFound(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, "db-pass", rec.Name)
				assert.Equal(t, int64(4), rec.Version, "column version wins")
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_SaveRecordCreate(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, MySQL)
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id FROM secret_records WHERE tenant_id = ? AND kind = ? AND name = ? AND id <> ?")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(q("INSERT INTO secret_records")).
		WithArgs(sqlmock.AnyArg(), "t1", "db-pass", "SECRET_TEXT", false, "LOCAL", "", 0, int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	saved, err := s.SaveRecord(context.Background(), newRecord("t1", "db-pass"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, int64(1), saved.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveRecordDuplicate(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, Postgres)
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id FROM secret_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("other"))
	mock.ExpectRollback()

	_, err := s.SaveRecord(context.Background(), newRecord("t1", "db-pass"))
	assert.True(t, dserrors.IsDuplicate(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveRecordConflict(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, Postgres)
	rec := newRecord("t1", "db-pass")
	rec.ID = "r1"
	rec.Version = 2

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id FROM secret_records")).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q("FROM secret_records WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "document"}).AddRow(int64(3), recordDoc(t, rec)))
	mock.ExpectExec(q("UPDATE secret_records SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.SaveRecord(context.Background(), rec)
	assert.True(t, IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteRecord(t *testing.T) {
	t.Parallel()

	owned := &secret.EncryptedRecord{ID: "r1", Name: "db-pass", Owners: []string{"app-1"}}

	tests := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
		check func(t *testing.T, err error)
	}{
		{
			name: "deleted",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("DELETE FROM secret_records WHERE id = $1 AND version = $2 AND owner_count = 0")).
					WithArgs("r1", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
			},
			check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name: "owned",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("DELETE FROM secret_records")).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(q("FROM secret_records WHERE id = $1")).
					WillReturnRows(sqlmock.NewRows([]string{"version", "document"}).AddRow(int64(2), recordDoc(t, owned)))
			},
			check: func(t *testing.T, err error) { assert.True(t, dserrors.IsInUse(err)) },
		},
		{
			name: "stale",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("DELETE FROM secret_records")).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(q("FROM secret_records WHERE id = $1")).
					WillReturnRows(sqlmock.NewRows([]string{"version", "document"}).AddRow(int64(5), recordDoc(t, owned)))
			},
			check: func(t *testing.T, err error) { assert.True(t, IsConflict(err)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, mock := newMockStore(t, Postgres)
			tt.setup(mock)
			tt.check(t, s.DeleteRecord(context.Background(), "r1", 2))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_ListRecords(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, Postgres)
	rows := sqlmock.NewRows([]string{"version", "document"}).
		AddRow(int64(1), recordDoc(t, &secret.EncryptedRecord{ID: "a", Name: "a"})).
		AddRow(int64(1), recordDoc(t, &secret.EncryptedRecord{ID: "b", Name: "b"}))
	mock.ExpectQuery(q("FROM secret_records WHERE tenant_id = $1 AND provider_config_id = $2 ORDER BY name, id LIMIT 2 OFFSET 4")).
		WithArgs("t1", "v1").WillReturnRows(rows)

	got, err := s.ListRecords(context.Background(), RecordQuery{TenantID: "t1", ProviderConfigID: "v1", Offset: 4, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveConfigDefault(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, Postgres)
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id FROM secret_manager_configs")).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(q("UPDATE secret_manager_configs SET is_default = $1, version = version + 1 WHERE tenant_id = $2 AND id <> $3 AND is_default = $4")).
		WithArgs(false, "t1", sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO secret_manager_configs")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	cfg, err := s.SaveConfig(context.Background(), &secret.SecretManagerConfig{TenantID: "t1", ProviderType: secret.Vault, DisplayName: "vault", IsDefault: true})
	require.NoError(t, err)
	assert.True(t, cfg.IsDefault)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteConfigInUse(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, Postgres)
	doc, err := json.Marshal(&secret.SecretManagerConfig{ID: "v1", DisplayName: "vault"})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM secret_manager_configs WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"is_default", "version", "document"}).AddRow(false, int64(1), string(doc)))
	mock.ExpectQuery(q("SELECT name FROM secret_records WHERE provider_config_id = $1")).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("db-pass").AddRow("api-key"))
	mock.ExpectRollback()

	err = s.DeleteConfig(context.Background(), "v1")
	var inUse dserrors.InUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, "vault", inUse.Name)
	assert.Equal(t, []string{"db-pass", "api-key"}, inUse.References)
	assert.NoError(t, mock.ExpectationsWereMet())
}
