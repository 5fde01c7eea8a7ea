package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/pkg/secret"
)

// MemoryStore keeps documents in process. It is safe for concurrent use and
// returns copies so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*secret.EncryptedRecord
	configs map[string]*secret.SecretManagerConfig
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*secret.EncryptedRecord),
		configs: make(map[string]*secret.SecretManagerConfig),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetRecord(ctx context.Context, id string) (*secret.EncryptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, recordNotFound(id)
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) FindRecord(ctx context.Context, tenantID string, kind secret.Kind, name string) (*secret.EncryptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec := m.findLocked(tenantID, kind, name, ""); rec != nil {
		return rec.Clone(), nil
	}
	return nil, dserrors.NotFoundError{Resource: "secret", Name: name}
}

func (m *MemoryStore) findLocked(tenantID string, kind secret.Kind, name, exceptID string) *secret.EncryptedRecord {
	for _, rec := range m.records {
		if rec.ID != exceptID && rec.TenantID == tenantID && rec.Kind == kind && rec.Name == name {
			return rec
		}
	}
	return nil
}

func (m *MemoryStore) matching(q RecordQuery) []*secret.EncryptedRecord {
	var out []*secret.EncryptedRecord
	for _, rec := range m.records {
		if q.matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) ListRecords(ctx context.Context, q RecordQuery) ([]*secret.EncryptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := page(m.matching(q), q.Offset, q.Limit)
	out := make([]*secret.EncryptedRecord, len(matched))
	for i, rec := range matched {
		out[i] = rec.Clone()
	}
	return out, nil
}

func (m *MemoryStore) CountRecords(ctx context.Context, q RecordQuery) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matching(q)), nil
}

func (m *MemoryStore) SaveRecord(ctx context.Context, rec *secret.EncryptedRecord) (*secret.EncryptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stored := rec.Clone()
	if stored.ID == "" {
		if m.findLocked(stored.TenantID, stored.Kind, stored.Name, "") != nil {
			return nil, duplicateRecord(stored)
		}
		stored.ID = uuid.NewString()
		stored.Version = 1
		stored.CreatedAt = now
		stored.UpdatedAt = now
		m.records[stored.ID] = stored
		return stored.Clone(), nil
	}

	current, ok := m.records[stored.ID]
	if !ok {
		// Explicit ids are allowed for imports: treat as create.
		if stored.Version != 0 {
			return nil, recordNotFound(stored.ID)
		}
		if m.findLocked(stored.TenantID, stored.Kind, stored.Name, "") != nil {
			return nil, duplicateRecord(stored)
		}
		stored.Version = 1
		stored.CreatedAt = now
		stored.UpdatedAt = now
		m.records[stored.ID] = stored
		return stored.Clone(), nil
	}
	if current.Version != stored.Version {
		return nil, conflict("secret", stored.ID, stored.Version)
	}
	if m.findLocked(stored.TenantID, stored.Kind, stored.Name, stored.ID) != nil {
		return nil, duplicateRecord(stored)
	}
	stored.Version = current.Version + 1
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = now
	m.records[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *MemoryStore) DeleteRecord(ctx context.Context, id string, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[id]
	if !ok {
		return recordNotFound(id)
	}
	if current.Version != version {
		return conflict("secret", id, version)
	}
	if current.HasOwners() {
		return recordInUse(current)
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) GetConfig(ctx context.Context, id string) (*secret.SecretManagerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[id]
	if !ok {
		return nil, configNotFound(id)
	}
	return cfg.Clone(), nil
}

func (m *MemoryStore) ListConfigs(ctx context.Context, tenantID string) ([]*secret.SecretManagerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*secret.SecretManagerConfig
	for _, cfg := range m.configs {
		if cfg.TenantID == tenantID {
			out = append(out, cfg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) SaveConfig(ctx context.Context, cfg *secret.SecretManagerConfig) (*secret.SecretManagerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.configs {
		if other.ID != cfg.ID && other.TenantID == cfg.TenantID && other.DisplayName == cfg.DisplayName {
			return nil, dserrors.DuplicateNameError{Resource: "secret manager", Name: cfg.DisplayName, TenantID: cfg.TenantID}
		}
	}

	now := m.now()
	stored := cfg.Clone()
	current, exists := m.configs[stored.ID]
	switch {
	case stored.ID == "":
		stored.ID = uuid.NewString()
		fallthrough
	case !exists && stored.Version == 0:
		stored.Version = 1
		stored.CreatedAt = now
	case !exists:
		return nil, configNotFound(stored.ID)
	case current.Version != stored.Version:
		return nil, conflict("secret manager", stored.ID, stored.Version)
	default:
		stored.Version = current.Version + 1
		stored.CreatedAt = current.CreatedAt
	}
	stored.UpdatedAt = now

	if stored.IsDefault {
		for _, other := range m.configs {
			if other.ID != stored.ID && other.TenantID == stored.TenantID && other.IsDefault {
				other.IsDefault = false
				other.Version++
				other.UpdatedAt = now
			}
		}
	}
	m.configs[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *MemoryStore) DeleteConfig(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[id]
	if !ok {
		return configNotFound(id)
	}
	var refs []string
	for _, rec := range m.records {
		if rec.ProviderConfigID == id {
			refs = append(refs, rec.Name)
		}
	}
	if len(refs) > 0 {
		sort.Strings(refs)
		return dserrors.InUseError{Resource: "secret manager", ID: id, Name: cfg.DisplayName, References: refs}
	}
	delete(m.configs, id)
	return nil
}
