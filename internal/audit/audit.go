// Package audit records the change log of secrets.
package audit

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Change-log messages. Several changes in one update are joined with " & ".
const (
	MsgCreated             = "Created"
	MsgChangedName         = "Changed name"
	MsgChangedValue        = "Changed value"
	MsgChangedPath         = "Changed path"
	MsgChangedRestrictions = "Changed usage restrictions"
	MsgMigrated            = "Migrated"
	MsgRolledBack          = "Rolled back"
	MsgDeleted             = "Deleted"
)

// JoinMessages joins change descriptions the way the change log displays them.
func JoinMessages(msgs []string) string {
	return strings.Join(msgs, " & ")
}

// Entry is one change-log line.
type Entry struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	TenantID   string            `json:"tenant_id"`
	SecretID   string            `json:"secret_id"`
	SecretName string            `json:"secret_name"`
	Message    string            `json:"message"`
	Actor      string            `json:"actor,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ChangeLog stores change-log entries per secret.
type ChangeLog interface {
	Record(ctx context.Context, entry Entry) error

	// List returns entries for a secret, newest first. limit <= 0 means all.
	List(ctx context.Context, tenantID, secretID string, limit int) ([]Entry, error)

	Count(ctx context.Context, tenantID, secretID string) (int, error)

	// Cleanup removes entries older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

func prepare(entry *Entry, now time.Time) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
}

// newestFirst orders entries by timestamp, later writes first on ties.
func newestFirst(entries []Entry) {
	slices.Reverse(entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

// MemoryLog keeps entries in process.
type MemoryLog struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	now     func() time.Time
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]Entry), now: time.Now}
}

func memoryKey(tenantID, secretID string) string {
	return tenantID + "/" + secretID
}

func (m *MemoryLog) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepare(&entry, m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(entry.TenantID, entry.SecretID)
	m.entries[key] = append(m.entries[key], entry)
	return nil
}

func (m *MemoryLog) List(ctx context.Context, tenantID, secretID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := append([]Entry(nil), m.entries[memoryKey(tenantID, secretID)]...)
	m.mu.RUnlock()

	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLog) Count(ctx context.Context, tenantID, secretID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[memoryKey(tenantID, secretID)]), nil
}

func (m *MemoryLog) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cutoff := m.now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entries := range m.entries {
		kept := entries[:0]
		for _, e := range entries {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		m.entries[key] = kept
	}
	return nil
}
