package secret

import (
	"slices"
	"time"
)

// EncryptedRecord is the persisted unit holding a secret's ciphertext or
// reference together with the identity of the provider that owns it.
type EncryptedRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`

	ProviderType     ProviderType `json:"provider_type"`
	ProviderConfigID string       `json:"provider_config_id,omitempty"`

	// CipherRef is opaque to everything but the owning provider: a random key
	// id for LOCAL, a wrapped data key for KMS and CLOUD_KMS, a path or ARN for
	// the remote stores.
	CipherRef  string `json:"cipher_ref,omitempty"`
	Ciphertext []byte `json:"ciphertext,omitempty"`

	// Path is set when the record points at a secret owned outside secretops.
	Path string `json:"path,omitempty"`

	// BlobID locates file ciphertext in the blob store.
	BlobID string `json:"blob_id,omitempty"`

	IsFile   bool  `json:"is_file"`
	IsBase64 bool  `json:"is_base64"`
	ByteSize int64 `json:"byte_size"`

	Owners       []string           `json:"owners,omitempty"`
	Restrictions *UsageRestrictions `json:"restrictions,omitempty"`

	BackupSnapshot *Snapshot `json:"backup_snapshot,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot captures the provider identity and ciphertext of a record before a
// migration replaced them.
type Snapshot struct {
	ProviderType     ProviderType `json:"provider_type"`
	ProviderConfigID string       `json:"provider_config_id,omitempty"`
	CipherRef        string       `json:"cipher_ref,omitempty"`
	Ciphertext       []byte       `json:"ciphertext,omitempty"`
	Path             string       `json:"path,omitempty"`
	BlobID           string       `json:"blob_id,omitempty"`
	CapturedAt       time.Time    `json:"captured_at"`
}

// IsPathReference reports whether the record points at an external secret.
func (r *EncryptedRecord) IsPathReference() bool {
	return r.Path != ""
}

// HasOwners reports whether any entity still references the record.
func (r *EncryptedRecord) HasOwners() bool {
	return len(r.Owners) > 0
}

// AddOwner records ownerID as a referencing entity. It returns false when the
// owner was already present.
func (r *EncryptedRecord) AddOwner(ownerID string) bool {
	if slices.Contains(r.Owners, ownerID) {
		return false
	}
	r.Owners = append(r.Owners, ownerID)
	return true
}

// RemoveOwner drops ownerID. It returns false when the owner was absent.
func (r *EncryptedRecord) RemoveOwner(ownerID string) bool {
	idx := slices.Index(r.Owners, ownerID)
	if idx < 0 {
		return false
	}
	r.Owners = slices.Delete(r.Owners, idx, idx+1)
	return true
}

// SnapshotAt captures the current provider identity of the record.
func (r *EncryptedRecord) SnapshotAt(at time.Time) *Snapshot {
	return &Snapshot{
		ProviderType:     r.ProviderType,
		ProviderConfigID: r.ProviderConfigID,
		CipherRef:        r.CipherRef,
		Ciphertext:       slices.Clone(r.Ciphertext),
		Path:             r.Path,
		BlobID:           r.BlobID,
		CapturedAt:       at,
	}
}

// AsRecord returns a copy of base that carries the provider identity and
// value captured in the snapshot.
func (s *Snapshot) AsRecord(base *EncryptedRecord) *EncryptedRecord {
	out := base.Clone()
	out.ProviderType = s.ProviderType
	out.ProviderConfigID = s.ProviderConfigID
	out.CipherRef = s.CipherRef
	out.Ciphertext = slices.Clone(s.Ciphertext)
	out.Path = s.Path
	out.BlobID = s.BlobID
	out.BackupSnapshot = nil
	return out
}

// Clone returns a deep copy of the record.
func (r *EncryptedRecord) Clone() *EncryptedRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Ciphertext = slices.Clone(r.Ciphertext)
	out.Owners = slices.Clone(r.Owners)
	out.Restrictions = r.Restrictions.Clone()
	if r.BackupSnapshot != nil {
		snap := *r.BackupSnapshot
		snap.Ciphertext = slices.Clone(r.BackupSnapshot.Ciphertext)
		out.BackupSnapshot = &snap
	}
	return &out
}

// Masked returns a copy safe for display: ciphertext and locator are replaced
// by the Mask sentinel.
func (r *EncryptedRecord) Masked() *EncryptedRecord {
	out := r.Clone()
	out.CipherRef = Mask
	out.Ciphertext = []byte(Mask)
	if out.BlobID != "" {
		out.BlobID = Mask
	}
	if out.BackupSnapshot != nil {
		out.BackupSnapshot.CipherRef = Mask
		out.BackupSnapshot.Ciphertext = []byte(Mask)
	}
	return out
}

// SecretManagerConfig is a configured provider instance for a tenant.
//
// Sensitive fields never live in Settings. Each one is stored as its own
// LOCAL EncryptedRecord and referenced from Secrets by field name.
type SecretManagerConfig struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	ProviderType ProviderType      `json:"provider_type"`
	DisplayName  string            `json:"display_name"`
	IsDefault    bool              `json:"is_default"`
	Settings     map[string]string `json:"settings,omitempty"`
	Secrets      map[string]string `json:"secrets,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGlobal reports whether the config belongs to the reserved global tenant.
func (c *SecretManagerConfig) IsGlobal() bool {
	return c.TenantID == GlobalTenant
}

// Setting returns a non-sensitive setting or def when unset.
func (c *SecretManagerConfig) Setting(key, def string) string {
	if v, ok := c.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

// Clone returns a deep copy of the config.
func (c *SecretManagerConfig) Clone() *SecretManagerConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Settings = cloneMap(c.Settings)
	out.Secrets = cloneMap(c.Secrets)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TransitionTask asks the migration coordinator to move one secret from one
// provider to another. Tasks are idempotent by SecretID.
type TransitionTask struct {
	TenantID         string       `json:"tenant_id"`
	SecretID         string       `json:"secret_id"`
	FromProviderType ProviderType `json:"from_provider_type"`
	FromConfigID     string       `json:"from_config_id,omitempty"`
	ToProviderType   ProviderType `json:"to_provider_type"`
	ToConfigID       string       `json:"to_config_id,omitempty"`
}

// Key is the deduplication key of the task.
func (t TransitionTask) Key() string {
	return t.SecretID
}
