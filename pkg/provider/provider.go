package provider

import (
	"context"
	"strings"

	"github.com/systmms/secretops/pkg/secret"
)

// Provider encrypts and decrypts values for one configured provider instance.
type Provider interface {
	// Type returns the provider type. It never changes for an instance.
	Type() secret.ProviderType

	// ConfigID returns the id of the SecretManagerConfig this instance was
	// built from. It is empty for the implicit LOCAL provider.
	ConfigID() string

	// Capabilities describes what the provider supports.
	Capabilities() Capabilities

	// Encrypt produces a record holding req's value or path reference. The
	// returned record has ProviderType, ProviderConfigID and CipherRef set. When
	// req.Existing is present its identity fields are kept and its CipherRef
	// may be reused for an update in place.
	Encrypt(ctx context.Context, req EncryptRequest) (*secret.EncryptedRecord, error)

	// Decrypt returns the plaintext behind rec.
	Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error)
}

// RemoteDeleter is implemented by providers that keep values in an external
// store and can remove them.
type RemoteDeleter interface {
	DeleteRemote(ctx context.Context, rec *secret.EncryptedRecord) error
}

// NameValidator is implemented by providers with restricted naming rules.
type NameValidator interface {
	ValidateName(name string) error
}

// EncryptRequest describes one encrypt call.
type EncryptRequest struct {
	TenantID string
	Name     string

	// Plaintext is the value to protect. Nil or empty yields an empty record.
	Plaintext []byte

	// Path, when set, makes the result a path reference.
	Path string

	// Existing is the record being updated, if any.
	Existing *secret.EncryptedRecord
}

// IsPathReference reports whether the request references an external secret.
func (r EncryptRequest) IsPathReference() bool {
	return r.Path != ""
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	// StoresRemotely is true when values live in the external system.
	StoresRemotely bool

	// InlineValues is false for providers that can only reference existing
	// secrets.
	InlineValues bool

	// PathReferences is true when Path is accepted.
	PathReferences bool

	// KeyedPaths is true when a path must name a key inside the secret
	// ("path#key").
	KeyedPaths bool

	// Files is false when the provider refuses file-backed secrets.
	Files bool

	// Network is true when calls leave the process.
	Network bool
}

// Config is a SecretManagerConfig with its credential records decrypted.
type Config struct {
	*secret.SecretManagerConfig

	// Credentials holds decrypted sensitive fields by name.
	Credentials map[string]string
}

// Credential returns a decrypted credential or "".
func (c Config) Credential(name string) string {
	return c.Credentials[name]
}

// ID returns the config id or "" for a nil config.
func (c Config) ID() string {
	if c.SecretManagerConfig == nil {
		return ""
	}
	return c.SecretManagerConfig.ID
}

// Setting returns a non-sensitive setting or def.
func (c Config) Setting(key, def string) string {
	if c.SecretManagerConfig == nil {
		return def
	}
	return c.SecretManagerConfig.Setting(key, def)
}

// KeySeparator splits a path reference into secret path and key.
const KeySeparator = "#"

// SplitPath splits "path#key" into its parts. key is empty when absent.
func SplitPath(ref string) (path, key string) {
	if idx := strings.LastIndex(ref, KeySeparator); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, ""
}

// NewRecord builds the record an Encrypt call returns, keeping the identity of
// req.Existing when present.
func NewRecord(p Provider, req EncryptRequest) *secret.EncryptedRecord {
	var rec *secret.EncryptedRecord
	if req.Existing != nil {
		rec = req.Existing.Clone()
	} else {
		rec = &secret.EncryptedRecord{TenantID: req.TenantID, Name: req.Name}
	}
	if req.Name != "" {
		rec.Name = req.Name
	}
	if !OwnedBy(p, req.Existing) {
		rec.CipherRef = ""
	}
	rec.ProviderType = p.Type()
	rec.ProviderConfigID = p.ConfigID()
	rec.Path = req.Path
	rec.Ciphertext = nil
	return rec
}

// OwnedBy reports whether rec was produced by the same provider instance as p,
// so that its CipherRef can be reused.
func OwnedBy(p Provider, rec *secret.EncryptedRecord) bool {
	return rec != nil && rec.ProviderType == p.Type() && rec.ProviderConfigID == p.ConfigID()
}
