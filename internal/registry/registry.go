// Package registry manages secret manager configs: per-tenant CRUD, the
// single-default invariant, default resolution with the global fallback and
// the credential records that protect each config's sensitive fields.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/providers"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

const (
	// CanaryValue is encrypted and decrypted through a config before it is
	// saved.
	CanaryValue = "secretops-validation"

	// ImplicitLocalName is the display name of the implicit global LOCAL
	// config.
	ImplicitLocalName = "Secretops Local"
)

// ImplicitLocal returns the config used when neither the tenant nor the
// global tenant has any config. It has no id and is never persisted.
func ImplicitLocal() *secret.SecretManagerConfig {
	return &secret.SecretManagerConfig{
		TenantID:     secret.GlobalTenant,
		ProviderType: secret.Local,
		DisplayName:  ImplicitLocalName,
		IsDefault:    true,
	}
}

// IsImplicitLocal reports whether cfg is the implicit global LOCAL config.
func IsImplicitLocal(cfg *secret.SecretManagerConfig) bool {
	return cfg != nil && cfg.ID == "" && cfg.ProviderType == secret.Local
}

// Option configures a Registry.
type Option func(*Registry)

// WithoutValidation disables the canary round trip on Save.
func WithoutValidation() Option {
	return func(r *Registry) { r.validate = false }
}

// WithLocalFallback controls whether ResolveDefault falls back to the
// implicit global LOCAL config. It is on by default.
func WithLocalFallback(enabled bool) Option {
	return func(r *Registry) { r.localFallback = enabled }
}

// Registry is the secret manager registry.
type Registry struct {
	store         storage.Store
	providers     *providers.Registry
	logger        *logging.Logger
	validate      bool
	localFallback bool

	mu    sync.Mutex
	cache map[string]provider.Provider

	// fallbackLogged remembers tenants already told about the implicit
	// LOCAL fallback.
	fallbackLogged sync.Map
}

// New creates a registry over store. Providers are built through factories.
func New(store storage.Store, factories *providers.Registry, logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Registry{
		store:         store,
		providers:     factories,
		logger:        logger.Named("registry"),
		validate:      true,
		localFallback: true,
		cache:         make(map[string]provider.Provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the document store behind the registry.
func (r *Registry) Store() storage.Store {
	return r.store
}

// ResolveDefault returns the effective default config for tenantID: the
// tenant's default, else the global default, else a global config marked
// default for this read, else the implicit global LOCAL config.
func (r *Registry) ResolveDefault(ctx context.Context, tenantID string) (*secret.SecretManagerConfig, error) {
	if tenantID != secret.GlobalTenant {
		own, err := r.store.ListConfigs(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if cfg := defaultOf(own); cfg != nil {
			return cfg, nil
		}
	}

	globals, err := r.store.ListConfigs(ctx, secret.GlobalTenant)
	if err != nil {
		return nil, err
	}
	if cfg := defaultOf(globals); cfg != nil {
		return cfg, nil
	}
	if len(globals) > 0 {
		pick := globals[0]
		for _, cfg := range globals {
			if cfg.ProviderType == secret.Local {
				pick = cfg
				break
			}
		}
		pick.IsDefault = true
		r.logger.Debug("No default for tenant %s, using global config %s", tenantID, pick.DisplayName)
		return pick, nil
	}

	if !r.localFallback {
		return nil, dserrors.NotFoundError{Resource: "default secret manager", ID: tenantID}
	}
	if _, seen := r.fallbackLogged.LoadOrStore(tenantID, true); !seen {
		r.logger.Info("No secret manager configured for tenant %s, falling back to implicit global LOCAL", tenantID)
	}
	return ImplicitLocal(), nil
}

func defaultOf(cfgs []*secret.SecretManagerConfig) *secret.SecretManagerConfig {
	for _, cfg := range cfgs {
		if cfg.IsDefault {
			return cfg
		}
	}
	return nil
}

// Get returns a config visible to tenantID: one of its own or a global one.
// An empty id resolves to the implicit global LOCAL config.
func (r *Registry) Get(ctx context.Context, tenantID, id string) (*secret.SecretManagerConfig, error) {
	if id == "" {
		return ImplicitLocal(), nil
	}
	cfg, err := r.store.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.TenantID != tenantID && !cfg.IsGlobal() {
		return nil, dserrors.NotFoundError{Resource: "secret manager", ID: id}
	}
	return cfg, nil
}

// List returns the configs of tenantID followed by the global ones. When the
// tenant has no default, the resolved global default is flagged in the result.
// With mask set, credentials are replaced by the Mask sentinel; otherwise they
// are decrypted.
func (r *Registry) List(ctx context.Context, tenantID string, mask bool) ([]provider.Config, error) {
	cfgs, err := r.store.ListConfigs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenantID != secret.GlobalTenant {
		globals, err := r.store.ListConfigs(ctx, secret.GlobalTenant)
		if err != nil {
			return nil, err
		}
		if defaultOf(cfgs) == nil && len(globals) > 0 {
			resolved, err := r.ResolveDefault(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			for _, g := range globals {
				g.IsDefault = g.ID == resolved.ID
			}
		} else {
			for _, g := range globals {
				g.IsDefault = false
			}
		}
		cfgs = append(cfgs, globals...)
	}

	out := make([]provider.Config, 0, len(cfgs))
	for _, cfg := range cfgs {
		creds := make(map[string]string, len(cfg.Secrets))
		if mask {
			for field := range cfg.Secrets {
				creds[field] = secret.Mask
			}
		} else {
			creds, err = r.credentials(ctx, cfg)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, provider.Config{SecretManagerConfig: cfg, Credentials: creds})
	}
	return out, nil
}

// Save validates and persists cfg. Credentials hold plaintext values or the
// Mask sentinel, which keeps the stored credential record. Fields missing
// from Credentials are removed. Unless every credential is masked and the
// settings are unchanged, the config must pass a canary round trip first.
func (r *Registry) Save(ctx context.Context, cfg provider.Config) (*secret.SecretManagerConfig, error) {
	if cfg.SecretManagerConfig == nil {
		return nil, dserrors.ValidationError{Field: "config", Message: "config is required"}
	}
	in := cfg.SecretManagerConfig.Clone()
	if err := r.validateShape(in, cfg.Credentials); err != nil {
		return nil, err
	}

	existing, err := r.existing(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := r.checkDisplayName(ctx, in); err != nil {
		return nil, err
	}

	resolved, unchanged, err := r.resolveCredentials(ctx, existing, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	if existing != nil && unchanged && maps.Equal(existing.Settings, in.Settings) {
		r.logger.Debug("Credentials of %s unchanged, skipping validation", in.DisplayName)
	} else if r.validate {
		if err := r.ValidateConfig(ctx, provider.Config{SecretManagerConfig: in, Credentials: resolved}); err != nil {
			return nil, err
		}
	}

	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	writes, err := r.storeCredentials(ctx, in, existing, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	secrets := writes.fields
	in.Secrets = secrets

	saved, err := r.store.SaveConfig(ctx, in)
	if err != nil {
		r.undoCredentials(ctx, in.ID, writes)
		return nil, err
	}

	if existing != nil {
		for field, id := range existing.Secrets {
			if _, kept := secrets[field]; !kept {
				r.deleteCredential(ctx, id, saved.ID)
			}
		}
		r.evict(saved.ID)
	}

	if saved.IsDefault {
		if err := r.verifyDefault(ctx, saved); err != nil {
			return nil, err
		}
	}
	r.logger.Info("Saved secret manager %s (%s) for tenant %s", saved.DisplayName, saved.ProviderType, saved.TenantID)
	return saved, nil
}

func (r *Registry) validateShape(cfg *secret.SecretManagerConfig, creds map[string]string) error {
	if cfg.TenantID == "" {
		return dserrors.ValidationError{Field: "tenant_id", Message: "tenant is required"}
	}
	if strings.TrimSpace(cfg.DisplayName) == "" {
		return dserrors.ValidationError{Field: "display_name", Message: "name is required"}
	}
	if !cfg.ProviderType.Valid() {
		return dserrors.ValidationError{Field: "provider_type", Value: string(cfg.ProviderType), Message: "unknown provider type"}
	}
	if !r.providers.IsSupported(cfg.ProviderType) {
		return dserrors.UnsupportedOperationError{ProviderType: string(cfg.ProviderType), Operation: "save secret manager", Reason: "no provider registered"}
	}
	return ValidateSettings(cfg.ProviderType, cfg.Settings, creds)
}

// existing loads the stored version of cfg for an update, or nil for a new
// config. A caller version of 0 means "latest".
func (r *Registry) existing(ctx context.Context, cfg *secret.SecretManagerConfig) (*secret.SecretManagerConfig, error) {
	if cfg.ID == "" {
		return nil, nil
	}
	current, err := r.store.GetConfig(ctx, cfg.ID)
	if dserrors.IsNotFound(err) && cfg.Version == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if current.TenantID != cfg.TenantID {
		return nil, dserrors.NotFoundError{Resource: "secret manager", ID: cfg.ID}
	}
	if current.ProviderType != cfg.ProviderType {
		return nil, dserrors.ValidationError{
			Field:   "provider_type",
			Value:   string(cfg.ProviderType),
			Message: fmt.Sprintf("can not change the provider type of %s from %s", current.DisplayName, current.ProviderType),
		}
	}
	if cfg.Version == 0 {
		cfg.Version = current.Version
	}
	return current, nil
}

func (r *Registry) checkDisplayName(ctx context.Context, cfg *secret.SecretManagerConfig) error {
	others, err := r.store.ListConfigs(ctx, cfg.TenantID)
	if err != nil {
		return err
	}
	for _, other := range others {
		if other.ID != cfg.ID && other.DisplayName == cfg.DisplayName {
			return dserrors.DuplicateNameError{Resource: "secret manager", Name: cfg.DisplayName, TenantID: cfg.TenantID}
		}
	}
	return nil
}

// resolveCredentials returns the plaintext credential set to validate with,
// decrypting masked fields from the stored records. unchanged is true when
// every incoming field is the Mask sentinel and none were removed.
func (r *Registry) resolveCredentials(ctx context.Context, existing *secret.SecretManagerConfig, creds map[string]string) (map[string]string, bool, error) {
	resolved := make(map[string]string, len(creds))
	unchanged := existing != nil && len(creds) == len(existing.Secrets)
	for field, value := range creds {
		if value != secret.Mask {
			resolved[field] = value
			unchanged = false
			continue
		}
		if existing == nil || existing.Secrets[field] == "" {
			return nil, false, dserrors.ValidationError{Field: "credentials." + field, Message: "masked value has no stored credential to keep"}
		}
		rec, err := r.store.GetRecord(ctx, existing.Secrets[field])
		if err != nil {
			return nil, false, fmt.Errorf("failed to load credential %s: %w", field, err)
		}
		plain, err := r.decryptCredential(ctx, rec)
		if err != nil {
			return nil, false, err
		}
		resolved[field] = string(plain)
	}
	return resolved, unchanged, nil
}

// credentialWrites records what storeCredentials changed so a rejected
// config save can be undone.
type credentialWrites struct {
	fields  map[string]string
	created []string
	// replaced maps the record written in place to its content before the
	// write.
	replaced []replacedCredential
}

type replacedCredential struct {
	before *secret.EncryptedRecord
	after  *secret.EncryptedRecord
}

// storeCredentials writes one LOCAL record per non-masked credential. Existing
// records are updated in place; on error every write made so far is undone.
func (r *Registry) storeCredentials(ctx context.Context, cfg, existing *secret.SecretManagerConfig, creds map[string]string) (*credentialWrites, error) {
	local, err := r.providers.Local()
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(creds))
	for field := range creds {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	w := &credentialWrites{fields: make(map[string]string, len(creds))}
	fail := func(err error) (*credentialWrites, error) {
		r.undoCredentials(ctx, cfg.ID, w)
		return nil, err
	}
	for _, field := range fields {
		value := creds[field]
		var prev *secret.EncryptedRecord
		if existing != nil && existing.Secrets[field] != "" {
			prev, err = r.store.GetRecord(ctx, existing.Secrets[field])
			if err != nil && !dserrors.IsNotFound(err) {
				return fail(err)
			}
		}
		if value == secret.Mask {
			if prev == nil {
				return fail(dserrors.NotFoundError{Resource: "credential", Name: CredentialName(cfg.ID, field)})
			}
			w.fields[field] = prev.ID
			continue
		}

		rec, err := local.Encrypt(ctx, provider.EncryptRequest{
			TenantID:  cfg.TenantID,
			Name:      CredentialName(cfg.ID, field),
			Plaintext: []byte(value),
			Existing:  prev,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to encrypt credential %s: %w", field, err))
		}
		rec.Kind = secret.KindProviderCredential
		rec.AddOwner(cfg.ID)
		saved, err := r.store.SaveRecord(ctx, rec)
		if err != nil {
			return fail(fmt.Errorf("failed to store credential %s: %w", field, err))
		}
		if prev == nil {
			w.created = append(w.created, saved.ID)
		} else {
			w.replaced = append(w.replaced, replacedCredential{before: prev.Clone(), after: saved})
		}
		w.fields[field] = saved.ID
	}
	return w, nil
}

// undoCredentials deletes records created for configID and puts replaced
// records back to their previous content.
func (r *Registry) undoCredentials(ctx context.Context, configID string, w *credentialWrites) {
	for _, id := range w.created {
		r.deleteCredential(ctx, id, configID)
	}
	for _, c := range w.replaced {
		restore := c.before.Clone()
		restore.Version = c.after.Version
		if _, err := r.store.SaveRecord(ctx, restore); err != nil {
			r.logger.Warn("Failed to restore credential record %s: %v", restore.ID, err)
		}
	}
}

// CredentialName is the record name of a config's credential field.
func CredentialName(configID, field string) string {
	return configID + ":" + field
}

// verifyDefault re-reads the tenant's configs and repairs the default flag if
// a concurrent writer left zero or two defaults.
func (r *Registry) verifyDefault(ctx context.Context, saved *secret.SecretManagerConfig) error {
	cfgs, err := r.store.ListConfigs(ctx, saved.TenantID)
	if err != nil {
		return err
	}
	n := 0
	var mine *secret.SecretManagerConfig
	for _, cfg := range cfgs {
		if cfg.IsDefault {
			n++
		}
		if cfg.ID == saved.ID {
			mine = cfg
		}
	}
	if n == 1 || mine == nil {
		return nil
	}
	r.logger.Warn("Tenant %s has %d default secret managers, restoring %s", saved.TenantID, n, saved.DisplayName)
	mine.IsDefault = true
	_, err = r.store.SaveConfig(ctx, mine)
	if storage.IsConflict(err) {
		// Another writer changed the default meanwhile; its write is final.
		return nil
	}
	return err
}

// ValidateConfig encrypts and decrypts CanaryValue through cfg. Providers that
// cannot create values are accepted without a probe.
func (r *Registry) ValidateConfig(ctx context.Context, cfg provider.Config) error {
	p, err := r.providers.CreateProvider(cfg)
	if err != nil {
		return err
	}
	if !p.Capabilities().InlineValues {
		r.logger.Debug("Skipping canary for %s: provider only references existing secrets", cfg.DisplayName)
		return nil
	}

	rec, err := p.Encrypt(ctx, provider.EncryptRequest{
		TenantID:  cfg.TenantID,
		Name:      "secretops-validation-" + uuid.NewString()[:8],
		Plaintext: []byte(CanaryValue),
	})
	if err != nil {
		return fmt.Errorf("secret manager %s failed validation: %w", cfg.DisplayName, err)
	}
	defer func() {
		if d, ok := p.(provider.RemoteDeleter); ok && rec.CipherRef != "" {
			if err := d.DeleteRemote(ctx, rec); err != nil {
				r.logger.Warn("Failed to remove validation secret from %s: %v", cfg.DisplayName, err)
			}
		}
	}()

	plain, err := p.Decrypt(ctx, rec)
	if err != nil {
		return fmt.Errorf("secret manager %s failed validation: %w", cfg.DisplayName, err)
	}
	if !bytes.Equal(plain, []byte(CanaryValue)) {
		return dserrors.ValidationError{Field: "config", Value: cfg.DisplayName, Message: "validation value did not round trip"}
	}
	return nil
}

// SetDefault makes config id the default of tenantID without touching its
// settings or credentials.
func (r *Registry) SetDefault(ctx context.Context, tenantID, id string) (*secret.SecretManagerConfig, error) {
	cfg, err := r.store.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.TenantID != tenantID {
		return nil, dserrors.NotFoundError{Resource: "secret manager", ID: id}
	}
	if cfg.IsDefault {
		return cfg, nil
	}
	cfg.IsDefault = true
	saved, err := r.store.SaveConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.verifyDefault(ctx, saved); err != nil {
		return nil, err
	}
	r.logger.Info("Secret manager %s is now the default of tenant %s", saved.DisplayName, tenantID)
	return saved, nil
}

// Delete removes a config of tenantID and its credential records. It fails
// with InUseError while any record references the config.
func (r *Registry) Delete(ctx context.Context, tenantID, id string) error {
	if id == "" {
		return dserrors.ValidationError{Field: "id", Message: "the implicit LOCAL secret manager can not be deleted"}
	}
	cfg, err := r.store.GetConfig(ctx, id)
	if err != nil {
		return err
	}
	if cfg.TenantID != tenantID {
		return dserrors.NotFoundError{Resource: "secret manager", ID: id}
	}
	if err := r.store.DeleteConfig(ctx, id); err != nil {
		return err
	}
	for _, recID := range cfg.Secrets {
		r.deleteCredential(ctx, recID, id)
	}
	r.evict(id)
	r.logger.Info("Deleted secret manager %s (%s)", cfg.DisplayName, cfg.ProviderType)
	return nil
}

// deleteCredential releases ownerID's hold on a credential record and deletes
// it when nothing else owns it. Failures are logged.
func (r *Registry) deleteCredential(ctx context.Context, recID, ownerID string) {
	rec, err := r.store.GetRecord(ctx, recID)
	if dserrors.IsNotFound(err) {
		return
	}
	if err != nil {
		r.logger.Warn("Failed to load credential record %s: %v", recID, err)
		return
	}
	if rec.RemoveOwner(ownerID) {
		if rec, err = r.store.SaveRecord(ctx, rec); err != nil {
			r.logger.Warn("Failed to release credential record %s: %v", recID, err)
			return
		}
	}
	if err := r.store.DeleteRecord(ctx, rec.ID, rec.Version); err != nil && !dserrors.IsInUse(err) {
		r.logger.Warn("Failed to delete credential record %s: %v", recID, err)
	}
}

// credentials decrypts the credential records of cfg.
func (r *Registry) credentials(ctx context.Context, cfg *secret.SecretManagerConfig) (map[string]string, error) {
	out := make(map[string]string, len(cfg.Secrets))
	for field, recID := range cfg.Secrets {
		rec, err := r.store.GetRecord(ctx, recID)
		if err != nil {
			return nil, fmt.Errorf("failed to load credential %s of %s: %w", field, cfg.DisplayName, err)
		}
		plain, err := r.decryptCredential(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credential %s of %s: %w", field, cfg.DisplayName, err)
		}
		out[field] = string(plain)
	}
	return out, nil
}

// decryptCredential decrypts a credential record. Records of the legacy
// bootstrap path are KMS encrypted and go through their own config.
func (r *Registry) decryptCredential(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	p, err := r.ProviderFor(ctx, rec)
	if err != nil {
		return nil, err
	}
	return p.Decrypt(ctx, rec)
}

// Provider builds the provider for cfg, decrypting its credentials. Providers
// are cached per config version.
func (r *Registry) Provider(ctx context.Context, cfg *secret.SecretManagerConfig) (provider.Provider, error) {
	if cfg == nil || IsImplicitLocal(cfg) {
		return r.providers.Local()
	}
	key := cacheKey(cfg.ID, cfg.Version)
	r.mu.Lock()
	p, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return p, nil
	}

	creds, err := r.credentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p, err = r.providers.CreateProvider(provider.Config{SecretManagerConfig: cfg.Clone(), Credentials: creds})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = p
	r.mu.Unlock()
	return p, nil
}

// ProviderForConfig resolves config id for tenantID and builds its provider.
func (r *Registry) ProviderForConfig(ctx context.Context, tenantID, id string) (provider.Provider, *secret.SecretManagerConfig, error) {
	cfg, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	p, err := r.Provider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return p, cfg, nil
}

// DefaultProvider resolves the default config of tenantID and builds its
// provider.
func (r *Registry) DefaultProvider(ctx context.Context, tenantID string) (provider.Provider, *secret.SecretManagerConfig, error) {
	cfg, err := r.ResolveDefault(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	p, err := r.Provider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return p, cfg, nil
}

// ProviderFor returns the provider that owns rec. LOCAL records always use
// the local provider. A missing config is a NotFoundError.
func (r *Registry) ProviderFor(ctx context.Context, rec *secret.EncryptedRecord) (provider.Provider, error) {
	if rec.ProviderType == secret.Local {
		return r.providers.Local()
	}
	if rec.ProviderConfigID == "" {
		return nil, dserrors.ValidationError{
			Field:   "provider_config_id",
			Message: fmt.Sprintf("%s record %s has no secret manager", rec.ProviderType, rec.Name),
		}
	}
	cfg, err := r.store.GetConfig(ctx, rec.ProviderConfigID)
	if err != nil {
		return nil, err
	}
	if cfg.TenantID != rec.TenantID && !cfg.IsGlobal() {
		return nil, dserrors.NotFoundError{Resource: "secret manager", ID: rec.ProviderConfigID}
	}
	if cfg.ProviderType != rec.ProviderType {
		return nil, dserrors.ValidationError{
			Field:   "provider_type",
			Value:   string(rec.ProviderType),
			Message: fmt.Sprintf("record %s does not match secret manager %s of type %s", rec.Name, cfg.DisplayName, cfg.ProviderType),
		}
	}
	return r.Provider(ctx, cfg)
}

func cacheKey(id string, version int64) string {
	return fmt.Sprintf("%s@%d", id, version)
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if strings.HasPrefix(key, id+"@") {
			delete(r.cache, key)
		}
	}
}
