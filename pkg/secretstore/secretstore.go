package secretstore

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/secretops/internal/audit"
	"github.com/systmms/secretops/internal/blob"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/metrics"
	"github.com/systmms/secretops/internal/permissions"
	"github.com/systmms/secretops/internal/registry"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// DefaultMaxFileSize is the largest file accepted by SaveFile and UpdateFile.
const DefaultMaxFileSize int64 = 10 << 20

// Options configures a Store. Only Registry is required.
type Options struct {
	Registry   *registry.Registry
	Blobs      blob.Store
	Authorizer permissions.Authorizer
	ChangeLog  audit.ChangeLog
	Logger     *logging.Logger

	// MaxFileSize defaults to DefaultMaxFileSize.
	MaxFileSize int64

	// Actor is recorded on change-log entries.
	Actor string
}

// Store is the secret store façade.
type Store struct {
	registry    *registry.Registry
	records     storage.Store
	blobs       blob.Store
	auth        permissions.Authorizer
	changes     audit.ChangeLog
	logger      *logging.Logger
	maxFileSize int64
	actor       string
}

// New creates a store.
func New(opts Options) (*Store, error) {
	if opts.Registry == nil {
		return nil, dserrors.ConfigError{Field: "registry", Message: "secret store needs a secret manager registry"}
	}
	s := &Store{
		registry:    opts.Registry,
		records:     opts.Registry.Store(),
		blobs:       opts.Blobs,
		auth:        opts.Authorizer,
		changes:     opts.ChangeLog,
		logger:      opts.Logger,
		maxFileSize: opts.MaxFileSize,
		actor:       opts.Actor,
	}
	if s.blobs == nil {
		s.blobs = blob.NewMemoryStore()
	}
	if s.auth == nil {
		s.auth = permissions.AllowAll{}
	}
	if s.changes == nil {
		s.changes = audit.NewMemoryLog()
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	s.logger = s.logger.Named("secretstore")
	if s.maxFileSize <= 0 {
		s.maxFileSize = DefaultMaxFileSize
	}
	return s, nil
}

// Registry returns the secret manager registry the store writes through.
func (s *Store) Registry() *registry.Registry {
	return s.registry
}

// authorize checks restrictions for tenantID and returns AuthorizationError
// on denial.
func (s *Store) authorize(ctx context.Context, tenantID, operation, resource string, restrictions *secret.UsageRestrictions) error {
	ok, err := s.auth.CheckAccess(ctx, tenantID, restrictions)
	if err != nil {
		return fmt.Errorf("authorization check failed: %w", err)
	}
	if !ok {
		return dserrors.AuthorizationError{TenantID: tenantID, Operation: operation, Resource: resource}
	}
	return nil
}

func validateName(resource, name string) error {
	if name == "" {
		return dserrors.ValidationError{Field: resource + " name", Message: "name is required"}
	}
	if secret.ContainsIllegalCharacters(name) {
		return dserrors.ValidationError{
			Field:   resource + " name",
			Value:   name,
			Message: "contains illegal characters " + secret.IllegalNameCharacters,
		}
	}
	return nil
}

// load returns the record id of tenantID with the expected kind. Records of
// other tenants are reported as missing.
func (s *Store) load(ctx context.Context, tenantID, id string, kind secret.Kind) (*secret.EncryptedRecord, error) {
	rec, err := s.records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID || rec.Kind != kind {
		return nil, dserrors.NotFoundError{Resource: resourceOf(kind), ID: id}
	}
	return rec, nil
}

func resourceOf(kind secret.Kind) string {
	if kind == secret.KindConfigFile {
		return "file"
	}
	return "secret"
}

// writeProvider resolves the provider new values of tenantID are encrypted
// with. Secrets without a path on a default that cannot create values fall
// back to the global KMS config, else LOCAL.
func (s *Store) writeProvider(ctx context.Context, tenantID, path string, isFile bool) (provider.Provider, error) {
	p, cfg, err := s.registry.DefaultProvider(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	caps := p.Capabilities()

	if path != "" {
		if isFile {
			return nil, dserrors.ValidationError{Field: "path", Value: path, Message: "files can not be path references"}
		}
		return p, validatePath(p.Type(), caps, path)
	}

	if isFile && !caps.Files {
		return nil, dserrors.UnsupportedOperationError{
			ProviderType: string(p.Type()),
			Operation:    "save file",
			Reason:       fmt.Sprintf("secret manager %s can not store files", cfg.DisplayName),
		}
	}
	if caps.InlineValues {
		return p, nil
	}

	fallback, err := s.fallbackProvider(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Secret manager %s (%s) can not create secrets, using %s for tenant %s",
		cfg.DisplayName, p.Type(), fallback.Type(), tenantID)
	return fallback, nil
}

func (s *Store) fallbackProvider(ctx context.Context) (provider.Provider, error) {
	globals, err := s.records.ListConfigs(ctx, secret.GlobalTenant)
	if err != nil {
		return nil, err
	}
	for _, cfg := range globals {
		if cfg.ProviderType == secret.KMS {
			return s.registry.Provider(ctx, cfg)
		}
	}
	return s.registry.Provider(ctx, registry.ImplicitLocal())
}

func validatePath(t secret.ProviderType, caps provider.Capabilities, path string) error {
	if !caps.PathReferences {
		return dserrors.ValidationError{
			Field:   "path",
			Value:   path,
			Message: fmt.Sprintf("secret paths are only supported by VAULT, CLOUD_SECRETS_MANAGER, ENTERPRISE_VAULT and GCP_SECRET_MANAGER, not %s", t),
		}
	}
	if caps.KeyedPaths {
		if _, key := provider.SplitPath(path); key == "" {
			return dserrors.ValidationError{
				Field:   "path",
				Value:   path,
				Message: "secret path needs a # sign followed by the key name, e.g. /foo/bar/my-secret#my-key",
			}
		}
	}
	return nil
}

// ownsRemoteValue reports whether rec's value lives in an external system
// and was written by secretops, so that it must be removed with the record.
func ownsRemoteValue(rec *secret.EncryptedRecord) bool {
	return !rec.IsPathReference() &&
		rec.CipherRef != "" &&
		rec.ProviderType.StoresRemotely() &&
		rec.ProviderType != secret.EnterpriseVault
}

// deleteRemote removes the external value of rec. Failures are logged.
func (s *Store) deleteRemote(ctx context.Context, rec *secret.EncryptedRecord) {
	if !ownsRemoteValue(rec) {
		return
	}
	p, err := s.registry.ProviderFor(ctx, rec)
	if err != nil {
		s.logger.Warn("Can not remove remote value of %s: %v", rec.Name, err)
		return
	}
	d, ok := p.(provider.RemoteDeleter)
	if !ok {
		return
	}
	if err := d.DeleteRemote(ctx, rec); err != nil {
		s.logger.Warn("Failed to remove remote value of %s from %s: %v", rec.Name, rec.ProviderType, err)
	}
}

// deleteBlob removes a file blob. Failures are logged.
func (s *Store) deleteBlob(ctx context.Context, blobID string) {
	if blobID == "" {
		return
	}
	if err := s.blobs.Delete(ctx, blobID); err != nil {
		s.logger.Warn("Failed to delete blob %s: %v", blobID, err)
	}
}

// retire cleans up the storage old held once updated replaced it.
func (s *Store) retire(ctx context.Context, old, updated *secret.EncryptedRecord) {
	if old.BlobID != "" && old.BlobID != updated.BlobID {
		s.deleteBlob(ctx, old.BlobID)
	}
	if ownsRemoteValue(old) && (old.ProviderConfigID != updated.ProviderConfigID || old.CipherRef != updated.CipherRef) {
		s.deleteRemote(ctx, old)
	}
}

func (s *Store) logChange(ctx context.Context, rec *secret.EncryptedRecord, msg string) {
	err := s.changes.Record(ctx, audit.Entry{
		Timestamp:  time.Now().UTC(),
		TenantID:   rec.TenantID,
		SecretID:   rec.ID,
		SecretName: rec.Name,
		Message:    msg,
		Actor:      s.actor,
	})
	if err != nil {
		s.logger.Warn("Failed to record change of %s: %v", rec.Name, err)
	}
}

func observe(operation string, err error) {
	metrics.ObserveSecretOperation(operation, err)
}
