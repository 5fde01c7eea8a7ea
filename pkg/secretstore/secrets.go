package secretstore

import (
	"context"
	"fmt"

	"github.com/systmms/secretops/internal/audit"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// SecretInput carries the desired state of a secret.
type SecretInput struct {
	Name string

	// Value is the plaintext. On update, "" or secret.Mask leaves the stored
	// value unchanged.
	Value string

	// Path makes the secret a reference to an existing external secret.
	// Exclusive with Value.
	Path string

	Restrictions *secret.UsageRestrictions
}

// write is one create or re-encrypt request shared by secrets and files.
type write struct {
	kind         secret.Kind
	name         string
	plaintext    []byte
	path         string
	restrictions *secret.UsageRestrictions
	byteSize     int64
}

// SaveSecret encrypts a new secret with the tenant's default secret manager
// and returns its id.
func (s *Store) SaveSecret(ctx context.Context, tenantID string, in SecretInput) (id string, err error) {
	defer func() { observe("save_secret", err) }()

	if in.Value == secret.Mask {
		return "", dserrors.ValidationError{Field: "value", Message: "the masked placeholder can not be saved as a value"}
	}
	if in.Value != "" && in.Path != "" {
		return "", dserrors.ValidationError{Field: "path", Value: in.Path, Message: "a secret has either a value or a path"}
	}
	rec, err := s.create(ctx, tenantID, write{
		kind:         secret.KindSecretText,
		name:         in.Name,
		plaintext:    []byte(in.Value),
		path:         in.Path,
		restrictions: in.Restrictions,
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// UpdateSecret applies in to secret id. A new value or path is encrypted with
// the tenant's current default secret manager; otherwise only metadata
// changes.
func (s *Store) UpdateSecret(ctx context.Context, tenantID, id string, in SecretInput) (err error) {
	defer func() { observe("update_secret", err) }()

	var plaintext []byte
	if in.Value != "" && in.Value != secret.Mask {
		if in.Path != "" {
			return dserrors.ValidationError{Field: "path", Value: in.Path, Message: "a secret has either a value or a path"}
		}
		plaintext = []byte(in.Value)
	}
	_, err = s.update(ctx, tenantID, id, write{
		kind:         secret.KindSecretText,
		name:         in.Name,
		plaintext:    plaintext,
		path:         in.Path,
		restrictions: in.Restrictions,
	})
	return err
}

// DeleteSecret removes secret id and its external value. It fails with
// InUseError while any entity owns the secret.
func (s *Store) DeleteSecret(ctx context.Context, tenantID, id string) (err error) {
	defer func() { observe("delete_secret", err) }()
	return s.delete(ctx, tenantID, id, secret.KindSecretText)
}

func (s *Store) create(ctx context.Context, tenantID string, w write) (*secret.EncryptedRecord, error) {
	resource := resourceOf(w.kind)
	if tenantID == "" {
		return nil, dserrors.ValidationError{Field: "tenant_id", Message: "tenant is required"}
	}
	if err := validateName(resource, w.name); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, tenantID, "save", resource, w.restrictions); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, tenantID, w.kind, w.name, ""); err != nil {
		return nil, err
	}

	p, err := s.writeProvider(ctx, tenantID, w.path, w.kind == secret.KindConfigFile)
	if err != nil {
		return nil, err
	}
	rec, err := s.encrypt(ctx, p, provider.EncryptRequest{
		TenantID:  tenantID,
		Name:      w.name,
		Plaintext: w.plaintext,
		Path:      w.path,
	}, w)
	if err != nil {
		return nil, err
	}

	saved, err := s.records.SaveRecord(ctx, rec)
	if err != nil {
		s.discard(ctx, rec, nil)
		return nil, err
	}
	s.logger.Debug("Saved %s %s with %s", resource, saved.Name, saved.ProviderType)
	s.logChange(ctx, saved, audit.MsgCreated)
	return saved, nil
}

func (s *Store) update(ctx context.Context, tenantID, id string, w write) (*secret.EncryptedRecord, error) {
	resource := resourceOf(w.kind)
	rec, err := s.load(ctx, tenantID, id, w.kind)
	if err != nil {
		return nil, err
	}
	name := w.name
	if name == "" {
		name = rec.Name
	}
	if err := validateName(resource, name); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, tenantID, "update", resource, w.restrictions); err != nil {
		return nil, err
	}

	nameChanged := name != rec.Name
	valueChanged := w.plaintext != nil
	pathChanged := w.kind == secret.KindSecretText && w.path != rec.Path
	restrictionsChanged := !rec.Restrictions.Equal(w.restrictions)

	var msgs []string
	if nameChanged {
		msgs = append(msgs, audit.MsgChangedName)
	}
	if valueChanged {
		msgs = append(msgs, audit.MsgChangedValue)
	}
	if pathChanged {
		msgs = append(msgs, audit.MsgChangedPath)
	}
	if restrictionsChanged {
		msgs = append(msgs, audit.MsgChangedRestrictions)
	}
	if len(msgs) == 0 {
		return rec, nil
	}
	if nameChanged {
		if err := s.checkUnique(ctx, tenantID, w.kind, name, rec.ID); err != nil {
			return nil, err
		}
	}
	if pathChanged && w.path == "" && !valueChanged {
		return nil, dserrors.ValidationError{Field: "value", Message: "a value is required when the path is removed"}
	}

	// Remote stores name their entries after the secret, so a rename moves the
	// value to a new entry.
	renameRemote := nameChanged && ownsRemoteValue(rec)
	reencrypt := valueChanged || pathChanged || renameRemote

	updated := rec.Clone()
	if reencrypt {
		plaintext := w.plaintext
		size := w.byteSize
		if !valueChanged && !pathChanged {
			plaintext, err = s.Decrypt(ctx, rec)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s %s before rename: %w", resource, rec.Name, err)
			}
			size = rec.ByteSize
		}
		p, err := s.writeProvider(ctx, tenantID, w.path, w.kind == secret.KindConfigFile)
		if err != nil {
			return nil, err
		}
		existing := rec.Clone()
		if nameChanged {
			existing.CipherRef = ""
		}
		updated, err = s.encrypt(ctx, p, provider.EncryptRequest{
			TenantID:  tenantID,
			Name:      name,
			Plaintext: plaintext,
			Path:      w.path,
			Existing:  existing,
		}, write{kind: w.kind, restrictions: w.restrictions, byteSize: size})
		if err != nil {
			return nil, err
		}
	}
	updated.Name = name
	updated.Restrictions = w.restrictions.Clone()

	saved, err := s.records.SaveRecord(ctx, updated)
	if err != nil {
		if reencrypt {
			s.discard(ctx, updated, rec)
		}
		return nil, err
	}
	if reencrypt {
		s.retire(ctx, rec, saved)
	}
	s.logChange(ctx, saved, audit.JoinMessages(msgs))
	return saved, nil
}

func (s *Store) delete(ctx context.Context, tenantID, id string, kind secret.Kind) error {
	resource := resourceOf(kind)
	rec, err := s.load(ctx, tenantID, id, kind)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, tenantID, "delete", resource, rec.Restrictions); err != nil {
		return err
	}
	if rec.HasOwners() {
		return dserrors.InUseError{Resource: resource, ID: rec.ID, Name: rec.Name, References: rec.Owners}
	}
	if err := s.records.DeleteRecord(ctx, rec.ID, rec.Version); err != nil {
		return err
	}

	s.deleteBlob(ctx, rec.BlobID)
	s.deleteRemote(ctx, rec)
	if rec.BackupSnapshot != nil {
		s.ReleaseSnapshot(ctx, rec, rec.BackupSnapshot)
	}
	s.logChange(ctx, rec, audit.MsgDeleted)
	s.logger.Debug("Deleted %s %s", resource, rec.Name)
	return nil
}

func (s *Store) checkUnique(ctx context.Context, tenantID string, kind secret.Kind, name, exceptID string) error {
	found, err := s.records.FindRecord(ctx, tenantID, kind, name)
	if dserrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if found.ID == exceptID {
		return nil
	}
	return dserrors.DuplicateNameError{Resource: resourceOf(kind), Name: name, TenantID: tenantID}
}

// encrypt runs req through p and shapes the result as a record of w.kind.
// File ciphertext returned by the provider is moved to the blob store.
func (s *Store) encrypt(ctx context.Context, p provider.Provider, req provider.EncryptRequest, w write) (*secret.EncryptedRecord, error) {
	if v, ok := p.(provider.NameValidator); ok && !req.IsPathReference() && len(req.Plaintext) > 0 {
		if err := v.ValidateName(req.Name); err != nil {
			return nil, err
		}
	}
	if w.kind == secret.KindConfigFile && !p.Capabilities().Files {
		return nil, dserrors.UnsupportedOperationError{ProviderType: string(p.Type()), Operation: "save file"}
	}

	rec, err := p.Encrypt(ctx, req)
	if err != nil {
		return nil, err
	}
	rec.TenantID = req.TenantID
	rec.Kind = w.kind
	rec.Restrictions = w.restrictions.Clone()
	rec.BlobID = ""

	if w.kind == secret.KindConfigFile {
		rec.IsFile = true
		rec.IsBase64 = true
		rec.ByteSize = w.byteSize
		if len(rec.Ciphertext) > 0 {
			blobID, err := s.blobs.Put(ctx, rec.Ciphertext)
			if err != nil {
				s.discard(ctx, rec, req.Existing)
				return nil, fmt.Errorf("failed to store file %s: %w", req.Name, err)
			}
			rec.BlobID = blobID
			rec.Ciphertext = nil
		}
	}
	return rec, nil
}

// discard cleans up a candidate record that was never saved. A remote value
// written over the entry of original is left alone.
func (s *Store) discard(ctx context.Context, candidate, original *secret.EncryptedRecord) {
	s.deleteBlob(ctx, candidate.BlobID)
	if original != nil && original.ProviderConfigID == candidate.ProviderConfigID && original.CipherRef == candidate.CipherRef {
		return
	}
	s.deleteRemote(ctx, candidate)
}

// Summary is a masked record with its usage details.
type Summary struct {
	Record *secret.EncryptedRecord

	// SecretManager is the display name of the config that encrypted the
	// record.
	SecretManager string

	UsageCount  int
	ChangeCount int
}

// ListOptions filters and pages ListSecrets.
type ListOptions struct {
	// Kind defaults to secret.KindSecretText.
	Kind   secret.Kind
	Offset int
	Limit  int
}

// Page is one page of ListSecrets.
type Page struct {
	Items []Summary
	Total int
}

// ListSecrets returns masked records of tenantID ordered by name.
func (s *Store) ListSecrets(ctx context.Context, tenantID string, opts ListOptions) (page *Page, err error) {
	defer func() { observe("list_secrets", err) }()

	kind := opts.Kind
	if kind == "" {
		kind = secret.KindSecretText
	}
	q := storage.RecordQuery{TenantID: tenantID, Kind: kind, Offset: opts.Offset, Limit: opts.Limit}
	total, err := s.records.CountRecords(ctx, q)
	if err != nil {
		return nil, err
	}
	recs, err := s.records.ListRecords(ctx, q)
	if err != nil {
		return nil, err
	}

	names := map[string]string{}
	page = &Page{Items: make([]Summary, 0, len(recs)), Total: total}
	for _, rec := range recs {
		sum, err := s.summarize(ctx, rec, names)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, sum)
	}
	return page, nil
}

// GetSecret returns the masked record of a secret with its usage details.
func (s *Store) GetSecret(ctx context.Context, tenantID, id string) (*Summary, error) {
	rec, err := s.records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID || rec.Kind == secret.KindProviderCredential {
		return nil, dserrors.NotFoundError{Resource: "secret", ID: id}
	}
	sum, err := s.summarize(ctx, rec, map[string]string{})
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *Store) summarize(ctx context.Context, rec *secret.EncryptedRecord, names map[string]string) (Summary, error) {
	changes, err := s.changes.Count(ctx, rec.TenantID, rec.ID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Record:        rec.Masked(),
		SecretManager: s.managerName(ctx, rec, names),
		UsageCount:    len(rec.Owners),
		ChangeCount:   changes,
	}, nil
}

func (s *Store) managerName(ctx context.Context, rec *secret.EncryptedRecord, cache map[string]string) string {
	if rec.ProviderConfigID == "" {
		return string(rec.ProviderType)
	}
	if name, ok := cache[rec.ProviderConfigID]; ok {
		return name
	}
	name := ""
	if cfg, err := s.records.GetConfig(ctx, rec.ProviderConfigID); err == nil {
		name = cfg.DisplayName
	}
	cache[rec.ProviderConfigID] = name
	return name
}

// ChangeLog returns the change-log entries of a secret or file, newest first.
func (s *Store) ChangeLog(ctx context.Context, tenantID, id string, limit int) ([]audit.Entry, error) {
	rec, err := s.records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, dserrors.NotFoundError{Resource: "secret", ID: id}
	}
	return s.changes.List(ctx, tenantID, id, limit)
}

const ownerRetries = 3

// AddOwner records ownerID as an entity referencing secret or file id.
func (s *Store) AddOwner(ctx context.Context, tenantID, id, ownerID string) error {
	return s.changeOwners(ctx, tenantID, id, func(rec *secret.EncryptedRecord) bool {
		return rec.AddOwner(ownerID)
	})
}

// RemoveOwner drops ownerID from the owners of secret or file id.
func (s *Store) RemoveOwner(ctx context.Context, tenantID, id, ownerID string) error {
	return s.changeOwners(ctx, tenantID, id, func(rec *secret.EncryptedRecord) bool {
		return rec.RemoveOwner(ownerID)
	})
}

// changeOwners applies mutate under the version check, reloading on
// conflict.
func (s *Store) changeOwners(ctx context.Context, tenantID, id string, mutate func(*secret.EncryptedRecord) bool) error {
	var err error
	for attempt := 0; attempt < ownerRetries; attempt++ {
		var rec *secret.EncryptedRecord
		rec, err = s.records.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		if rec.TenantID != tenantID {
			return dserrors.NotFoundError{Resource: "secret", ID: id}
		}
		if !mutate(rec) {
			return nil
		}
		if _, err = s.records.SaveRecord(ctx, rec); !storage.IsConflict(err) {
			return err
		}
	}
	return err
}
