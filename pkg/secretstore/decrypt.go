package secretstore

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/secretops/internal/audit"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// Decrypt returns the provider plaintext of rec, loading file ciphertext from
// the blob store. File plaintext is still base64 encoded.
func (s *Store) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	work := rec
	if rec.BlobID != "" {
		ct, err := s.blobs.Get(ctx, rec.BlobID)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s %s: %w", resourceOf(rec.Kind), rec.Name, err)
		}
		work = rec.Clone()
		work.Ciphertext = ct
	}
	p, err := s.registry.ProviderFor(ctx, work)
	if err != nil {
		return nil, err
	}
	return p.Decrypt(ctx, work)
}

// DecryptField decrypts the slot fd of entity and stores the plaintext
// through fd.Set. Files are returned decoded.
func (s *Store) DecryptField(ctx context.Context, entity secret.Decryptable, fd secret.FieldDescriptor) (err error) {
	defer func() { observe("decrypt_field", err) }()

	_, err = s.decryptField(ctx, entity, fd)
	return err
}

// decryptField reports missing when the slot's record does not exist.
func (s *Store) decryptField(ctx context.Context, entity secret.Decryptable, fd secret.FieldDescriptor) (missing bool, err error) {
	ref := fd.Ref()
	if ref.Empty() {
		return false, nil
	}
	rec := ref.Inline
	if rec == nil {
		rec, err = s.records.GetRecord(ctx, ref.RecordID)
		if dserrors.IsNotFound(err) {
			return true, err
		}
		if err != nil {
			return false, err
		}
	}
	if rec.TenantID != entity.TenantID() && rec.TenantID != secret.GlobalTenant {
		return false, dserrors.NotFoundError{Resource: "secret", ID: rec.ID, Name: fd.Name}
	}

	plain, err := s.Decrypt(ctx, rec)
	if err != nil {
		return false, err
	}
	if rec.IsFile {
		if plain, err = decodeFile(rec, plain); err != nil {
			return false, err
		}
	}
	fd.Set(plain)
	return false, nil
}

// DecryptEntity decrypts every encrypted slot of entity and marks it
// decrypted. Slots whose record no longer exists are logged and skipped; any
// other failure aborts.
func (s *Store) DecryptEntity(ctx context.Context, entity secret.Decryptable) error {
	if entity.IsDecrypted() {
		return nil
	}
	for _, fd := range entity.EncryptedFields() {
		missing, err := s.decryptField(ctx, entity, fd)
		if missing {
			s.logger.Warn("Skipping field %s of tenant %s: %v", fd.Name, entity.TenantID(), err)
			continue
		}
		if err != nil {
			observe("decrypt_field", err)
			return fmt.Errorf("failed to decrypt field %s: %w", fd.Name, err)
		}
	}
	entity.SetDecrypted(true)
	return nil
}

// DecryptSecret returns the plaintext of secret id.
func (s *Store) DecryptSecret(ctx context.Context, tenantID, id string) (value string, err error) {
	defer func() { observe("decrypt_secret", err) }()

	rec, err := s.load(ctx, tenantID, id, secret.KindSecretText)
	if err != nil {
		return "", err
	}
	plain, err := s.Decrypt(ctx, rec)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Reencrypt encrypts plaintext for rec with p, keeping rec's identity and
// metadata. The result is not saved; pass it to Discard if it never is.
func (s *Store) Reencrypt(ctx context.Context, p provider.Provider, rec *secret.EncryptedRecord, plaintext []byte) (*secret.EncryptedRecord, error) {
	return s.encrypt(ctx, p, provider.EncryptRequest{
		TenantID:  rec.TenantID,
		Name:      rec.Name,
		Plaintext: plaintext,
		Existing:  rec,
	}, write{kind: rec.Kind, restrictions: rec.Restrictions, byteSize: rec.ByteSize})
}

// Discard cleans up a candidate from Reencrypt that was never saved.
func (s *Store) Discard(ctx context.Context, candidate, original *secret.EncryptedRecord) {
	s.discard(ctx, candidate, original)
}

// Snapshot captures rec for rollback. File ciphertext is copied out of the
// blob store so the snapshot does not depend on the blob.
func (s *Store) Snapshot(ctx context.Context, rec *secret.EncryptedRecord, at time.Time) (*secret.Snapshot, error) {
	snap := rec.SnapshotAt(at)
	if rec.BlobID != "" {
		ct, err := s.blobs.Get(ctx, rec.BlobID)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", rec.Name, err)
		}
		snap.Ciphertext = ct
		snap.BlobID = ""
	}
	return snap, nil
}

// DeleteBlob removes a blob. Failures are logged.
func (s *Store) DeleteBlob(ctx context.Context, blobID string) {
	s.deleteBlob(ctx, blobID)
}

// ReleaseSnapshot removes the storage behind snap, best effort. An external
// value that current still uses is kept.
func (s *Store) ReleaseSnapshot(ctx context.Context, current *secret.EncryptedRecord, snap *secret.Snapshot) {
	old := snap.AsRecord(current)
	if old.BlobID != current.BlobID {
		s.deleteBlob(ctx, old.BlobID)
	}
	if old.ProviderConfigID == current.ProviderConfigID && old.CipherRef == current.CipherRef {
		return
	}
	s.deleteRemote(ctx, old)
}

// RestoreSnapshot swaps rec back to the value held in its backup snapshot.
// The snapshot must still decrypt; the value rec points at now is removed
// once the restored record is saved.
func (s *Store) RestoreSnapshot(ctx context.Context, rec *secret.EncryptedRecord) (*secret.EncryptedRecord, error) {
	if rec.BackupSnapshot == nil {
		return nil, dserrors.ValidationError{
			Field:   "backup_snapshot",
			Message: fmt.Sprintf("%s %s has no backup snapshot", resourceOf(rec.Kind), rec.Name),
		}
	}
	restored := rec.BackupSnapshot.AsRecord(rec)
	if restored.IsFile && len(restored.Ciphertext) > 0 {
		blobID, err := s.blobs.Put(ctx, restored.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("failed to store file %s: %w", rec.Name, err)
		}
		restored.BlobID = blobID
		restored.Ciphertext = nil
	}
	if _, err := s.Decrypt(ctx, restored); err != nil {
		s.deleteBlob(ctx, restored.BlobID)
		return nil, fmt.Errorf("backup snapshot of %s can not be decrypted: %w", rec.Name, err)
	}

	saved, err := s.records.SaveRecord(ctx, restored)
	if err != nil {
		s.deleteBlob(ctx, restored.BlobID)
		return nil, err
	}
	s.retire(ctx, rec, saved)
	s.logChange(ctx, saved, audit.MsgRolledBack)
	return saved, nil
}

// LogChange adds msg to the change log of rec.
func (s *Store) LogChange(ctx context.Context, rec *secret.EncryptedRecord, msg string) {
	s.logChange(ctx, rec, msg)
}
