package secretstore

import (
	"context"
	"encoding/base64"
	"fmt"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/pkg/secret"
)

// FileInput carries the desired state of a secret-backed file.
type FileInput struct {
	Name string

	// Content is the raw file. On update, empty content keeps the stored
	// file and only changes metadata.
	Content []byte

	Restrictions *secret.UsageRestrictions
}

// SaveFile encrypts a new file and returns its id.
func (s *Store) SaveFile(ctx context.Context, tenantID string, in FileInput) (id string, err error) {
	defer func() { observe("save_file", err) }()

	if err := s.checkSize(in.Content); err != nil {
		return "", err
	}
	rec, err := s.create(ctx, tenantID, write{
		kind:         secret.KindConfigFile,
		name:         in.Name,
		plaintext:    encodeFile(in.Content),
		restrictions: in.Restrictions,
		byteSize:     int64(len(in.Content)),
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// UpdateFile applies in to file id. New content is encrypted with the
// tenant's current default secret manager and the old blob is removed.
func (s *Store) UpdateFile(ctx context.Context, tenantID, id string, in FileInput) (err error) {
	defer func() { observe("update_file", err) }()

	var plaintext []byte
	if len(in.Content) > 0 {
		if err := s.checkSize(in.Content); err != nil {
			return err
		}
		plaintext = encodeFile(in.Content)
	}
	_, err = s.update(ctx, tenantID, id, write{
		kind:         secret.KindConfigFile,
		name:         in.Name,
		plaintext:    plaintext,
		restrictions: in.Restrictions,
		byteSize:     int64(len(in.Content)),
	})
	return err
}

// GetFileContents decrypts file id.
func (s *Store) GetFileContents(ctx context.Context, tenantID, id string) (content []byte, err error) {
	defer func() { observe("get_file", err) }()

	rec, err := s.load(ctx, tenantID, id, secret.KindConfigFile)
	if err != nil {
		return nil, err
	}
	plain, err := s.Decrypt(ctx, rec)
	if err != nil {
		return nil, err
	}
	return decodeFile(rec, plain)
}

// DeleteFile removes file id, its blob and any external value.
func (s *Store) DeleteFile(ctx context.Context, tenantID, id string) (err error) {
	defer func() { observe("delete_file", err) }()
	return s.delete(ctx, tenantID, id, secret.KindConfigFile)
}

func (s *Store) checkSize(content []byte) error {
	if int64(len(content)) > s.maxFileSize {
		return dserrors.UnsupportedOperationError{
			ProviderType: "file",
			Operation:    "save file",
			Reason:       fmt.Sprintf("file is %d bytes, the limit is %d bytes", len(content), s.maxFileSize),
		}
	}
	return nil
}

func encodeFile(content []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(content)))
	base64.StdEncoding.Encode(out, content)
	return out
}

func decodeFile(rec *secret.EncryptedRecord, plain []byte) ([]byte, error) {
	if !rec.IsBase64 {
		return plain, nil
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(plain)))
	n, err := base64.StdEncoding.Decode(out, plain)
	if err != nil {
		return nil, fmt.Errorf("file %s is corrupt: %w", rec.Name, err)
	}
	return out[:n], nil
}
