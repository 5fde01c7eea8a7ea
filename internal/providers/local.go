package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/systmms/secretops/internal/crypto"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// LocalProvider encrypts with a subkey of the process master key. It never
// leaves the process.
type LocalProvider struct {
	cipher *crypto.LocalCipher
}

// NewLocalProvider creates a LOCAL provider over cipher.
func NewLocalProvider(cipher *crypto.LocalCipher) *LocalProvider {
	return &LocalProvider{cipher: cipher}
}

// NewLocalProviderFactory builds the LOCAL provider. LOCAL has no settings so
// cfg is ignored.
func NewLocalProviderFactory(_ provider.Config, deps Deps) (provider.Provider, error) {
	if deps.Local == nil {
		return nil, dserrors.ConfigError{
			Field:      "local_key",
			Message:    "no master key loaded",
			Suggestion: "Configure local_key in secretops.yaml or set SECRETOPS_LOCAL_KEY",
		}
	}
	return NewLocalProvider(deps.Local), nil
}

func (p *LocalProvider) Type() secret.ProviderType { return secret.Local }

func (p *LocalProvider) ConfigID() string { return "" }

func (p *LocalProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{InlineValues: true, Files: true}
}

func (p *LocalProvider) Encrypt(ctx context.Context, req provider.EncryptRequest) (*secret.EncryptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.IsPathReference() {
		return nil, pathError(req.Path, "LOCAL does not support path references")
	}

	rec := provider.NewRecord(p, req)
	if len(req.Plaintext) == 0 {
		return rec, nil
	}
	if rec.CipherRef == "" {
		rec.CipherRef = uuid.NewString()
	}

	ct, err := p.cipher.Encrypt(rec.CipherRef, req.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("local encrypt of %s failed: %w", req.Name, err)
	}
	rec.Ciphertext = ct
	return rec, nil
}

func (p *LocalProvider) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rec.Ciphertext) == 0 {
		return []byte{}, nil
	}
	pt, err := p.cipher.Decrypt(rec.CipherRef, rec.Ciphertext)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthentication) || errors.Is(err, crypto.ErrMalformed) {
			return nil, dserrors.ValidationError{Field: "ciphertext", Value: rec.ID, Message: "cannot be decrypted with the local master key"}
		}
		return nil, fmt.Errorf("local decrypt of %s failed: %w", rec.ID, err)
	}
	return pt, nil
}
