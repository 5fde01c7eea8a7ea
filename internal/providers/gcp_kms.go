package providers

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/api/cloudkms/v1"

	"github.com/systmms/secretops/internal/cloud"
	"github.com/systmms/secretops/internal/crypto"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/internal/secure"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// CloudKMSAPI wraps the crypto key encrypt and decrypt calls.
type CloudKMSAPI interface {
	Encrypt(ctx context.Context, keyName string, req *cloudkms.EncryptRequest) (*cloudkms.EncryptResponse, error)
	Decrypt(ctx context.Context, keyName string, req *cloudkms.DecryptRequest) (*cloudkms.DecryptResponse, error)
}

type cloudKMSService struct {
	keys *cloudkms.ProjectsLocationsKeyRingsCryptoKeysService
}

func (s cloudKMSService) Encrypt(ctx context.Context, keyName string, req *cloudkms.EncryptRequest) (*cloudkms.EncryptResponse, error) {
	return s.keys.Encrypt(keyName, req).Context(ctx).Do()
}

func (s cloudKMSService) Decrypt(ctx context.Context, keyName string, req *cloudkms.DecryptRequest) (*cloudkms.DecryptResponse, error) {
	return s.keys.Decrypt(keyName, req).Context(ctx).Do()
}

// GCPKMSProvider backs CLOUD_KMS. Values are sealed with a fresh local data
// key which Cloud KMS wraps; the wrapped key is the CipherRef.
type GCPKMSProvider struct {
	base
	client  CloudKMSAPI
	keyName string
}

// GCPKMSOption configures a GCPKMSProvider.
type GCPKMSOption func(*GCPKMSProvider)

// WithCloudKMSClient injects a client, mainly for tests.
func WithCloudKMSClient(client CloudKMSAPI) GCPKMSOption {
	return func(p *GCPKMSProvider) { p.client = client }
}

// NewGCPKMSProvider creates the provider. Settings: key_name, or project_id,
// location, key_ring and crypto_key; credentials_file,
// impersonate_service_account, endpoint. Credentials: credentials_json.
func NewGCPKMSProvider(cfg provider.Config, deps Deps, opts ...GCPKMSOption) (*GCPKMSProvider, error) {
	keyName, err := gcpKeyName(cfg)
	if err != nil {
		return nil, err
	}
	p := &GCPKMSProvider{base: newBase(secret.CloudKMS, cfg, deps), keyName: keyName}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		var settings map[string]string
		if cfg.SecretManagerConfig != nil {
			settings = cfg.Settings
		}
		ctx := context.Background()
		clientOpts, err := cloud.GCPClientOptions(ctx, cloud.GCPFromSettings(settings, cfg.Credentials))
		if err != nil {
			return nil, err
		}
		svc, err := cloudkms.NewService(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Cloud KMS client: %w", err)
		}
		p.client = cloudKMSService{keys: svc.Projects.Locations.KeyRings.CryptoKeys}
	}
	return p, nil
}

func gcpKeyName(cfg provider.Config) (string, error) {
	if name := cfg.Setting("key_name", ""); name != "" {
		return name, nil
	}
	project := cfg.Setting("project_id", "")
	location := cfg.Setting("location", "global")
	ring := cfg.Setting("key_ring", "")
	key := cfg.Setting("crypto_key", "")
	if project == "" || ring == "" || key == "" {
		return "", dserrors.ConfigError{
			Field:      "key_name",
			Message:    "Cloud KMS key is not configured",
			Suggestion: "Set key_name, or project_id, key_ring and crypto_key",
		}
	}
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s/cryptoKeys/%s", project, location, ring, key), nil
}

// NewGCPKMSProviderFactory is the registry factory.
func NewGCPKMSProviderFactory(cfg provider.Config, deps Deps) (provider.Provider, error) {
	return NewGCPKMSProvider(cfg, deps)
}

func (p *GCPKMSProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{InlineValues: true, Files: true, Network: true}
}

func (p *GCPKMSProvider) Encrypt(ctx context.Context, req provider.EncryptRequest) (*secret.EncryptedRecord, error) {
	if req.IsPathReference() {
		return nil, pathError(req.Path, "Cloud KMS does not support path references")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := provider.NewRecord(p, req)
	rec.CipherRef = ""
	if len(req.Plaintext) == 0 {
		return rec, nil
	}

	dek, err := crypto.NewDataKey()
	if err != nil {
		return nil, err
	}
	defer secure.Wipe(dek)

	aad := base64.StdEncoding.EncodeToString([]byte(req.TenantID))
	wrapped, err := call(ctx, p.base, executor.OpEncrypt, req.Name, func(ctx context.Context) (*cloudkms.EncryptResponse, error) {
		resp, err := p.client.Encrypt(ctx, p.keyName, &cloudkms.EncryptRequest{
			Plaintext:                   base64.StdEncoding.EncodeToString(dek),
			AdditionalAuthenticatedData: aad,
		})
		return resp, classifyGCP(err, "kms key", p.keyName)
	})
	if err != nil {
		return nil, err
	}

	sealed, err := crypto.Seal(dek, req.Plaintext, []byte(req.TenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to seal value for %s: %w", req.Name, err)
	}
	rec.CipherRef = wrapped.Ciphertext
	rec.Ciphertext = sealed
	return rec, nil
}

func (p *GCPKMSProvider) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	if len(rec.Ciphertext) == 0 {
		return []byte{}, nil
	}
	if rec.CipherRef == "" {
		return nil, dserrors.ValidationError{Field: "cipher_ref", Value: rec.ID, Message: "missing wrapped Cloud KMS data key"}
	}

	resp, err := call(ctx, p.base, executor.OpDecrypt, rec.Name, func(ctx context.Context) (*cloudkms.DecryptResponse, error) {
		resp, err := p.client.Decrypt(ctx, p.keyName, &cloudkms.DecryptRequest{
			Ciphertext:                  rec.CipherRef,
			AdditionalAuthenticatedData: base64.StdEncoding.EncodeToString([]byte(rec.TenantID)),
		})
		return resp, classifyGCP(err, "kms key", p.keyName)
	})
	if err != nil {
		return nil, err
	}

	dek, err := base64.StdEncoding.DecodeString(resp.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("cloud kms returned a malformed data key: %w", err)
	}
	defer secure.Wipe(dek)

	pt, err := crypto.Open(dek, rec.Ciphertext, []byte(rec.TenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to open value of %s: %w", rec.ID, err)
	}
	return pt, nil
}
