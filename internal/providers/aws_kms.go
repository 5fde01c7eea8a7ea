package providers

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/systmms/secretops/internal/cloud"
	"github.com/systmms/secretops/internal/crypto"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/internal/secure"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// kmsContextKey binds each data key to its tenant.
const kmsContextKey = "secretops:tenant"

// KMSClientAPI is the subset of the AWS KMS client used by the provider.
type KMSClientAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSProvider envelope-encrypts values: KMS issues a data key, the value is
// sealed locally and the wrapped data key is stored as CipherRef.
type AWSKMSProvider struct {
	base
	client KMSClientAPI
	keyID  string
}

// AWSKMSOption configures an AWSKMSProvider.
type AWSKMSOption func(*AWSKMSProvider)

// WithKMSClient injects a KMS client, mainly for tests.
func WithKMSClient(client KMSClientAPI) AWSKMSOption {
	return func(p *AWSKMSProvider) { p.client = client }
}

// NewAWSKMSProvider creates a KMS provider. Settings: key_id (required),
// region, endpoint, profile, assume_role_arn, external_id.
func NewAWSKMSProvider(cfg provider.Config, deps Deps, opts ...AWSKMSOption) (*AWSKMSProvider, error) {
	keyID := cfg.Setting("key_id", "")
	if keyID == "" {
		return nil, dserrors.ConfigError{
			Field:      "key_id",
			Message:    "KMS key id is required",
			Suggestion: "Set key_id to a key id, key ARN or alias (alias/my-key)",
		}
	}

	p := &AWSKMSProvider{base: newBase(secret.KMS, cfg, deps), keyID: keyID}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		var settings map[string]string
		if cfg.SecretManagerConfig != nil {
			settings = cfg.Settings
		}
		awsOpts := cloud.AWSFromSettings(settings, cfg.Credentials)
		awsCfg, err := cloud.LoadAWS(context.Background(), awsOpts)
		if err != nil {
			return nil, err
		}
		p.client = kms.NewFromConfig(awsCfg, func(o *kms.Options) {
			if awsOpts.Endpoint != "" {
				o.BaseEndpoint = aws.String(awsOpts.Endpoint)
			}
		})
	}
	return p, nil
}

// NewAWSKMSProviderFactory is the registry factory for KMS.
func NewAWSKMSProviderFactory(cfg provider.Config, deps Deps) (provider.Provider, error) {
	return NewAWSKMSProvider(cfg, deps)
}

func (p *AWSKMSProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{InlineValues: true, Files: true, Network: true}
}

func (p *AWSKMSProvider) Encrypt(ctx context.Context, req provider.EncryptRequest) (*secret.EncryptedRecord, error) {
	if req.IsPathReference() {
		return nil, pathError(req.Path, "KMS does not support path references")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := provider.NewRecord(p, req)
	rec.CipherRef = ""
	if len(req.Plaintext) == 0 {
		return rec, nil
	}

	out, err := call(ctx, p.base, executor.OpEncrypt, req.Name, func(ctx context.Context) (*kms.GenerateDataKeyOutput, error) {
		out, err := p.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:             aws.String(p.keyID),
			KeySpec:           types.DataKeySpecAes256,
			EncryptionContext: map[string]string{kmsContextKey: req.TenantID},
		})
		return out, classifyAWS(err, "kms key", p.keyID)
	})
	if err != nil {
		return nil, err
	}
	defer secure.Wipe(out.Plaintext)

	sealed, err := crypto.Seal(out.Plaintext, req.Plaintext, []byte(req.TenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to seal value for %s: %w", req.Name, err)
	}
	rec.CipherRef = base64.StdEncoding.EncodeToString(out.CiphertextBlob)
	rec.Ciphertext = sealed
	return rec, nil
}

func (p *AWSKMSProvider) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	if len(rec.Ciphertext) == 0 {
		return []byte{}, nil
	}
	wrapped, err := base64.StdEncoding.DecodeString(rec.CipherRef)
	if err != nil || len(wrapped) == 0 {
		return nil, dserrors.ValidationError{Field: "cipher_ref", Value: rec.ID, Message: "not a wrapped KMS data key"}
	}

	out, err := call(ctx, p.base, executor.OpDecrypt, rec.Name, func(ctx context.Context) (*kms.DecryptOutput, error) {
		out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob:    wrapped,
			KeyId:             aws.String(p.keyID),
			EncryptionContext: map[string]string{kmsContextKey: rec.TenantID},
		})
		return out, classifyAWS(err, "kms key", p.keyID)
	})
	if err != nil {
		return nil, err
	}
	defer secure.Wipe(out.Plaintext)

	pt, err := crypto.Open(out.Plaintext, rec.Ciphertext, []byte(rec.TenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to open value of %s: %w", rec.ID, err)
	}
	return pt, nil
}
