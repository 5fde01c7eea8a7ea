package providers

import (
	"context"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/systmms/secretops/internal/cloud"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client used by
// the provider.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// DefaultSecretsManagerPrefix namespaces secrets written by secretops.
const DefaultSecretsManagerPrefix = "secretops"

// AWSSecretsManagerProvider stores values as AWS Secrets Manager secrets.
// CipherRef is the secret name.
type AWSSecretsManagerProvider struct {
	base
	client   SecretsManagerClientAPI
	prefix   string
	kmsKeyID string
}

// SecretsManagerOption configures an AWSSecretsManagerProvider.
type SecretsManagerOption func(*AWSSecretsManagerProvider)

// WithSecretsManagerClient injects a client, mainly for tests.
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(p *AWSSecretsManagerProvider) { p.client = client }
}

// NewAWSSecretsManagerProvider creates the provider. Settings: prefix,
// kms_key_id, region, endpoint, profile, assume_role_arn, external_id.
func NewAWSSecretsManagerProvider(cfg provider.Config, deps Deps, opts ...SecretsManagerOption) (*AWSSecretsManagerProvider, error) {
	p := &AWSSecretsManagerProvider{
		base:     newBase(secret.CloudSecretsManager, cfg, deps),
		prefix:   cfg.Setting("prefix", DefaultSecretsManagerPrefix),
		kmsKeyID: cfg.Setting("kms_key_id", ""),
	}
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
		p.client = secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			if awsOpts.Endpoint != "" {
				o.BaseEndpoint = aws.String(awsOpts.Endpoint)
			}
		})
	}
	return p, nil
}

// NewAWSSecretsManagerProviderFactory is the registry factory.
func NewAWSSecretsManagerProviderFactory(cfg provider.Config, deps Deps) (provider.Provider, error) {
	return NewAWSSecretsManagerProvider(cfg, deps)
}

func (p *AWSSecretsManagerProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		StoresRemotely: true,
		InlineValues:   true,
		PathReferences: true,
		Files:          true,
		Network:        true,
	}
}

// ValidateName checks the derived secret name against Secrets Manager rules.
func (p *AWSSecretsManagerProvider) ValidateName(name string) error {
	return validateAWSName(remoteName(p.prefix, "tenant", name))
}

func (p *AWSSecretsManagerProvider) Encrypt(ctx context.Context, req provider.EncryptRequest) (*secret.EncryptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := provider.NewRecord(p, req)
	rec.CipherRef = ""

	if req.IsPathReference() {
		if _, err := p.resolvePath(ctx, req.Path); err != nil {
			return nil, err
		}
		return rec, nil
	}
	if len(req.Plaintext) == 0 {
		return rec, nil
	}

	name := remoteName(p.prefix, req.TenantID, req.Name)
	if err := validateAWSName(name); err != nil {
		return nil, err
	}

	err := p.run(ctx, executor.OpProbe, name, func(ctx context.Context) error {
		_, err := p.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(name)})
		return classifyAWS(err, "secret", name)
	})
	switch {
	case err == nil:
		err = p.run(ctx, executor.OpEncrypt, name, func(ctx context.Context) error {
			_, err := p.client.PutSecretValue(ctx, putSecretInput(name, req.Plaintext))
			return classifyAWS(err, "secret", name)
		})
	case dserrors.IsNotFound(err):
		err = p.run(ctx, executor.OpEncrypt, name, func(ctx context.Context) error {
			_, err := p.client.CreateSecret(ctx, p.createSecretInput(name, req.Plaintext))
			return classifyAWS(err, "secret", name)
		})
	}
	if err != nil {
		return nil, err
	}

	rec.CipherRef = name
	return rec, nil
}

func (p *AWSSecretsManagerProvider) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	if rec.IsPathReference() {
		return p.resolvePath(ctx, rec.Path)
	}
	if rec.CipherRef == "" {
		return []byte{}, nil
	}
	return p.getValue(ctx, executor.OpDecrypt, rec.CipherRef)
}

// DeleteRemote removes the secret behind rec. Path references are owned by
// someone else and are left alone.
func (p *AWSSecretsManagerProvider) DeleteRemote(ctx context.Context, rec *secret.EncryptedRecord) error {
	if rec.IsPathReference() || rec.CipherRef == "" {
		return nil
	}
	err := p.run(ctx, executor.OpDelete, rec.CipherRef, func(ctx context.Context) error {
		_, err := p.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
			SecretId:                   aws.String(rec.CipherRef),
			ForceDeleteWithoutRecovery: aws.Bool(true),
		})
		return classifyAWS(err, "secret", rec.CipherRef)
	})
	if dserrors.IsNotFound(err) {
		return nil
	}
	return err
}

// resolvePath reads "name" or "name#key".
func (p *AWSSecretsManagerProvider) resolvePath(ctx context.Context, path string) ([]byte, error) {
	name, key := provider.SplitPath(path)
	if name == "" {
		return nil, pathError(path, "secret name is empty")
	}
	value, err := p.getValue(ctx, executor.OpDecrypt, name)
	if err != nil {
		return nil, err
	}
	return selectKey(value, key, path)
}

func (p *AWSSecretsManagerProvider) getValue(ctx context.Context, op executor.Operation, name string) ([]byte, error) {
	out, err := call(ctx, p.base, op, name, func(ctx context.Context) (*secretsmanager.GetSecretValueOutput, error) {
		out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
		return out, classifyAWS(err, "secret", name)
	})
	if err != nil {
		return nil, err
	}
	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	return out.SecretBinary, nil
}

func (p *AWSSecretsManagerProvider) createSecretInput(name string, value []byte) *secretsmanager.CreateSecretInput {
	in := &secretsmanager.CreateSecretInput{
		Name:        aws.String(name),
		Description: aws.String("Managed by secretops"),
	}
	if p.kmsKeyID != "" {
		in.KmsKeyId = aws.String(p.kmsKeyID)
	}
	if utf8.Valid(value) {
		in.SecretString = aws.String(string(value))
	} else {
		in.SecretBinary = value
	}
	return in
}

func putSecretInput(name string, value []byte) *secretsmanager.PutSecretValueInput {
	in := &secretsmanager.PutSecretValueInput{SecretId: aws.String(name)}
	if utf8.Valid(value) {
		in.SecretString = aws.String(string(value))
	} else {
		in.SecretBinary = value
	}
	return in
}
