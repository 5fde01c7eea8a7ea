package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/secretops/internal/cloud"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// base64ContentType marks Key Vault secrets whose value is base64 encoded.
const base64ContentType = "application/octet-stream;base64"

// AzureKeyVaultClientAPI is the subset of the azsecrets client used by the
// provider.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	PurgeDeletedSecret(ctx context.Context, name string, options *azsecrets.PurgeDeletedSecretOptions) (azsecrets.PurgeDeletedSecretResponse, error)
}

// AzureKeyVaultProvider stores values as Key Vault secrets. CipherRef is the
// secret name.
type AzureKeyVaultProvider struct {
	base
	client AzureKeyVaultClientAPI
	prefix string
	purge  bool
}

// AzureProviderOption configures an AzureKeyVaultProvider.
type AzureProviderOption func(*AzureKeyVaultProvider)

// WithAzureKeyVaultClient injects a client, mainly for tests.
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureProviderOption {
	return func(p *AzureKeyVaultProvider) { p.client = client }
}

// NewAzureKeyVaultProvider creates the provider. Settings: vault_url
// (required), name_prefix, purge_on_delete, tenant_id, client_id,
// use_managed_identity, user_assigned_identity_id. Credentials:
// client_secret.
func NewAzureKeyVaultProvider(cfg provider.Config, deps Deps, opts ...AzureProviderOption) (*AzureKeyVaultProvider, error) {
	p := &AzureKeyVaultProvider{
		base:   newBase(secret.CloudKeyVault, cfg, deps),
		prefix: cfg.Setting("name_prefix", ""),
		purge:  cfg.Setting("purge_on_delete", "false") == "true",
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		vaultURL := cfg.Setting("vault_url", "")
		if vaultURL == "" {
			return nil, dserrors.ConfigError{
				Field:      "vault_url",
				Message:    "Key Vault URL is required",
				Suggestion: "Set vault_url, e.g. https://my-vault.vault.azure.net/",
			}
		}
		if !strings.HasPrefix(vaultURL, "https://") {
			return nil, dserrors.ConfigError{
				Field:      "vault_url",
				Value:      vaultURL,
				Message:    "Key Vault URL must use https",
				Suggestion: "Use the vault URI shown in the Azure portal",
			}
		}
		var settings map[string]string
		if cfg.SecretManagerConfig != nil {
			settings = cfg.Settings
		}
		cred, err := cloud.AzureCredential(cloud.AzureFromSettings(settings, cfg.Credentials))
		if err != nil {
			return nil, err
		}
		client, err := azsecrets.NewClient(vaultURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
		}
		p.client = client
	}
	return p, nil
}

// NewAzureKeyVaultProviderFactory is the registry factory.
func NewAzureKeyVaultProviderFactory(cfg provider.Config, deps Deps) (provider.Provider, error) {
	return NewAzureKeyVaultProvider(cfg, deps)
}

func (p *AzureKeyVaultProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		StoresRemotely: true,
		InlineValues:   true,
		Files:          true,
		Network:        true,
	}
}

func (p *AzureKeyVaultProvider) ValidateName(name string) error {
	return validateAzureName(p.secretName(name))
}

func (p *AzureKeyVaultProvider) secretName(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "-" + name
}

func (p *AzureKeyVaultProvider) Encrypt(ctx context.Context, req provider.EncryptRequest) (*secret.EncryptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.IsPathReference() {
		return nil, pathError(req.Path, "Key Vault does not support path references")
	}
	rec := provider.NewRecord(p, req)
	rec.CipherRef = ""
	if len(req.Plaintext) == 0 {
		return rec, nil
	}

	name := p.secretName(req.Name)
	if err := validateAzureName(name); err != nil {
		return nil, err
	}

	err := p.run(ctx, executor.OpProbe, name, func(ctx context.Context) error {
		_, err := p.client.GetSecret(ctx, name, "", nil)
		return classifyAzure(err, "key vault secret", name)
	})
	switch {
	case err == nil:
		p.logger.Debug("updating Key Vault secret %s", name)
	case dserrors.IsNotFound(err):
		p.logger.Debug("creating Key Vault secret %s", name)
	default:
		return nil, err
	}

	params := azsecrets.SetSecretParameters{Value: to.Ptr(string(req.Plaintext))}
	if !utf8.Valid(req.Plaintext) {
		params.Value = to.Ptr(base64.StdEncoding.EncodeToString(req.Plaintext))
		params.ContentType = to.Ptr(base64ContentType)
	}
	err = p.run(ctx, executor.OpEncrypt, name, func(ctx context.Context) error {
		_, err := p.client.SetSecret(ctx, name, params, nil)
		return classifyAzure(err, "key vault secret", name)
	})
	if err != nil {
		return nil, err
	}

	rec.CipherRef = name
	return rec, nil
}

func (p *AzureKeyVaultProvider) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	if rec.CipherRef == "" {
		return []byte{}, nil
	}
	resp, err := call(ctx, p.base, executor.OpDecrypt, rec.CipherRef, func(ctx context.Context) (azsecrets.GetSecretResponse, error) {
		resp, err := p.client.GetSecret(ctx, rec.CipherRef, "", nil)
		return resp, classifyAzure(err, "key vault secret", rec.CipherRef)
	})
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return []byte{}, nil
	}
	if resp.ContentType != nil && *resp.ContentType == base64ContentType {
		decoded, err := base64.StdEncoding.DecodeString(*resp.Value)
		if err != nil {
			return nil, fmt.Errorf("key vault secret %s has a corrupt base64 value: %w", rec.CipherRef, err)
		}
		return decoded, nil
	}
	return []byte(*resp.Value), nil
}

// DeleteRemote deletes the secret and, with purge_on_delete, purges it so
// the name can be reused at once.
func (p *AzureKeyVaultProvider) DeleteRemote(ctx context.Context, rec *secret.EncryptedRecord) error {
	if rec.CipherRef == "" {
		return nil
	}
	name := rec.CipherRef
	err := p.run(ctx, executor.OpDelete, name, func(ctx context.Context) error {
		_, err := p.client.DeleteSecret(ctx, name, nil)
		return classifyAzure(err, "key vault secret", name)
	})
	if dserrors.IsNotFound(err) {
		return nil
	}
	if err != nil || !p.purge {
		return err
	}
	err = p.run(ctx, executor.OpDelete, name, func(ctx context.Context) error {
		_, err := p.client.PurgeDeletedSecret(ctx, name, nil)
		return classifyAzure(err, "deleted key vault secret", name)
	})
	if dserrors.IsNotFound(err) {
		return nil
	}
	return err
}
