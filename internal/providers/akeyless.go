package providers

import (
	"context"
	"strconv"
	"strings"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// AkeylessProvider backs ENTERPRISE_VAULT. It only references secrets that
// already exist in the vault and never writes.
type AkeylessProvider struct {
	base
	client AkeylessClient
	tokens *TokenCache
}

// AkeylessOption configures an AkeylessProvider.
type AkeylessOption func(*AkeylessProvider)

// WithAkeylessClient injects a client, mainly for tests.
func WithAkeylessClient(client AkeylessClient) AkeylessOption {
	return func(p *AkeylessProvider) { p.client = client }
}

// NewAkeylessProvider creates the provider. Settings: access_id (required),
// gateway_url, auth_method, azure_ad_object_id, gcp_audience. Credentials:
// access_key.
func NewAkeylessProvider(cfg provider.Config, deps Deps, opts ...AkeylessOption) (*AkeylessProvider, error) {
	p := &AkeylessProvider{
		base:   newBase(secret.EnterpriseVault, cfg, deps),
		tokens: NewTokenCache(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		auth := AkeylessAuth{
			Method:          cfg.Setting("auth_method", "api_key"),
			AccessID:        cfg.Setting("access_id", ""),
			AccessKey:       cfg.Credential("access_key"),
			AzureADObjectID: cfg.Setting("azure_ad_object_id", ""),
			GCPAudience:     cfg.Setting("gcp_audience", ""),
		}
		if auth.AccessID == "" {
			return nil, dserrors.ConfigError{
				Field:      "access_id",
				Message:    "Akeyless access id is required",
				Suggestion: "Set access_id to the auth method's access id (p-xxxx)",
			}
		}
		if auth.Method == "api_key" && auth.AccessKey == "" {
			return nil, dserrors.ConfigError{
				Field:      "access_key",
				Message:    "api_key auth needs the access_key credential",
				Suggestion: "Provide access_key or choose aws_iam, azure_ad or gcp auth",
			}
		}
		p.client = newAkeylessSDKClient(cfg.Setting("gateway_url", DefaultAkeylessGateway), auth)
	}
	return p, nil
}

// NewAkeylessProviderFactory is the registry factory.
func NewAkeylessProviderFactory(cfg provider.Config, deps Deps) (provider.Provider, error) {
	return NewAkeylessProvider(cfg, deps)
}

func (p *AkeylessProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		StoresRemotely: true,
		PathReferences: true,
		Network:        true,
	}
}

func (p *AkeylessProvider) Encrypt(ctx context.Context, req provider.EncryptRequest) (*secret.EncryptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := provider.NewRecord(p, req)
	rec.CipherRef = ""

	if !req.IsPathReference() {
		if len(req.Plaintext) == 0 {
			return rec, nil
		}
		return nil, dserrors.UnsupportedOperationError{
			ProviderType: string(secret.EnterpriseVault),
			Operation:    "create secret",
			Reason:       "only references to existing secrets are supported",
		}
	}

	path, _, _, err := parseAkeylessReference(req.Path)
	if err != nil {
		return nil, err
	}
	err = p.run(ctx, executor.OpProbe, path, func(ctx context.Context) error {
		token, err := p.tokens.Token(ctx, p.client.Authenticate)
		if err != nil {
			return classifyAkeyless(err, "akeyless auth", path)
		}
		_, err = p.client.DescribeItem(ctx, token, path)
		return classifyAkeyless(err, "akeyless secret", path)
	})
	if err != nil {
		return nil, err
	}
	if _, err := p.resolve(ctx, req.Path); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *AkeylessProvider) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	if !rec.IsPathReference() {
		return []byte{}, nil
	}
	return p.resolve(ctx, rec.Path)
}

func (p *AkeylessProvider) resolve(ctx context.Context, ref string) ([]byte, error) {
	path, version, key, err := parseAkeylessReference(ref)
	if err != nil {
		return nil, err
	}
	value, err := call(ctx, p.base, executor.OpDecrypt, path, func(ctx context.Context) (string, error) {
		token, err := p.tokens.Token(ctx, p.client.Authenticate)
		if err != nil {
			return "", classifyAkeyless(err, "akeyless auth", path)
		}
		v, err := p.client.GetSecret(ctx, token, path, version)
		return v, classifyAkeyless(err, "akeyless secret", path)
	})
	if err != nil {
		return nil, err
	}
	return selectKey([]byte(value), key, ref)
}

// parseAkeylessReference parses "/path/to/secret[@vN][#key]".
func parseAkeylessReference(ref string) (path string, version *int, key string, err error) {
	path, key = provider.SplitPath(ref)
	if idx := strings.LastIndex(path, "@v"); idx != -1 {
		if v, convErr := strconv.Atoi(path[idx+2:]); convErr == nil {
			version = &v
			path = path[:idx]
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if path == "/" {
		return "", nil, "", pathError(ref, "akeyless reference path cannot be empty")
	}
	return path, version, key, nil
}
