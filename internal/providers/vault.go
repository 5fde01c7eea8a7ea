package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
	"unicode/utf8"

	vault "github.com/hashicorp/vault/api"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// Vault defaults.
const (
	DefaultVaultEngine   = "secret"
	DefaultVaultBasePath = "secretops"
	vaultValueKey        = "value"
	vaultEncodingKey     = "encoding"
)

// VaultLogical is the subset of the Vault logical API used by the provider.
// *vault.Logical satisfies it.
type VaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vault.Secret, error)
	DeleteWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// VaultProvider stores values in a HashiCorp Vault KV engine. CipherRef is the
// secret path below the engine mount.
type VaultProvider struct {
	base
	logical  VaultLogical
	setToken func(string)
	tokens   *TokenCache
	login    RefreshFunc

	engine   string
	kvV2     bool
	basePath string
}

// VaultOption configures a VaultProvider.
type VaultOption func(*VaultProvider)

// WithVaultLogical injects the logical client, mainly for tests.
func WithVaultLogical(l VaultLogical) VaultOption {
	return func(p *VaultProvider) { p.logical = l }
}

// NewVaultProvider creates the provider. Settings: address, namespace,
// engine, engine_version (1 or 2), base_path, auth_method (token or approle),
// role_id. Credentials: token, secret_id.
func NewVaultProvider(cfg provider.Config, deps Deps, opts ...VaultOption) (*VaultProvider, error) {
	version := cfg.Setting("engine_version", "2")
	if version != "1" && version != "2" {
		return nil, dserrors.ConfigError{
			Field:      "engine_version",
			Value:      version,
			Message:    "KV engine version must be 1 or 2",
			Suggestion: "Set engine_version to 1 or 2",
		}
	}

	p := &VaultProvider{
		base:     newBase(secret.Vault, cfg, deps),
		tokens:   NewTokenCache(),
		engine:   cfg.Setting("engine", DefaultVaultEngine),
		kvV2:     version == "2",
		basePath: cfg.Setting("base_path", DefaultVaultBasePath),
		setToken: func(string) {},
	}
	for _, opt := range opts {
		opt(p)
	}

	authMethod := cfg.Setting("auth_method", "token")
	if authMethod != "token" && authMethod != "approle" {
		return nil, dserrors.ConfigError{
			Field:      "auth_method",
			Value:      authMethod,
			Message:    "unsupported Vault auth method",
			Suggestion: "Use 'token' or 'approle'",
		}
	}

	if p.logical == nil {
		client, err := newVaultClient(cfg)
		if err != nil {
			return nil, err
		}
		p.logical = client.Logical()
		p.setToken = client.SetToken
		if authMethod == "token" {
			token := cfg.Credential("token")
			if token == "" {
				return nil, dserrors.ConfigError{
					Field:      "token",
					Message:    "Vault token is required for token auth",
					Suggestion: "Provide the token credential or switch auth_method to approle",
				}
			}
			client.SetToken(token)
		}
	}

	if authMethod == "approle" {
		roleID, secretID := cfg.Setting("role_id", ""), cfg.Credential("secret_id")
		if roleID == "" || secretID == "" {
			return nil, dserrors.ConfigError{
				Field:      "role_id",
				Message:    "AppRole auth needs role_id and the secret_id credential",
				Suggestion: "Set role_id and provide secret_id",
			}
		}
		p.login = p.appRoleLogin(roleID, secretID)
	}
	return p, nil
}

func newVaultClient(cfg provider.Config) (*vault.Client, error) {
	vc := vault.DefaultConfig()
	if addr := cfg.Setting("address", ""); addr != "" {
		vc.Address = addr
	}
	if vc.Error != nil {
		return nil, fmt.Errorf("failed to read Vault environment: %w", vc.Error)
	}
	// Retries are owned by the executor.
	vc.MaxRetries = 0

	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if ns := cfg.Setting("namespace", ""); ns != "" {
		client.SetNamespace(ns)
	}
	return client, nil
}

// NewVaultProviderFactory is the registry factory.
func NewVaultProviderFactory(cfg provider.Config, deps Deps) (provider.Provider, error) {
	return NewVaultProvider(cfg, deps)
}

func (p *VaultProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		StoresRemotely: true,
		InlineValues:   true,
		PathReferences: true,
		KeyedPaths:     true,
		Files:          true,
		Network:        true,
	}
}

func (p *VaultProvider) ValidateName(name string) error {
	return validateVaultName(name)
}

func (p *VaultProvider) Encrypt(ctx context.Context, req provider.EncryptRequest) (*secret.EncryptedRecord, error) {
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
	if err := validateVaultName(req.Name); err != nil {
		return nil, err
	}

	sub := joinPath(p.basePath, req.TenantID, req.Name)
	existing, err := p.read(ctx, executor.OpProbe, sub)
	if err != nil && !dserrors.IsNotFound(err) {
		return nil, err
	}

	payload := map[string]interface{}{vaultValueKey: string(req.Plaintext)}
	if !utf8.Valid(req.Plaintext) {
		payload[vaultValueKey] = base64.StdEncoding.EncodeToString(req.Plaintext)
		payload[vaultEncodingKey] = "base64"
	}

	body := payload
	if p.kvV2 {
		body = map[string]interface{}{"data": payload}
		if existing == nil {
			body["options"] = map[string]interface{}{"cas": 0}
		}
	}

	err = p.run(ctx, executor.OpEncrypt, sub, func(ctx context.Context) error {
		if err := p.authenticate(ctx); err != nil {
			return err
		}
		_, err := p.logical.WriteWithContext(ctx, p.dataPath(sub), body)
		return classifyVault(err, "vault secret", sub)
	})
	if err != nil {
		return nil, err
	}

	rec.CipherRef = sub
	return rec, nil
}

func (p *VaultProvider) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	if rec.IsPathReference() {
		return p.resolvePath(ctx, rec.Path)
	}
	if rec.CipherRef == "" {
		return []byte{}, nil
	}
	data, err := p.read(ctx, executor.OpDecrypt, rec.CipherRef)
	if err != nil {
		return nil, err
	}
	raw, ok := data[vaultValueKey].(string)
	if !ok {
		return nil, dserrors.NotFoundError{Resource: "vault secret key", ID: rec.CipherRef + provider.KeySeparator + vaultValueKey}
	}
	if data[vaultEncodingKey] == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("vault secret %s has a corrupt base64 value: %w", rec.CipherRef, err)
		}
		return decoded, nil
	}
	return []byte(raw), nil
}

// DeleteRemote removes the secret and, on KV v2, all its versions.
func (p *VaultProvider) DeleteRemote(ctx context.Context, rec *secret.EncryptedRecord) error {
	if rec.IsPathReference() || rec.CipherRef == "" {
		return nil
	}
	target := p.dataPath(rec.CipherRef)
	if p.kvV2 {
		target = joinPath(p.engine, "metadata", rec.CipherRef)
	}
	err := p.run(ctx, executor.OpDelete, rec.CipherRef, func(ctx context.Context) error {
		if err := p.authenticate(ctx); err != nil {
			return err
		}
		_, err := p.logical.DeleteWithContext(ctx, target)
		return classifyVault(err, "vault secret", rec.CipherRef)
	})
	if dserrors.IsNotFound(err) {
		return nil
	}
	return err
}

// resolvePath reads "path#key". Vault references must name a key.
func (p *VaultProvider) resolvePath(ctx context.Context, ref string) ([]byte, error) {
	sub, key := provider.SplitPath(ref)
	if sub == "" || key == "" {
		return nil, pathError(ref, "Vault references must have the form path#key")
	}
	data, err := p.read(ctx, executor.OpDecrypt, sub)
	if err != nil {
		return nil, err
	}
	val, ok := data[key]
	if !ok {
		return nil, dserrors.NotFoundError{Resource: "vault secret key", ID: ref}
	}
	switch v := val.(type) {
	case string:
		return []byte(v), nil
	default:
		return []byte(fmt.Sprint(v)), nil
	}
}

// read returns the key/value data at sub or a NotFoundError.
func (p *VaultProvider) read(ctx context.Context, op executor.Operation, sub string) (map[string]interface{}, error) {
	s, err := call(ctx, p.base, op, sub, func(ctx context.Context) (*vault.Secret, error) {
		if err := p.authenticate(ctx); err != nil {
			return nil, err
		}
		s, err := p.logical.ReadWithContext(ctx, p.dataPath(sub))
		return s, classifyVault(err, "vault secret", sub)
	})
	if err != nil {
		return nil, err
	}
	if s == nil || s.Data == nil {
		return nil, dserrors.NotFoundError{Resource: "vault secret", ID: sub}
	}
	if !p.kvV2 {
		return s.Data, nil
	}
	data, ok := s.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		// Deleted KV v2 versions come back with data: null.
		return nil, dserrors.NotFoundError{Resource: "vault secret", ID: sub}
	}
	return data, nil
}

func (p *VaultProvider) dataPath(sub string) string {
	if p.kvV2 {
		return joinPath(p.engine, "data", sub)
	}
	return joinPath(p.engine, sub)
}

func (p *VaultProvider) authenticate(ctx context.Context) error {
	if p.login == nil {
		return nil
	}
	token, err := p.tokens.Token(ctx, p.login)
	if err != nil {
		return err
	}
	p.setToken(token)
	return nil
}

func (p *VaultProvider) appRoleLogin(roleID, secretID string) RefreshFunc {
	return func(ctx context.Context) (string, time.Duration, error) {
		resp, err := p.logical.WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   roleID,
			"secret_id": secretID,
		})
		if err != nil {
			return "", 0, classifyVault(err, "approle role", roleID)
		}
		if resp == nil || resp.Auth == nil || resp.Auth.ClientToken == "" {
			return "", 0, fmt.Errorf("vault approle login returned no token")
		}
		return resp.Auth.ClientToken, time.Duration(resp.Auth.LeaseDuration) * time.Second, nil
	}
}
