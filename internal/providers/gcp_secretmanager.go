package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"

	"github.com/systmms/secretops/internal/cloud"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// GCPSecretManagerAPI is the subset of the Secret Manager client used by the
// provider. *secretmanager.Client satisfies it.
type GCPSecretManagerAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest, opts ...gax.CallOption) error
}

// GCPSecretManagerProvider stores values as Secret Manager secrets. CipherRef
// is the secret resource name (projects/P/secrets/ID).
type GCPSecretManagerProvider struct {
	base
	client    GCPSecretManagerAPI
	projectID string
	prefix    string
}

// GCPSecretManagerOption configures a GCPSecretManagerProvider.
type GCPSecretManagerOption func(*GCPSecretManagerProvider)

// WithGCPSecretManagerClient injects a client, mainly for tests.
func WithGCPSecretManagerClient(client GCPSecretManagerAPI) GCPSecretManagerOption {
	return func(p *GCPSecretManagerProvider) { p.client = client }
}

// NewGCPSecretManagerProvider creates the provider. Settings: project_id
// (falls back to GOOGLE_CLOUD_PROJECT), name_prefix, credentials_file,
// impersonate_service_account, endpoint. Credentials: credentials_json.
func NewGCPSecretManagerProvider(cfg provider.Config, deps Deps, opts ...GCPSecretManagerOption) (*GCPSecretManagerProvider, error) {
	projectID := cfg.Setting("project_id", os.Getenv("GOOGLE_CLOUD_PROJECT"))
	if projectID == "" {
		return nil, dserrors.ConfigError{
			Field:      "project_id",
			Message:    "GCP project ID is required",
			Suggestion: "Set project_id or the GOOGLE_CLOUD_PROJECT environment variable",
		}
	}

	p := &GCPSecretManagerProvider{
		base:      newBase(secret.GCPSecretManager, cfg, deps),
		projectID: projectID,
		prefix:    cfg.Setting("name_prefix", ""),
	}
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
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
		}
		p.client = client
	}
	return p, nil
}

// NewGCPSecretManagerProviderFactory is the registry factory.
func NewGCPSecretManagerProviderFactory(cfg provider.Config, deps Deps) (provider.Provider, error) {
	return NewGCPSecretManagerProvider(cfg, deps)
}

func (p *GCPSecretManagerProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		StoresRemotely: true,
		InlineValues:   true,
		PathReferences: true,
		Files:          true,
		Network:        true,
	}
}

func (p *GCPSecretManagerProvider) ValidateName(name string) error {
	return validateGCPName(p.secretID(name))
}

func (p *GCPSecretManagerProvider) secretID(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "_" + name
}

func (p *GCPSecretManagerProvider) parent() string {
	return "projects/" + p.projectID
}

func (p *GCPSecretManagerProvider) Encrypt(ctx context.Context, req provider.EncryptRequest) (*secret.EncryptedRecord, error) {
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

	id := p.secretID(req.Name)
	if err := validateGCPName(id); err != nil {
		return nil, err
	}
	name := p.parent() + "/secrets/" + id

	err := p.run(ctx, executor.OpProbe, name, func(ctx context.Context) error {
		_, err := p.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: name})
		return classifyGCP(err, "secret", name)
	})
	if dserrors.IsNotFound(err) {
		err = p.run(ctx, executor.OpEncrypt, name, func(ctx context.Context) error {
			_, err := p.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
				Parent:   p.parent(),
				SecretId: id,
				Secret: &secretmanagerpb.Secret{
					Replication: &secretmanagerpb.Replication{
						Replication: &secretmanagerpb.Replication_Automatic_{
							Automatic: &secretmanagerpb.Replication_Automatic{},
						},
					},
					Labels: map[string]string{"managed-by": "secretops"},
				},
			})
			return classifyGCP(err, "secret", name)
		})
	}
	if err != nil {
		return nil, err
	}

	err = p.run(ctx, executor.OpEncrypt, name, func(ctx context.Context) error {
		_, err := p.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
			Parent:  name,
			Payload: &secretmanagerpb.SecretPayload{Data: req.Plaintext},
		})
		return classifyGCP(err, "secret", name)
	})
	if err != nil {
		return nil, err
	}

	rec.CipherRef = name
	return rec, nil
}

func (p *GCPSecretManagerProvider) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	if rec.IsPathReference() {
		return p.resolvePath(ctx, rec.Path)
	}
	if rec.CipherRef == "" {
		return []byte{}, nil
	}
	return p.access(ctx, rec.CipherRef+"/versions/latest")
}

// DeleteRemote deletes the secret and all of its versions.
func (p *GCPSecretManagerProvider) DeleteRemote(ctx context.Context, rec *secret.EncryptedRecord) error {
	if rec.IsPathReference() || rec.CipherRef == "" {
		return nil
	}
	err := p.run(ctx, executor.OpDelete, rec.CipherRef, func(ctx context.Context) error {
		err := p.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: rec.CipherRef})
		return classifyGCP(err, "secret", rec.CipherRef)
	})
	if dserrors.IsNotFound(err) {
		return nil
	}
	return err
}

// resolvePath reads "id", "id#key" or a full resource name, optionally with
// "/versions/N".
func (p *GCPSecretManagerProvider) resolvePath(ctx context.Context, ref string) ([]byte, error) {
	target, key := provider.SplitPath(ref)
	if target == "" {
		return nil, pathError(ref, "secret id is empty")
	}

	var version string
	switch {
	case strings.HasPrefix(target, "projects/") && strings.Contains(target, "/versions/"):
		version = target
	case strings.HasPrefix(target, "projects/"):
		version = target + "/versions/latest"
	default:
		if err := validateGCPName(target); err != nil {
			return nil, pathError(ref, "not a valid secret id")
		}
		version = p.parent() + "/secrets/" + target + "/versions/latest"
	}

	value, err := p.access(ctx, version)
	if err != nil {
		return nil, err
	}
	return selectKey(value, key, ref)
}

func (p *GCPSecretManagerProvider) access(ctx context.Context, version string) ([]byte, error) {
	resp, err := call(ctx, p.base, executor.OpDecrypt, version, func(ctx context.Context) (*secretmanagerpb.AccessSecretVersionResponse, error) {
		resp, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: version})
		return resp, classifyGCP(err, "secret version", version)
	})
	if err != nil {
		return nil, err
	}
	if resp.GetPayload() == nil {
		return []byte{}, nil
	}
	return resp.GetPayload().GetData(), nil
}
