package providers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/providers"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
	"github.com/systmms/secretops/tests/fakes"
	"github.com/systmms/secretops/tests/testutil"
)

func newSecretsManager(t *testing.T, settings map[string]string) (*providers.AWSSecretsManagerProvider, *fakes.FakeSecretsManagerClient) {
	t.Helper()
	client := fakes.NewFakeSecretsManagerClient()
	cfg := testutil.ProviderConfig(secret.CloudSecretsManager, "csm-1", settings)
	p, err := providers.NewAWSSecretsManagerProvider(cfg, testutil.ProviderDeps(t), providers.WithSecretsManagerClient(client))
	require.NoError(t, err)
	return p, client
}

func TestAWSSecretsManagerCreateThenUpdate(t *testing.T) {
	t.Parallel()

	p, client := newSecretsManager(t, map[string]string{"prefix": "apps", "kms_key_id": "alias/apps"})
	ctx := context.Background()

	rec, err := p.Encrypt(ctx, provider.EncryptRequest{TenantID: "t1", Name: "db-pass", Plaintext: []byte("v1")})
	require.NoError(t, err)
	assert.Equal(t, "apps/t1/db-pass", rec.CipherRef)
	assert.Empty(t, rec.Ciphertext)
	assert.Equal(t, 1, client.Calls("CreateSecret"))
	assert.Equal(t, "alias/apps", *client.Secrets["apps/t1/db-pass"].KmsKeyID)

	rec, err = p.Encrypt(ctx, provider.EncryptRequest{TenantID: "t1", Name: "db-pass", Plaintext: []byte("v2"), Existing: rec})
	require.NoError(t, err)
	assert.Equal(t, 1, client.Calls("PutSecretValue"))

	value, ok := client.Value("apps/t1/db-pass")
	require.True(t, ok)
	assert.Equal(t, "v2", value)
}

func TestAWSSecretsManagerBinaryValue(t *testing.T) {
	t.Parallel()

	p, client := newSecretsManager(t, nil)
	blob := []byte{0xff, 0x00, 0xfe, 0x10}

	rec, err := p.Encrypt(context.Background(), provider.EncryptRequest{TenantID: "t1", Name: "cert", Plaintext: blob})
	require.NoError(t, err)
	assert.Nil(t, client.Secrets[rec.CipherRef].SecretString)
	assert.Equal(t, blob, client.Secrets[rec.CipherRef].SecretBinary)

	got, err := p.Decrypt(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestAWSSecretsManagerRetriesThrottling(t *testing.T) {
	t.Parallel()

	p, client := newSecretsManager(t, nil)
	client.FailNext("CreateSecret", fakes.AWSThrottlingError(), fakes.AWSThrottlingError())

	rec, err := p.Encrypt(context.Background(), provider.EncryptRequest{TenantID: "t1", Name: "api-key", Plaintext: []byte("k")})
	require.NoError(t, err)
	assert.Equal(t, 3, client.Calls("CreateSecret"))
	assert.True(t, client.Has(rec.CipherRef))
}

func TestAWSSecretsManagerThrottlingExhausted(t *testing.T) {
	t.Parallel()

	p, client := newSecretsManager(t, nil)
	client.FailNext("CreateSecret", fakes.AWSThrottlingError(), fakes.AWSThrottlingError(), fakes.AWSThrottlingError())

	_, err := p.Encrypt(context.Background(), provider.EncryptRequest{TenantID: "t1", Name: "api-key", Plaintext: []byte("k")})
	require.Error(t, err)

	var opErr dserrors.ProviderOperationError
	require.True(t, errors.As(err, &opErr))
	assert.True(t, opErr.Exhausted())
	assert.Len(t, opErr.Attempts, 3)
	assert.Equal(t, string(secret.CloudSecretsManager), opErr.ProviderType)
	assert.NotEmpty(t, opErr.CorrelationID)
}

func TestAWSSecretsManagerAccessDeniedIsTerminal(t *testing.T) {
	t.Parallel()

	p, client := newSecretsManager(t, nil)
	client.FailNext("DescribeSecret", fakes.AWSAccessDeniedError())

	_, err := p.Encrypt(context.Background(), provider.EncryptRequest{TenantID: "t1", Name: "api-key", Plaintext: []byte("k")})
	require.Error(t, err)
	assert.Equal(t, 1, client.Calls("DescribeSecret"))
	assert.Zero(t, client.Calls("CreateSecret"))

	var opErr dserrors.ProviderOperationError
	require.True(t, errors.As(err, &opErr))
	assert.False(t, opErr.Exhausted())
}

func TestAWSSecretsManagerPathReference(t *testing.T) {
	t.Parallel()

	p, client := newSecretsManager(t, nil)
	client.AddSecretString("shared/db", `{"user":"app","password":"pw","nested":{"port":5432}}`)
	client.AddSecretString("shared/token", "raw-token")
	ctx := context.Background()

	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "shared/token", want: "raw-token"},
		{path: "shared/db#password", want: "pw"},
		{path: "shared/db#.nested.port", want: "5432"},
		{path: "shared/db#missing", wantErr: true},
		{path: "shared/token#key", wantErr: true},
		{path: "shared/absent", wantErr: true},
		{path: "#key", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, err := p.Encrypt(ctx, provider.EncryptRequest{TenantID: "t1", Name: "ref", Path: tt.path})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, rec.CipherRef)

			got, err := p.Decrypt(ctx, rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
	assert.Zero(t, client.Calls("CreateSecret"), "path references must not write")
}

func TestAWSSecretsManagerDeleteRemote(t *testing.T) {
	t.Parallel()

	p, client := newSecretsManager(t, nil)
	ctx := context.Background()

	rec, err := p.Encrypt(ctx, provider.EncryptRequest{TenantID: "t1", Name: "gone", Plaintext: []byte("x")})
	require.NoError(t, err)

	require.NoError(t, p.DeleteRemote(ctx, rec))
	assert.False(t, client.Has(rec.CipherRef))
	assert.Contains(t, client.Deleted, rec.CipherRef)

	// Deleting again is a no-op.
	require.NoError(t, p.DeleteRemote(ctx, rec))

	// Path references belong to someone else.
	client.AddSecretString("shared/db", "pw")
	require.NoError(t, p.DeleteRemote(ctx, &secret.EncryptedRecord{Path: "shared/db"}))
	assert.True(t, client.Has("shared/db"))
}

func TestAWSSecretsManagerValidateName(t *testing.T) {
	t.Parallel()

	p, _ := newSecretsManager(t, nil)
	assert.NoError(t, p.ValidateName("db-pass_1.prod+x=y@z"))
	assert.Error(t, p.ValidateName("has space"))
}
