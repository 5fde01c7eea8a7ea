package cloud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secretops/internal/errors"
)

func TestLoadAWS_StaticCredentials(t *testing.T) {
	cfg, err := LoadAWS(context.Background(), AWSOptions{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", creds.AccessKeyID)
}

func TestLoadAWS_HalfCredentials(t *testing.T) {
	_, err := LoadAWS(context.Background(), AWSOptions{AccessKeyID: "AKIAEXAMPLE"})
	require.Error(t, err)
	var cfgErr dserrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadAWS_AssumeRoleWrapsCredentials(t *testing.T) {
	cfg, err := LoadAWS(context.Background(), AWSOptions{
		Region:          "us-east-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		AssumeRoleARN:   "arn:aws:iam::123456789012:role/secretops",
	})
	require.NoError(t, err)
	assert.NotNil(t, cfg.Credentials)
}

func TestAWSFromSettings(t *testing.T) {
	opts := AWSFromSettings(
		map[string]string{"region": "us-east-2", "assume_role_arn": "arn:role", "endpoint": "http://localhost:4566"},
		map[string]string{"access_key_id": "id", "secret_access_key": "key"},
	)
	assert.Equal(t, "us-east-2", opts.Region)
	assert.Equal(t, "arn:role", opts.AssumeRoleARN)
	assert.Equal(t, "http://localhost:4566", opts.Endpoint)
	assert.True(t, opts.HasStaticCredentials())
}

func TestAzureFromSettings(t *testing.T) {
	opts := AzureFromSettings(
		map[string]string{"tenant_id": "t", "client_id": "c", "use_managed_identity": "true"},
		map[string]string{"client_secret": "s"},
	)
	assert.True(t, opts.UseManagedIdentity)
	assert.Equal(t, "s", opts.ClientSecret)
}

func TestAzureCredential_ClientSecret(t *testing.T) {
	cred, err := AzureCredential(AzureOptions{TenantID: "00000000-0000-0000-0000-000000000000", ClientID: "client", ClientSecret: "secret"})
	require.NoError(t, err)
	assert.NotNil(t, cred)
}

func TestGCPClientOptions(t *testing.T) {
	opts, err := GCPClientOptions(context.Background(), GCPOptions{})
	require.NoError(t, err)
	assert.Empty(t, opts)

	opts, err = GCPClientOptions(context.Background(), GCPOptions{CredentialsFile: "/tmp/key.json", Endpoint: "localhost:8080"})
	require.NoError(t, err)
	assert.Len(t, opts, 2)
}
