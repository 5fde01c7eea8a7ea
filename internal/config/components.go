package config

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/systmms/secretops/internal/blob"
	"github.com/systmms/secretops/internal/cloud"
	"github.com/systmms/secretops/internal/executor"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/permissions"
	"github.com/systmms/secretops/internal/secure"
	"github.com/systmms/secretops/internal/storage"
)

// StorageOptions returns the document store selection.
func (d *Definition) StorageOptions() storage.Options {
	return storage.Options{Driver: d.Storage.Driver, DSN: d.Storage.DSN}
}

// BlobOptions returns the blob store selection.
func (d *Definition) BlobOptions() blob.Options {
	return blob.Options{
		Driver: d.Blobs.Driver,
		S3: blob.S3Options{
			Bucket:    d.Blobs.Bucket,
			Prefix:    d.Blobs.Prefix,
			Region:    d.Blobs.Region,
			Endpoint:  d.Blobs.Endpoint,
			Profile:   d.Blobs.Profile,
			PathStyle: d.Blobs.PathStyle,
		},
	}
}

// KeySource returns the configured master key source. The ssm source builds
// an SSM client from the default AWS credential chain.
func (d *Definition) KeySource(ctx context.Context) (secure.KeySource, error) {
	ref := d.LocalKey.Ref
	switch d.LocalKey.Source {
	case "file":
		return secure.FileKeySource{Path: ref}, nil
	case "keyring":
		service, account, ok := strings.Cut(ref, "/")
		if !ok {
			account = "master-key"
		}
		return secure.KeyringKeySource{Service: service, Account: account}, nil
	case "ssm":
		awsCfg, err := cloud.LoadAWS(ctx, cloud.AWSOptions{Region: d.LocalKey.Region})
		if err != nil {
			return nil, err
		}
		return secure.SSMKeySource{Client: ssm.NewFromConfig(awsCfg), Name: ref}, nil
	default:
		return secure.EnvKeySource{Var: ref}, nil
	}
}

// RetryPolicy returns the executor retry policy.
func (d *Definition) RetryPolicy() executor.RetryPolicy {
	return executor.NewFixedDelayPolicy(d.Executor.Attempts, d.Executor.Delay, nil)
}

// Timeouts returns the per-attempt deadlines.
func (d *Definition) Timeouts() executor.Timeouts {
	return executor.Timeouts{Encrypt: d.Executor.EncryptTimeout, Decrypt: d.Executor.DecryptTimeout}
}

// Authorizer returns the permission checker for the configured policies, or
// AllowAll when none are set.
func (d *Definition) Authorizer(logger *logging.Logger) permissions.Authorizer {
	if d.Permissions.Default == nil && len(d.Permissions.Tenants) == 0 {
		return permissions.AllowAll{}
	}
	return permissions.NewPermissionChecker(d.Permissions.Tenants, d.Permissions.Default, logger)
}
