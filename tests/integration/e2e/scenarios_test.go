package e2e_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/migration"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
	"github.com/systmms/secretops/tests/fakes"
	"github.com/systmms/secretops/tests/testutil"
)

func TestSaveAndDecryptWithLocalDefault(t *testing.T) {
	t.Parallel()

	w := newWorld(t)
	id := w.save(t, "db-pass", "S3cr3t!")
	require.NotEmpty(t, id)

	rec := w.Record(t, id)
	assert.Equal(t, secret.Local, rec.ProviderType)
	assert.Empty(t, rec.ProviderConfigID)
	assert.NotContains(t, string(rec.Ciphertext), "S3cr3t!")

	assert.Equal(t, "S3cr3t!", w.decrypt(t, id))
	testutil.AssertNoSecretLeak(t, w.Log.Output(), "S3cr3t!")
}

func TestSwitchingTheDefaultSecretManager(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newWorld(t)
	k := w.AddManager(t, tenant, "kms", secret.KMS, true)

	settings := map[string]string{"address": "https://vault.example.com"}
	v, err := w.Registry.Save(ctx, provider.Config{
		SecretManagerConfig: &secret.SecretManagerConfig{
			TenantID:     tenant,
			ProviderType: secret.Vault,
			DisplayName:  "vault",
			IsDefault:    true,
			Settings:     settings,
		},
		Credentials: map[string]string{"token": "hvs.root-token"},
	})
	require.NoError(t, err)

	cfgs, err := w.Registry.List(ctx, tenant, true)
	require.NoError(t, err)
	defaults := map[string]bool{}
	for _, c := range cfgs {
		defaults[c.ID()] = c.IsDefault
		assert.NotContains(t, c.Credentials, "hvs.root-token")
	}
	assert.True(t, defaults[v.ID])
	assert.False(t, defaults[k.ID])

	// New secrets now land in Vault.
	id := w.save(t, "api-key", "k-123")
	rec := w.Record(t, id)
	assert.Equal(t, secret.Vault, rec.ProviderType)
	assert.Equal(t, v.ID, rec.ProviderConfigID)
	assert.Equal(t, "k-123", w.decrypt(t, id))
}

func TestQueuedMigrationFromLocalToVault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newWorld(t)
	id := w.save(t, "db-pass", "S3cr3t!")
	vault := w.AddManager(t, tenant, "vault", secret.Vault, false)
	before := w.Record(t, id)

	require.NoError(t, w.Queue.Enqueue(ctx, secret.TransitionTask{
		TenantID:         tenant,
		SecretID:         id,
		FromProviderType: secret.Local,
		ToProviderType:   secret.Vault,
		ToConfigID:       vault.ID,
	}))
	n, err := w.Coord.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, w.Queue.DeadLetters())

	after := w.Record(t, id)
	assert.Equal(t, secret.Vault, after.ProviderType)
	assert.Equal(t, vault.ID, after.ProviderConfigID)
	require.NotNil(t, after.BackupSnapshot)
	assert.Equal(t, secret.Local, after.BackupSnapshot.ProviderType)
	assert.Equal(t, before.Ciphertext, after.BackupSnapshot.Ciphertext)
	assert.Equal(t, "S3cr3t!", w.decrypt(t, id))

	stored, ok := w.Vault.Get(after.CipherRef)
	require.True(t, ok)
	assert.Equal(t, "S3cr3t!", stored["value"])

	run := w.Coord.LastRun(id)
	require.NotNil(t, run)
	assert.Equal(t, migration.StateCommitted, run.State())
	assert.Contains(t, run.Path(), migration.StateVerified)

	testutil.AssertNoSecretLeak(t, w.Log.Output(), "S3cr3t!")
}

func TestThrottledSecretsManagerRecovers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newWorld(t)
	w.AddManager(t, tenant, "csm", secret.CloudSecretsManager, true)
	id := w.save(t, "db-pass", "S3cr3t!")
	require.Equal(t, secret.CloudSecretsManager, w.Record(t, id).ProviderType)

	w.CSM.ResetCalls()
	w.CSM.FailNext("GetSecretValue", fakes.AWSThrottlingError(), fakes.AWSThrottlingError())

	v, err := w.Secrets.DecryptSecret(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, "S3cr3t!", v)
	assert.Equal(t, 3, w.CSM.Calls("GetSecretValue"))
}

func TestThrottlingBeyondTheRetryBudgetFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newWorld(t)
	w.AddManager(t, tenant, "csm", secret.CloudSecretsManager, true)
	id := w.save(t, "db-pass", "S3cr3t!")

	w.CSM.ResetCalls()
	w.CSM.FailNext("GetSecretValue", fakes.AWSThrottlingError(), fakes.AWSThrottlingError(), fakes.AWSThrottlingError())

	_, err := w.Secrets.DecryptSecret(ctx, tenant, id)
	require.Error(t, err)
	var opErr dserrors.ProviderOperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, 3, w.CSM.Calls("GetSecretValue"))
	assert.NotContains(t, err.Error(), "S3cr3t!")
}

func TestDecryptWithMissingSecretManager(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newWorld(t)
	orphan, err := w.Records.SaveRecord(ctx, &secret.EncryptedRecord{
		TenantID:         tenant,
		Name:             "orphan",
		Kind:             secret.KindSecretText,
		ProviderType:     secret.Vault,
		ProviderConfigID: "does-not-exist",
		CipherRef:        "secretops/t1/orphan",
	})
	require.NoError(t, err)

	_, err = w.Secrets.DecryptSecret(ctx, tenant, orphan.ID)
	require.Error(t, err)
	assert.True(t, dserrors.IsNotFound(err), "got %v", err)
}

func TestConcurrentDeliveriesCommitOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newWorld(t)
	w.AddManager(t, tenant, "kms", secret.KMS, true)
	id := w.save(t, "db-pass", "S3cr3t!")
	vault := w.AddManager(t, tenant, "vault", secret.Vault, false)
	rec := w.Record(t, id)
	task := secret.TransitionTask{
		TenantID:         tenant,
		SecretID:         id,
		FromProviderType: rec.ProviderType,
		FromConfigID:     rec.ProviderConfigID,
		ToProviderType:   secret.Vault,
		ToConfigID:       vault.ID,
	}

	w.KMS.Hold(2)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.Coord.Process(ctx, task)
		}(i)
	}
	wg.Wait()

	var conflicts, successes int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case storage.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	after := w.Record(t, id)
	assert.Equal(t, secret.Vault, after.ProviderType)
	assert.Equal(t, rec.Version+1, after.Version)
	assert.Equal(t, "S3cr3t!", w.decrypt(t, id))

	// The loser's redelivery short-circuits.
	run, err := w.Coord.Process(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, migration.StateSkipped, run.State())
	assert.Equal(t, after.Version, w.Record(t, id).Version)
}
