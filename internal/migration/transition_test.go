package migration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/migration"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/secret"
)

func credentialOwners(t *testing.T, e *env, typ secret.ProviderType) []string {
	t.Helper()
	recs, err := e.Records.ListRecords(context.Background(), storage.RecordQuery{
		TenantID:     "t1",
		Kind:         secret.KindProviderCredential,
		ProviderType: typ,
	})
	require.NoError(t, err)
	var owners []string
	for _, rec := range recs {
		owners = append(owners, rec.Owners...)
	}
	return owners
}

func TestTransitionSecrets_CredentialRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     secret.ProviderType
		wantQueued int
	}{
		// Only the secret; VAULT never receives credentials.
		{name: "to vault", target: secret.Vault, wantQueued: 1},
		// The secret and the credentials of the other config.
		{name: "to kms", target: secret.KMS, wantQueued: 1 + 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			e := newEnv(t, false)
			e.saveSecret(t, "db-pass", "S3cr3t!")
			e.AddManager(t, "t1", "other", secret.CloudSecretsManager, false)
			target := e.AddManager(t, "t1", "target", tt.target, false)

			n, err := e.coord.TransitionSecrets(ctx, "t1", "", target.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantQueued, n)
			assert.Equal(t, tt.wantQueued, e.queue.Len())

			_, err = e.coord.Drain(ctx)
			require.NoError(t, err)
			assert.Empty(t, e.queue.DeadLetters())
			assert.NotContains(t, credentialOwners(t, e, tt.target), target.ID,
				"a config never encrypts its own credentials")

			// Every config is still usable.
			_, err = e.coord.TransitionAllToLocal(ctx, "t1")
			require.NoError(t, err)
			_, err = e.coord.Drain(ctx)
			require.NoError(t, err)
			assert.Empty(t, e.queue.DeadLetters())
		})
	}
}

func TestTransitionSecrets_Dedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t, false)
	e.saveSecret(t, "a", "1")
	e.saveSecret(t, "b", "2")
	vault := e.AddManager(t, "t1", "vault", secret.Vault, false)

	_, err := e.coord.TransitionSecrets(ctx, "t1", "", vault.ID)
	require.NoError(t, err)
	_, err = e.coord.TransitionSecrets(ctx, "t1", "", vault.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, e.queue.Len(), "tasks are queued once per secret")
}

func TestTransitionSecrets_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t, false)
	vault := e.AddManager(t, "t1", "vault", secret.Vault, false)
	foreign := e.AddManager(t, "t2", "vault", secret.Vault, false)

	_, err := e.coord.TransitionSecrets(ctx, "t1", vault.ID, vault.ID)
	var ve dserrors.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = e.coord.TransitionSecrets(ctx, "t1", "", foreign.ID)
	assert.True(t, dserrors.IsNotFound(err))
	assert.Zero(t, e.queue.Len())
}

func TestTransitionSecrets_FromConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t, false)
	vault := e.AddManager(t, "t1", "vault", secret.Vault, true)
	a := e.saveSecret(t, "a", "1")
	kms := e.AddManager(t, "t1", "kms", secret.KMS, true)
	b := e.saveSecret(t, "b", "2")

	n, err := e.coord.TransitionSecrets(ctx, "t1", vault.ID, kms.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = e.coord.Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, kms.ID, e.Record(t, a).ProviderConfigID)
	assert.Equal(t, kms.ID, e.Record(t, b).ProviderConfigID)
	assert.Equal(t, "1", e.decrypt(t, a))
}

func TestTransitionAllToLocal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t, false)
	vault := e.AddManager(t, "t1", "vault", secret.Vault, true)
	a := e.saveSecret(t, "a", "1")
	e.FakeFor(vault).WithPath("/kv/db#password", []byte("x"))
	_, err := e.Secrets.SaveSecret(ctx, "t1", secretInput("ref", "/kv/db#password"))
	require.NoError(t, err)
	e.AddManager(t, "t1", "kms", secret.KMS, true)
	b := e.saveSecret(t, "b", "2")

	n, err := e.coord.TransitionAllToLocal(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "path references stay")

	_, err = e.coord.Drain(ctx)
	require.NoError(t, err)
	for id, want := range map[string]string{a: "1", b: "2"} {
		assert.Equal(t, secret.Local, e.Record(t, id).ProviderType)
		assert.Equal(t, want, e.decrypt(t, id))
	}
}

func TestTransitionSecret(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t, false)
	id := e.saveSecret(t, "db-pass", "S3cr3t!")
	kms := e.AddManager(t, "t1", "kms", secret.KMS, false)

	queued, err := e.coord.TransitionSecret(ctx, "t1", id, kms.ID)
	require.NoError(t, err)
	assert.True(t, queued)
	_, err = e.coord.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, kms.ID, e.Record(t, id).ProviderConfigID)

	runs := e.coord.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, migration.StateCommitted, runs[0].State())

	_, err = e.coord.TransitionSecret(ctx, "t1", id, kms.ID)
	var ve dserrors.ValidationError
	assert.ErrorAs(t, err, &ve, "already there")

	_, err = e.coord.TransitionSecret(ctx, "t2", id, "")
	assert.True(t, dserrors.IsNotFound(err))
}
