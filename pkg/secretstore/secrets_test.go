package secretstore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretops/internal/audit"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/permissions"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/secret"
	"github.com/systmms/secretops/pkg/secretstore"
	"github.com/systmms/secretops/tests/testutil"
)

func saveSecret(t *testing.T, s *testutil.Stack, tenant, name, value string) string {
	t.Helper()
	id, err := s.Secrets.SaveSecret(context.Background(), tenant, secretstore.SecretInput{Name: name, Value: value})
	require.NoError(t, err)
	return id
}

func storageQuery(kind secret.Kind) storage.RecordQuery {
	return storage.RecordQuery{Kind: kind}
}

func messages(t *testing.T, s *testutil.Stack, tenant, id string) []string {
	t.Helper()
	entries, err := s.Secrets.ChangeLog(context.Background(), tenant, id, 0)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestNew_RequiresRegistry(t *testing.T) {
	t.Parallel()

	_, err := secretstore.New(secretstore.Options{})
	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "registry", cfgErr.Field)
}

func TestSaveSecret_ImplicitLocal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)

	id := saveSecret(t, s, "t1", "db-pass", "S3cr3t!")

	rec := s.Record(t, id)
	assert.Equal(t, secret.Local, rec.ProviderType)
	assert.Empty(t, rec.ProviderConfigID)
	assert.Equal(t, secret.KindSecretText, rec.Kind)
	assert.NotContains(t, string(rec.Ciphertext), "S3cr3t!")

	value, err := s.Secrets.DecryptSecret(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "S3cr3t!", value)
	assert.Equal(t, []string{audit.MsgCreated}, messages(t, s, "t1", id))
}

func TestSaveSecret_UsesTenantDefault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)

	id := saveSecret(t, s, "t1", "api-key", "k-123")

	rec := s.Record(t, id)
	assert.Equal(t, secret.Vault, rec.ProviderType)
	assert.Equal(t, vault.ID, rec.ProviderConfigID)
	stored, ok := s.FakeFor(vault).RemoteValue(rec.CipherRef)
	require.True(t, ok)
	assert.Equal(t, "k-123", string(stored))

	value, err := s.Secrets.DecryptSecret(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "k-123", value)
}

func TestSaveSecret_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tenant  string
		in      secretstore.SecretInput
		wantErr func(t *testing.T, err error)
	}{
		{
			name:   "missing tenant",
			tenant: "",
			in:     secretstore.SecretInput{Name: "a", Value: "v"},
			wantErr: func(t *testing.T, err error) {
				var ve dserrors.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "tenant_id", ve.Field)
			},
		},
		{
			name:   "missing name",
			tenant: "t1",
			in:     secretstore.SecretInput{Value: "v"},
			wantErr: func(t *testing.T, err error) {
				var ve dserrors.ValidationError
				require.ErrorAs(t, err, &ve)
			},
		},
		{
			name:   "illegal characters",
			tenant: "t1",
			in:     secretstore.SecretInput{Name: "db/pass", Value: "v"},
			wantErr: func(t *testing.T, err error) {
				var ve dserrors.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "db/pass", ve.Value)
			},
		},
		{
			name:   "masked placeholder as value",
			tenant: "t1",
			in:     secretstore.SecretInput{Name: "a", Value: secret.Mask},
			wantErr: func(t *testing.T, err error) {
				var ve dserrors.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "value", ve.Field)
			},
		},
		{
			name:   "value and path",
			tenant: "t1",
			in:     secretstore.SecretInput{Name: "a", Value: "v", Path: "/kv/a#k"},
			wantErr: func(t *testing.T, err error) {
				var ve dserrors.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "path", ve.Field)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := testutil.NewStack(t)
			_, err := s.Secrets.SaveSecret(context.Background(), tt.tenant, tt.in)
			require.Error(t, err)
			tt.wantErr(t, err)

			n, err := s.Records.CountRecords(context.Background(), storageQuery(""))
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestSaveSecret_DuplicateName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	saveSecret(t, s, "t1", "db-pass", "one")

	_, err := s.Secrets.SaveSecret(ctx, "t1", secretstore.SecretInput{Name: "db-pass", Value: "two"})
	assert.True(t, dserrors.IsDuplicate(err))
	assert.EqualError(t, err, "Secret db-pass already exists")

	// Names are unique per tenant only.
	saveSecret(t, s, "t2", "db-pass", "three")
}

func TestSaveSecret_DuplicateOnRemoteLeavesNoOrphan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)
	saveSecret(t, s, "t1", "db-pass", "one")

	_, err := s.Secrets.SaveSecret(ctx, "t1", secretstore.SecretInput{Name: "db-pass", Value: "two"})
	require.Error(t, err)

	fake := s.FakeFor(vault)
	assert.Equal(t, 1, fake.Calls("Encrypt"), "uniqueness is checked before the external write")
	assert.Equal(t, 1, fake.RemoteCount())
}

func TestSaveSecret_ProviderFailureStoresNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)
	boom := errors.New("vault sealed")
	s.FakeFor(vault).FailNext("Encrypt", boom)

	_, err := s.Secrets.SaveSecret(ctx, "t1", secretstore.SecretInput{Name: "db-pass", Value: "v"})
	require.ErrorIs(t, err, boom)

	_, err = s.Records.FindRecord(ctx, "t1", secret.KindSecretText, "db-pass")
	assert.True(t, dserrors.IsNotFound(err))
}

func TestUpdateSecret_MaskedValueChangesMetadataOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	id := saveSecret(t, s, "t1", "db-pass", "S3cr3t!")
	before := s.Record(t, id)

	err := s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{Name: "db-password", Value: secret.Mask})
	require.NoError(t, err)

	after := s.Record(t, id)
	assert.Equal(t, "db-password", after.Name)
	assert.Equal(t, before.Ciphertext, after.Ciphertext)
	assert.Equal(t, before.Version+1, after.Version)

	value, err := s.Secrets.DecryptSecret(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "S3cr3t!", value)
	assert.Equal(t, []string{audit.MsgChangedName, audit.MsgCreated}, messages(t, s, "t1", id))
}

func TestUpdateSecret_NoChangeWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	id := saveSecret(t, s, "t1", "db-pass", "S3cr3t!")

	require.NoError(t, s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{Value: secret.Mask}))

	assert.Equal(t, int64(1), s.Record(t, id).Version)
	assert.Len(t, messages(t, s, "t1", id), 1)
}

func TestUpdateSecret_ReencryptsWithCurrentDefault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	id := saveSecret(t, s, "t1", "db-pass", "old")
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)

	err := s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{Name: "db-pass", Value: "new"})
	require.NoError(t, err)

	rec := s.Record(t, id)
	assert.Equal(t, secret.Vault, rec.ProviderType)
	assert.Equal(t, vault.ID, rec.ProviderConfigID)
	value, err := s.Secrets.DecryptSecret(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "new", value)
	assert.Equal(t, audit.MsgChangedValue, messages(t, s, "t1", id)[0])
}

func TestUpdateSecret_MovingOffRemoteDeletesOldValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)
	id := saveSecret(t, s, "t1", "db-pass", "old")
	oldRef := s.Record(t, id).CipherRef
	s.AddManager(t, "t1", "kms", secret.KMS, true)

	require.NoError(t, s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{Name: "db-pass", Value: "new"}))

	assert.Equal(t, secret.KMS, s.Record(t, id).ProviderType)
	fake := s.FakeFor(vault)
	assert.Equal(t, []string{oldRef}, fake.Deleted())
	assert.Zero(t, fake.RemoteCount())
}

func TestUpdateSecret_RenameMovesRemoteValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)
	id := saveSecret(t, s, "t1", "db-pass", "S3cr3t!")
	oldRef := s.Record(t, id).CipherRef

	require.NoError(t, s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{Name: "db-password"}))

	rec := s.Record(t, id)
	assert.NotEqual(t, oldRef, rec.CipherRef)
	fake := s.FakeFor(vault)
	assert.Equal(t, []string{oldRef}, fake.Deleted())
	assert.Equal(t, 1, fake.RemoteCount())

	value, err := s.Secrets.DecryptSecret(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "S3cr3t!", value)
}

func TestUpdateSecret_RenameConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	saveSecret(t, s, "t1", "a", "1")
	id := saveSecret(t, s, "t1", "b", "2")

	err := s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{Name: "a"})
	assert.True(t, dserrors.IsDuplicate(err))
	assert.Equal(t, "b", s.Record(t, id).Name)
}

func TestUpdateSecret_CombinedChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	id := saveSecret(t, s, "t1", "db-pass", "old")

	err := s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{
		Name:         "db-password",
		Value:        "new",
		Restrictions: &secret.UsageRestrictions{AppIDs: []string{"app-1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Changed name & Changed value & Changed usage restrictions", messages(t, s, "t1", id)[0])
	assert.Equal(t, []string{"app-1"}, s.Record(t, id).Restrictions.AppIDs)
}

func TestUpdateSecret_OtherTenantIsNotFound(t *testing.T) {
	t.Parallel()

	s := testutil.NewStack(t)
	id := saveSecret(t, s, "t1", "db-pass", "v")

	err := s.Secrets.UpdateSecret(context.Background(), "t2", id, secretstore.SecretInput{Value: "x"})
	assert.True(t, dserrors.IsNotFound(err))
}

func TestPathReferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		manager   secret.ProviderType
		path      string
		external  string
		wantField string
	}{
		{name: "vault keyed path", manager: secret.Vault, path: "/kv/db#password", external: "from-vault"},
		{name: "vault path without key", manager: secret.Vault, path: "/kv/db", wantField: "path"},
		{name: "secrets manager", manager: secret.CloudSecretsManager, path: "prod/db", external: "from-sm"},
		{name: "enterprise vault", manager: secret.EnterpriseVault, path: "/team/db", external: "from-ev"},
		{name: "kms can not reference", manager: secret.KMS, path: "prod/db", wantField: "path"},
		{name: "local can not reference", manager: secret.Local, path: "prod/db", wantField: "path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			s := testutil.NewStack(t)
			if tt.manager != secret.Local {
				cfg := s.AddManager(t, "t1", "manager", tt.manager, true)
				s.FakeFor(cfg).WithPath(tt.path, []byte(tt.external))
			}

			id, err := s.Secrets.SaveSecret(ctx, "t1", secretstore.SecretInput{Name: "ref", Path: tt.path})
			if tt.wantField != "" {
				var ve dserrors.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantField, ve.Field)
				return
			}
			require.NoError(t, err)

			rec := s.Record(t, id)
			assert.True(t, rec.IsPathReference())
			assert.Equal(t, tt.manager, rec.ProviderType)
			value, err := s.Secrets.DecryptSecret(ctx, "t1", id)
			require.NoError(t, err)
			assert.Equal(t, tt.external, value)
		})
	}
}

func TestUpdateSecret_RemovingPathNeedsValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)
	s.FakeFor(vault).WithPath("/kv/db#password", []byte("x"))
	id, err := s.Secrets.SaveSecret(ctx, "t1", secretstore.SecretInput{Name: "ref", Path: "/kv/db#password"})
	require.NoError(t, err)

	err = s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{Name: "ref"})
	var ve dserrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "value", ve.Field)

	require.NoError(t, s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{Name: "ref", Value: "inline"}))
	rec := s.Record(t, id)
	assert.False(t, rec.IsPathReference())
	assert.Equal(t, "Changed value & Changed path", messages(t, s, "t1", id)[0])
}

func TestEnterpriseVaultDefault_FallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		globalKMS bool
		wantType  secret.ProviderType
	}{
		{name: "global KMS config", globalKMS: true, wantType: secret.KMS},
		{name: "implicit local", wantType: secret.Local},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			s := testutil.NewStack(t)
			ev := s.AddManager(t, "t1", "akeyless", secret.EnterpriseVault, true)
			var kms *secret.SecretManagerConfig
			if tt.globalKMS {
				kms = s.AddManager(t, secret.GlobalTenant, "global-kms", secret.KMS, false)
			}

			id := saveSecret(t, s, "t1", "db-pass", "S3cr3t!")

			rec := s.Record(t, id)
			assert.Equal(t, tt.wantType, rec.ProviderType)
			if kms != nil {
				assert.Equal(t, kms.ID, rec.ProviderConfigID)
			}
			assert.Zero(t, s.FakeFor(ev).Calls("Encrypt"))

			value, err := s.Secrets.DecryptSecret(ctx, "t1", id)
			require.NoError(t, err)
			assert.Equal(t, "S3cr3t!", value)
		})
	}
}

func TestDeleteSecret(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)
	id := saveSecret(t, s, "t1", "db-pass", "v")
	ref := s.Record(t, id).CipherRef

	require.NoError(t, s.Secrets.AddOwner(ctx, "t1", id, "connector-1"))

	err := s.Secrets.DeleteSecret(ctx, "t1", id)
	var inUse dserrors.InUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, []string{"connector-1"}, inUse.References)
	assert.Equal(t, 1, s.FakeFor(vault).RemoteCount())

	require.NoError(t, s.Secrets.RemoveOwner(ctx, "t1", id, "connector-1"))
	require.NoError(t, s.Secrets.DeleteSecret(ctx, "t1", id))

	_, err = s.Records.GetRecord(ctx, id)
	assert.True(t, dserrors.IsNotFound(err))
	assert.Equal(t, []string{ref}, s.FakeFor(vault).Deleted())

	entries, err := s.ChangeLog.List(ctx, "t1", id, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.MsgDeleted, entries[0].Message)
}

func TestDeleteSecret_KeepsReferencedExternalSecret(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)
	fake := s.FakeFor(vault).WithPath("/kv/db#password", []byte("x"))
	id, err := s.Secrets.SaveSecret(ctx, "t1", secretstore.SecretInput{Name: "ref", Path: "/kv/db#password"})
	require.NoError(t, err)

	require.NoError(t, s.Secrets.DeleteSecret(ctx, "t1", id))
	assert.Zero(t, fake.Calls("DeleteRemote"))
}

func TestDeleteSecret_RemoteFailureStillDeletesRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)
	id := saveSecret(t, s, "t1", "db-pass", "v")
	s.FakeFor(vault).FailNext("DeleteRemote", errors.New("vault sealed"))

	require.NoError(t, s.Secrets.DeleteSecret(ctx, "t1", id))
	_, err := s.Records.GetRecord(ctx, id)
	assert.True(t, dserrors.IsNotFound(err))
}

// toggle denies every request while closed is set.
type toggle struct{ closed atomic.Bool }

func (a *toggle) CheckAccess(context.Context, string, *secret.UsageRestrictions) (bool, error) {
	return !a.closed.Load(), nil
}

func TestAuthorization(t *testing.T) {
	t.Parallel()

	policies := map[string]permissions.TenantPolicy{
		"scoped":   {AllowedAppIDs: []string{"app-1"}},
		"readonly": {ReadOnly: true},
		"strict":   {RequireRestrictions: true},
	}

	tests := []struct {
		name         string
		tenant       string
		restrictions *secret.UsageRestrictions
		allowed      bool
	}{
		{name: "allowed app", tenant: "scoped", restrictions: &secret.UsageRestrictions{AppIDs: []string{"app-1"}}, allowed: true},
		{name: "other app", tenant: "scoped", restrictions: &secret.UsageRestrictions{AppIDs: []string{"app-2"}}},
		{name: "read only tenant", tenant: "readonly"},
		{name: "restrictions required", tenant: "strict"},
		{name: "restrictions given", tenant: "strict", restrictions: &secret.UsageRestrictions{EnvTypes: []string{"PROD"}}, allowed: true},
		{name: "tenant without policy", tenant: "open", allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			checker := permissions.NewPermissionChecker(policies, nil, logging.Nop())
			s := testutil.NewStack(t, testutil.WithAuthorizer(checker))

			_, err := s.Secrets.SaveSecret(context.Background(), tt.tenant, secretstore.SecretInput{
				Name:         "db-pass",
				Value:        "v",
				Restrictions: tt.restrictions,
			})
			if tt.allowed {
				require.NoError(t, err)
				return
			}
			var authErr dserrors.AuthorizationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.tenant, authErr.TenantID)
			assert.Equal(t, "save", authErr.Operation)
		})
	}
}

func TestAuthorization_DeleteAndUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	auth := &toggle{}
	s := testutil.NewStack(t, testutil.WithAuthorizer(auth))
	id := saveSecret(t, s, "t1", "db-pass", "v")

	auth.closed.Store(true)

	var authErr dserrors.AuthorizationError
	require.ErrorAs(t, s.Secrets.UpdateSecret(ctx, "t1", id, secretstore.SecretInput{Value: "x"}), &authErr)
	assert.Equal(t, "update", authErr.Operation)
	require.ErrorAs(t, s.Secrets.DeleteSecret(ctx, "t1", id), &authErr)
	assert.Equal(t, "delete", authErr.Operation)

	value, err := s.Secrets.DecryptSecret(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestListSecrets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)
	for _, name := range []string{"c", "a", "b"} {
		saveSecret(t, s, "t1", name, "value-"+name)
	}
	saveSecret(t, s, "t2", "other", "x")
	_, err := s.Secrets.SaveFile(ctx, "t1", secretstore.FileInput{Name: "cert.pem", Content: []byte("pem")})
	require.NoError(t, err)

	page, err := s.Secrets.ListSecrets(ctx, "t1", secretstore.ListOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)

	item := page.Items[0]
	assert.Equal(t, "b", item.Record.Name)
	assert.Equal(t, secret.Mask, item.Record.CipherRef)
	assert.Equal(t, secret.Mask, string(item.Record.Ciphertext))
	assert.Equal(t, vault.DisplayName, item.SecretManager)
	assert.Equal(t, 1, item.ChangeCount)
	assert.Zero(t, item.UsageCount)

	files, err := s.Secrets.ListSecrets(ctx, "t1", secretstore.ListOptions{Kind: secret.KindConfigFile})
	require.NoError(t, err)
	require.Len(t, files.Items, 1)
	assert.Equal(t, "cert.pem", files.Items[0].Record.Name)
}

func TestGetSecret(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	id := saveSecret(t, s, "t1", "db-pass", "S3cr3t!")
	require.NoError(t, s.Secrets.AddOwner(ctx, "t1", id, "connector-1"))
	require.NoError(t, s.Secrets.AddOwner(ctx, "t1", id, "connector-1"))

	sum, err := s.Secrets.GetSecret(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.UsageCount)
	assert.Equal(t, string(secret.Local), sum.SecretManager)
	assert.NotContains(t, string(sum.Record.Ciphertext), "S3cr3t!")

	_, err = s.Secrets.GetSecret(ctx, "t2", id)
	assert.True(t, dserrors.IsNotFound(err))
}

func TestGetSecret_HidesCredentialRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testutil.NewStack(t)
	vault := s.AddManager(t, "t1", "vault", secret.Vault, true)

	creds, err := s.Records.ListRecords(ctx, storageQuery(secret.KindProviderCredential))
	require.NoError(t, err)
	require.NotEmpty(t, creds)
	assert.Equal(t, []string{vault.ID}, creds[0].Owners)

	_, err = s.Secrets.GetSecret(ctx, creds[0].TenantID, creds[0].ID)
	assert.True(t, dserrors.IsNotFound(err))
}
