// Package secretstore is the secret store façade of secretops.
//
// It saves, updates, deletes and lists secrets and secret-backed files for a
// tenant, decrypts the encrypted fields of domain objects on demand and keeps
// the change log of every secret.
//
// # Architecture
//
// The store sits on top of the secret manager registry and never talks to an
// external system itself:
//
//	caller ─► secretstore.Store ─► registry.Registry ─► provider.Provider ─► executor ─► external system
//	                │                      │
//	                ├─► storage.Store ◄────┘  (records and configs, version checked)
//	                ├─► blob.Store            (file ciphertext)
//	                ├─► permissions.Authorizer
//	                └─► audit.ChangeLog
//
// New values are always encrypted with the tenant's current default secret
// manager. Reads go through the secret manager that encrypted the record,
// found through its ProviderConfigID.
//
// # Masking
//
// Secret values never leave the store in listings. ListSecrets and GetSecret
// return records whose Ciphertext and CipherRef are replaced by secret.Mask,
// and an update carrying secret.Mask as its value only changes metadata.
//
// # Path references
//
// A secret may point at a value that already exists in VAULT
// ("path#key"), CLOUD_SECRETS_MANAGER, ENTERPRISE_VAULT or
// GCP_SECRET_MANAGER instead of carrying a value. Such records are never
// migrated and their external value is never deleted.
//
// # Files
//
// File contents are base64 encoded before encryption so providers can treat
// them as text. For providers that return ciphertext (LOCAL, KMS, CLOUD_KMS)
// the ciphertext is kept in the blob store and the record holds the blob id.
//
// # Decryptable entities
//
// Domain objects implement secret.Decryptable and describe their encrypted
// slots with secret.FieldDescriptor. DecryptEntity fills every slot, skipping
// slots whose record no longer exists.
//
// Example:
//
//	store, err := secretstore.New(secretstore.Options{Registry: reg})
//	if err != nil {
//		return err
//	}
//	id, err := store.SaveSecret(ctx, "t1", secretstore.SecretInput{Name: "db-pass", Value: "S3cr3t!"})
//	if err != nil {
//		return err
//	}
//	value, err := store.DecryptSecret(ctx, "t1", id)
package secretstore
