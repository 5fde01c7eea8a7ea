// Package secret defines the data model shared by every secretops component.
//
// The two persisted documents are EncryptedRecord, the atomic unit of a secret,
// and SecretManagerConfig, a configured provider instance for a tenant. A
// record never carries plaintext: it holds an opaque CipherRef understood only
// by the provider that produced it, plus optional Ciphertext bytes.
//
// # Records
//
// A record is either a value owned by secretops (the provider wrote it) or a
// path reference to a secret that already exists in the external system:
//
//	rec := &secret.EncryptedRecord{
//	    TenantID:     "t1",
//	    Name:         "db-pass",
//	    Kind:         secret.KindSecretText,
//	    ProviderType: secret.Vault,
//	    Path:         "apps/billing#password",
//	}
//	rec.IsPathReference() // true
//
// Records are versioned. Every write through a document store bumps Version and
// writers condition their update on the Version they observed.
//
// # Decryptable entities
//
// Domain objects that hold encrypted fields implement Decryptable and declare
// their fields as a fixed list of FieldDescriptor values. The secret store walks
// that list, resolves each slot's record, and hands the plaintext back through
// the descriptor's setter. FieldSet is a ready-made map-backed implementation.
package secret
