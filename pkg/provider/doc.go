// Package provider defines the contract every encryption provider implements.
//
// A provider turns plaintext into an EncryptedRecord and back. What "encrypt"
// means varies by provider type:
//
//   - LOCAL seals the value under a per-record key derived from the process
//     master key. No network call is made.
//   - KMS and CLOUD_KMS generate a data key in the cloud KMS, seal locally and
//     keep the wrapped data key as CipherRef (envelope encryption).
//   - VAULT, CLOUD_SECRETS_MANAGER, CLOUD_KEY_VAULT and GCP_SECRET_MANAGER write
//     the value to the external store and keep its locator as CipherRef.
//   - ENTERPRISE_VAULT only reads pre-existing secrets through path
//     references.
//
// # Path references
//
// When EncryptRequest.Path is set the provider writes nothing. It verifies
// that the path resolves (and that the named key exists for key-scoped
// values, "path#key") and returns a record whose Decrypt reads that path.
//
// # Empty values
//
// Encrypt never fails on an empty value. It returns a record with no
// ciphertext and leaves writing to the caller.
//
// # Executors
//
// Providers that talk to a network run every call through an
// executor.Executor so that deadlines, correlation ids and retries are
// applied uniformly. Providers classify SDK errors before returning them:
// not-found becomes errors.NotFoundError, throttling and 5xx become
// errors.Transient.
//
// Implementations must be safe for concurrent use.
package provider
