// Package secure keeps key material in memguard enclaves.
//
// The LOCAL provider's master key and every unwrapped data key live in a
// SecureBuffer. Plaintext key bytes only exist inside a memguard LockedBuffer
// for the duration of a single cryptographic call:
//
//	key, err := secure.LoadMasterKey(ctx, secure.EnvKeySource{Var: "SECRETOPS_MASTER_KEY"})
//	if err != nil {
//	    return err
//	}
//	defer key.Destroy()
//
//	err = key.WithOpen(func(raw []byte) error {
//	    // derive or use raw; do not retain it
//	    return nil
//	})
//
// Master keys can be sourced from an environment variable, a file, the OS
// keyring (zalando/go-keyring) or an AWS SSM SecureString parameter.
//
// On Linux, locking memory requires RLIMIT_MEMLOCK to be large enough. memguard
// degrades to ordinary memory when mlock fails.
package secure
