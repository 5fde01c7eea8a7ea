package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/systmms/secretops/internal/secure"
)

const subkeyInfoPrefix = "secretops/local/v1/"

// LocalCipher encrypts values under per-record subkeys derived from a master
// key. The master key never leaves its enclave except while a subkey is being
// derived.
type LocalCipher struct {
	master *secure.SecureBuffer
}

// NewLocalCipher wraps a master key. The cipher does not take ownership; the
// caller destroys master.
func NewLocalCipher(master *secure.SecureBuffer) *LocalCipher {
	return &LocalCipher{master: master}
}

// Encrypt seals plaintext under the subkey for keyID.
func (c *LocalCipher) Encrypt(keyID string, plaintext []byte) ([]byte, error) {
	var sealed []byte
	err := c.withSubkey(keyID, func(subkey []byte) error {
		var err error
		sealed, err = Seal(subkey, plaintext, []byte(keyID))
		return err
	})
	return sealed, err
}

// Decrypt opens ciphertext produced by Encrypt with the same keyID.
func (c *LocalCipher) Decrypt(keyID string, ciphertext []byte) ([]byte, error) {
	var plaintext []byte
	err := c.withSubkey(keyID, func(subkey []byte) error {
		var err error
		plaintext, err = Open(subkey, ciphertext, []byte(keyID))
		return err
	})
	return plaintext, err
}

func (c *LocalCipher) withSubkey(keyID string, fn func(subkey []byte) error) error {
	if keyID == "" {
		return fmt.Errorf("key id is required")
	}
	return c.master.WithOpen(func(master []byte) error {
		subkey := make([]byte, KeySize)
		defer secure.Wipe(subkey)

		kdf := hkdf.New(sha256.New, master, nil, []byte(subkeyInfoPrefix+keyID))
		if _, err := io.ReadFull(kdf, subkey); err != nil {
			return fmt.Errorf("failed to derive subkey: %w", err)
		}
		return fn(subkey)
	})
}
