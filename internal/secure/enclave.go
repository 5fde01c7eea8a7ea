package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed buffer is opened.
var ErrDestroyed = errors.New("secure buffer has been destroyed")

// SecureBuffer holds sensitive bytes encrypted at rest inside a memguard
// enclave.
type SecureBuffer struct {
	enclave   *memguard.Enclave
	size      int
	mu        sync.RWMutex
	destroyed bool
}

// NewSecureBuffer seals a copy of data into an enclave and wipes data.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	if len(data) == 0 {
		return nil, errors.New("secure buffer requires at least one byte")
	}
	size := len(data)
	// NewEnclave wipes the source slice.
	enclave := memguard.NewEnclave(data)
	if enclave == nil {
		return nil, errors.New("failed to create memguard enclave")
	}

	return &SecureBuffer{enclave: enclave, size: size}, nil
}

// Size returns the number of protected bytes.
func (s *SecureBuffer) Size() int {
	return s.size
}

// Open decrypts the enclave into a locked buffer. The caller must Destroy the
// returned buffer.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	return s.enclave.Open()
}

// WithOpen exposes the plaintext to fn and destroys the locked copy afterwards.
// fn must not retain the slice.
func (s *SecureBuffer) WithOpen(fn func(raw []byte) error) error {
	locked, err := s.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy makes the buffer unusable. Calling it more than once is safe.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}

// Purge destroys every memguard buffer in the process. Call it on shutdown.
func Purge() {
	memguard.Purge()
}
