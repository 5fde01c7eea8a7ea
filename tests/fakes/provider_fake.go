package fakes

import (
	"context"
	"fmt"
	"sync"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// FakeProvider is an in-memory provider.Provider of any type. Remote types
// keep values in the fake and leave Ciphertext empty; the others store a
// scrambled copy in the record.
type FakeProvider struct {
	Faults

	mu       sync.Mutex
	typ      secret.ProviderType
	configID string
	caps     provider.Capabilities
	remote   map[string][]byte
	paths    map[string][]byte
	next     int
	deleted  []string

	// DecryptHook, when set, replaces Decrypt. Used to simulate corruption.
	DecryptHook func(rec *secret.EncryptedRecord) ([]byte, error)
}

// NewFakeProvider creates a fake for t bound to configID.
func NewFakeProvider(t secret.ProviderType, configID string) *FakeProvider {
	return &FakeProvider{
		typ:      t,
		configID: configID,
		caps: provider.Capabilities{
			StoresRemotely: t.StoresRemotely(),
			InlineValues:   t != secret.EnterpriseVault,
			PathReferences: t == secret.Vault || t == secret.CloudSecretsManager || t == secret.EnterpriseVault || t == secret.GCPSecretManager,
			KeyedPaths:     t == secret.Vault,
			Files:          t != secret.EnterpriseVault,
			Network:        t != secret.Local,
		},
		remote: make(map[string][]byte),
		paths:  make(map[string][]byte),
	}
}

// WithPath registers an external secret that path references can resolve.
func (f *FakeProvider) WithPath(path string, value []byte) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[path] = value
	return f
}

// WithCapabilities overrides the capabilities.
func (f *FakeProvider) WithCapabilities(c provider.Capabilities) *FakeProvider {
	f.caps = c
	return f
}

// RemoteValue returns the value stored under ref.
func (f *FakeProvider) RemoteValue(ref string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.remote[ref]
	return v, ok
}

// RemoteCount returns the number of values held remotely.
func (f *FakeProvider) RemoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remote)
}

// Deleted lists refs removed through DeleteRemote.
func (f *FakeProvider) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *FakeProvider) Type() secret.ProviderType { return f.typ }

func (f *FakeProvider) ConfigID() string { return f.configID }

func (f *FakeProvider) Capabilities() provider.Capabilities { return f.caps }

func (f *FakeProvider) Encrypt(ctx context.Context, req provider.EncryptRequest) (*secret.EncryptedRecord, error) {
	if err := f.hit("Encrypt"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := provider.NewRecord(f, req)

	f.mu.Lock()
	defer f.mu.Unlock()

	if req.IsPathReference() {
		if !f.caps.PathReferences {
			return nil, dserrors.ValidationError{Field: "path", Value: req.Path, Message: "path references not supported"}
		}
		if _, ok := f.paths[req.Path]; !ok {
			return nil, dserrors.NotFoundError{Resource: "secret path", ID: req.Path}
		}
		rec.CipherRef = ""
		return rec, nil
	}
	if len(req.Plaintext) == 0 {
		rec.CipherRef = ""
		return rec, nil
	}
	if !f.caps.InlineValues {
		return nil, dserrors.UnsupportedOperationError{ProviderType: string(f.typ), Operation: "create secret"}
	}

	if f.caps.StoresRemotely {
		rec.CipherRef = fmt.Sprintf("%s/%s/%s", f.configID, req.TenantID, req.Name)
		f.remote[rec.CipherRef] = append([]byte(nil), req.Plaintext...)
		return rec, nil
	}
	if rec.CipherRef == "" {
		f.next++
		rec.CipherRef = fmt.Sprintf("%s-key-%d", f.typ, f.next)
	}
	rec.Ciphertext = scramble(req.Plaintext)
	return rec, nil
}

func (f *FakeProvider) Decrypt(ctx context.Context, rec *secret.EncryptedRecord) ([]byte, error) {
	if err := f.hit("Decrypt"); err != nil {
		return nil, err
	}
	if f.DecryptHook != nil {
		return f.DecryptHook(rec)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case rec.IsPathReference():
		v, ok := f.paths[rec.Path]
		if !ok {
			return nil, dserrors.NotFoundError{Resource: "secret path", ID: rec.Path}
		}
		return append([]byte(nil), v...), nil
	case f.caps.StoresRemotely && rec.CipherRef != "":
		v, ok := f.remote[rec.CipherRef]
		if !ok {
			return nil, dserrors.NotFoundError{Resource: "remote secret", ID: rec.CipherRef}
		}
		return append([]byte(nil), v...), nil
	default:
		return scramble(rec.Ciphertext), nil
	}
}

func (f *FakeProvider) DeleteRemote(ctx context.Context, rec *secret.EncryptedRecord) error {
	if err := f.hit("DeleteRemote"); err != nil {
		return err
	}
	if rec.IsPathReference() || rec.CipherRef == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.remote, rec.CipherRef)
	f.deleted = append(f.deleted, rec.CipherRef)
	return nil
}

// scramble is its own inverse.
func scramble(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c ^ 0x5a
	}
	return out
}
