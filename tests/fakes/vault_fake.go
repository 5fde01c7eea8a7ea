package fakes

import (
	"context"
	"net/http"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// VaultError builds the error the Vault client returns for status.
func VaultError(status int) error {
	return &vault.ResponseError{StatusCode: status, HTTPMethod: http.MethodGet, Errors: []string{http.StatusText(status)}}
}

// FakeVaultLogical emulates a KV engine mounted at Mount plus AppRole login.
// With KVv2 the "<mount>/data/" and "<mount>/metadata/" prefixes apply.
type FakeVaultLogical struct {
	Faults

	mu      sync.Mutex
	Mount   string
	KVv2    bool
	Data    map[string]map[string]interface{}
	Deleted []string

	// AppRoles maps role_id to secret_id for auth/approle/login.
	AppRoles    map[string]string
	LoginTTL    int
	IssuedToken string
}

// NewFakeVaultLogical creates a KV v2 engine at "secret".
func NewFakeVaultLogical() *FakeVaultLogical {
	return &FakeVaultLogical{
		Mount:       "secret",
		KVv2:        true,
		Data:        make(map[string]map[string]interface{}),
		AppRoles:    make(map[string]string),
		LoginTTL:    3600,
		IssuedToken: "s.fake-token",
	}
}

// Put seeds sub (path below the mount) with data.
func (f *FakeVaultLogical) Put(sub string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Data[sub] = data
}

// Get returns the stored data at sub.
func (f *FakeVaultLogical) Get(sub string) (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.Data[sub]
	return d, ok
}

// sub strips the mount and the KV v2 segment from path.
func (f *FakeVaultLogical) sub(path, segment string) (string, bool) {
	prefix := f.Mount + "/"
	if f.KVv2 {
		prefix += segment + "/"
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(path, prefix), true
}

func (f *FakeVaultLogical) ReadWithContext(ctx context.Context, path string) (*vault.Secret, error) {
	if err := f.hit("Read"); err != nil {
		return nil, err
	}
	sub, ok := f.sub(path, "data")
	if !ok {
		return nil, VaultError(http.StatusNotFound)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Data[sub]
	if !ok {
		return nil, nil
	}
	copied := make(map[string]interface{}, len(data))
	for k, v := range data {
		copied[k] = v
	}
	if f.KVv2 {
		return &vault.Secret{Data: map[string]interface{}{"data": copied, "metadata": map[string]interface{}{"version": 1}}}, nil
	}
	return &vault.Secret{Data: copied}, nil
}

func (f *FakeVaultLogical) WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vault.Secret, error) {
	if path == "auth/approle/login" {
		return f.login(data)
	}
	if err := f.hit("Write"); err != nil {
		return nil, err
	}
	sub, ok := f.sub(path, "data")
	if !ok {
		return nil, VaultError(http.StatusNotFound)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	payload := data
	if f.KVv2 {
		inner, ok := data["data"].(map[string]interface{})
		if !ok {
			return nil, VaultError(http.StatusBadRequest)
		}
		if opts, ok := data["options"].(map[string]interface{}); ok {
			if cas, ok := opts["cas"].(int); ok && cas == 0 {
				if _, exists := f.Data[sub]; exists {
					return nil, VaultError(http.StatusBadRequest)
				}
			}
		}
		payload = inner
	}
	f.Data[sub] = payload
	return &vault.Secret{}, nil
}

func (f *FakeVaultLogical) DeleteWithContext(ctx context.Context, path string) (*vault.Secret, error) {
	if err := f.hit("Delete"); err != nil {
		return nil, err
	}
	sub, ok := f.sub(path, "metadata")
	if !ok {
		return nil, VaultError(http.StatusNotFound)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Data, sub)
	f.Deleted = append(f.Deleted, sub)
	return nil, nil
}

func (f *FakeVaultLogical) login(data map[string]interface{}) (*vault.Secret, error) {
	if err := f.hit("Login"); err != nil {
		return nil, err
	}
	roleID, _ := data["role_id"].(string)
	secretID, _ := data["secret_id"].(string)
	f.mu.Lock()
	defer f.mu.Unlock()
	if want, ok := f.AppRoles[roleID]; !ok || want != secretID {
		return nil, VaultError(http.StatusBadRequest)
	}
	return &vault.Secret{Auth: &vault.SecretAuth{ClientToken: f.IssuedToken, LeaseDuration: f.LoginTTL}}, nil
}
