package fakes

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/systmms/secretops/internal/providers"
)

// AkeylessStatusError builds the error the SDK client returns for an HTTP
// failure from the gateway.
func AkeylessStatusError(op, path string, status int) error {
	return &providers.AkeylessError{Op: op, Path: path, Status: status, Message: http.StatusText(status)}
}

// FakeAkeylessClient serves static secrets from memory. Versions maps
// "path@vN" for versioned reads.
type FakeAkeylessClient struct {
	Faults

	mu       sync.Mutex
	Token    string
	TokenTTL time.Duration
	Secrets  map[string]string
	Types    map[string]string
}

// NewFakeAkeylessClient creates a fake with secrets.
func NewFakeAkeylessClient(secrets map[string]string) *FakeAkeylessClient {
	if secrets == nil {
		secrets = make(map[string]string)
	}
	return &FakeAkeylessClient{Token: "t-fake", TokenTTL: 30 * time.Minute, Secrets: secrets, Types: make(map[string]string)}
}

func (f *FakeAkeylessClient) Authenticate(ctx context.Context) (string, time.Duration, error) {
	if err := f.hit("Authenticate"); err != nil {
		return "", 0, err
	}
	return f.Token, f.TokenTTL, nil
}

func (f *FakeAkeylessClient) GetSecret(ctx context.Context, token, path string, version *int) (string, error) {
	if err := f.hit("GetSecret"); err != nil {
		return "", err
	}
	if token != f.Token {
		return "", AkeylessStatusError("get", path, http.StatusUnauthorized)
	}
	key := path
	if version != nil {
		key = fmt.Sprintf("%s@v%d", path, *version)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Secrets[key]
	if !ok {
		return "", AkeylessStatusError("get", path, http.StatusNotFound)
	}
	return v, nil
}

func (f *FakeAkeylessClient) DescribeItem(ctx context.Context, token, path string) (string, error) {
	if err := f.hit("DescribeItem"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Secrets[path]; !ok {
		return "", AkeylessStatusError("describe", path, http.StatusNotFound)
	}
	if t, ok := f.Types[path]; ok {
		return t, nil
	}
	return "STATIC_SECRET", nil
}
