package provider

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

// ContractTest is the suite every provider implementation must pass.
type ContractTest struct {
	// CreateProvider returns a provider wired to fakes.
	CreateProvider func(t *testing.T) Provider

	// SetupPathReference creates an external secret and returns a path that
	// references it along with the expected plaintext. Nil skips the path
	// reference cases.
	SetupPathReference func(t *testing.T, p Provider) (path string, want []byte)
}

// RunContractTests runs the provider contract suite.
func RunContractTests(t *testing.T, contract ContractTest) {
	t.Run("Contract", func(t *testing.T) {
		t.Run("Identity", func(t *testing.T) {
			testIdentity(t, contract)
		})
		t.Run("RoundTrip", func(t *testing.T) {
			testRoundTrip(t, contract)
		})
		t.Run("EmptyValue", func(t *testing.T) {
			testEmptyValue(t, contract)
		})
		t.Run("UpdateInPlace", func(t *testing.T) {
			testUpdateInPlace(t, contract)
		})
		if contract.SetupPathReference != nil {
			t.Run("PathReference", func(t *testing.T) {
				testPathReference(t, contract)
			})
		}
		t.Run("ContextCancellation", func(t *testing.T) {
			testContextCancellation(t, contract)
		})
	})
}

func testIdentity(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	if !p.Type().Valid() {
		t.Fatalf("Provider.Type() returned unknown type %q", p.Type())
	}
	if p.Type() != p.Type() || p.ConfigID() != p.ConfigID() {
		t.Error("provider identity not stable between calls")
	}
	caps := p.Capabilities()
	if caps.KeyedPaths && !caps.PathReferences {
		t.Error("KeyedPaths requires PathReferences")
	}
}

// roundTripInputs covers varying length and encoding.
var roundTripInputs = map[string][]byte{
	"ascii":   []byte("S3cr3t!"),
	"unicode": []byte("pässwörd-密码-🔑"),
	"json":    []byte(`{"user":"admin","password":"p@ss"}`),
	"base64":  []byte("c2VjcmV0LWZpbGUtY29udGVudHM="),
	"long":    []byte(strings.Repeat("0123456789abcdef", 512)),
}

func testRoundTrip(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	if !p.Capabilities().InlineValues {
		t.Skip("provider does not store inline values")
	}
	ctx := context.Background()

	for name, plaintext := range roundTripInputs {
		rec, err := p.Encrypt(ctx, EncryptRequest{TenantID: "tenant-1", Name: "contract-" + name, Plaintext: plaintext})
		if err != nil {
			t.Fatalf("Encrypt(%s) failed: %v", name, err)
		}
		if rec.ProviderType != p.Type() {
			t.Errorf("Encrypt(%s) set provider type %q, want %q", name, rec.ProviderType, p.Type())
		}
		if rec.ProviderConfigID != p.ConfigID() {
			t.Errorf("Encrypt(%s) set config id %q, want %q", name, rec.ProviderConfigID, p.ConfigID())
		}
		if rec.CipherRef == "" {
			t.Errorf("Encrypt(%s) left CipherRef empty", name)
		}
		if bytes.Contains(rec.Ciphertext, plaintext) {
			t.Errorf("Encrypt(%s) stored plaintext in the record", name)
		}

		got, err := p.Decrypt(ctx, rec)
		if err != nil {
			t.Fatalf("Decrypt(%s) failed: %v", name, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Decrypt(%s) round trip mismatch", name)
		}
	}
}

func testEmptyValue(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	rec, err := p.Encrypt(context.Background(), EncryptRequest{TenantID: "tenant-1", Name: "empty"})
	if err != nil {
		t.Fatalf("Encrypt(empty) should not fail: %v", err)
	}
	if rec == nil {
		t.Fatal("Encrypt(empty) returned nil record")
	}
	if len(rec.Ciphertext) != 0 {
		t.Error("Encrypt(empty) should return an empty ciphertext")
	}
	if rec.ProviderType != p.Type() {
		t.Errorf("Encrypt(empty) set provider type %q, want %q", rec.ProviderType, p.Type())
	}
}

func testUpdateInPlace(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	if !p.Capabilities().InlineValues {
		t.Skip("provider does not store inline values")
	}
	ctx := context.Background()

	first, err := p.Encrypt(ctx, EncryptRequest{TenantID: "tenant-1", Name: "rotating", Plaintext: []byte("v1")})
	if err != nil {
		t.Fatalf("Encrypt(v1) failed: %v", err)
	}
	first.ID = "record-1"
	first.Version = 4

	second, err := p.Encrypt(ctx, EncryptRequest{TenantID: "tenant-1", Name: "rotating", Plaintext: []byte("v2"), Existing: first})
	if err != nil {
		t.Fatalf("Encrypt(v2) failed: %v", err)
	}
	if second.ID != "record-1" || second.Version != 4 {
		t.Error("Encrypt with Existing must keep the record identity")
	}

	got, err := p.Decrypt(ctx, second)
	if err != nil {
		t.Fatalf("Decrypt(v2) failed: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Decrypt(v2) = %q, want v2", got)
	}
}

func testPathReference(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	path, want := contract.SetupPathReference(t, p)
	ctx := context.Background()

	rec, err := p.Encrypt(ctx, EncryptRequest{TenantID: "tenant-1", Name: "referenced", Path: path})
	if err != nil {
		t.Fatalf("Encrypt(path) failed: %v", err)
	}
	if rec.Path != path {
		t.Errorf("Encrypt(path) set Path %q, want %q", rec.Path, path)
	}
	if len(rec.Ciphertext) != 0 {
		t.Error("path reference must not carry ciphertext")
	}

	got, err := p.Decrypt(ctx, rec)
	if err != nil {
		t.Fatalf("Decrypt(path) failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Decrypt(path) = %q, want %q", got, want)
	}

	if _, err := p.Encrypt(ctx, EncryptRequest{TenantID: "tenant-1", Name: "missing", Path: path + "-does-not-exist-" + time.Now().Format("150405")}); err == nil {
		t.Error("Encrypt(path) must fail for a path that does not resolve")
	}
}

func testContextCancellation(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		_, err := p.Encrypt(ctx, EncryptRequest{TenantID: "tenant-1", Name: "cancelled", Plaintext: []byte("x")})
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Encrypt should fail with a cancelled context")
		}
	case <-time.After(5 * time.Second):
		t.Error("Encrypt did not return after cancellation")
	}
}
