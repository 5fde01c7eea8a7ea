package fakes

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/cloudkms/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// GCPNotFoundError returns a gRPC NotFound status.
func GCPNotFoundError(resourceName string) error {
	return status.Errorf(codes.NotFound, "Resource %s not found", resourceName)
}

// GCPPermissionDeniedError returns a gRPC PermissionDenied status.
func GCPPermissionDeniedError(message string) error {
	return status.Error(codes.PermissionDenied, message)
}

// GCPUnavailableError returns a retryable gRPC Unavailable status.
func GCPUnavailableError() error {
	return status.Error(codes.Unavailable, "service unavailable")
}

// GCPResourceExhaustedError returns a retryable quota error.
func GCPResourceExhaustedError() error {
	return status.Errorf(codes.ResourceExhausted, "Quota exceeded")
}

// GCPSecret is one fake Secret Manager secret with its versions.
type GCPSecret struct {
	Secret   *secretmanagerpb.Secret
	Versions [][]byte
}

// FakeGCPSecretManagerClient is an in-memory Secret Manager.
type FakeGCPSecretManagerClient struct {
	Faults

	mu      sync.Mutex
	Secrets map[string]*GCPSecret
}

// NewFakeGCPSecretManagerClient creates an empty fake.
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{Secrets: make(map[string]*GCPSecret)}
}

// AddSecretString seeds projects/<project>/secrets/<id> with one version.
func (f *FakeGCPSecretManagerClient) AddSecretString(projectID, secretID, value string) {
	name := fmt.Sprintf("projects/%s/secrets/%s", projectID, secretID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = &GCPSecret{
		Secret:   &secretmanagerpb.Secret{Name: name, CreateTime: timestamppb.Now()},
		Versions: [][]byte{[]byte(value)},
	}
}

// Has reports whether the secret resource exists.
func (f *FakeGCPSecretManagerClient) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Secrets[name]
	return ok
}

func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	if err := f.hit("AccessSecretVersion"); err != nil {
		return nil, err
	}
	idx := strings.Index(req.GetName(), "/versions/")
	if idx < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "malformed version name %s", req.GetName())
	}
	secretName, version := req.GetName()[:idx], req.GetName()[idx+len("/versions/"):]

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Secrets[secretName]
	if !ok || len(s.Versions) == 0 {
		return nil, GCPNotFoundError(req.GetName())
	}
	n := len(s.Versions)
	if version != "latest" {
		if _, err := fmt.Sscanf(version, "%d", &n); err != nil || n < 1 || n > len(s.Versions) {
			return nil, GCPNotFoundError(req.GetName())
		}
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    fmt.Sprintf("%s/versions/%d", secretName, n),
		Payload: &secretmanagerpb.SecretPayload{Data: append([]byte(nil), s.Versions[n-1]...)},
	}, nil
}

func (f *FakeGCPSecretManagerClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error) {
	if err := f.hit("GetSecret"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Secrets[req.GetName()]
	if !ok {
		return nil, GCPNotFoundError(req.GetName())
	}
	return s.Secret, nil
}

func (f *FakeGCPSecretManagerClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error) {
	if err := f.hit("CreateSecret"); err != nil {
		return nil, err
	}
	name := req.GetParent() + "/secrets/" + req.GetSecretId()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.Secrets[name]; exists {
		return nil, status.Errorf(codes.AlreadyExists, "Secret %s already exists", name)
	}
	s := &secretmanagerpb.Secret{Name: name, CreateTime: timestamppb.Now(), Labels: req.GetSecret().GetLabels()}
	f.Secrets[name] = &GCPSecret{Secret: s}
	return s, nil
}

func (f *FakeGCPSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error) {
	if err := f.hit("AddSecretVersion"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Secrets[req.GetParent()]
	if !ok {
		return nil, GCPNotFoundError(req.GetParent())
	}
	s.Versions = append(s.Versions, append([]byte(nil), req.GetPayload().GetData()...))
	return &secretmanagerpb.SecretVersion{
		Name:       fmt.Sprintf("%s/versions/%d", req.GetParent(), len(s.Versions)),
		CreateTime: timestamppb.Now(),
		State:      secretmanagerpb.SecretVersion_ENABLED,
	}, nil
}

func (f *FakeGCPSecretManagerClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest, opts ...gax.CallOption) error {
	if err := f.hit("DeleteSecret"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Secrets[req.GetName()]; !ok {
		return GCPNotFoundError(req.GetName())
	}
	delete(f.Secrets, req.GetName())
	return nil
}

// FakeCloudKMSClient wraps data keys by pairing them with an opaque token.
type FakeCloudKMSClient struct {
	Faults

	mu      sync.Mutex
	KeyName string
	next    int
	wrapped map[string]cloudKMSEntry
}

type cloudKMSEntry struct {
	plaintext string
	aad       string
}

// NewFakeCloudKMSClient creates a fake serving keyName only.
func NewFakeCloudKMSClient(keyName string) *FakeCloudKMSClient {
	return &FakeCloudKMSClient{KeyName: keyName, wrapped: make(map[string]cloudKMSEntry)}
}

func (f *FakeCloudKMSClient) Encrypt(ctx context.Context, keyName string, req *cloudkms.EncryptRequest) (*cloudkms.EncryptResponse, error) {
	if err := f.hit("Encrypt"); err != nil {
		return nil, err
	}
	if keyName != f.KeyName {
		return nil, GCPNotFoundError(keyName)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	token := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("wrapped-%d", f.next)))
	f.wrapped[token] = cloudKMSEntry{plaintext: req.Plaintext, aad: req.AdditionalAuthenticatedData}
	return &cloudkms.EncryptResponse{Name: keyName, Ciphertext: token}, nil
}

func (f *FakeCloudKMSClient) Decrypt(ctx context.Context, keyName string, req *cloudkms.DecryptRequest) (*cloudkms.DecryptResponse, error) {
	if err := f.hit("Decrypt"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.wrapped[req.Ciphertext]
	if !ok || keyName != f.KeyName || entry.aad != req.AdditionalAuthenticatedData {
		return nil, status.Error(codes.InvalidArgument, "Decryption failed: the ciphertext is invalid")
	}
	return &cloudkms.DecryptResponse{Plaintext: entry.plaintext}, nil
}
