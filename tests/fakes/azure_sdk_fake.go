package fakes

import (
	"context"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// AzureError builds an azcore.ResponseError with the given status.
func AzureError(status int, code string) error {
	req, _ := http.NewRequest(http.MethodGet, "https://fake-vault.vault.azure.net/secrets", nil)
	return &azcore.ResponseError{
		StatusCode:  status,
		ErrorCode:   code,
		RawResponse: &http.Response{StatusCode: status, Status: http.StatusText(status), Request: req, Header: http.Header{}, Body: http.NoBody},
	}
}

// AzureSecret is one fake Key Vault secret.
type AzureSecret struct {
	Value       string
	ContentType *string
	Version     int
}

// FakeAzureKeyVaultClient is an in-memory Key Vault with soft delete.
type FakeAzureKeyVaultClient struct {
	Faults

	mu          sync.Mutex
	Secrets     map[string]*AzureSecret
	SoftDeleted map[string]*AzureSecret
	Purged      []string
}

// NewFakeAzureKeyVaultClient creates an empty vault.
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		Secrets:     make(map[string]*AzureSecret),
		SoftDeleted: make(map[string]*AzureSecret),
	}
}

// AddSecretString seeds a secret.
func (f *FakeAzureKeyVaultClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = &AzureSecret{Value: value, Version: 1}
}

// Has reports whether name is live.
func (f *FakeAzureKeyVaultClient) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Secrets[name]
	return ok
}

func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	if err := f.hit("GetSecret"); err != nil {
		return azsecrets.GetSecretResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Secrets[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, AzureError(http.StatusNotFound, "SecretNotFound")
	}
	id := azsecrets.ID("https://fake-vault.vault.azure.net/secrets/" + name)
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{
		ID:          &id,
		Value:       to.Ptr(s.Value),
		ContentType: s.ContentType,
	}}, nil
}

func (f *FakeAzureKeyVaultClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	if err := f.hit("SetSecret"); err != nil {
		return azsecrets.SetSecretResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, deleted := f.SoftDeleted[name]; deleted {
		return azsecrets.SetSecretResponse{}, AzureError(http.StatusConflict, "Conflict")
	}
	s, ok := f.Secrets[name]
	if !ok {
		s = &AzureSecret{}
		f.Secrets[name] = s
	}
	s.Value = ""
	if parameters.Value != nil {
		s.Value = *parameters.Value
	}
	s.ContentType = parameters.ContentType
	s.Version++
	return azsecrets.SetSecretResponse{Secret: azsecrets.Secret{Value: parameters.Value, ContentType: parameters.ContentType}}, nil
}

func (f *FakeAzureKeyVaultClient) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	if err := f.hit("DeleteSecret"); err != nil {
		return azsecrets.DeleteSecretResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Secrets[name]
	if !ok {
		return azsecrets.DeleteSecretResponse{}, AzureError(http.StatusNotFound, "SecretNotFound")
	}
	delete(f.Secrets, name)
	f.SoftDeleted[name] = s
	return azsecrets.DeleteSecretResponse{}, nil
}

func (f *FakeAzureKeyVaultClient) PurgeDeletedSecret(ctx context.Context, name string, options *azsecrets.PurgeDeletedSecretOptions) (azsecrets.PurgeDeletedSecretResponse, error) {
	if err := f.hit("PurgeDeletedSecret"); err != nil {
		return azsecrets.PurgeDeletedSecretResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.SoftDeleted[name]; !ok {
		return azsecrets.PurgeDeletedSecretResponse{}, AzureError(http.StatusNotFound, "SecretNotFound")
	}
	delete(f.SoftDeleted, name)
	f.Purged = append(f.Purged, name)
	return azsecrets.PurgeDeletedSecretResponse{}, nil
}
