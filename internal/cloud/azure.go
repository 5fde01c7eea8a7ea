package cloud

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// AzureOptions selects how an Azure token credential is obtained.
type AzureOptions struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// UseManagedIdentity prefers the VM or workload managed identity.
	// UserAssignedID picks a user-assigned identity by client id.
	UseManagedIdentity bool
	UserAssignedID     string
}

// AzureCredential returns a token credential for opts. Order: managed
// identity when requested, then a client secret, then the default chain.
func AzureCredential(opts AzureOptions) (azcore.TokenCredential, error) {
	var (
		cred azcore.TokenCredential
		err  error
	)
	switch {
	case opts.UseManagedIdentity && opts.UserAssignedID != "":
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(opts.UserAssignedID),
		})
	case opts.UseManagedIdentity:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	case opts.TenantID != "" && opts.ClientID != "" && opts.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(opts.TenantID, opts.ClientID, opts.ClientSecret, nil)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return cred, nil
}

// AzureFromSettings maps provider settings and credentials onto AzureOptions.
func AzureFromSettings(settings, creds map[string]string) AzureOptions {
	return AzureOptions{
		TenantID:           settings["tenant_id"],
		ClientID:           settings["client_id"],
		ClientSecret:       creds["client_secret"],
		UseManagedIdentity: settings["use_managed_identity"] == "true",
		UserAssignedID:     settings["user_assigned_identity_id"],
	}
}
