package cloud

import (
	"context"
	"fmt"

	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

// GCPOptions selects credentials for Google API clients.
type GCPOptions struct {
	CredentialsJSON    string
	CredentialsFile    string
	ImpersonateAccount string
	Endpoint           string
}

// GCPClientOptions turns opts into client options. With no credentials the
// clients fall back to application default credentials.
func GCPClientOptions(ctx context.Context, opts GCPOptions) ([]option.ClientOption, error) {
	var out []option.ClientOption
	switch {
	case opts.CredentialsJSON != "":
		out = append(out, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case opts.CredentialsFile != "":
		out = append(out, option.WithCredentialsFile(opts.CredentialsFile))
	}

	if opts.ImpersonateAccount != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: opts.ImpersonateAccount,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		}, out...)
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		out = []option.ClientOption{option.WithTokenSource(ts)}
	}

	if opts.Endpoint != "" {
		out = append(out, option.WithEndpoint(opts.Endpoint))
	}
	return out, nil
}

// GCPFromSettings maps provider settings and credentials onto GCPOptions.
func GCPFromSettings(settings, creds map[string]string) GCPOptions {
	return GCPOptions{
		CredentialsJSON:    creds["credentials_json"],
		CredentialsFile:    settings["credentials_file"],
		ImpersonateAccount: settings["impersonate_service_account"],
		Endpoint:           settings["endpoint"],
	}
}
