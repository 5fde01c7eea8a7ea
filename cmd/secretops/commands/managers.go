package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
)

// NewManagersCommand creates the parent 'managers' command
func NewManagersCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "managers",
		Aliases: []string{"manager"},
		Short:   "Manage secret manager configurations",
		Long: `Manage the secret managers a tenant encrypts with.

Each tenant has at most one default secret manager. Tenants without a default
use the global default, and finally the built-in LOCAL secret manager.

Examples:
  secretops managers list --tenant acme
  secretops managers save --tenant acme --name vault --type VAULT \
      --setting address=https://vault.example.com --credential token=$VAULT_TOKEN --default
  secretops managers default --tenant acme <id>
  secretops managers delete --tenant acme <id>`,
	}

	cmd.AddCommand(
		newManagersListCommand(app),
		newManagersSaveCommand(app),
		newManagersDeleteCommand(app),
		newManagersDefaultCommand(app),
	)
	return cmd
}

func newManagersListCommand(app *App) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secret managers of a tenant and the global ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			cfgs, err := rt.Registry.List(cmd.Context(), app.TenantID(), !reveal)
			if err != nil {
				return err
			}
			resolved, err := rt.Registry.ResolveDefault(cmd.Context(), app.TenantID())
			if err != nil {
				return err
			}

			w := newTable(cmd.OutOrStdout(), "ID", "NAME", "TYPE", "TENANT", "DEFAULT", "SETTINGS", "CREDENTIALS")
			for _, c := range cfgs {
				row(w, c.ID(), c.DisplayName, c.ProviderType, c.TenantID, yesNo(c.IsDefault), pairs(c.Settings), pairs(c.Credentials))
			}
			if resolved.ID == "" {
				row(w, "-", resolved.DisplayName, resolved.ProviderType, resolved.TenantID, "yes", "-", "-")
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show decrypted credentials")
	return cmd
}

func newManagersSaveCommand(app *App) *cobra.Command {
	var (
		id          string
		name        string
		typ         string
		isDefault   bool
		settings    map[string]string
		credentials map[string]string
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a secret manager",
		Long: `Create a secret manager, or update the one named by --id.

On update, settings replace the stored ones and credentials that are not
given keep their stored value.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}

			in := &secret.SecretManagerConfig{TenantID: app.TenantID()}
			creds := make(map[string]string)
			if id != "" {
				current, err := rt.Registry.Get(cmd.Context(), app.TenantID(), id)
				if err != nil {
					return err
				}
				in = current.Clone()
				for field := range current.Secrets {
					creds[field] = secret.Mask
				}
				if len(settings) == 0 {
					settings = in.Settings
				}
			}
			if name != "" {
				in.DisplayName = name
			}
			if typ != "" {
				t, err := secret.ParseProviderType(typ)
				if err != nil {
					return err
				}
				in.ProviderType = t
			}
			if cmd.Flags().Changed("default") || id == "" {
				in.IsDefault = isDefault
			}
			in.Settings = settings
			for k, v := range credentials {
				creds[k] = v
			}

			saved, err := rt.Registry.Save(cmd.Context(), provider.Config{SecretManagerConfig: in, Credentials: creds})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved secret manager %s (%s) %s\n", saved.DisplayName, saved.ProviderType, saved.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Id of the secret manager to update")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&typ, "type", "", "Provider type (LOCAL, KMS, VAULT, CLOUD_SECRETS_MANAGER, CLOUD_KEY_VAULT, ENTERPRISE_VAULT, CLOUD_KMS, GCP_SECRET_MANAGER)")
	cmd.Flags().BoolVar(&isDefault, "default", false, "Make this the tenant default")
	cmd.Flags().StringToStringVar(&settings, "setting", nil, "Non-sensitive setting key=value (repeatable)")
	cmd.Flags().StringToStringVar(&credentials, "credential", nil, "Credential key=value (repeatable)")
	return cmd
}

func newManagersDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a secret manager that no secret references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Registry.Delete(cmd.Context(), app.TenantID(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret manager %s\n", args[0])
			return nil
		},
	}
}

func newManagersDefaultCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "default <id>",
		Short: "Make a secret manager the tenant default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			saved, err := rt.Registry.SetDefault(cmd.Context(), app.TenantID(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is now the default secret manager of %s\n", saved.DisplayName, app.TenantID())
			return nil
		},
	}
}

func pairs(m map[string]string) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k + "=" + m[k]
	}
	return out
}
