package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/secretops/pkg/secret"
	"github.com/systmms/secretops/pkg/secretstore"
)

// NewSecretsCommand creates the parent 'secrets' command
func NewSecretsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted secret values",
		Long: `Store, update, inspect and delete secrets.

Values are encrypted with the tenant's default secret manager. A secret can
also reference a value that already exists in VAULT, CLOUD_SECRETS_MANAGER,
ENTERPRISE_VAULT or GCP_SECRET_MANAGER with --path.

Examples:
  secretops secrets save --tenant acme --name db-pass --value-stdin < pass.txt
  secretops secrets save --tenant acme --name api-key --path '/kv/api#key'
  secretops secrets list --tenant acme
  secretops secrets get --tenant acme <id> --reveal`,
	}

	cmd.AddCommand(
		newSecretsSaveCommand(app),
		newSecretsUpdateCommand(app),
		newSecretsGetCommand(app),
		newSecretsListCommand(app),
		newSecretsDeleteCommand(app),
	)
	return cmd
}

func newSecretsSaveCommand(app *App) *cobra.Command {
	var (
		name      string
		value     string
		fromStdin bool
		path      string
		apps      []string
		envs      []string
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Encrypt and store a new secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := readValue(cmd, value, fromStdin)
			if err != nil {
				return err
			}
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			id, err := rt.Secrets.SaveSecret(cmd.Context(), app.TenantID(), secretstore.SecretInput{
				Name:         name,
				Value:        v,
				Path:         path,
				Restrictions: restrictions(apps, envs),
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Secret name")
	cmd.Flags().StringVar(&value, "value", "", "Secret value")
	cmd.Flags().BoolVar(&fromStdin, "value-stdin", false, "Read the value from stdin")
	cmd.Flags().StringVar(&path, "path", "", "Reference an existing external secret instead of storing a value")
	addRestrictionFlags(cmd, &apps, &envs)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSecretsUpdateCommand(app *App) *cobra.Command {
	var (
		name      string
		value     string
		fromStdin bool
		path      string
		apps      []string
		envs      []string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the name, value, path or restrictions of a secret",
		Long: `Change a secret. Flags that are not given keep their stored value;
a new value is encrypted with the tenant's current default secret manager.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := readValue(cmd, value, fromStdin)
			if err != nil {
				return err
			}
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			current, err := rt.Secrets.GetSecret(cmd.Context(), app.TenantID(), args[0])
			if err != nil {
				return err
			}

			in := secretstore.SecretInput{
				Name:         current.Record.Name,
				Value:        v,
				Path:         current.Record.Path,
				Restrictions: current.Record.Restrictions,
			}
			if name != "" {
				in.Name = name
			}
			switch {
			case cmd.Flags().Changed("path"):
				in.Path = path
			case v != "":
				// A new value replaces the reference.
				in.Path = ""
			}
			if cmd.Flags().Changed("app") || cmd.Flags().Changed("env-type") {
				in.Restrictions = restrictions(apps, envs)
			}
			if err := rt.Secrets.UpdateSecret(cmd.Context(), app.TenantID(), args[0], in); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated secret %s\n", in.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New secret name")
	cmd.Flags().StringVar(&value, "value", "", "New secret value")
	cmd.Flags().BoolVar(&fromStdin, "value-stdin", false, "Read the new value from stdin")
	cmd.Flags().StringVar(&path, "path", "", "New external path; an empty path turns the reference into a stored value")
	addRestrictionFlags(cmd, &apps, &envs)
	return cmd
}

func newSecretsGetCommand(app *App) *cobra.Command {
	var (
		reveal  bool
		history int
	)

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a secret, optionally decrypted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if reveal {
				value, err := rt.Secrets.DecryptSecret(ctx, app.TenantID(), args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, value)
				return nil
			}

			sum, err := rt.Secrets.GetSecret(ctx, app.TenantID(), args[0])
			if err != nil {
				return err
			}
			rec := sum.Record
			w := newTable(out, "FIELD", "VALUE")
			row(w, "id", rec.ID)
			row(w, "name", rec.Name)
			row(w, "kind", rec.Kind)
			row(w, "secret manager", sum.SecretManager)
			row(w, "provider type", rec.ProviderType)
			row(w, "path", orDash(rec.Path))
			row(w, "value", secret.Mask)
			row(w, "used by", sum.UsageCount)
			row(w, "changes", sum.ChangeCount)
			row(w, "rollback available", yesNo(rec.BackupSnapshot != nil))
			row(w, "updated", rec.UpdatedAt.Format(time.RFC3339))
			if err := w.Flush(); err != nil {
				return err
			}

			if history > 0 {
				entries, err := rt.Secrets.ChangeLog(ctx, app.TenantID(), args[0], history)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out)
				w = newTable(out, "TIME", "ACTOR", "CHANGE")
				for _, e := range entries {
					row(w, e.Timestamp.Format(time.RFC3339), orDash(e.Actor), e.Message)
				}
				return w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the decrypted value only")
	cmd.Flags().IntVar(&history, "history", 0, "Also show the last N change-log entries")
	return cmd
}

func newSecretsListCommand(app *App) *cobra.Command {
	var (
		offset int
		limit  int
		files  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			opts := secretstore.ListOptions{Offset: offset, Limit: limit}
			if files {
				opts.Kind = secret.KindConfigFile
			}
			page, err := rt.Secrets.ListSecrets(cmd.Context(), app.TenantID(), opts)
			if err != nil {
				return err
			}

			w := newTable(cmd.OutOrStdout(), "ID", "NAME", "SECRET MANAGER", "TYPE", "PATH", "USED BY", "CHANGES")
			for _, s := range page.Items {
				row(w, s.Record.ID, s.Record.Name, orDash(s.SecretManager), s.Record.ProviderType, orDash(s.Record.Path), s.UsageCount, s.ChangeCount)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(page.Items) < page.Total {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Showing %d of %d\n", len(page.Items), page.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Skip the first N secrets")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most N secrets")
	cmd.Flags().BoolVar(&files, "files", false, "List files instead of secrets")
	return cmd
}

func newSecretsDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a secret nothing uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Secrets.DeleteSecret(cmd.Context(), app.TenantID(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret %s\n", args[0])
			return nil
		},
	}
}
