package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/systmms/secretops/pkg/secretstore"
)

// NewFilesCommand creates the parent 'files' command
func NewFilesCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage encrypted configuration files",
		Long: `Store, read, update and delete encrypted files such as certificates or
kubeconfigs. Use 'secretops secrets list --files' to list them.

Examples:
  secretops files save --tenant acme --file ./cert.pem
  secretops files get --tenant acme <id> --out ./cert.pem`,
	}

	cmd.AddCommand(
		newFilesSaveCommand(app),
		newFilesGetCommand(app),
		newFilesUpdateCommand(app),
		newFilesDeleteCommand(app),
	)
	return cmd
}

func newFilesSaveCommand(app *App) *cobra.Command {
	var (
		name string
		file string
		apps []string
		envs []string
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Encrypt and store a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			if name == "" {
				name = filepath.Base(file)
			}
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			id, err := rt.Secrets.SaveFile(cmd.Context(), app.TenantID(), secretstore.FileInput{
				Name:         name,
				Content:      content,
				Restrictions: restrictions(apps, envs),
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "File to store")
	cmd.Flags().StringVar(&name, "name", "", "Name (defaults to the file's base name)")
	addRestrictionFlags(cmd, &apps, &envs)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newFilesGetCommand(app *App) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Decrypt a file to stdout or --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			content, err := rt.Secrets.GetFileContents(cmd.Context(), app.TenantID(), args[0])
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(content)
				return err
			}
			if err := os.WriteFile(out, content, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			app.logger().Info("Wrote %d bytes to %s", len(content), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Write to this path (mode 0600)")
	return cmd
}

func newFilesUpdateCommand(app *App) *cobra.Command {
	var (
		name string
		file string
		apps []string
		envs []string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename a file or replace its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			current, err := rt.Secrets.GetSecret(cmd.Context(), app.TenantID(), args[0])
			if err != nil {
				return err
			}
			in := secretstore.FileInput{Name: current.Record.Name, Restrictions: current.Record.Restrictions}
			if name != "" {
				in.Name = name
			}
			if file != "" {
				if in.Content, err = os.ReadFile(file); err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
			}
			if cmd.Flags().Changed("app") || cmd.Flags().Changed("env-type") {
				in.Restrictions = restrictions(apps, envs)
			}
			if err := rt.Secrets.UpdateFile(cmd.Context(), app.TenantID(), args[0], in); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated file %s\n", in.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&file, "file", "", "New content")
	addRestrictionFlags(cmd, &apps, &envs)
	return cmd
}

func newFilesDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a file nothing uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Secrets.DeleteFile(cmd.Context(), app.TenantID(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted file %s\n", args[0])
			return nil
		},
	}
}
