package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/systmms/secretops/internal/migration"
	"github.com/systmms/secretops/internal/queue"
)

// NewMigrateCommand creates the parent 'migrate' command
func NewMigrateCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move secrets between secret managers",
		Long: `Re-encrypt secrets with another secret manager.

Each secret is decrypted with the secret manager that owns it, encrypted with
the target, verified when the two belong to different vendors and committed
only if nobody changed the secret meanwhile. The previous value is kept as a
backup snapshot for 'secretops migrate rollback'.

Secrets that reference external paths are never migrated.

Examples:
  secretops migrate secret --tenant acme <secret-id> --to <manager-id>
  secretops migrate all --tenant acme --from <manager-id> --to <manager-id>
  secretops migrate local --tenant acme
  secretops migrate rollback --tenant acme <secret-id>`,
	}

	cmd.AddCommand(
		newMigrateSecretCommand(app),
		newMigrateAllCommand(app),
		newMigrateLocalCommand(app),
		newMigrateRollbackCommand(app),
	)
	return cmd
}

func newMigrateSecretCommand(app *App) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "secret <id>",
		Short: "Migrate one secret or file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			queued, err := rt.Coordinator.TransitionSecret(cmd.Context(), app.TenantID(), args[0], to)
			if err != nil {
				return err
			}
			if !queued {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Secret %s stays where it is\n", args[0])
				return nil
			}
			return drain(cmd.Context(), cmd.OutOrStdout(), rt.Coordinator)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Target secret manager id (empty for LOCAL)")
	return cmd
}

func newMigrateAllCommand(app *App) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Migrate every secret of one secret manager to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			n, err := rt.Coordinator.TransitionSecrets(cmd.Context(), app.TenantID(), from, to)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Queued %d secrets\n", n)
			return drain(cmd.Context(), cmd.OutOrStdout(), rt.Coordinator)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Source secret manager id (empty for LOCAL)")
	cmd.Flags().StringVar(&to, "to", "", "Target secret manager id (empty for LOCAL)")
	return cmd
}

func newMigrateLocalCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "local",
		Short: "Migrate every secret of the tenant to LOCAL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			n, err := rt.Coordinator.TransitionAllToLocal(cmd.Context(), app.TenantID())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Queued %d secrets\n", n)
			return drain(cmd.Context(), cmd.OutOrStdout(), rt.Coordinator)
		},
	}
}

func newMigrateRollbackCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <id>",
		Short: "Restore a secret to its value before the last migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := rt.Coordinator.Rollback(cmd.Context(), app.TenantID(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s to %s\n", rec.Name, rec.ProviderType)
			return nil
		},
	}
}

// drain processes the queued tasks and prints one line per secret. It fails
// when any task ended up in the dead-letter list.
func drain(ctx context.Context, out io.Writer, coord *migration.Coordinator) error {
	if _, err := coord.Drain(ctx); err != nil {
		return err
	}

	w := newTable(out, "SECRET", "FROM", "TO", "STATE", "DETAIL")
	for _, run := range coord.Runs() {
		detail := run.Reason()
		if err := run.Failure(); err != nil {
			detail = err.Error()
		}
		row(w, run.Task.SecretID, run.Task.FromProviderType, run.Task.ToProviderType, run.State(), orDash(detail))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if mq, ok := coord.Queue().(*queue.MemoryQueue); ok {
		if dead := mq.DeadLetters(); len(dead) > 0 {
			return fmt.Errorf("%d secrets could not be migrated", len(dead))
		}
	}
	return nil
}
