package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/secretops/internal/secure"
)

// NewKeygenCommand creates the 'keygen' command
func NewKeygenCommand(app *App) *cobra.Command {
	var (
		keyring bool
		ref     string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a master key for the LOCAL secret manager",
		Long: `Generate a random 256-bit master key.

Without --keyring the base64 key is printed; put it in SECRETOPS_MASTER_KEY or
a key file. With --keyring it is stored in the OS keyring instead.

Examples:
  export SECRETOPS_MASTER_KEY=$(secretops keygen)
  secretops keygen --keyring --ref secretops/master-key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := secure.GenerateKey()
			if !keyring {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}

			service, account, ok := strings.Cut(ref, "/")
			if !ok {
				account = "master-key"
			}
			src := secure.KeyringKeySource{Service: service, Account: account}
			if err := src.Store(key); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored master key in %s\n", src.Describe())
			app.logger().Info("Set local_key.source to keyring and local_key.ref to %s/%s", service, account)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keyring, "keyring", false, "Store the key in the OS keyring")
	cmd.Flags().StringVar(&ref, "ref", "secretops/master-key", "Keyring service/account")
	return cmd
}
