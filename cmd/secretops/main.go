package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/secretops/cmd/secretops/commands"
	"github.com/systmms/secretops/internal/config"
	"github.com/systmms/secretops/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}
	app := commands.NewApp(cfg)
	defer app.Close()

	rootCmd := &cobra.Command{
		Use:   "secretops",
		Short: "Encrypt tenant secrets with pluggable secret managers",
		Long: `secretops stores secrets and configuration files encrypted by the secret
manager each tenant chooses, and migrates them between secret managers.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&app.Tenant, "tenant", "", "Tenant id (defaults to the global tenant)")

	rootCmd.AddCommand(
		commands.NewManagersCommand(app),
		commands.NewSecretsCommand(app),
		commands.NewFilesCommand(app),
		commands.NewMigrateCommand(app),
		commands.NewServeCommand(app),
		commands.NewKeygenCommand(app),
		commands.NewCompletionCommand(),
	)

	return rootCmd.Execute()
}
