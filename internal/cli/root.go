// Package cli implements the streamstore command line: schema setup and
// teardown against a Postgres installation.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds the global flags shared by all subcommands.
type RootOptions struct {
	DatabaseURL string
	Schema      string
	LogLevel    string
}

// NewRootCommand creates the root command for the streamstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "streamstore",
		Short:         "Manage a streamstore Postgres installation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url",
		EnvString("STREAMSTORE_DATABASE_URL", ""),
		"Postgres connection URL (defaults to STREAMSTORE_DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema",
		EnvString("STREAMSTORE_SCHEMA", "streamstore"),
		"Postgres schema holding the store")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level",
		EnvString("STREAMSTORE_LOG_LEVEL", "info"),
		"log level (debug|info|warn|error)")

	cmd.AddCommand(NewSetupCommand(opts))
	cmd.AddCommand(NewTeardownCommand(opts))

	return cmd
}
