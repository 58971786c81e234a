package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/emberfall-io/streamstore/pg"
)

// NewSetupCommand creates the database (when missing) and the store schema.
// Both steps are idempotent, so re-running setup against an existing
// installation succeeds without changes.
func NewSetupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the database, schema and tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.DatabaseURL == "" {
				return errors.New("--database-url (or STREAMSTORE_DATABASE_URL) is required")
			}

			ctx := cmd.Context()
			log := NewLogger(opts.LogLevel)

			if err := pg.EnsureDatabase(ctx, opts.DatabaseURL); err != nil {
				return err
			}

			pool, err := pg.NewPool(ctx, opts.DatabaseURL, 0, 0)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pg.Setup(ctx, pool, opts.Schema); err != nil {
				return err
			}

			log.Info("streamstore schema ready", "schema", opts.Schema)
			return nil
		},
	}
}
