package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/emberfall-io/streamstore/pg"
)

// NewTeardownCommand drops the store schema. Tearing down a schema that does
// not exist is a no-op.
func NewTeardownCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "teardown",
		Short: "Drop the schema and all stored messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.DatabaseURL == "" {
				return errors.New("--database-url (or STREAMSTORE_DATABASE_URL) is required")
			}

			ctx := cmd.Context()
			log := NewLogger(opts.LogLevel)

			pool, err := pg.NewPool(ctx, opts.DatabaseURL, 0, 0)
			if err != nil {
				if pg.MissingDatabase(err) {
					log.Info("database does not exist, nothing to drop")
					return nil
				}
				return err
			}
			defer pool.Close()

			if err := pg.Teardown(ctx, pool, opts.Schema); err != nil {
				return err
			}

			log.Info("streamstore schema dropped", "schema", opts.Schema)
			return nil
		},
	}
}
