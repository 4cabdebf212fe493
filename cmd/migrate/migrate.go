package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/datastore"
)

// Command creates the command that creates or updates the database schema.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := datastore.Open(datastore.Config{
				URL:           settings.Database.URL,
				SlowThreshold: settings.Database.SlowThreshold,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Initialize(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s %s)\n", db.Dialect(), db.Location())
			return nil
		},
	}
}
