package cli

import (
	"github.com/spf13/cobra"

	"github.com/mwork/ledger-api/internal/pkg/database"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|redo|version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.RangeArgs(0, 2),
		ValidArgs: []string{"up", "down", "status", "redo", "version", "up-to", "down-to"},
		Example: `  ledgerctl migrate
  ledgerctl migrate status
  ledgerctl migrate down-to 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) > 0 {
				command = args[0]
			}
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)
			return database.Migrate(commandContext(cmd), db.DB, command, args[min(len(args), 1):]...)
		},
	}
}
