package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwork/ledger-api/internal/pkg/database"
)

// NewExpirePremiumCommand creates the expire-premium command.
func NewExpirePremiumCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire-premium",
		Short: "Clear premium on accounts past premium_until plus the grace period",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			ids, err := opts.ledgerService(db).ExpireLapsedPremium(commandContext(cmd), opts.cfg.PremiumGracePeriod)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]any{"expired": ids}, fmt.Sprintf("expired premium on %d accounts", len(ids)))
		},
	}
	return cmd
}
