package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mwork/ledger-api/internal/domain/ledger"
	"github.com/mwork/ledger-api/internal/pkg/database"
)

// ErrMismatch is returned when at least one balance disagrees with its
// entries.
var ErrMismatch = errors.New("ledger mismatch detected")

type reconcileSummary struct {
	Checked    int                       `json:"checked"`
	Mismatched int                       `json:"mismatched"`
	Reports    []*ledger.ReconcileReport `json:"mismatches"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay entries and compare with stored balances",
		Long: `Replay every account's entries in application order and compare the result
with credits_remaining. Exits non-zero when any account disagrees.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)
			svc := opts.ledgerService(db)
			ctx := commandContext(cmd)

			summary := reconcileSummary{Reports: []*ledger.ReconcileReport{}}
			if account != "" {
				id, err := uuid.Parse(account)
				if err != nil {
					return fmt.Errorf("invalid --account: %w", err)
				}
				rep, err := svc.Reconcile(ctx, id)
				if err != nil {
					return err
				}
				summary.Checked = 1
				if !rep.Consistent {
					summary.Mismatched = 1
					summary.Reports = append(summary.Reports, rep)
				}
			} else {
				summary.Checked, summary.Mismatched, err = svc.ReconcileAll(ctx, func(rep *ledger.ReconcileReport) {
					if !rep.Consistent {
						summary.Reports = append(summary.Reports, rep)
					}
				})
				if err != nil {
					return err
				}
			}

			text := fmt.Sprintf("checked %d accounts, %d mismatched", summary.Checked, summary.Mismatched)
			for _, rep := range summary.Reports {
				text += fmt.Sprintf("\n  %s stored=%d replayed=%d entries=%d", rep.AccountID, rep.CreditsRemaining, rep.Replayed, rep.Entries)
			}
			if err := opts.print(cmd.OutOrStdout(), summary, text); err != nil {
				return err
			}
			if summary.Mismatched > 0 {
				return ErrMismatch
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "reconcile a single account id")
	return cmd
}
