package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwork/ledger-api/internal/pkg/database"
	"github.com/mwork/ledger-api/internal/pkg/storage"
)

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var (
		month    string
		localDir string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a month of ledger entries as a CSV statement",
		Example: `  ledgerctl export --month 2026-03
  ledgerctl export --month 2026-03 --local-dir ./statements`,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseMonth(month)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			store, err := storage.New(ctx, storage.Config{
				Endpoint:  opts.cfg.S3Endpoint,
				Region:    opts.cfg.S3Region,
				Bucket:    opts.cfg.S3Bucket,
				AccessKey: opts.cfg.S3AccessKey,
				SecretKey: opts.cfg.S3SecretKey,
				LocalDir:  localDir,
			})
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}

			db, err := opts.openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			key, rows, err := opts.ledgerService(db).ExportMonth(ctx, store, at)
			if err != nil {
				return err
			}
			result := map[string]any{"key": key, "rows": rows, "url": store.URL(key)}
			return opts.print(cmd.OutOrStdout(), result, fmt.Sprintf("exported %d entries to %s", rows, store.URL(key)))
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "month to export, YYYY-MM (required)")
	_ = cmd.MarkFlagRequired("month")
	cmd.Flags().StringVar(&localDir, "local-dir", "", "write to this directory when S3 is not configured")
	return cmd
}

func parseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --month %q: want YYYY-MM", s)
	}
	return t, nil
}
