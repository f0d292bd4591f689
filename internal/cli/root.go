// Package cli implements ledgerctl, the operator command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/mwork/ledger-api/internal/config"
	"github.com/mwork/ledger-api/internal/domain/ledger"
	"github.com/mwork/ledger-api/internal/pkg/database"
	"github.com/mwork/ledger-api/internal/pkg/logger"
)

// RootOptions holds global flags and the loaded configuration.
type RootOptions struct {
	Verbose bool
	JSON    bool

	cfg *config.Config
}

// NewRootCommand creates the ledgerctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the credits ledger",
		Long:          "ledgerctl runs migrations, reconciles balances against their entries, exports statements and mints service credentials.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg = config.Load()
			level := "warn"
			if opts.Verbose {
				level = "debug"
			}
			_, err := logger.Init(logger.Config{Level: level, Environment: opts.cfg.Env, Service: "ledgerctl"})
			return err
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print results as JSON")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewExpirePremiumCommand(opts))
	cmd.AddCommand(NewHashKeyCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) openDB() (*sqlx.DB, error) {
	db, err := database.NewPostgres(o.cfg.DatabaseURL, database.PoolConfig{MaxOpen: 4, MaxIdle: 2})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// ledgerService builds a ledger service without notifier or bus; operator
// commands only read or repair state.
func (o *RootOptions) ledgerService(db *sqlx.DB) *ledger.Service {
	return ledger.NewService(ledger.NewRepository(db), ledger.Options{
		WelcomeBonus:        o.cfg.WelcomeBonusCredits,
		DailyGrant:          o.cfg.DailyFreeCredits,
		LowBalanceThreshold: o.cfg.LowBalanceThreshold,
		Location:            o.cfg.Location(),
	})
}

// print writes v as indented JSON with --json, otherwise text.
func (o *RootOptions) print(w io.Writer, v any, text string) error {
	if o.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
