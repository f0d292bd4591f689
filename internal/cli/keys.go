package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mwork/ledger-api/internal/pkg/jwt"
	"github.com/mwork/ledger-api/internal/pkg/servicekey"
)

// NewHashKeyCommand creates the hash-key command.
func NewHashKeyCommand(opts *RootOptions) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Generate a service key and print its bcrypt hash",
		Long: `Print a bcrypt hash for SERVICE_KEY_HASHES. Without --key a new random key
is generated and printed once; only the hash should be stored in configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				generated, err := servicekey.Generate()
				if err != nil {
					return err
				}
				key = generated
			}
			hash, err := servicekey.Hash(key)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(),
				map[string]string{"key": key, "hash": hash},
				fmt.Sprintf("key:  %s\nhash: %s", key, hash))
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "hash this key instead of generating one")
	return cmd
}

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		account string
		role    string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.IsProduction() {
				return fmt.Errorf("token minting is disabled in production")
			}
			id := uuid.New()
			if account != "" {
				parsed, err := uuid.Parse(account)
				if err != nil {
					return fmt.Errorf("invalid --account: %w", err)
				}
				id = parsed
			}
			token, err := jwt.NewService(opts.cfg.JWTSecret, opts.cfg.JWTAccessTTL).GenerateAccessToken(id, role)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]string{"account_id": id.String(), "token": token}, token)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account id (random when empty)")
	cmd.Flags().StringVar(&role, "role", "user", "role claim")
	return cmd
}
