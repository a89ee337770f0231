package epicauth

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/epicapi"
)

func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that stored device credentials still produce a token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			setupLogging(cfg.LogLevel)

			creds, err := epicapi.LoadCredentials(cfg.Exchange.CredentialsPath)
			if err != nil {
				return err
			}

			pair, err := epicapi.NewClient(cfg.Exchange).DeviceAuthGrant(cmd.Context(), creds.DeviceAuth)
			if err != nil {
				return fmt.Errorf("device credentials are no longer valid: %w", err)
			}

			log.Info().
				Str("account_id", creds.DeviceAuth.AccountID).
				Time("expires_at", pair.ExpiresAt).
				Msg("Device credentials are valid")
			return nil
		},
	}
}
