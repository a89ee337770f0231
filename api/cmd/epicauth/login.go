package epicauth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lobbystats/epicauth/api/pkg/browser"
	"github.com/lobbystats/epicauth/api/pkg/captcha"
	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/diagnostics"
	"github.com/lobbystats/epicauth/api/pkg/epicapi"
	"github.com/lobbystats/epicauth/api/pkg/login"
	"github.com/lobbystats/epicauth/api/pkg/mailbox"
	"github.com/lobbystats/epicauth/api/pkg/solver"
	"github.com/lobbystats/epicauth/api/pkg/types"
	"github.com/lobbystats/epicauth/api/pkg/vision"
)

func NewLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Run the full login pipeline and persist device credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			setupLogging(cfg.LogLevel)

			return runLogin(cmd, cfg)
		},
	}
}

func runLogin(cmd *cobra.Command, cfg config.Config) error {
	ctx := cmd.Context()

	if cfg.Account.Email == "" || cfg.Account.Password == "" {
		return fmt.Errorf("%w: ACCOUNT_EMAIL and ACCOUNT_PASSWORD are required", types.ErrMissingCredentialConfig)
	}

	runID := uuid.NewString()[:8]
	log.Info().Str("run_id", runID).Msg("Starting device-credential acquisition")

	recorder := diagnostics.NewRecorder(cfg.Diagnostics.Dir, runID)

	driver, err := browser.New(cfg.Browser)
	if err != nil {
		return err
	}
	defer driver.Close()

	// Vision and mailbox are optional: without them the pipeline falls
	// back to the free solver and manual verification.
	var visionClient vision.Classifier
	if vc, err := vision.NewClient(cfg.Vision); err == nil {
		visionClient = vc
	} else {
		log.Warn().Err(err).Msg("Vision classification unavailable")
	}

	var mbox mailbox.Retriever
	if mc, err := mailbox.NewClient(cfg.Mailbox); err == nil {
		mbox = mc
	} else {
		log.Warn().Err(err).Msg("Mailbox retrieval unavailable")
	}

	paid := solver.NewClient(cfg.Solver)
	resolver := captcha.NewManager(driver, visionClient, paid, recorder, cfg.Captcha)

	sess := &types.SessionContext{
		RunID: runID,
		Credentials: types.Credentials{
			Email:    cfg.Account.Email,
			Password: cfg.Account.Password,
		},
	}

	machine := login.NewMachine(driver, resolver, mbox, recorder, cfg.Login, cfg.Browser, sess)

	code, err := machine.Run(ctx)
	if err != nil {
		return remediate(err)
	}
	log.Info().Msg("Authorization code obtained, starting token exchange")

	creds, err := epicapi.NewClient(cfg.Exchange).Exchange(ctx, code)
	if err != nil {
		return remediate(err)
	}

	if err := epicapi.SaveCredentials(cfg.Exchange.CredentialsPath, creds); err != nil {
		return err
	}

	log.Info().
		Str("path", cfg.Exchange.CredentialsPath).
		Str("account_id", creds.DeviceAuth.AccountID).
		Msg("Device credentials persisted")
	return nil
}

// remediate attaches a user-actionable hint to known failure classes.
func remediate(err error) error {
	switch {
	case errors.Is(err, types.ErrTwoFactorDetected):
		return fmt.Errorf("%w\nDisable two-factor authentication on the account, or create a device auth manually and place it at the configured credentials path", err)
	case errors.Is(err, types.ErrManualSolveRequired):
		return fmt.Errorf("%w\nRe-run with BROWSER_HEADLESS=false and solve the challenge in the opened window, or configure SOLVER_API_KEY", err)
	case errors.Is(err, types.ErrVerificationTimeout):
		return fmt.Errorf("%w\nConfigure MAILBOX_BASE_URL/MAILBOX_ADDRESS for the account's inbox, or enter the emailed code manually within the wait window", err)
	default:
		return err
	}
}
