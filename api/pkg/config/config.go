package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Account     Account
	Browser     Browser
	Vision      Vision
	Solver      Solver
	Mailbox     Mailbox
	Captcha     Captcha
	Login       Login
	Exchange    Exchange
	Diagnostics Diagnostics

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type Account struct {
	Email    string `envconfig:"ACCOUNT_EMAIL"`
	Password string `envconfig:"ACCOUNT_PASSWORD"`
}

type Browser struct {
	// ControlURL attaches to an already-running Chrome devtools endpoint.
	// When empty a browser is launched locally.
	ControlURL string `envconfig:"BROWSER_CONTROL_URL"`
	Headless   bool   `envconfig:"BROWSER_HEADLESS" default:"true"`

	// TypeDelayMinMs/MaxMs bound the per-keystroke jitter used to avoid
	// automation fingerprinting.
	TypeDelayMinMs int `envconfig:"BROWSER_TYPE_DELAY_MIN_MS" default:"40"`
	TypeDelayMaxMs int `envconfig:"BROWSER_TYPE_DELAY_MAX_MS" default:"80"`
}

type Vision struct {
	APIKey  string `envconfig:"VISION_API_KEY"`
	BaseURL string `envconfig:"VISION_BASE_URL"`
	Model   string `envconfig:"VISION_MODEL" default:"gpt-4o"`
}

type Solver struct {
	APIKey  string `envconfig:"SOLVER_API_KEY"`
	BaseURL string `envconfig:"SOLVER_BASE_URL" default:"https://api.captchasolve.example.com/v1"`

	PollInterval  int `envconfig:"SOLVER_POLL_INTERVAL_SECONDS" default:"5"`
	BudgetSeconds int `envconfig:"SOLVER_BUDGET_SECONDS" default:"150"`
}

type Mailbox struct {
	BaseURL string `envconfig:"MAILBOX_BASE_URL"`
	Address string `envconfig:"MAILBOX_ADDRESS"`
	Token   string `envconfig:"MAILBOX_TOKEN"`

	PollInterval int `envconfig:"MAILBOX_POLL_INTERVAL_SECONDS" default:"2"`
}

type Captcha struct {
	// LuminanceThreshold binarizes the screenshot: a pixel is ink when
	// its grayscale value falls below the threshold.
	LuminanceThreshold int `envconfig:"CAPTCHA_LUMINANCE_THRESHOLD" default:"180"`

	// MinShapeArea and MinShapeDimension filter sensor noise out of the
	// extracted connected components.
	MinShapeArea      int     `envconfig:"CAPTCHA_MIN_SHAPE_AREA" default:"300"`
	MinShapeDimension int     `envconfig:"CAPTCHA_MIN_SHAPE_DIMENSION" default:"15"`
	MaxShapeFraction  float64 `envconfig:"CAPTCHA_MAX_SHAPE_FRACTION" default:"0.8"`

	// PieceZoneFraction splits the working region into the piece zone
	// (left) and the target zone (right).
	PieceZoneFraction float64 `envconfig:"CAPTCHA_PIECE_ZONE_FRACTION" default:"0.4"`

	// ConfidenceThreshold and AreaWeight are empirical constants of the
	// shape-matching score, exposed rather than hardcoded.
	ConfidenceThreshold float64 `envconfig:"CAPTCHA_CONFIDENCE_THRESHOLD" default:"0.5"`
	AreaWeight          float64 `envconfig:"CAPTCHA_AREA_WEIGHT" default:"0.5"`

	ManualBudgetSeconds int `envconfig:"CAPTCHA_MANUAL_BUDGET_SECONDS" default:"300"`
}

type Login struct {
	URL          string `envconfig:"LOGIN_URL" default:"https://www.epicgames.com/id/login"`
	AuthorizeURL string `envconfig:"LOGIN_AUTHORIZE_URL" default:"https://www.epicgames.com/id/api/redirect?clientId=34a02cf8f4414e29b15921876da36f9a&responseType=code"`

	MaxSubmitAttempts  int `envconfig:"LOGIN_MAX_SUBMIT_ATTEMPTS" default:"15"`
	MaxCaptchaAttempts int `envconfig:"LOGIN_MAX_CAPTCHA_ATTEMPTS" default:"10"`

	// DetectPollSeconds bounds the post-submit poll for either a captcha
	// element or a URL change. ChallengeSettleSeconds is how long the
	// page gets to judge a submitted captcha solution.
	DetectPollSeconds      int `envconfig:"LOGIN_DETECT_POLL_SECONDS" default:"2"`
	ChallengeSettleSeconds int `envconfig:"LOGIN_CHALLENGE_SETTLE_SECONDS" default:"2"`
	ManualEntrySeconds     int `envconfig:"LOGIN_MANUAL_ENTRY_SECONDS" default:"300"`
	VerificationSeconds    int `envconfig:"LOGIN_VERIFICATION_SECONDS" default:"120"`
}

type Exchange struct {
	BaseURL string `envconfig:"EXCHANGE_BASE_URL" default:"https://account-public-service-prod.ol.epicgames.com"`

	// Launcher and IOS are the two Basic-Auth client-credential profiles
	// used at different steps of the exchange.
	LauncherClientID     string `envconfig:"EXCHANGE_LAUNCHER_CLIENT_ID" default:"34a02cf8f4414e29b15921876da36f9a"`
	LauncherClientSecret string `envconfig:"EXCHANGE_LAUNCHER_CLIENT_SECRET" default:"daafbccc737745039dffe53d94fc76cf"`
	IOSClientID          string `envconfig:"EXCHANGE_IOS_CLIENT_ID" default:"3446cd72694c4a4485d81b77adbb2141"`
	IOSClientSecret      string `envconfig:"EXCHANGE_IOS_CLIENT_SECRET" default:"9209d4a5e25a457fb9b07489d313b41a"`

	CredentialsPath string `envconfig:"EXCHANGE_CREDENTIALS_PATH" default:"device_auth.json"`
}

type Diagnostics struct {
	Dir string `envconfig:"DIAGNOSTICS_DIR" default:"debug"`
}
