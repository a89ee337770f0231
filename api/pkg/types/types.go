package types

import (
	"time"
)

// Credentials are the account credentials supplied for a login run.
type Credentials struct {
	Email    string
	Password string
}

// SessionContext is the mutable per-run state owned by the login state
// machine. It is created at run start and discarded at process exit.
type SessionContext struct {
	RunID       string
	Credentials Credentials

	CurrentURL        string
	CaptchaAttempts   int
	ClickAttempts     int
	AuthorizationCode string
}

// CaptchaVariant identifies which challenge the platform presented.
type CaptchaVariant string

const (
	// CaptchaVariantGrid is the 3x3 image-selection challenge.
	CaptchaVariantGrid CaptchaVariant = "grid"
	// CaptchaVariantDrag is the drag-the-shape matching challenge.
	CaptchaVariantDrag CaptchaVariant = "drag"
)

// DragVector describes a pointer drag from the piece centroid to the
// matched target centroid, in absolute screen coordinates.
type DragVector struct {
	FromX float64
	FromY float64
	ToX   float64
	ToY   float64

	// Confidence is in [0,1] and gates escalation to costlier solvers.
	Confidence float64
}

// CaptchaSolution is a tagged union: grid solutions carry the selected
// cell indices (1-9), drag solutions carry the drag vector.
type CaptchaSolution struct {
	Variant CaptchaVariant

	GridCells []int
	Drag      *DragVector
}

// DeviceAuth is the long-lived credential triple issued by the platform.
// It can be exchanged repeatedly for fresh access tokens without an
// interactive login.
type DeviceAuth struct {
	DeviceID  string `json:"device_id"`
	AccountID string `json:"account_id"`
	Secret    string `json:"secret"`
}

// TokenPair is a validated access/refresh token pair.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// DeviceCredentials is the record persisted at the end of a successful
// run. The device auth is only considered valid once the validation
// grant has produced the token pair.
type DeviceCredentials struct {
	DeviceAuth DeviceAuth `json:"device_auth"`
	Tokens     TokenPair  `json:"tokens"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Valid reports whether the record carries a complete credential triple
// and a validated access token.
func (c *DeviceCredentials) Valid() bool {
	return c.DeviceAuth.DeviceID != "" &&
		c.DeviceAuth.AccountID != "" &&
		c.DeviceAuth.Secret != "" &&
		c.Tokens.AccessToken != ""
}
