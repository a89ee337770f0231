package types

import (
	"errors"
	"fmt"
)

var (
	// ErrDetectionTimeout means no challenge appeared within the polling
	// budget. Callers proceed as if the challenge was already solved.
	ErrDetectionTimeout = errors.New("no captcha challenge detected within budget")

	// ErrTwoFactorDetected is fatal: there is no automated remediation
	// for accounts with interactive two-factor authentication enabled.
	ErrTwoFactorDetected = errors.New("account has two-factor authentication enabled, disable it or create a device auth manually")

	// ErrMissingCredentialConfig is fatal and user-actionable.
	ErrMissingCredentialConfig = errors.New("missing credential configuration")

	// ErrVerificationTimeout is fatal after the mail poll budget and the
	// manual-entry window are both exhausted.
	ErrVerificationTimeout = errors.New("timed out waiting for verification code")

	// ErrManualSolveRequired is raised by the fallback manager when no
	// automated tier produced an acceptable solution and no paid solver
	// is configured.
	ErrManualSolveRequired = errors.New("manual captcha solve required")

	// ErrNoAuthorizationCode means login completed but no authorization
	// code could be extracted from the authorize endpoint.
	ErrNoAuthorizationCode = errors.New("no authorization code extractable after login")
)

// TransientServiceError wraps a failed vendor call. It is retried only
// inside that vendor's own tier, never across fallback tiers.
type TransientServiceError struct {
	Service string
	Err     error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Service, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// ChallengeRejectedError means the platform flagged a submitted captcha
// solution as incorrect. The challenge is permanently invalid, so the
// login machine restarts the whole session rather than retrying in
// place.
type ChallengeRejectedError struct {
	Attempt int
}

func (e *ChallengeRejectedError) Error() string {
	return fmt.Sprintf("captcha solution rejected on attempt %d, restarting session", e.Attempt)
}

// TokenExchangeError is fatal: the exchange pipeline fails closed on
// the first non-success response, with no per-step retry.
type TokenExchangeError struct {
	Step       string
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange step %q failed with status %d: %s", e.Step, e.StatusCode, e.Body)
}
