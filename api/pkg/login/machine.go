// Package login drives the platform's login flow as an explicit
// finite-state machine: one dispatch loop, one handler per state, all
// mutable run state confined to the session context.
package login

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lobbystats/epicauth/api/pkg/browser"
	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/diagnostics"
	"github.com/lobbystats/epicauth/api/pkg/mailbox"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

// State is a node of the login state machine.
type State int

const (
	StateUnauthenticated State = iota
	StateEmailEntered
	StatePasswordEntered
	StateChallengeActive
	StateVerificationRequired
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateEmailEntered:
		return "email_entered"
	case StatePasswordEntered:
		return "password_entered"
	case StateChallengeActive:
		return "challenge_active"
	case StateVerificationRequired:
		return "verification_required"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Page selectors, ordered by how reliably they match the current login
// markup.
const (
	emailSelector    = `input[type="email"], input[name="email"], #email`
	passwordSelector = `input[type="password"], input[name="password"], #password`
	continueSelector = `button[id*="continue"], button[class*="continue"]`
	otpSelector      = `input[autocomplete="one-time-code"], input[name="code"]`
	captchaSelector  = `iframe[src*="captcha"], [id*="captcha"], [class*="captcha-frame"]`
)

var submitSelectors = []string{
	`button[type="submit"]`,
	`button[id*="sign-in"]`,
	`button[class*="sign-in"]`,
	`input[type="submit"]`,
}

const domSubmitScript = `() => {
	const form = document.querySelector('form');
	if (form) { form.requestSubmit ? form.requestSubmit() : form.submit(); return 'submitted'; }
	return '';
}`

const rejectedScript = `() => document.body.innerText.toLowerCase().includes('incorrect response') ? 'rejected' : ''`

const detectPollInterval = 250 * time.Millisecond

// ChallengeResolver runs one captcha-resolution attempt against the
// page. Satisfied by captcha.Manager.
type ChallengeResolver interface {
	Attempt(ctx context.Context) error
}

// Machine owns the browser session for the duration of one login run
// and produces an authorization code.
type Machine struct {
	driver   browser.Driver
	captcha  ChallengeResolver
	mailbox  mailbox.Retriever
	recorder *diagnostics.Recorder

	cfg        config.Login
	browserCfg config.Browser
	extractors []CodeExtractor

	sess      *types.SessionContext
	loginPath string
	failure   error
}

// NewMachine wires a machine over the given collaborators. mbox may be
// nil when no mailbox service is configured; verification then falls
// back to the manual-entry window.
func NewMachine(d browser.Driver, resolver ChallengeResolver, mbox mailbox.Retriever, rec *diagnostics.Recorder, cfg config.Login, browserCfg config.Browser, sess *types.SessionContext) *Machine {
	loginPath := "/id/login"
	if u, err := url.Parse(cfg.URL); err == nil && u.Path != "" {
		loginPath = u.Path
	}

	return &Machine{
		driver:     d,
		captcha:    resolver,
		mailbox:    mbox,
		recorder:   rec,
		cfg:        cfg,
		browserCfg: browserCfg,
		extractors: defaultExtractors(),
		sess:       sess,
		loginPath:  loginPath,
	}
}

// Run executes the dispatch loop until the machine reaches a terminal
// state, returning the extracted authorization code on success.
func (m *Machine) Run(ctx context.Context) (string, error) {
	state := StateUnauthenticated

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		log.Debug().Str("state", state.String()).Msg("Login state")

		var next State
		var err error

		switch state {
		case StateUnauthenticated:
			next, err = m.enterEmail(ctx)
		case StateEmailEntered:
			next, err = m.enterPassword(ctx)
		case StatePasswordEntered:
			next, err = m.submitAndDetect(ctx)
		case StateChallengeActive:
			next, err = m.resolveChallenge(ctx)
		case StateVerificationRequired:
			next, err = m.completeVerification(ctx)
		case StateAuthenticated:
			return m.extractAuthorizationCode(ctx)
		case StateFailed:
			m.dumpFailure(ctx)
			return "", m.failure
		}

		if err != nil {
			m.failure = err
			next = StateFailed
		}
		state = next
	}
}

func (m *Machine) typeDelays() (time.Duration, time.Duration) {
	return time.Duration(m.browserCfg.TypeDelayMinMs) * time.Millisecond,
		time.Duration(m.browserCfg.TypeDelayMaxMs) * time.Millisecond
}

// enterEmail navigates to the login page and fills the email field.
// Also the restart entry point after a rejected challenge, so it
// always re-navigates for a fresh page.
func (m *Machine) enterEmail(ctx context.Context) (State, error) {
	if err := m.driver.Navigate(ctx, m.cfg.URL); err != nil {
		return StateFailed, err
	}

	found, err := m.driver.WaitForSelector(ctx, emailSelector, 10*time.Second)
	if err != nil {
		return StateFailed, err
	}
	if !found {
		return StateFailed, fmt.Errorf("login form not found at %s", m.cfg.URL)
	}

	lo, hi := m.typeDelays()
	if err := m.driver.Type(ctx, emailSelector, m.sess.Credentials.Email, lo, hi); err != nil {
		return StateFailed, err
	}

	return StateEmailEntered, nil
}

// enterPassword clicks the continue control when the flow splits email
// and password across screens, then fills the password.
func (m *Machine) enterPassword(ctx context.Context) (State, error) {
	if found, _ := m.driver.WaitForSelector(ctx, continueSelector, 2*time.Second); found {
		if err := m.driver.Click(ctx, continueSelector); err != nil {
			log.Warn().Err(err).Msg("Continue click failed, trying password directly")
		}
	}

	found, err := m.driver.WaitForSelector(ctx, passwordSelector, 10*time.Second)
	if err != nil {
		return StateFailed, err
	}
	if !found {
		return StateFailed, fmt.Errorf("password field not found")
	}

	lo, hi := m.typeDelays()
	if err := m.driver.Type(ctx, passwordSelector, m.sess.Credentials.Password, lo, hi); err != nil {
		return StateFailed, err
	}

	return StatePasswordEntered, nil
}

// submitAndDetect repeatedly tries to trigger submission and polls for
// what the page did with it: challenge, verification prompt, or a URL
// change off the login path.
func (m *Machine) submitAndDetect(ctx context.Context) (State, error) {
	for attempt := 0; attempt < m.cfg.MaxSubmitAttempts; attempt++ {
		m.sess.ClickAttempts++
		m.trySubmit(ctx, attempt)

		next, detected, err := m.pollObservation(ctx, time.Duration(m.cfg.DetectPollSeconds)*time.Second)
		if err != nil {
			return StateFailed, err
		}
		if detected {
			return next, nil
		}
	}

	return StateFailed, fmt.Errorf("submission not accepted after %d attempts", m.cfg.MaxSubmitAttempts)
}

// trySubmit walks the ordered strategies: known selectors, a scripted
// DOM submit, and finally a raw Enter keypress.
func (m *Machine) trySubmit(ctx context.Context, attempt int) {
	for _, sel := range submitSelectors {
		if found, _ := m.driver.WaitForSelector(ctx, sel, 500*time.Millisecond); found {
			if err := m.driver.Click(ctx, sel); err == nil {
				return
			}
		}
	}

	if res, err := m.driver.Evaluate(ctx, domSubmitScript); err == nil && strings.Contains(res, "submitted") {
		return
	}

	if err := m.driver.PressEnter(ctx); err != nil {
		log.Warn().Err(err).Int("attempt", attempt).Msg("All submission strategies failed")
	}
}

// pollObservation watches the page for up to budget and reports the
// next state when something actionable appears.
func (m *Machine) pollObservation(ctx context.Context, budget time.Duration) (State, bool, error) {
	deadline := time.Now().Add(budget)

	for {
		current, err := m.driver.CurrentURL(ctx)
		if err == nil {
			m.sess.CurrentURL = current

			if strings.Contains(current, "/mfa") || strings.Contains(current, "two-factor") {
				return StateFailed, true, types.ErrTwoFactorDetected
			}
			if !m.onLoginPath(current) {
				return StateAuthenticated, true, nil
			}
		}

		if found, _ := m.driver.WaitForSelector(ctx, captchaSelector, detectPollInterval); found {
			return StateChallengeActive, true, nil
		}
		if found, _ := m.driver.WaitForSelector(ctx, otpSelector, detectPollInterval); found {
			return StateVerificationRequired, true, nil
		}

		if time.Now().After(deadline) {
			return StateUnauthenticated, false, nil
		}
	}
}

// resolveChallenge runs one captcha attempt. A rejected solution means
// the challenge is permanently invalid, so the machine restarts from
// scratch rather than retrying in place.
func (m *Machine) resolveChallenge(ctx context.Context) (State, error) {
	if m.sess.CaptchaAttempts >= m.cfg.MaxCaptchaAttempts {
		return StateFailed, fmt.Errorf("captcha not solved after %d attempts", m.cfg.MaxCaptchaAttempts)
	}
	m.sess.CaptchaAttempts++

	log.Info().Int("attempt", m.sess.CaptchaAttempts).Int("max", m.cfg.MaxCaptchaAttempts).Msg("Resolving challenge")

	if err := m.captcha.Attempt(ctx); err != nil {
		return StateFailed, err
	}

	// Give the page a moment to judge the submission.
	time.Sleep(time.Duration(m.cfg.ChallengeSettleSeconds) * time.Second)

	if res, err := m.driver.Evaluate(ctx, rejectedScript); err == nil && strings.Contains(res, "rejected") {
		rejection := &types.ChallengeRejectedError{Attempt: m.sess.CaptchaAttempts}
		log.Warn().Err(rejection).Msg("Restarting session")
		return StateUnauthenticated, nil
	}

	current, err := m.driver.CurrentURL(ctx)
	if err == nil {
		m.sess.CurrentURL = current
		if !m.onLoginPath(current) {
			return StateAuthenticated, nil
		}
	}

	if found, _ := m.driver.WaitForSelector(ctx, captchaSelector, 1*time.Second); found {
		return StateChallengeActive, nil
	}

	// Challenge gone but URL unchanged: proceed as if solved.
	// Extraction fails loudly if it was not.
	log.Debug().AnErr("cause", types.ErrDetectionTimeout).Msg("Assuming challenge cleared")
	return StateAuthenticated, nil
}

// completeVerification fetches the emailed one-time code and types it
// digit by digit. When the mailbox is unavailable or times out, it
// widens to a bounded manual-entry window before giving up.
func (m *Machine) completeVerification(ctx context.Context) (State, error) {
	if m.mailbox != nil {
		code, err := m.mailbox.WaitForCode(ctx, time.Duration(m.cfg.VerificationSeconds)*time.Second)
		if err == nil {
			lo, hi := m.typeDelays()
			if err := m.driver.Type(ctx, otpSelector, code, lo, hi); err != nil {
				return StateFailed, err
			}
			if err := m.driver.PressEnter(ctx); err != nil {
				return StateFailed, err
			}

			next, detected, err := m.pollObservation(ctx, 5*time.Second)
			if err != nil {
				return StateFailed, err
			}
			if detected {
				return next, nil
			}
			return StateAuthenticated, nil
		}
		log.Warn().Err(err).Msg("Verification code retrieval failed, widening to manual entry")
	} else {
		log.Warn().Msg("No mailbox configured, waiting for manual code entry")
	}

	deadline := time.Now().Add(time.Duration(m.cfg.ManualEntrySeconds) * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return StateFailed, ctx.Err()
		case <-time.After(2 * time.Second):
		}

		current, err := m.driver.CurrentURL(ctx)
		if err == nil && !m.onLoginPath(current) {
			m.sess.CurrentURL = current
			return StateAuthenticated, nil
		}
	}

	return StateFailed, types.ErrVerificationTimeout
}

// extractAuthorizationCode issues the secondary navigation to the
// authorize endpoint and walks the extraction strategies over the
// resulting URL and body.
func (m *Machine) extractAuthorizationCode(ctx context.Context) (string, error) {
	if err := m.driver.Navigate(ctx, m.cfg.AuthorizeURL); err != nil {
		m.dumpFailure(ctx)
		return "", err
	}

	pageURL, err := m.driver.CurrentURL(ctx)
	if err != nil {
		m.dumpFailure(ctx)
		return "", err
	}
	body, err := m.driver.PageHTML(ctx)
	if err != nil {
		m.dumpFailure(ctx)
		return "", err
	}

	for _, e := range m.extractors {
		if code, found := e.Extract(pageURL, body); found {
			log.Info().Str("strategy", e.Name()).Msg("Authorization code extracted")
			m.sess.AuthorizationCode = code
			return code, nil
		}
	}

	m.dumpFailure(ctx)
	return "", types.ErrNoAuthorizationCode
}

func (m *Machine) onLoginPath(pageURL string) bool {
	return strings.Contains(pageURL, m.loginPath)
}

// dumpFailure persists the current screenshot and full page markup for
// postmortem.
func (m *Machine) dumpFailure(ctx context.Context) {
	if m.recorder == nil {
		return
	}
	if png, err := m.driver.Screenshot(ctx); err == nil {
		m.recorder.SaveScreenshot("login_failure", png)
	}
	if html, err := m.driver.PageHTML(ctx); err == nil {
		m.recorder.SavePageDump("login_failure", html)
	}
}
