// Package captcha classifies the platform's challenge variant, solves
// it with a confidence-gated tier of solvers, and executes the
// solution through the browser driver.
package captcha

import (
	"github.com/lobbystats/epicauth/api/pkg/types"
)

// Status tags a solve outcome so escalation is explicit control flow
// rather than exception-driven.
type Status int

const (
	// StatusOK means the solution should be executed.
	StatusOK Status = iota
	// StatusRetry means this tier failed or produced a low-confidence
	// answer; the next fallback tier should be attempted.
	StatusRetry
	// StatusFatal means no further tier can help.
	StatusFatal
)

// Outcome is the tagged result of one solver tier.
type Outcome struct {
	Status   Status
	Solution *types.CaptchaSolution

	// Reason explains a retry; Err explains a fatal outcome.
	Reason string
	Err    error
}

func ok(sol *types.CaptchaSolution) Outcome {
	return Outcome{Status: StatusOK, Solution: sol}
}

func retryWith(reason string) Outcome {
	return Outcome{Status: StatusRetry, Reason: reason}
}

func fatal(err error) Outcome {
	return Outcome{Status: StatusFatal, Err: err}
}
