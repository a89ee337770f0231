package captcha

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lobbystats/epicauth/api/pkg/browser"
	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/diagnostics"
	"github.com/lobbystats/epicauth/api/pkg/solver"
	"github.com/lobbystats/epicauth/api/pkg/types"
	"github.com/lobbystats/epicauth/api/pkg/vision"
)

const solverInstructions = `Two clicks are expected: first click the center of the ` +
	`puzzle piece on the left, then click the center of the matching shape ` +
	`on the right.`

// humanSolverConfidence is what we assign to marketplace answers: the
// workers are people, so their answers are trusted well above the
// escalation gate.
const humanSolverConfidence = 0.95

const manualPollInterval = 2 * time.Second

// instructionScript pulls the on-screen challenge instruction text for
// the grid prompt.
const instructionScript = `() => {
	const el = document.querySelector('[class*="challenge-instruction"], [class*="prompt-text"], [class*="instructions"]');
	return el ? el.textContent.trim() : '';
}`

// Manager runs one challenge-resolution attempt through the fallback
// tiers: free shape solver, paid human solver, manual intervention.
// The grid variant only has the vision tier; its failure is fatal for
// the attempt.
type Manager struct {
	driver   browser.Driver
	grid     *GridSolver
	drag     *DragSolver
	paid     *solver.Client
	recorder *diagnostics.Recorder

	visionClient vision.Classifier
	manualBudget time.Duration
}

func NewManager(d browser.Driver, vc vision.Classifier, paid *solver.Client, rec *diagnostics.Recorder, cfg config.Captcha) *Manager {
	return &Manager{
		driver:       d,
		grid:         NewGridSolver(vc),
		drag:         NewDragSolver(cfg),
		paid:         paid,
		recorder:     rec,
		visionClient: vc,
		manualBudget: time.Duration(cfg.ManualBudgetSeconds) * time.Second,
	}
}

// Attempt resolves the challenge currently on screen: classify the
// variant, solve, execute. At most one attempt is in flight per
// session; bounding the number of attempts is the caller's job.
func (m *Manager) Attempt(ctx context.Context) error {
	screenshot, err := m.driver.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture challenge screenshot: %w", err)
	}
	m.recorder.SaveScreenshot("captcha", screenshot)

	width, err := decodeWidth(screenshot)
	if err != nil {
		return err
	}

	variant := ClassifyVariant(ctx, m.visionClient, screenshot)
	log.Info().Str("variant", string(variant)).Msg("Challenge classified")

	if variant == types.CaptchaVariantGrid {
		return m.attemptGrid(ctx, screenshot, width)
	}
	return m.attemptDrag(ctx, screenshot, width)
}

func (m *Manager) attemptGrid(ctx context.Context, screenshot []byte, width int) error {
	instruction, err := m.driver.Evaluate(ctx, instructionScript)
	if err != nil {
		instruction = ""
	}

	outcome := m.grid.Solve(ctx, screenshot, instruction)
	if outcome.Status != StatusOK {
		// No tier 2/3 for the selection variant.
		if outcome.Err != nil {
			return outcome.Err
		}
		return fmt.Errorf("grid challenge solve failed: %s", outcome.Reason)
	}

	return Execute(ctx, m.driver, outcome.Solution, width)
}

func (m *Manager) attemptDrag(ctx context.Context, screenshot []byte, width int) error {
	// Tier 1: free shape matching.
	outcome := m.drag.Solve(screenshot)
	switch outcome.Status {
	case StatusOK:
		return Execute(ctx, m.driver, outcome.Solution, width)
	case StatusFatal:
		return outcome.Err
	}

	log.Info().Str("reason", outcome.Reason).Msg("Shape solver did not produce an acceptable solution, escalating")

	// Tier 2: paid human solver, skipped when unconfigured.
	if m.paid != nil && m.paid.Configured() {
		sol, err := m.solveWithMarketplace(ctx, screenshot)
		if err == nil {
			return Execute(ctx, m.driver, sol, width)
		}
		log.Warn().Err(err).Msg("Human solver failed, escalating to manual")
	} else {
		log.Info().Msg("No solver credential configured, escalating straight to manual")
	}

	// Tier 3: manual intervention.
	return m.waitForManualSolve(ctx)
}

func (m *Manager) solveWithMarketplace(ctx context.Context, screenshot []byte) (*types.CaptchaSolution, error) {
	points, err := m.paid.SolveClicks(ctx, screenshot, solverInstructions)
	if err != nil {
		return nil, err
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("human solver returned %d points, need 2", len(points))
	}

	return &types.CaptchaSolution{
		Variant: types.CaptchaVariantDrag,
		Drag: &types.DragVector{
			FromX:      float64(points[0].X),
			FromY:      float64(points[0].Y),
			ToX:        float64(points[1].X),
			ToY:        float64(points[1].Y),
			Confidence: humanSolverConfidence,
		},
	}, nil
}

// waitForManualSolve surfaces an operator prompt and blocks until the
// page navigates away from the challenge or the budget runs out. The
// success signal is the URL transition, observed externally.
func (m *Manager) waitForManualSolve(ctx context.Context) error {
	startURL, err := m.driver.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page URL: %w", err)
	}

	log.Warn().
		Dur("budget", m.manualBudget).
		Msg("MANUAL INTERVENTION REQUIRED: solve the captcha in the open browser window")

	deadline := time.Now().Add(m.manualBudget)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(manualPollInterval):
		}

		current, err := m.driver.CurrentURL(ctx)
		if err != nil {
			continue
		}
		if current != startURL {
			log.Info().Msg("Challenge solved manually, continuing")
			return nil
		}
	}

	return types.ErrManualSolveRequired
}
