package captcha

import (
	"context"
	"fmt"
	"time"

	"github.com/lobbystats/epicauth/api/pkg/browser"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

const (
	// Grid cells are clicked sequentially with a settle delay so the
	// page's selection animation can catch up.
	gridClickSettleDelay = 400 * time.Millisecond

	// Drags are played as interpolated pointer moves rather than an
	// instantaneous jump, which the platform's bot detection penalizes.
	dragSteps        = 20
	dragStepInterval = 15 * time.Millisecond
)

// Execute plays a solution against the page.
func Execute(ctx context.Context, d browser.Driver, sol *types.CaptchaSolution, screenshotWidth int) error {
	switch sol.Variant {
	case types.CaptchaVariantGrid:
		return executeGrid(ctx, d, sol.GridCells, screenshotWidth)
	case types.CaptchaVariantDrag:
		return executeDrag(ctx, d, sol.Drag)
	default:
		return fmt.Errorf("unknown solution variant %q", sol.Variant)
	}
}

func executeGrid(ctx context.Context, d browser.Driver, cells []int, imageWidth int) error {
	for _, cell := range cells {
		x, y := cellCenter(cell, imageWidth)
		if err := d.ClickAt(ctx, x, y); err != nil {
			return fmt.Errorf("failed to click cell %d: %w", cell, err)
		}
		time.Sleep(gridClickSettleDelay)
	}

	x, y := submitCenter(imageWidth)
	if err := d.ClickAt(ctx, x, y); err != nil {
		return fmt.Errorf("failed to click submit: %w", err)
	}
	return nil
}

func executeDrag(ctx context.Context, d browser.Driver, v *types.DragVector) error {
	if v == nil {
		return fmt.Errorf("drag solution has no vector")
	}
	if err := d.Drag(ctx, v.FromX, v.FromY, v.ToX, v.ToY, dragSteps, dragStepInterval); err != nil {
		return fmt.Errorf("failed to execute drag: %w", err)
	}
	return nil
}
