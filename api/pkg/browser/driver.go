// Package browser wraps go-rod behind the small automation-driver
// surface the login pipeline needs: navigation, element waits, clicks,
// human-like typing, screenshots and in-page script evaluation.
package browser

import (
	"context"
	"time"
)

// Driver is the browser-control primitive used by the login state
// machine and the captcha subsystem. Implementations own exactly one
// page for the lifetime of a run.
type Driver interface {
	Navigate(ctx context.Context, url string) error

	// WaitForSelector waits up to timeout for the selector to appear.
	// A missing element is reported as found=false, not as an error.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	Click(ctx context.Context, selector string) error
	ClickAt(ctx context.Context, x, y float64) error

	// Type focuses the element and enters text one character at a time,
	// sleeping a random duration in [delayMin, delayMax] per keystroke.
	Type(ctx context.Context, selector, text string, delayMin, delayMax time.Duration) error
	PressEnter(ctx context.Context) error

	// Drag simulates a continuous pointer drag: down at the source,
	// steps interpolated moves at stepInterval, then up at the target.
	Drag(ctx context.Context, fromX, fromY, toX, toY float64, steps int, stepInterval time.Duration) error

	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	PageHTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (string, error)

	Close() error
}
