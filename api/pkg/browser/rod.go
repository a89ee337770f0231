package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/lobbystats/epicauth/api/pkg/config"
)

// RodDriver drives a single Chrome page over the devtools protocol.
type RodDriver struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
}

var _ Driver = (*RodDriver)(nil)

// New connects to the Chrome endpoint configured in cfg, or launches a
// local browser when no control URL is set, and opens the single page
// the run will own.
func New(cfg config.Browser) (*RodDriver, error) {
	d := &RodDriver{}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		d.launcher = l
		controlURL = u
	}

	log.Info().Str("control_url", controlURL).Msg("Connecting to browser")

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	d.browser = b

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	d.page = page

	return d, nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	page := d.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.Timeout(30 * time.Second).WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

func (d *RodDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	el, err := d.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		// Timeouts and missing nodes both mean "not there".
		return false, nil
	}
	return el != nil, nil
}

func (d *RodDriver) Click(ctx context.Context, selector string) error {
	el, err := d.page.Context(ctx).Timeout(5 * time.Second).Element(selector)
	if err != nil {
		return fmt.Errorf("failed to find element %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

func (d *RodDriver) ClickAt(ctx context.Context, x, y float64) error {
	mouse := d.page.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("failed to move pointer: %w", err)
	}
	if err := mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click at (%.0f, %.0f): %w", x, y, err)
	}
	return nil
}

// Type enters text one character at a time. Each keystroke sleeps a
// random duration in [delayMin, delayMax], which is enough to stay
// under the platform's automation fingerprinting.
func (d *RodDriver) Type(ctx context.Context, selector, text string, delayMin, delayMax time.Duration) error {
	el, err := d.page.Context(ctx).Timeout(5 * time.Second).Element(selector)
	if err != nil {
		return fmt.Errorf("failed to find element %q: %w", selector, err)
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("failed to focus %q: %w", selector, err)
	}

	for _, r := range text {
		if err := el.Input(string(r)); err != nil {
			return fmt.Errorf("failed to type into %q: %w", selector, err)
		}
		delay := delayMin
		if delayMax > delayMin {
			delay += time.Duration(rand.Int63n(int64(delayMax-delayMin) + 1))
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	return nil
}

func (d *RodDriver) PressEnter(ctx context.Context) error {
	if err := d.page.Context(ctx).Keyboard.Press(input.Enter); err != nil {
		return fmt.Errorf("failed to press enter: %w", err)
	}
	return nil
}

func (d *RodDriver) Drag(ctx context.Context, fromX, fromY, toX, toY float64, steps int, stepInterval time.Duration) error {
	mouse := d.page.Context(ctx).Mouse

	if err := mouse.MoveTo(proto.Point{X: fromX, Y: fromY}); err != nil {
		return fmt.Errorf("failed to move to drag source: %w", err)
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to press pointer: %w", err)
	}

	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := fromX + (toX-fromX)*t
		y := fromY + (toY-fromY)*t
		if err := mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
			return fmt.Errorf("failed to move pointer during drag: %w", err)
		}
		time.Sleep(stepInterval)
	}

	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to release pointer: %w", err)
	}
	return nil
}

func (d *RodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := d.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

func (d *RodDriver) CurrentURL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page info: %w", err)
	}
	return info.URL, nil
}

func (d *RodDriver) PageHTML(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page markup: %w", err)
	}
	return html, nil
}

func (d *RodDriver) Evaluate(ctx context.Context, script string) (string, error) {
	res, err := d.page.Context(ctx).Eval(script)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate script: %w", err)
	}
	return res.Value.String(), nil
}

func (d *RodDriver) Close() error {
	if d.page != nil {
		_ = d.page.Close()
	}
	if d.browser != nil {
		_ = d.browser.Close()
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
	}
	return nil
}
