package captcha

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/diagnostics"
	"github.com/lobbystats/epicauth/api/pkg/solver"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

func testCaptchaConfig() config.Captcha {
	return config.Captcha{
		LuminanceThreshold:  180,
		MinShapeArea:        300,
		MinShapeDimension:   15,
		MaxShapeFraction:    0.8,
		PieceZoneFraction:   0.4,
		ConfidenceThreshold: 0.5,
		AreaWeight:          0.5,
	}
}

func renderPNG(t *testing.T, draw func(*image.Gray)) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 600, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 600; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	draw(img)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fillCircle(img *image.Gray, cx, cy, r int) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx := float64(x - cx)
			dy := float64(y - cy)
			if dx*dx+dy*dy <= float64(r*r) {
				img.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
}

func fillSquare(img *image.Gray, x0, y0, side int) {
	for y := y0; y < y0+side; y++ {
		for x := x0; x < x0+side; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
}

func fillTriangle(img *image.Gray, x0, y0, leg int) {
	for y := 0; y < leg; y++ {
		for x := 0; x <= y; x++ {
			img.SetGray(x0+x, y0+y, color.Gray{Y: 0})
		}
	}
}

func TestDragSolverMatchesCircleTarget(t *testing.T) {
	// One circular piece on the left, a circle and a square on the
	// right: the solver must pick the circle with high confidence.
	screenshot := renderPNG(t, func(img *image.Gray) {
		fillCircle(img, 120, 150, 40)
		fillCircle(img, 350, 150, 40)
		fillSquare(img, 420, 110, 72)
	})

	outcome := NewDragSolver(testCaptchaConfig()).Solve(screenshot)
	require.Equal(t, StatusOK, outcome.Status)
	require.NotNil(t, outcome.Solution)
	require.Equal(t, types.CaptchaVariantDrag, outcome.Solution.Variant)

	drag := outcome.Solution.Drag
	require.NotNil(t, drag)
	assert.InDelta(t, 120, drag.FromX, 1)
	assert.InDelta(t, 150, drag.FromY, 1)
	assert.InDelta(t, 350, drag.ToX, 1)
	assert.InDelta(t, 150, drag.ToY, 1)
	assert.Greater(t, drag.Confidence, 0.8)
}

func TestDragSolverLowConfidenceEscalates(t *testing.T) {
	// The only target is wildly dissimilar, so the outcome must be a
	// retry, never an executed guess.
	screenshot := renderPNG(t, func(img *image.Gray) {
		fillCircle(img, 120, 150, 40)
		fillTriangle(img, 400, 100, 60)
	})

	outcome := NewDragSolver(testCaptchaConfig()).Solve(screenshot)
	assert.Equal(t, StatusRetry, outcome.Status)
	assert.Nil(t, outcome.Solution)
	assert.NotEmpty(t, outcome.Reason)
}

func TestDragSolverNoShapes(t *testing.T) {
	screenshot := renderPNG(t, func(*image.Gray) {})

	outcome := NewDragSolver(testCaptchaConfig()).Solve(screenshot)
	assert.Equal(t, StatusRetry, outcome.Status)
}

func TestDragSolverBadImage(t *testing.T) {
	outcome := NewDragSolver(testCaptchaConfig()).Solve([]byte("not a png"))
	assert.Equal(t, StatusFatal, outcome.Status)
	assert.Error(t, outcome.Err)
}

type fakeDriver struct {
	screenshot []byte
	url        string

	clicks []string
	drags  int
}

func (d *fakeDriver) Navigate(context.Context, string) error { return nil }

func (d *fakeDriver) WaitForSelector(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	d.clicks = append(d.clicks, selector)
	return nil
}

func (d *fakeDriver) ClickAt(_ context.Context, x, y float64) error {
	d.clicks = append(d.clicks, fmt.Sprintf("%.0f,%.0f", x, y))
	return nil
}

func (d *fakeDriver) Type(context.Context, string, string, time.Duration, time.Duration) error {
	return nil
}
func (d *fakeDriver) PressEnter(context.Context) error { return nil }

func (d *fakeDriver) Drag(context.Context, float64, float64, float64, float64, int, time.Duration) error {
	d.drags++
	return nil
}

func (d *fakeDriver) Screenshot(context.Context) ([]byte, error) { return d.screenshot, nil }
func (d *fakeDriver) CurrentURL(context.Context) (string, error) { return d.url, nil }
func (d *fakeDriver) PageHTML(context.Context) (string, error)   { return "", nil }
func (d *fakeDriver) Evaluate(context.Context, string) (string, error) {
	return "", nil
}
func (d *fakeDriver) Close() error { return nil }

type fakeClassifier struct {
	answer string
	err    error
}

func (c *fakeClassifier) Classify(context.Context, []byte, string) (string, error) {
	return c.answer, c.err
}

func TestClassifyVariantDefaultsToDrag(t *testing.T) {
	assert.Equal(t, types.CaptchaVariantDrag, ClassifyVariant(context.Background(), nil, nil))

	failing := &fakeClassifier{err: fmt.Errorf("service down")}
	assert.Equal(t, types.CaptchaVariantDrag, ClassifyVariant(context.Background(), failing, nil))
}

func TestClassifyVariantParsesAnswer(t *testing.T) {
	grid := &fakeClassifier{answer: "This is a GRID challenge."}
	assert.Equal(t, types.CaptchaVariantGrid, ClassifyVariant(context.Background(), grid, nil))

	shapes := &fakeClassifier{answer: "shapes"}
	assert.Equal(t, types.CaptchaVariantDrag, ClassifyVariant(context.Background(), shapes, nil))
}

func TestManagerManualSolveRequired(t *testing.T) {
	// Low-confidence shape match, no paid solver credential, and a
	// zero manual budget: the manager must raise the actionable signal
	// instead of silently returning a low-confidence result.
	screenshot := renderPNG(t, func(img *image.Gray) {
		fillCircle(img, 120, 150, 40)
		fillTriangle(img, 400, 100, 60)
	})

	driver := &fakeDriver{screenshot: screenshot, url: "https://example.com/id/login"}

	cfg := testCaptchaConfig()
	cfg.ManualBudgetSeconds = 0

	m := NewManager(driver, nil, solver.NewClient(config.Solver{}), diagnostics.NewRecorder(t.TempDir(), "test"), cfg)

	err := m.Attempt(context.Background())
	require.ErrorIs(t, err, types.ErrManualSolveRequired)
	assert.Zero(t, driver.drags)
}

func TestManagerExecutesConfidentDrag(t *testing.T) {
	screenshot := renderPNG(t, func(img *image.Gray) {
		fillCircle(img, 120, 150, 40)
		fillCircle(img, 350, 150, 40)
		fillSquare(img, 420, 110, 72)
	})

	driver := &fakeDriver{screenshot: screenshot, url: "https://example.com/id/login"}
	m := NewManager(driver, nil, solver.NewClient(config.Solver{}), diagnostics.NewRecorder(t.TempDir(), "test"), testCaptchaConfig())

	require.NoError(t, m.Attempt(context.Background()))
	assert.Equal(t, 1, driver.drags)
}

func TestParseCellIndices(t *testing.T) {
	cells, err := parseCellIndices("Sure! The matching tiles are [2, 5, 7].")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 7}, cells)

	cells, err = parseCellIndices("[1]")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, cells)

	_, err = parseCellIndices("no list here")
	assert.Error(t, err)

	_, err = parseCellIndices("[0, 10]")
	assert.Error(t, err)
}

func TestGridGeometry(t *testing.T) {
	// 600px wide image: grid spans x 150..450.
	x, y := cellCenter(1, 600)
	assert.Equal(t, 200.0, x)
	assert.Equal(t, float64(gridHeaderOffsetY+50), y)

	x, y = cellCenter(9, 600)
	assert.Equal(t, 400.0, x)
	assert.Equal(t, float64(gridHeaderOffsetY+250), y)

	x, y = submitCenter(600)
	assert.Equal(t, 300.0, x)
	assert.Equal(t, float64(gridHeaderOffsetY+300+gridSubmitOffsetY), y)
}

func TestGridSolverWithoutVisionIsFatal(t *testing.T) {
	outcome := NewGridSolver(nil).Solve(context.Background(), nil, "select the traffic lights")
	require.Equal(t, StatusFatal, outcome.Status)
	assert.ErrorIs(t, outcome.Err, types.ErrMissingCredentialConfig)
}

func TestGridSolverParsesVisionAnswer(t *testing.T) {
	vc := &fakeClassifier{answer: "The matching tiles are [3, 6]."}
	outcome := NewGridSolver(vc).Solve(context.Background(), nil, "select the circles")
	require.Equal(t, StatusOK, outcome.Status)
	assert.Equal(t, []int{3, 6}, outcome.Solution.GridCells)
}
