package captcha

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lobbystats/epicauth/api/pkg/types"
	"github.com/lobbystats/epicauth/api/pkg/vision"
)

// Fixed geometry of the selection challenge: the 3x3 grid sits below a
// header of known height, cells are a known size, and the grid is
// horizontally centered. The submit control sits at a fixed offset
// under the last row.
const (
	gridHeaderOffsetY = 120
	gridCellSize      = 100
	gridSubmitOffsetY = 48
)

const gridPromptTemplate = `This screenshot shows a challenge with a 3x3 grid of ` +
	`images. The tiles are numbered 1 through 9, left to right, top to ` +
	`bottom. The on-screen instruction is: %q. Reply with a JSON array of ` +
	`the tile numbers that match the instruction, for example [2,5,7]. ` +
	`Reply with the array only.`

// GridSolver handles the image-selection variant. It has no free
// fallback: when classification is unavailable or the answer is
// unparsable the attempt fails outright.
type GridSolver struct {
	vision vision.Classifier
}

func NewGridSolver(vc vision.Classifier) *GridSolver {
	return &GridSolver{vision: vc}
}

// Solve asks the vision service which tiles match and maps the answer
// to grid cell indices.
func (g *GridSolver) Solve(ctx context.Context, screenshot []byte, instruction string) Outcome {
	if g.vision == nil {
		return fatal(fmt.Errorf("grid challenge: %w: no vision client configured", types.ErrMissingCredentialConfig))
	}

	answer, err := g.vision.Classify(ctx, screenshot, fmt.Sprintf(gridPromptTemplate, instruction))
	if err != nil {
		return fatal(fmt.Errorf("grid challenge classification failed: %w", err))
	}

	cells, err := parseCellIndices(answer)
	if err != nil {
		return fatal(fmt.Errorf("grid challenge: %w", err))
	}

	log.Info().Ints("cells", cells).Msg("Grid challenge solved")

	return ok(&types.CaptchaSolution{
		Variant:   types.CaptchaVariantGrid,
		GridCells: cells,
	})
}

var bracketedList = regexp.MustCompile(`\[[\d\s,]+\]`)

// parseCellIndices extracts the first bracketed numeric list from the
// free-text answer. The response carries no schema guarantee, so
// anything around the list is ignored.
func parseCellIndices(answer string) ([]int, error) {
	list := bracketedList.FindString(answer)
	if list == "" {
		return nil, fmt.Errorf("no bracketed cell list in response %q", answer)
	}

	var cells []int
	for _, field := range strings.Split(strings.Trim(list, "[]"), ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("bad cell index %q: %w", field, err)
		}
		if n < 1 || n > 9 {
			return nil, fmt.Errorf("cell index %d out of range", n)
		}
		cells = append(cells, n)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("empty cell list in response %q", answer)
	}
	return cells, nil
}

// cellCenter maps a 1-based cell index onto absolute screen
// coordinates given the screenshot width.
func cellCenter(index, imageWidth int) (x, y float64) {
	row := (index - 1) / 3
	col := (index - 1) % 3

	gridLeft := (imageWidth - 3*gridCellSize) / 2
	x = float64(gridLeft + col*gridCellSize + gridCellSize/2)
	y = float64(gridHeaderOffsetY + row*gridCellSize + gridCellSize/2)
	return x, y
}

// submitCenter is the fixed-offset submit control under the grid.
func submitCenter(imageWidth int) (x, y float64) {
	return float64(imageWidth) / 2, float64(gridHeaderOffsetY + 3*gridCellSize + gridSubmitOffsetY)
}

func decodeWidth(screenshot []byte) (int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(screenshot))
	if err != nil {
		return 0, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return cfg.Width, nil
}
