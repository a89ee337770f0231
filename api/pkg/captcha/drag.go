package captcha

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"github.com/rs/zerolog/log"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/shape"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

// DragSolver is the free tier for the shape-matching variant: extract
// the piece and candidate targets from the screenshot, score each pair
// by moment dissimilarity, and emit the drag vector for the best
// match.
type DragSolver struct {
	matcher     *shape.Matcher
	extractOpts shape.ExtractOptions

	pieceZoneFraction   float64
	confidenceThreshold float64
}

func NewDragSolver(cfg config.Captcha) *DragSolver {
	return &DragSolver{
		matcher: shape.NewMatcher(cfg.AreaWeight),
		extractOpts: shape.ExtractOptions{
			LuminanceThreshold:   uint8(cfg.LuminanceThreshold),
			MinArea:              cfg.MinShapeArea,
			MinDimension:         cfg.MinShapeDimension,
			MaxDimensionFraction: cfg.MaxShapeFraction,
		},
		pieceZoneFraction:   cfg.PieceZoneFraction,
		confidenceThreshold: cfg.ConfidenceThreshold,
	}
}

// Solve runs the shape pipeline over the screenshot. Low confidence is
// a retry outcome so the manager escalates instead of executing a
// guess.
func (s *DragSolver) Solve(screenshot []byte) Outcome {
	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return fatal(fmt.Errorf("failed to decode challenge screenshot: %w", err))
	}

	shapes := shape.Extract(img, s.extractOpts)
	if len(shapes) == 0 {
		return retryWith("no shapes extracted from screenshot")
	}

	piece, targets := shape.SplitZones(shapes, img.Bounds().Dx(), s.pieceZoneFraction)
	if piece == nil {
		return retryWith("no piece found in left zone")
	}
	if len(targets) == 0 {
		return retryWith("no candidate targets in right zone")
	}

	best := s.matcher.BestMatch(piece, targets)

	log.Info().
		Float64("dissimilarity", best.Dissimilarity).
		Float64("confidence", best.Confidence).
		Int("targets", len(targets)).
		Msg("Shape match computed")

	if best.Confidence < s.confidenceThreshold {
		return retryWith(fmt.Sprintf("match confidence %.2f below threshold %.2f", best.Confidence, s.confidenceThreshold))
	}

	return ok(&types.CaptchaSolution{
		Variant: types.CaptchaVariantDrag,
		Drag: &types.DragVector{
			FromX:      best.Piece.CentroidX,
			FromY:      best.Piece.CentroidY,
			ToX:        best.Target.CentroidX,
			ToY:        best.Target.CentroidY,
			Confidence: best.Confidence,
		},
	})
}
