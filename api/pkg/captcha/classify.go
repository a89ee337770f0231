package captcha

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lobbystats/epicauth/api/pkg/types"
	"github.com/lobbystats/epicauth/api/pkg/vision"
)

const classifyPrompt = `This screenshot shows a verification challenge. ` +
	`Answer with exactly one word. Answer "grid" if the challenge asks to ` +
	`select matching images from a 3x3 grid of numbered tiles. Answer ` +
	`"shapes" if the challenge asks to drag a shape onto the matching ` +
	`shape. Do not answer anything else.`

// ClassifyVariant asks the vision service which challenge variant is
// on screen. When the service is unavailable or the answer is
// unusable, it defaults to the drag variant, which is the one with a
// free solver.
func ClassifyVariant(ctx context.Context, vc vision.Classifier, screenshot []byte) types.CaptchaVariant {
	if vc == nil {
		log.Debug().Msg("No vision client, assuming drag challenge")
		return types.CaptchaVariantDrag
	}

	answer, err := vc.Classify(ctx, screenshot, classifyPrompt)
	if err != nil {
		log.Warn().Err(err).Msg("Challenge classification failed, assuming drag challenge")
		return types.CaptchaVariantDrag
	}

	if strings.Contains(strings.ToLower(answer), "grid") {
		return types.CaptchaVariantGrid
	}
	return types.CaptchaVariantDrag
}
