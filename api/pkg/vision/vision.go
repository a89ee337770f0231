// Package vision sends challenge screenshots to an image-understanding
// service and returns its free-form text answer. Responses carry no
// schema guarantee, so callers extract keywords or bracketed JSON via
// pattern matching.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

// Classifier answers free-form questions about an image.
type Classifier interface {
	Classify(ctx context.Context, imagePNG []byte, prompt string) (string, error)
}

// Client is the production classifier backed by a multimodal chat
// completion endpoint.
type Client struct {
	client *openai.Client
	model  string
}

var _ Classifier = (*Client)(nil)

// NewClient builds a vision client from config. Returns
// ErrMissingCredentialConfig when no API key is configured so callers
// can fall back to the challenge variant that has a free solver.
func NewClient(cfg config.Vision) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision: %w: VISION_API_KEY is not set", types.ErrMissingCredentialConfig)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Classify sends the screenshot with the prompt and returns the raw
// text of the first choice. Transient API failures are retried inside
// this tier only.
func (c *Client) Classify(ctx context.Context, imagePNG []byte, prompt string) (string, error) {
	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imagePNG)

	resp, err := retry.DoWithData(func() (openai.ChatCompletionResponse, error) {
		return c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     c.model,
			MaxTokens: 300,
			Messages: []openai.ChatCompletionMessage{
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{
							Type: openai.ChatMessagePartTypeText,
							Text: prompt,
						},
						{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    imageURL,
								Detail: openai.ImageURLDetailAuto,
							},
						},
					},
				},
			},
		})
	},
		retry.Attempts(3),
		retry.Delay(1*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().
				Err(err).
				Uint("retry_number", n).
				Msg("retrying vision classification")
		}),
	)
	if err != nil {
		return "", &types.TransientServiceError{Service: "vision", Err: err}
	}

	if len(resp.Choices) == 0 {
		return "", &types.TransientServiceError{Service: "vision", Err: fmt.Errorf("empty response")}
	}

	return resp.Choices[0].Message.Content, nil
}
