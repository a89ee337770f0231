// Package mailbox polls a hosted mailbox service for the one-time
// numeric code the platform emails during login verification.
package mailbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

// Retriever waits for a verification code to land in the configured
// mailbox.
type Retriever interface {
	WaitForCode(ctx context.Context, timeout time.Duration) (string, error)
}

// Client polls the mailbox service's message listing and scans message
// bodies for a six-digit code.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	address string
	token   string

	pollInterval time.Duration
}

var _ Retriever = (*Client)(nil)

// NewClient builds a mailbox client. Returns
// ErrMissingCredentialConfig when the mailbox service is not
// configured.
func NewClient(cfg config.Mailbox) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Address == "" {
		return nil, fmt.Errorf("mailbox: %w: MAILBOX_BASE_URL and MAILBOX_ADDRESS are required", types.ErrMissingCredentialConfig)
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.Logger = nil

	return &Client{
		http:         httpClient,
		baseURL:      cfg.BaseURL,
		address:      cfg.Address,
		token:        cfg.Token,
		pollInterval: time.Duration(cfg.PollInterval) * time.Second,
	}, nil
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// WaitForCode polls the mailbox until a message containing a six-digit
// code arrives or the timeout elapses. Messages received more than 30
// seconds before the call are ignored, so a stale code from an earlier
// attempt is not replayed; the grace window absorbs clock skew between
// this host and the mailbox service.
func (c *Client) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	since := time.Now().Add(-30 * time.Second)
	deadline := time.Now().Add(timeout)

	log.Info().Str("address", c.address).Dur("timeout", timeout).Msg("Waiting for verification code")

	for time.Now().Before(deadline) {
		code, err := c.fetchLatestCode(ctx, since)
		if err != nil {
			log.Warn().Err(err).Msg("Mailbox poll failed, continuing")
		} else if code != "" {
			log.Info().Msg("Verification code received")
			return code, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return "", types.ErrVerificationTimeout
}

func (c *Client) fetchLatestCode(ctx context.Context, since time.Time) (string, error) {
	endpoint := fmt.Sprintf("%s/messages?address=%s", c.baseURL, url.QueryEscape(c.address))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build mailbox request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &types.TransientServiceError{Service: "mailbox", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &types.TransientServiceError{
			Service: "mailbox",
			Err:     fmt.Errorf("mailbox returned status %d: %s", resp.StatusCode, body),
		}
	}

	// The service returns a JSON array of messages, newest first, each
	// with received_at, subject and body fields.
	var found string
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		receivedAt, err := time.Parse(time.RFC3339, msg.Get("received_at").String())
		if err != nil || receivedAt.Before(since) {
			return true
		}

		text := msg.Get("subject").String() + " " + msg.Get("body").String()
		if m := codePattern.FindStringSubmatch(text); m != nil {
			found = m[1]
			return false
		}
		return true
	})

	return found, nil
}
