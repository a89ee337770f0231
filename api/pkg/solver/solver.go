// Package solver submits challenge screenshots to a paid human-solving
// marketplace and polls for the worker's answer. Results come back as
// free text containing one or more "x=<int>,y=<int>" pairs separated
// by semicolons.
package solver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

// Point is a click location in absolute screen coordinates.
type Point struct {
	X int
	Y int
}

// JobStatus is the poll result for a submitted job.
type JobStatus struct {
	Ready  bool
	Result string
}

// Client talks to the solving marketplace. Configured returns false
// when no API key is present, in which case the fallback manager skips
// this tier entirely.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string

	pollInterval time.Duration
	budget       time.Duration
}

// NewClient builds a solver client from config. A client without an
// API key is still returned so callers can check Configured.
func NewClient(cfg config.Solver) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.Logger = nil

	return &Client{
		http:         httpClient,
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: time.Duration(cfg.PollInterval) * time.Second,
		budget:       time.Duration(cfg.BudgetSeconds) * time.Second,
	}
}

// Configured reports whether a marketplace credential is available.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type submitRequest struct {
	Key          string `json:"key"`
	ImageB64     string `json:"image"`
	Instructions string `json:"instructions"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// Submit uploads the screenshot with worker instructions and returns
// the job id to poll.
func (c *Client) Submit(ctx context.Context, imagePNG []byte, instructions string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("solver: %w: SOLVER_API_KEY is not set", types.ErrMissingCredentialConfig)
	}

	body, err := json.Marshal(submitRequest{
		Key:          c.apiKey,
		ImageB64:     base64.StdEncoding.EncodeToString(imagePNG),
		Instructions: instructions,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode submit request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &types.TransientServiceError{Service: "solver", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &types.TransientServiceError{
			Service: "solver",
			Err:     fmt.Errorf("submit returned status %d: %s", resp.StatusCode, respBody),
		}
	}

	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse submit response: %w", err)
	}
	if parsed.Error != "" {
		return "", &types.TransientServiceError{Service: "solver", Err: fmt.Errorf("%s", parsed.Error)}
	}
	if parsed.JobID == "" {
		return "", fmt.Errorf("solver returned no job id")
	}

	return parsed.JobID, nil
}

type pollResponse struct {
	Ready  bool   `json:"ready"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

// Poll fetches the current status of a job.
func (c *Client) Poll(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs/%s?key=%s", c.baseURL, jobID, c.apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build poll request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &types.TransientServiceError{Service: "solver", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &types.TransientServiceError{
			Service: "solver",
			Err:     fmt.Errorf("poll returned status %d: %s", resp.StatusCode, respBody),
		}
	}

	var parsed pollResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse poll response: %w", err)
	}
	if parsed.Error != "" {
		return nil, &types.TransientServiceError{Service: "solver", Err: fmt.Errorf("%s", parsed.Error)}
	}

	return &JobStatus{Ready: parsed.Ready, Result: parsed.Result}, nil
}

// SolveClicks submits the screenshot and polls until the worker
// answers or the budget runs out, then parses the click coordinates
// from the result text.
func (c *Client) SolveClicks(ctx context.Context, imagePNG []byte, instructions string) ([]Point, error) {
	jobID, err := c.Submit(ctx, imagePNG, instructions)
	if err != nil {
		return nil, err
	}

	log.Info().Str("job_id", jobID).Dur("budget", c.budget).Msg("Waiting for human solver")

	deadline := time.Now().Add(c.budget)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		status, err := c.Poll(ctx, jobID)
		if err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("Solver poll failed, continuing")
			continue
		}
		if !status.Ready {
			continue
		}

		points, err := ParseClickPoints(status.Result)
		if err != nil {
			return nil, fmt.Errorf("solver job %s: %w", jobID, err)
		}
		return points, nil
	}

	return nil, fmt.Errorf("solver job %s: no result within %s budget", jobID, c.budget)
}

var clickPointPattern = regexp.MustCompile(`x=(-?\d+)\s*,\s*y=(-?\d+)`)

// ParseClickPoints extracts every "x=<int>,y=<int>" pair from a worker
// result string.
func ParseClickPoints(result string) ([]Point, error) {
	matches := clickPointPattern.FindAllStringSubmatch(result, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no coordinate pairs in solver result %q", result)
	}

	points := make([]Point, 0, len(matches))
	for _, m := range matches {
		x, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("bad x coordinate in %q: %w", m[0], err)
		}
		y, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("bad y coordinate in %q: %w", m[0], err)
		}
		points = append(points, Point{X: x, Y: y})
	}
	return points, nil
}
