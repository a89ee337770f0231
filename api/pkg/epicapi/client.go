// Package epicapi runs the OAuth/device-authorization exchange that
// turns a browser-extracted authorization code into a persisted
// long-lived device credential. The chain is strictly sequential and
// fails closed: the first non-success response aborts the whole
// pipeline with no per-step retry.
package epicapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

const (
	tokenPath      = "/account/api/oauth/token"
	exchangePath   = "/account/api/oauth/exchange"
	deviceAuthPath = "/account/api/public/account/%s/deviceAuth"
)

// clientProfile is one of the platform's Basic-Auth client-credential
// pairs. The launcher profile authorizes the initial code grant; the
// iOS profile carries the elevated scope needed for device auth.
type clientProfile struct {
	id     string
	secret string
}

func (p clientProfile) basicAuth() string {
	return "basic " + base64.StdEncoding.EncodeToString([]byte(p.id+":"+p.secret))
}

// Client performs the six-step exchange.
type Client struct {
	httpClient *http.Client
	baseURL    string

	launcher clientProfile
	ios      clientProfile
}

func NewClient(cfg config.Exchange) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		launcher:   clientProfile{id: cfg.LauncherClientID, secret: cfg.LauncherClientSecret},
		ios:        clientProfile{id: cfg.IOSClientID, secret: cfg.IOSClientSecret},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id"`
	ExpiresIn    int    `json:"expires_in"`
}

type exchangeResponse struct {
	Code string `json:"code"`
}

type deviceAuthResponse struct {
	DeviceID  string `json:"deviceId"`
	AccountID string `json:"accountId"`
	Secret    string `json:"secret"`
}

// Exchange walks the full chain: authorization code in, validated
// device credentials out. Intermediate artifacts are discarded.
func (c *Client) Exchange(ctx context.Context, authorizationCode string) (*types.DeviceCredentials, error) {
	// Step 2: authorization_code grant with the launcher profile.
	launcherToken, err := c.tokenGrant(ctx, "authorization_code", c.launcher, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {authorizationCode},
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("account_id", launcherToken.AccountID).Msg("Launcher token obtained")

	// Step 3: bearer-authenticated session exchange code.
	exchangeCode, err := c.exchangeCode(ctx, launcherToken.AccessToken)
	if err != nil {
		return nil, err
	}

	// Step 4: exchange_code grant with the elevated iOS profile.
	platformToken, err := c.tokenGrant(ctx, "exchange_code", c.ios, url.Values{
		"grant_type":    {"exchange_code"},
		"exchange_code": {exchangeCode},
	})
	if err != nil {
		return nil, err
	}

	// Step 5: device-auth issuance scoped to the account.
	device, err := c.createDeviceAuth(ctx, platformToken.AccessToken, launcherToken.AccountID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("device_id", device.DeviceID).Msg("Device auth issued")

	// Step 6: validation. The device auth only counts once a fresh
	// device_auth grant succeeds with it.
	pair, err := c.DeviceAuthGrant(ctx, *device)
	if err != nil {
		return nil, err
	}

	return &types.DeviceCredentials{
		DeviceAuth: *device,
		Tokens:     *pair,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// DeviceAuthGrant performs a device_auth grant with the given
// credential triple and returns the resulting token pair.
func (c *Client) DeviceAuthGrant(ctx context.Context, device types.DeviceAuth) (*types.TokenPair, error) {
	token, err := c.tokenGrant(ctx, "device_auth", c.ios, url.Values{
		"grant_type": {"device_auth"},
		"device_id":  {device.DeviceID},
		"account_id": {device.AccountID},
		"secret":     {device.Secret},
	})
	if err != nil {
		return nil, err
	}

	return &types.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second),
	}, nil
}

func (c *Client) tokenGrant(ctx context.Context, step string, profile clientProfile, form url.Values) (*tokenResponse, error) {
	body, err := c.post(ctx, step, c.baseURL+tokenPath, profile.basicAuth(), form)
	if err != nil {
		return nil, err
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("step %q: failed to parse token response: %w", step, err)
	}
	if token.AccessToken == "" {
		return nil, &types.TokenExchangeError{Step: step, StatusCode: http.StatusOK, Body: "response has no access_token"}
	}
	return &token, nil
}

func (c *Client) exchangeCode(ctx context.Context, launcherAccessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+exchangePath, nil)
	if err != nil {
		return "", fmt.Errorf("step \"exchange\": %w", err)
	}
	req.Header.Set("Authorization", "bearer "+launcherAccessToken)

	body, err := c.do(req, "exchange")
	if err != nil {
		return "", err
	}

	var exchange exchangeResponse
	if err := json.Unmarshal(body, &exchange); err != nil {
		return "", fmt.Errorf("step \"exchange\": failed to parse response: %w", err)
	}
	if exchange.Code == "" {
		return "", &types.TokenExchangeError{Step: "exchange", StatusCode: http.StatusOK, Body: "response has no code"}
	}
	return exchange.Code, nil
}

func (c *Client) createDeviceAuth(ctx context.Context, platformAccessToken, accountID string) (*types.DeviceAuth, error) {
	endpoint := c.baseURL + fmt.Sprintf(deviceAuthPath, accountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("step \"device_auth_create\": %w", err)
	}
	req.Header.Set("Authorization", "bearer "+platformAccessToken)

	body, err := c.do(req, "device_auth_create")
	if err != nil {
		return nil, err
	}

	var device deviceAuthResponse
	if err := json.Unmarshal(body, &device); err != nil {
		return nil, fmt.Errorf("step \"device_auth_create\": failed to parse response: %w", err)
	}
	if device.DeviceID == "" || device.Secret == "" {
		return nil, &types.TokenExchangeError{Step: "device_auth_create", StatusCode: http.StatusOK, Body: "incomplete device auth in response"}
	}

	return &types.DeviceAuth{
		DeviceID:  device.DeviceID,
		AccountID: device.AccountID,
		Secret:    device.Secret,
	}, nil
}

func (c *Client) post(ctx context.Context, step, endpoint, authorization string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", step, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", authorization)

	return c.do(req, step)
}

func (c *Client) do(req *http.Request, step string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("step %q: request failed: %w", step, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("step %q: failed to read response: %w", step, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &types.TokenExchangeError{
			Step:       step,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
