package epicapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

// exchangeServer mocks the platform's OAuth endpoints and counts how
// often each step is hit.
type exchangeServer struct {
	mu     sync.Mutex
	grants map[string]int

	exchangeHits   int
	deviceAuthHits int

	failGrant string
}

func (s *exchangeServer) hit(grantType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants == nil {
		s.grants = map[string]int{}
	}
	s.grants[grantType]++
	return s.grants[grantType]
}

func (s *exchangeServer) grantCount(grantType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[grantType]
}

func (s *exchangeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/account/api/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grantType := r.PostFormValue("grant_type")
		s.hit(grantType)

		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "basic "))

		if grantType == s.failGrant {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"errorCode":"errors.com.epicgames.oauth.corrective_action_required"}`)
			return
		}

		resp := map[string]any{
			"access_token":  "token-" + grantType,
			"refresh_token": "refresh-" + grantType,
			"account_id":    "acct-001",
			"expires_in":    7200,
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	mux.HandleFunc("/account/api/oauth/exchange", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.exchangeHits++
		s.mu.Unlock()

		assert.Equal(t, "bearer token-authorization_code", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"code":"exch-code-123"}`)
	})

	mux.HandleFunc("/account/api/public/account/acct-001/deviceAuth", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.deviceAuthHits++
		s.mu.Unlock()

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "bearer token-exchange_code", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"deviceId":"dev-42","accountId":"acct-001","secret":"s3cr3t"}`)
	})

	return mux
}

func newTestClient(baseURL string) *Client {
	return NewClient(config.Exchange{
		BaseURL:              baseURL,
		LauncherClientID:     "launcher-id",
		LauncherClientSecret: "launcher-secret",
		IOSClientID:          "ios-id",
		IOSClientSecret:      "ios-secret",
	})
}

func TestExchangeFullChain(t *testing.T) {
	server := &exchangeServer{}
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	creds, err := newTestClient(ts.URL).Exchange(context.Background(), "auth-code-xyz")
	require.NoError(t, err)

	assert.Equal(t, "dev-42", creds.DeviceAuth.DeviceID)
	assert.Equal(t, "acct-001", creds.DeviceAuth.AccountID)
	assert.Equal(t, "s3cr3t", creds.DeviceAuth.Secret)
	assert.Equal(t, "token-device_auth", creds.Tokens.AccessToken)
	assert.Equal(t, "refresh-device_auth", creds.Tokens.RefreshToken)
	assert.True(t, creds.Tokens.ExpiresAt.After(time.Now()))
	assert.False(t, creds.CreatedAt.IsZero())
	assert.True(t, creds.Valid())

	assert.Equal(t, 1, server.grantCount("authorization_code"))
	assert.Equal(t, 1, server.exchangeHits)
	assert.Equal(t, 1, server.grantCount("exchange_code"))
	assert.Equal(t, 1, server.deviceAuthHits)
	assert.Equal(t, 1, server.grantCount("device_auth"))
}

func TestExchangeAbortsOnStepFailure(t *testing.T) {
	// A rejected exchange_code grant must stop the chain before device
	// auth issuance and validation.
	server := &exchangeServer{failGrant: "exchange_code"}
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Exchange(context.Background(), "auth-code-xyz")
	require.Error(t, err)

	var xerr *types.TokenExchangeError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "exchange_code", xerr.Step)
	assert.Equal(t, http.StatusForbidden, xerr.StatusCode)
	assert.Contains(t, xerr.Body, "corrective_action_required")

	assert.Equal(t, 0, server.deviceAuthHits)
	assert.Equal(t, 0, server.grantCount("device_auth"))
}

func TestDeviceAuthGrant(t *testing.T) {
	server := &exchangeServer{}
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	pair, err := newTestClient(ts.URL).DeviceAuthGrant(context.Background(), types.DeviceAuth{
		DeviceID:  "dev-42",
		AccountID: "acct-001",
		Secret:    "s3cr3t",
	})
	require.NoError(t, err)
	assert.Equal(t, "token-device_auth", pair.AccessToken)
}

func TestTokenCacheReusesUnexpiredToken(t *testing.T) {
	server := &exchangeServer{}
	ts := httptest.NewServer(server.handler(t))
	defer ts.Close()

	cache := NewTokenCache(newTestClient(ts.URL), types.DeviceAuth{
		DeviceID:  "dev-42",
		AccountID: "acct-001",
		Secret:    "s3cr3t",
	})

	first, err := cache.Token(context.Background())
	require.NoError(t, err)
	second, err := cache.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, server.grantCount("device_auth"))
}

func TestSaveAndLoadCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "device_auth.json")

	creds := &types.DeviceCredentials{
		DeviceAuth: types.DeviceAuth{DeviceID: "dev-42", AccountID: "acct-001", Secret: "s3cr3t"},
		Tokens: types.TokenPair{
			AccessToken:  "tok",
			RefreshToken: "ref",
			ExpiresAt:    time.Now().UTC().Add(time.Hour),
		},
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, SaveCredentials(path, creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, creds.DeviceAuth, loaded.DeviceAuth)
	assert.Equal(t, creds.Tokens.AccessToken, loaded.Tokens.AccessToken)
	assert.True(t, loaded.Valid())
}

func TestLoadCredentialsMissingFile(t *testing.T) {
	_, err := LoadCredentials(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
