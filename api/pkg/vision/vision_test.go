package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.Vision{})
	assert.ErrorIs(t, err, types.ErrMissingCredentialConfig)
}

func TestClassifySendsImageAndReturnsAnswer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])

		body, err := json.Marshal(req)
		require.NoError(t, err)
		assert.Contains(t, string(body), "data:image/png;base64,")

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "shapes"}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer ts.Close()

	c, err := NewClient(config.Vision{
		APIKey:  "key-123",
		BaseURL: ts.URL,
		Model:   "gpt-4o",
	})
	require.NoError(t, err)

	answer, err := c.Classify(context.Background(), []byte("fake-png"), "grid or shapes?")
	require.NoError(t, err)
	assert.Equal(t, "shapes", answer)
}

func TestClassifyWrapsTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, err := NewClient(config.Vision{APIKey: "key-123", BaseURL: ts.URL, Model: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), []byte("fake-png"), "grid or shapes?")
	require.Error(t, err)

	var terr *types.TransientServiceError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "vision", terr.Service)
	assert.True(t, strings.Contains(terr.Error(), "overloaded") || strings.Contains(terr.Error(), "500"))
}
