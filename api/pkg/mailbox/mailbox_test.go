package mailbox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lobbystats/epicauth/api/pkg/config"
	"github.com/lobbystats/epicauth/api/pkg/types"
)

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(config.Mailbox{})
	assert.ErrorIs(t, err, types.ErrMissingCredentialConfig)

	_, err = NewClient(config.Mailbox{BaseURL: "https://mail.example.com"})
	assert.ErrorIs(t, err, types.ErrMissingCredentialConfig)
}

func newMailboxClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(config.Mailbox{
		BaseURL: baseURL,
		Address: "user@example.com",
		Token:   "tok-1",
	})
	require.NoError(t, err)
	return c
}

func TestWaitForCodeFindsFreshMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user@example.com", r.URL.Query().Get("address"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		fmt.Fprintf(w, `{"messages":[
			{"received_at":%q,"subject":"Your verification code","body":"Enter 482913 to continue"}
		]}`, time.Now().UTC().Format(time.RFC3339))
	}))
	defer ts.Close()

	code, err := newMailboxClient(t, ts.URL).WaitForCode(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "482913", code)
}

func TestWaitForCodeIgnoresStaleMessages(t *testing.T) {
	// A code that arrived before this login attempt must never be
	// replayed.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"messages":[
			{"received_at":%q,"subject":"Your verification code","body":"Enter 111111 to continue"}
		]}`, time.Now().UTC().Add(-10*time.Minute).Format(time.RFC3339))
	}))
	defer ts.Close()

	_, err := newMailboxClient(t, ts.URL).WaitForCode(context.Background(), 300*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrVerificationTimeout)
}

func TestWaitForCodeAcceptsMessageWithinGraceWindow(t *testing.T) {
	// The freshness cutoff is 30s before the call, so a message whose
	// timestamp is slightly in the past (service clock skew) still
	// counts.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"messages":[
			{"received_at":%q,"subject":"Your verification code","body":"Enter 559204 to continue"}
		]}`, time.Now().UTC().Add(-10*time.Second).Format(time.RFC3339))
	}))
	defer ts.Close()

	code, err := newMailboxClient(t, ts.URL).WaitForCode(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "559204", code)
}

func TestWaitForCodeSkipsMessagesWithoutCode(t *testing.T) {
	now := time.Now().UTC().Format(time.RFC3339)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"messages":[
			{"received_at":%q,"subject":"Welcome!","body":"Thanks for signing up"},
			{"received_at":%q,"subject":"Security code","body":"Your code is 730254."}
		]}`, now, now)
	}))
	defer ts.Close()

	code, err := newMailboxClient(t, ts.URL).WaitForCode(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "730254", code)
}
