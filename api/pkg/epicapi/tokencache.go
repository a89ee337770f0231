package epicapi

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lobbystats/epicauth/api/pkg/types"
)

// refreshMargin renews tokens this long before their actual expiry so
// in-flight API calls never race the deadline.
const refreshMargin = 60 * time.Second

// TokenCache holds the access token obtained from a stored device
// auth and refreshes it on demand. The refresh is guarded by a
// single-flight group so concurrent callers share one grant if the
// pipeline is ever parallelized across accounts.
type TokenCache struct {
	client *Client
	device types.DeviceAuth

	mu    sync.Mutex
	pair  types.TokenPair
	group singleflight.Group
}

func NewTokenCache(client *Client, device types.DeviceAuth) *TokenCache {
	return &TokenCache{client: client, device: device}
}

// Token returns a valid access token, refreshing through a
// device_auth grant when the cached one is missing or near expiry.
func (tc *TokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	if tc.pair.AccessToken != "" && time.Now().Add(refreshMargin).Before(tc.pair.ExpiresAt) {
		token := tc.pair.AccessToken
		tc.mu.Unlock()
		return token, nil
	}
	tc.mu.Unlock()

	result, err, _ := tc.group.Do("refresh", func() (interface{}, error) {
		pair, err := tc.client.DeviceAuthGrant(ctx, tc.device)
		if err != nil {
			return nil, err
		}

		tc.mu.Lock()
		tc.pair = *pair
		tc.mu.Unlock()

		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}
