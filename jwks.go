package trustbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// jwksCache fetches and caches the broker's published signing keys. Stale
// keys are served when a refresh fails, so a flaky JWKS endpoint does not take
// down verification of signatures under already known keys.
type jwksCache struct {
	url      string
	http     *http.Client
	cacheTTL time.Duration

	mu        sync.RWMutex
	keysByKID map[string]interface{}
	lastFetch time.Time
}

func newJWKSCache(url string, httpClient *http.Client, cacheTTL time.Duration) *jwksCache {
	return &jwksCache{
		url:       url,
		http:      httpClient,
		cacheTTL:  cacheTTL,
		keysByKID: map[string]interface{}{},
	}
}

func (c *jwksCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("jwks status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}
	keys := map[string]interface{}{}
	for _, k := range set.Keys {
		if k.Key == nil {
			continue
		}
		kid := strings.TrimSpace(k.KeyID)
		if kid == "" {
			continue
		}
		keys[kid] = k.Key
	}
	if len(keys) == 0 {
		return errors.New("jwks contained no usable keys")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keysByKID = keys
	c.lastFetch = time.Now().UTC()
	return nil
}

func (c *jwksCache) get(ctx context.Context, kid string) (interface{}, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	c.mu.RLock()
	key, ok := c.keysByKID[kid]
	last := c.lastFetch
	ttl := c.cacheTTL
	c.mu.RUnlock()

	if ok && ttl > 0 && time.Since(last) < ttl {
		return key, nil
	}
	// Refresh on miss or staleness.
	ctx2, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := c.refresh(ctx2); err != nil {
		if ok {
			// Serve stale key if we had it.
			return key, nil
		}
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keysByKID[kid]
	if !ok {
		return nil, fmt.Errorf("kid not found: %s", kid)
	}
	return key, nil
}
