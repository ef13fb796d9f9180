// Package shortener shortens verification links through a shareus-style
// shortening service. Shortening is strictly best-effort: any failure
// returns the original URL so a degraded shortener never blocks a user.
package shortener

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"filegate/internal/gate"
)

const aliasAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Client shortens URLs via GET https://<host>/api?api=<key>&url=<url>&alias=<alias>.
type Client struct {
	httpClient *http.Client
	host       string
	apiKey     string
	logger     gate.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewClient creates a shortener client for the given service host and key.
func NewClient(host, apiKey string, logger gate.Logger) *Client {
	if logger == nil {
		logger = gate.NopLogger{}
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		host:       host,
		apiKey:     apiKey,
		logger:     logger,
		cache:      make(map[string]string),
	}
}

type shortenResponse struct {
	Status       string `json:"status"`
	ShortenedURL string `json:"shortenedUrl"`
}

// Shorten returns a short link for target, or target itself when the
// service is unavailable or answers with anything unexpected.
func (c *Client) Shorten(ctx context.Context, target string) string {
	c.mu.Lock()
	if short, ok := c.cache[target]; ok {
		c.mu.Unlock()
		return short
	}
	c.mu.Unlock()

	query := url.Values{}
	query.Set("api", c.apiKey)
	query.Set("url", target)
	query.Set("alias", newAlias(8))

	// Hosts are configured bare; a scheme is only present in tests.
	base := c.host
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	endpoint := fmt.Sprintf("%s/api?%s", base, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.logger.Warn("building shortener request failed", "error", err)
		return target
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("shortener unreachable", "host", c.host, "error", err)
		return target
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Warn("reading shortener response failed", "error", err)
		return target
	}

	var parsed shortenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Status != "success" || parsed.ShortenedURL == "" {
		c.logger.Warn("shortener returned unusable response", "host", c.host, "body", string(raw))
		return target
	}

	c.mu.Lock()
	c.cache[target] = parsed.ShortenedURL
	c.mu.Unlock()
	return parsed.ShortenedURL
}

func newAlias(length int) string {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(aliasAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		buf[i] = aliasAlphabet[n.Int64()]
	}
	return string(buf)
}

var _ gate.Shortener = (*Client)(nil)
