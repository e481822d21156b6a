// Package relay fetches feed XML through the CORS relay the UI depends on,
// or directly for feeds flagged to bypass it.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rssperso/internal/ratelimiter"
)

const (
	clientTimeout = 20 * time.Second

	originHeader = "https://pmiossec.github.io/"
	usageHeader  = "RssPerso"
)

type Client struct {
	baseURL string
	client  *http.Client
	limiter *ratelimiter.RateLimiter
	log     *slog.Logger
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSpace(baseURL),
		client:  &http.Client{Timeout: clientTimeout},
		limiter: ratelimiter.New(log),
		log:     log,
	}
}

func (c *Client) Stop() {
	c.limiter.Stop()
}

// Fetch returns the raw body of the feed at feedURL. Unless direct is set,
// the request goes through the relay as GET {base}?{feedURL} with the fixed
// Origin and Usage headers the relay expects.
func (c *Client) Fetch(ctx context.Context, feedURL string, direct bool) (string, error) {
	requestURL := feedURL
	if !direct {
		requestURL = c.baseURL + "?" + feedURL
	}

	host := requestHost(feedURL)

	body, err := c.limiter.Do(host, func() ([]byte, error) {
		return c.get(ctx, requestURL, direct)
	})
	if err != nil {
		return "", fmt.Errorf("fetch feed %q: %w", feedURL, err)
	}

	return string(body), nil
}

func (c *Client) get(ctx context.Context, requestURL string, direct bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if !direct {
		req.Header.Set("Origin", originHeader)
		req.Header.Set("Usage", usageHeader)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WarnContext(ctx, "Failed to close response body",
				"error", closeErr,
				"url", requestURL)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

func requestHost(feedURL string) string {
	u, err := url.Parse(strings.TrimSpace(feedURL))
	if err != nil || u.Host == "" {
		return feedURL
	}

	return u.Host
}
