package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	iconClientTimeout = 10 * time.Second
	iconCacheTTL      = 24 * time.Hour
)

// IconFinder resolves a site icon for enhanced feeds that do not configure
// one, by scraping the website's head for icon links.
type IconFinder struct {
	client *http.Client
	cache  *iconCache
	log    *slog.Logger
}

func NewIconFinder(log *slog.Logger) *IconFinder {
	return &IconFinder{
		client: &http.Client{Timeout: iconClientTimeout},
		cache:  newIconCache(iconCacheMaxEntries),
		log:    log,
	}
}

// Discover returns the icon URL of websiteURL, or "" when none can be
// found. Results are cached; failures are logged, never propagated.
func (f *IconFinder) Discover(ctx context.Context, websiteURL string) string {
	websiteURL = strings.TrimSpace(websiteURL)
	if websiteURL == "" || websiteURL == "#" {
		return ""
	}

	now := time.Now()
	if icon, ok := f.cache.get(websiteURL, now); ok {
		return icon
	}

	icon := f.scrape(ctx, websiteURL)
	if icon != "" {
		f.cache.set(websiteURL, icon, now.Add(iconCacheTTL), now)
	}

	return icon
}

func (f *IconFinder) scrape(ctx context.Context, websiteURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, websiteURL, nil)
	if err != nil {
		f.log.WarnContext(ctx, "Failed to create icon request",
			"error", err,
			"websiteURL", websiteURL)

		return ""
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.WarnContext(ctx, "Failed to fetch website for icon",
			"error", err,
			"websiteURL", websiteURL)

		return ""
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.log.WarnContext(ctx, "Failed to close response body",
				"error", closeErr,
				"websiteURL", websiteURL)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		f.log.WarnContext(ctx, "Failed to parse website HTML",
			"error", err,
			"websiteURL", websiteURL)

		return ""
	}

	selectors := []string{
		`link[rel="icon"]`,
		`link[rel="shortcut icon"]`,
		`link[rel="apple-touch-icon"]`,
	}

	for _, sel := range selectors {
		if href, ok := doc.Find(sel).First().Attr("href"); ok {
			if resolved := resolveAgainst(websiteURL, href); resolved != "" {
				return resolved
			}
		}
	}

	if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		return resolveAgainst(websiteURL, content)
	}

	return ""
}

func resolveAgainst(baseURL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	resolved, err := base.Parse(ref)
	if err != nil {
		return ""
	}

	return resolved.String()
}
