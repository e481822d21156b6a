package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"mvdan.cc/xurls/v2"

	"rssperso/internal/domain"
)

// FindFeedURLs extracts the https URLs from user-pasted text, preserving
// order and dropping duplicates. This feeds the add-feed flow.
func FindFeedURLs(text string) ([]string, error) {
	httpsURLRe, err := xurls.StrictMatchingScheme("https://")
	if err != nil {
		return nil, fmt.Errorf("create regexp: %w", err)
	}

	matches := httpsURLRe.FindAllString(strings.TrimSpace(text), -1)

	urls := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))

	for _, m := range matches {
		trimmed := strings.TrimSpace(m)
		if _, ok := seen[trimmed]; ok {
			continue
		}

		urls = append(urls, trimmed)
		seen[trimmed] = struct{}{}
	}

	return urls, nil
}

// Validator checks that a candidate URL serves a parseable feed before it
// is added to the configuration.
type Validator struct {
	fetcher Fetcher
	parser  *Parser
	log     *slog.Logger
}

func NewValidator(fetcher Fetcher, parser *Parser, log *slog.Logger) *Validator {
	return &Validator{
		fetcher: fetcher,
		parser:  parser,
		log:     log,
	}
}

// Validate fetches and parses feedURL and returns a feed config proposal
// carrying the parsed title and logo. The caller assigns the id.
func (v *Validator) Validate(ctx context.Context, feedURL string) (*domain.FeedConfig, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, errors.New("feed URL is empty")
	}

	if _, err := url.Parse(feedURL); err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	content, err := v.fetcher.Fetch(ctx, feedURL, false)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	res := v.parser.ParseContent(content, domain.FeedConfig{URL: feedURL}, time.Time{}, false)
	if res.Err != nil {
		return nil, fmt.Errorf("validate feed (URL = %s): %w", feedURL, res.Err)
	}

	title := strings.TrimSpace(res.Title)
	if title == "" {
		v.log.WarnContext(ctx, "Empty feed title",
			"feedURL", feedURL,
			"fallbackTitle", feedURL)

		title = feedURL
	}

	return &domain.FeedConfig{
		Name: title,
		URL:  feedURL,
		Icon: res.Logo,
	}, nil
}
