package feed

import (
	"testing"
	"time"

	"rssperso/internal/domain"
)

func linksAt(dates ...time.Time) []domain.Link {
	links := make([]domain.Link, 0, len(dates))
	for _, d := range dates {
		links = append(links, domain.Link{PublicationDate: d})
	}

	return links
}

func TestRefreshIntervalEmptyFeed(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	if got := RefreshInterval(nil, false, now); got != maxRefreshInterval {
		t.Fatalf("expected max interval for empty feed, got %v", got)
	}
}

func TestRefreshIntervalDormantFeed(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	links := linksAt(now.Add(-2 * oneDay))

	if got := RefreshInterval(links, false, now); got != domain.NoRefresh {
		t.Fatalf("expected dormant feed, got %v", got)
	}
}

func TestRefreshIntervalDormantBoundary(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	// Exactly 1.5 days old is still stale, not dormant.
	links := linksAt(now.Add(-(oneDay + oneDay/2)))

	if got := RefreshInterval(links, false, now); got != staleInterval {
		t.Fatalf("expected stale interval at boundary, got %v", got)
	}
}

func TestRefreshIntervalStaleFeed(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	links := linksAt(now.Add(-26 * time.Hour))

	if got := RefreshInterval(links, false, now); got != staleInterval {
		t.Fatalf("expected stale interval, got %v", got)
	}
}

func TestRefreshIntervalTooFewArticles(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	links := linksAt(
		now.Add(-3*time.Hour),
		now.Add(-2*time.Hour),
		now.Add(-time.Hour),
	)

	if got := RefreshInterval(links, false, now); got != maxRefreshInterval {
		t.Fatalf("expected max interval below the trim threshold, got %v", got)
	}
}

func TestRefreshIntervalClampsToMinimum(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	// Articles one minute apart: the halved mean is far below the floor.
	links := linksAt(
		now.Add(-5*time.Minute),
		now.Add(-4*time.Minute),
		now.Add(-3*time.Minute),
		now.Add(-2*time.Minute),
		now.Add(-time.Minute),
	)

	got := RefreshInterval(links, false, now)
	if got < minRefreshInterval || got >= minRefreshInterval+jitterWindow {
		t.Fatalf("expected clamped interval in [%v, %v), got %v",
			minRefreshInterval, minRefreshInterval+jitterWindow, got)
	}
}

func TestRefreshIntervalClampsToMaximum(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	// Articles four hours apart: the halved mean exceeds the ceiling.
	links := linksAt(
		now.Add(-20*time.Hour),
		now.Add(-16*time.Hour),
		now.Add(-12*time.Hour),
		now.Add(-8*time.Hour),
		now.Add(-4*time.Hour),
	)

	got := RefreshInterval(links, false, now)
	if got < maxRefreshInterval || got >= maxRefreshInterval+jitterWindow {
		t.Fatalf("expected capped interval in [%v, %v), got %v",
			maxRefreshInterval, maxRefreshInterval+jitterWindow, got)
	}
}

func TestRefreshIntervalNewestFirstOrder(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	// Descending order: the dormant check must look at index 0.
	links := linksAt(
		now.Add(-time.Hour),
		now.Add(-2*oneDay),
		now.Add(-3*oneDay),
	)

	if got := RefreshInterval(links, true, now); got == domain.NoRefresh {
		t.Fatalf("active feed misread as dormant with newest-first order")
	}
}
