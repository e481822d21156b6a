package feed

import (
	"math/rand"
	"time"

	"rssperso/internal/domain"
)

const (
	maxRefreshInterval = 30 * time.Minute
	minRefreshInterval = 10 * time.Minute
	staleInterval      = 2 * time.Hour
	jitterWindow       = time.Minute

	oneDay = 24 * time.Hour
)

// RefreshInterval derives the polling cadence of a feed from the spread of
// its publication timestamps. allLinks must be sorted by date; newestFirst
// tells which end holds the most recent article.
//
// A feed whose newest article is older than 1.5 days is dormant and returns
// domain.NoRefresh: the caller must not schedule a timer for it.
func RefreshInterval(allLinks []domain.Link, newestFirst bool, now time.Time) time.Duration {
	if len(allLinks) == 0 {
		return maxRefreshInterval
	}

	newestIdx := len(allLinks) - 1
	if newestFirst {
		newestIdx = 0
	}

	sinceNewest := now.Sub(allLinks[newestIdx].PublicationDate)
	if sinceNewest > oneDay+oneDay/2 {
		return domain.NoRefresh
	}

	if sinceNewest > oneDay {
		return staleInterval
	}

	// Drop the first and last articles before measuring deltas; they often
	// sit at a collection boundary and skew the mean.
	if len(allLinks) < 4 {
		return maxRefreshInterval
	}

	trimmed := allLinks[1 : len(allLinks)-1]

	var total time.Duration
	for i := 0; i < len(trimmed)-1; i++ {
		d := trimmed[i+1].PublicationDate.Sub(trimmed[i].PublicationDate)
		if d < 0 {
			d = -d
		}
		total += d
	}

	mean := total / time.Duration(len(trimmed)-1)

	interval := min(maxRefreshInterval, mean/2)
	interval = max(interval, minRefreshInterval)

	// Jitter keeps many feeds (and clients) from polling in lockstep.
	return interval + time.Duration(rand.Int63n(int64(jitterWindow)))
}
