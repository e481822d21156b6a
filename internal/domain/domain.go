// Package domain holds the shared data model of the aggregator: feed
// configuration, parsed links, per-feed state and the reading list, with
// JSON tags matching the remote document wire format.
package domain

import "time"

// NoRefresh marks a dormant feed for which no refresh timer must be scheduled.
const NoRefresh = time.Duration(-1)

// FallbackRSSDate is used when an RSS item carries no usable date.
var FallbackRSSDate = time.Date(2000, time.February, 1, 0, 0, 0, 0, time.UTC)

// ZeroStateDate is the last-update value of an empty state file.
var ZeroStateDate = time.Date(1990, time.February, 1, 0, 0, 0, 0, time.UTC)

type FeedConfig struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Icon        string `json:"icon"`
	NoCorsProxy bool   `json:"noCorsProxy,omitempty"`
	Enhance     bool   `json:"enhance,omitempty"`
	Filter      string `json:"filter,omitempty"`
}

// Link is one parsed article. Links are recomputed on every feed load and
// never persisted; identity for dedup purposes is the URL.
type Link struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	PublicationDate time.Time `json:"publicationDate"`
	Description     string    `json:"description"`
	Content         string    `json:"content"`
	Other           string    `json:"other,omitempty"`
	FeedID          int64     `json:"idFeed"`
	IconURL         string    `json:"iconUrl"`
	FeedName        string    `json:"feedName"`
}

// ReadListItem lives in the remotely persisted reading list.
type ReadListItem struct {
	FeedID          int64     `json:"idFeed"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	PublicationDate time.Time `json:"publicationDate"`
	Description     string    `json:"description"`
	Other           string    `json:"other,omitempty"`
}

// FeedState carries the per-feed clear watermarks. Updates is keyed by the
// decimal feed id; RawURL is the remote content pointer of the state file,
// used to detect out-of-band edits.
type FeedState struct {
	LastUpdate time.Time            `json:"last_update"`
	Updates    map[string]time.Time `json:"updates"`
	RawURL     string               `json:"raw_url"`
}

// Document is the atomic unit fetched from and pushed to the remote store.
// RevisionCount mirrors the length of the remote revision history at the
// time of the last fetch or save.
type Document struct {
	Feeds         []FeedConfig   `json:"feeds"`
	State         FeedState      `json:"state"`
	ReadList      []ReadListItem `json:"readList"`
	RevisionCount int            `json:"revisionCount"`
}

// ToReadListItem converts a parsed link to its reading-list form.
func (l Link) ToReadListItem() ReadListItem {
	return ReadListItem{
		FeedID:          l.FeedID,
		Title:           l.Title,
		URL:             l.URL,
		PublicationDate: l.PublicationDate,
		Description:     l.Description,
		Other:           l.Other,
	}
}
