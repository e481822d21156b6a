package feed

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"rssperso/internal/domain"
)

// Fetcher retrieves the raw feed payload, through the relay unless direct.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string, direct bool) (string, error)
}

// StateStore persists clear watermarks to the remote document.
type StateStore interface {
	UpdateFeedState(feedID int64, date time.Time)
	SaveFeedsState(ctx context.Context, feedID int64, title string, date time.Time) error
}

// ReadingList appends saved articles, optionally bundling the watermark
// update into the same remote write.
type ReadingList interface {
	Add(ctx context.Context, item domain.ReadListItem, alsoClearFeed bool) error
}

// Session owns the in-memory state of one feed: its parsed links, clear
// watermark, display mode and refresh cadence. All methods are safe for
// concurrent use; loads are serialized so a manual refresh cannot race an
// automatic tick.
type Session struct {
	mu sync.Mutex

	cfg         domain.FeedConfig
	clearDate   time.Time
	links       []domain.Link
	allLinks    []domain.Link
	title       string
	websiteURL  string
	logo        string
	loadErr     string
	showAll     bool
	newestFirst bool
	interval    time.Duration

	fetcher     Fetcher
	parser      *Parser
	store       StateStore
	readingList ReadingList
	icons       *IconFinder
	log         *slog.Logger
}

func NewSession(
	cfg domain.FeedConfig,
	clearDate time.Time,
	fetcher Fetcher,
	parser *Parser,
	store StateStore,
	readingList ReadingList,
	icons *IconFinder,
	newestFirst bool,
	log *slog.Logger,
) *Session {
	return &Session{
		cfg:         cfg,
		clearDate:   clearDate,
		title:       cfg.Name,
		logo:        cfg.Icon,
		interval:    domain.NoRefresh,
		newestFirst: newestFirst,
		fetcher:     fetcher,
		parser:      parser,
		store:       store,
		readingList: readingList,
		icons:       icons,
		log:         log,
	}
}

// LoadContent fetches and parses the feed, then recomputes the refresh
// interval. It never returns an error: failures are captured in the
// session's error field and the previous links are kept on network errors.
func (s *Session) LoadContent(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadErr = ""

	content, err := s.fetcher.Fetch(ctx, s.cfg.URL, s.cfg.NoCorsProxy)
	if err != nil {
		s.loadErr = err.Error()
		s.log.ErrorContext(ctx, "Failed to fetch feed",
			"error", err,
			"feedURL", s.cfg.URL,
			"title", s.title)

		return
	}

	res := s.parser.ParseContent(content, s.cfg, s.clearDate, s.newestFirst)

	s.allLinks = res.AllLinks
	s.links = res.Links
	s.title = res.Title
	s.websiteURL = res.WebsiteURL
	s.logo = res.Logo
	if res.Err != nil {
		s.loadErr = res.Err.Error()
	}

	if s.cfg.Enhance && s.logo == "" && s.icons != nil && s.websiteURL != "" {
		if icon := s.icons.Discover(ctx, s.websiteURL); icon != "" {
			s.logo = icon
		}
	}

	s.interval = RefreshInterval(s.allLinks, s.newestFirst, time.Now())

	if s.interval == domain.NoRefresh {
		s.log.InfoContext(ctx, "Feed is dormant",
			"title", s.title)
	} else {
		s.log.InfoContext(ctx, "Feed refreshed",
			"title", s.title,
			"linkCount", len(s.links),
			"intervalSeconds", int(s.interval.Seconds()))
	}
}

// ClearFeed raises the watermark to date, drops links at or before it and
// persists the new watermark.
func (s *Session) ClearFeed(ctx context.Context, date time.Time) error {
	s.mu.Lock()
	s.applyClear(date)
	id, title := s.cfg.ID, s.cfg.Name
	s.mu.Unlock()

	return s.store.SaveFeedsState(ctx, id, title, date)
}

// ClearAllFeed clears up to the newest visible link, or now when the feed
// has none.
func (s *Session) ClearAllFeed(ctx context.Context) error {
	s.mu.Lock()

	date := time.Now()
	if len(s.links) != 0 {
		newestIdx := len(s.links) - 1
		if s.newestFirst {
			newestIdx = 0
		}
		date = s.links[newestIdx].PublicationDate
	}

	s.clearDate = date
	s.links = nil
	s.showAll = false
	id, title := s.cfg.ID, s.cfg.Name
	s.mu.Unlock()

	return s.store.SaveFeedsState(ctx, id, title, date)
}

// DisplayAllLinks toggles between the watermark-filtered view and the full
// history; it does not touch the watermark.
func (s *Session) DisplayAllLinks() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.showAll = !s.showAll
}

func (s *Session) IsDisplayingAllLinks() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.showAll || len(s.allLinks) == len(s.links)
}

// LinksToDisplay returns the current view minus links whose title contains
// the configured filter string.
func (s *Session) LinksToDisplay() []domain.Link {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.links
	if s.showAll {
		view = s.allLinks
	}

	if s.cfg.Filter == "" {
		return slices.Clone(view)
	}

	filtered := make([]domain.Link, 0, len(view))
	for _, l := range view {
		if strings.Contains(l.Title, s.cfg.Filter) {
			continue
		}
		filtered = append(filtered, l)
	}

	return filtered
}

// AddItemToReadingList saves an article; when alsoClear is set the feed's
// watermark advances to the article's date within the same remote update.
func (s *Session) AddItemToReadingList(
	ctx context.Context,
	item domain.ReadListItem,
	alsoClear bool,
) error {
	if alsoClear {
		s.mu.Lock()
		s.applyClear(item.PublicationDate)
		id := s.cfg.ID
		s.mu.Unlock()

		s.store.UpdateFeedState(id, item.PublicationDate)
	}

	return s.readingList.Add(ctx, item, alsoClear)
}

// ApplyClearDate adopts a watermark observed on a document reload, e.g.
// after an edit from another device.
func (s *Session) ApplyClearDate(date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if date.After(s.clearDate) {
		s.applyClear(date)
	}
}

func (s *Session) applyClear(date time.Time) {
	s.clearDate = date

	kept := s.links[:0]
	for _, l := range s.links {
		if l.PublicationDate.After(date) {
			kept = append(kept, l)
		}
	}
	s.links = kept
	s.showAll = false
}

func (s *Session) Config() domain.FeedConfig { return s.cfg }

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.title
}

func (s *Session) WebsiteURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.websiteURL
}

func (s *Session) Logo() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.logo
}

func (s *Session) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadErr
}

func (s *Session) RefreshInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.interval
}

func (s *Session) ClearDate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clearDate
}
