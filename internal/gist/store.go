// Package gist implements the remote document store: a single gist holding
// the feed configuration, per-feed state and reading list as three JSON
// files, fetched whole and patched per file with optimistic-concurrency
// revision tracking.
package gist

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"rssperso/internal/domain"
)

const (
	FeedFileKey        = "feed.json"
	StateFileKey       = "state.json"
	ReadingListFileKey = "readlist.json"

	cacheKey      = "rssPerso"
	clientTimeout = 20 * time.Second

	// The gist API reports an updated_at on the PATCH response that lags
	// the value it later serves on reads; pad it so IsUpdated does not
	// flag our own write.
	updatedAtPadding = 10 * time.Second
)

// Snapshot is the local cache used as a read fallback when the remote
// fetch fails.
type Snapshot interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type gistFile struct {
	Filename string `json:"filename"`
	RawURL   string `json:"raw_url"`
	Content  string `json:"content"`
}

type gistResponse struct {
	Files     map[string]gistFile `json:"files"`
	History   []json.RawMessage   `json:"history"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type gistFilePatch struct {
	Content string `json:"content"`
}

type gistPatch struct {
	Description string                   `json:"description"`
	Files       map[string]gistFilePatch `json:"files"`
}

type userGistSummary struct {
	ID    string              `json:"id"`
	Files map[string]gistFile `json:"files"`
}

type feedsFile struct {
	Feeds []domain.FeedConfig `json:"feeds"`
}

// Store owns the shared document. It is the sole writer: every mutation of
// feed state or reading list is routed through its methods, and at most
// one remote write is in flight at a time.
type Store struct {
	apiBase string
	gistID  string
	user    string
	token   string
	client  *http.Client
	cache   Snapshot
	log     *slog.Logger

	// WarnFunc receives user-visible warnings such as a probable lost
	// update. When nil, warnings only go to the log.
	WarnFunc func(msg string)

	mu         sync.Mutex
	doc        *domain.Document
	lastUpdate time.Time
	pushing    bool
}

func NewStore(apiBase, gistID, user, token string, cache Snapshot, log *slog.Logger) *Store {
	if !strings.HasSuffix(apiBase, "/") {
		apiBase += "/"
	}

	return &Store{
		apiBase: apiBase,
		gistID:  gistID,
		user:    user,
		token:   token,
		client:  &http.Client{Timeout: clientTimeout},
		cache:   cache,
		log:     log,
	}
}

// Load fetches the whole document. On a network failure it falls back to
// the last locally cached snapshot and only fails when that is missing too.
func (s *Store) Load(ctx context.Context) (*domain.Document, error) {
	resp, err := s.fetchDocument(ctx)
	if err != nil {
		s.log.WarnContext(ctx, "Loading document from cache",
			"error", err,
			"gistID", s.gistID)

		cached, cacheErr := s.cache.Get(ctx, cacheKey)
		if cacheErr != nil {
			return nil, fmt.Errorf("load document %q: %w", s.gistID, err)
		}

		var doc domain.Document
		if unmarshalErr := json.Unmarshal(cached, &doc); unmarshalErr != nil {
			return nil, fmt.Errorf("decode cached document: %w", unmarshalErr)
		}

		s.mu.Lock()
		s.doc = &doc
		s.mu.Unlock()

		return &doc, nil
	}

	doc := &domain.Document{
		RevisionCount: len(resp.History),
	}

	var ff feedsFile
	if err := json.Unmarshal([]byte(resp.Files[FeedFileKey].Content), &ff); err != nil {
		return nil, fmt.Errorf("decode %s: %w", FeedFileKey, err)
	}
	doc.Feeds = ff.Feeds

	doc.State = parseState(resp.Files[StateFileKey])
	doc.ReadList = parseReadingList(resp.Files[ReadingListFileKey].Content)

	s.mu.Lock()
	s.doc = doc
	s.lastUpdate = resp.UpdatedAt
	s.mu.Unlock()

	s.snapshot(ctx)

	return doc, nil
}

func parseState(file gistFile) domain.FeedState {
	if file.Content == "" {
		return domain.FeedState{
			LastUpdate: domain.ZeroStateDate,
			Updates:    map[string]time.Time{},
		}
	}

	var state domain.FeedState
	if err := json.Unmarshal([]byte(file.Content), &state); err != nil {
		return domain.FeedState{
			LastUpdate: domain.ZeroStateDate,
			Updates:    map[string]time.Time{},
		}
	}

	if state.Updates == nil {
		state.Updates = map[string]time.Time{}
	}
	state.RawURL = file.RawURL

	return state
}

func parseReadingList(content string) []domain.ReadListItem {
	if content == "" {
		return []domain.ReadListItem{}
	}

	var items []domain.ReadListItem
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return []domain.ReadListItem{}
	}

	SortByFeed(items)

	return items
}

// IsUpdated reports whether the state file changed remotely since the last
// load or save, e.g. from another device. It stays quiet while a write is
// in flight so we do not detect our own update.
func (s *Store) IsUpdated(ctx context.Context) bool {
	s.mu.Lock()
	if s.pushing || s.doc == nil {
		s.mu.Unlock()

		return false
	}
	since := s.lastUpdate.Add(time.Second)
	stateRawURL := s.doc.State.RawURL
	s.mu.Unlock()

	requestURL := s.apiBase + "users/" + s.user + "/gists?since=" +
		url.QueryEscape(since.UTC().Format(time.RFC3339))

	var summaries []userGistSummary
	if err := s.getJSON(ctx, requestURL, &summaries); err != nil {
		s.log.ErrorContext(ctx, "Failed to check document updates",
			"error", err,
			"gistID", s.gistID)

		return false
	}

	for _, g := range summaries {
		if g.ID == s.gistID && g.Files[StateFileKey].RawURL != stateRawURL {
			return true
		}
	}

	return false
}

// UpdateFeedState stages a clear watermark without persisting it; callers
// bundle it into the next save.
func (s *Store) UpdateFeedState(feedID int64, date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return
	}

	s.doc.State.Updates[strconv.FormatInt(feedID, 10)] = date
}

// SaveFeedsState persists a feed's clear watermark to the state file.
func (s *Store) SaveFeedsState(ctx context.Context, feedID int64, title string, date time.Time) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()

		return fmt.Errorf("document not loaded")
	}

	s.doc.State.Updates[strconv.FormatInt(feedID, 10)] = date
	s.doc.State.LastUpdate = time.Now()

	files := map[string]gistFilePatch{
		StateFileKey: {Content: marshalIndent(s.doc.State)},
	}
	s.mu.Unlock()

	return s.save(ctx, files, fmt.Sprintf("Update publication date for feed %q", title))
}

// SaveReadingList persists the reading list, optionally together with the
// staged feed state as a single write.
func (s *Store) SaveReadingList(
	ctx context.Context,
	items []domain.ReadListItem,
	description string,
	withState bool,
) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()

		return fmt.Errorf("document not loaded")
	}

	s.doc.ReadList = items

	files := map[string]gistFilePatch{
		ReadingListFileKey: {Content: marshalIndent(items)},
	}

	if withState {
		s.doc.State.LastUpdate = time.Now()
		files[StateFileKey] = gistFilePatch{Content: marshalIndent(s.doc.State)}
	}
	s.mu.Unlock()

	return s.save(ctx, files, description)
}

// AddFeed appends a feed to the configuration file and persists it.
func (s *Store) AddFeed(ctx context.Context, cfg domain.FeedConfig) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()

		return fmt.Errorf("document not loaded")
	}

	s.doc.Feeds = append(s.doc.Feeds, cfg)

	files := map[string]gistFilePatch{
		FeedFileKey: {Content: marshalIndent(feedsFile{Feeds: s.doc.Feeds})},
	}
	s.mu.Unlock()

	return s.save(ctx, files, fmt.Sprintf("Add feed %q", cfg.Name))
}

// NextFeedID returns the next free feed id.
func (s *Store) NextFeedID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID int64
	if s.doc != nil {
		for _, f := range s.doc.Feeds {
			if f.ID > maxID {
				maxID = f.ID
			}
		}
	}

	return maxID + 1
}

// Document returns the shared document. Mutations must go through the
// store's methods.
func (s *Store) Document() *domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doc
}

func (s *Store) save(ctx context.Context, files map[string]gistFilePatch, description string) error {
	// Snapshot the in-progress state first so a crash or refresh mid-flight
	// does not lose the user's edit.
	s.snapshot(ctx)

	s.mu.Lock()
	s.pushing = true
	prevRevision := s.doc.RevisionCount
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.pushing = false
		s.mu.Unlock()
	}()

	payload, err := json.Marshal(gistPatch{
		Description: description,
		Files:       files,
	})
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	requestURL := s.apiBase + "gists/" + s.gistID

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, requestURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.log.WarnContext(ctx, "Failed to close response body",
				"error", closeErr,
				"gistID", s.gistID)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("save document: unexpected status %d", resp.StatusCode)
	}

	var saved gistResponse
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		return fmt.Errorf("decode save response: %w", err)
	}

	newRevision := len(saved.History)
	if newRevision > prevRevision+1 {
		s.warn(ctx, "Probable data loss, another writer raced this save. Please refresh.",
			"previousRevision", prevRevision,
			"newRevision", newRevision)
	}

	s.mu.Lock()
	s.lastUpdate = saved.UpdatedAt.Add(updatedAtPadding)
	s.doc.RevisionCount = newRevision
	if f, ok := saved.Files[StateFileKey]; ok {
		s.doc.State.RawURL = f.RawURL
	}
	s.doc.ReadList = parseReadingList(saved.Files[ReadingListFileKey].Content)
	s.mu.Unlock()

	s.log.InfoContext(ctx, "Document saved",
		"gistID", s.gistID,
		"description", description,
		"revision", newRevision)

	return nil
}

func (s *Store) fetchDocument(ctx context.Context) (*gistResponse, error) {
	requestURL := fmt.Sprintf("%sgists/%s?disable-cache=%d",
		s.apiBase, s.gistID, time.Now().UnixMilli())

	var resp gistResponse
	if err := s.getJSON(ctx, requestURL, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (s *Store) getJSON(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.log.WarnContext(ctx, "Failed to close response body",
				"error", closeErr,
				"gistID", s.gistID)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)

		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (s *Store) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}

func (s *Store) snapshot(ctx context.Context) {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()

	if doc == nil {
		return
	}

	data, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		s.log.WarnContext(ctx, "Failed to encode document snapshot",
			"error", err,
			"gistID", s.gistID)

		return
	}

	if err := s.cache.Put(ctx, cacheKey, data); err != nil {
		s.log.WarnContext(ctx, "Failed to cache document snapshot",
			"error", err,
			"gistID", s.gistID)
	}
}

func (s *Store) warn(ctx context.Context, msg string, args ...any) {
	s.log.WarnContext(ctx, msg, args...)

	if s.WarnFunc != nil {
		s.WarnFunc(msg)
	}
}

func marshalIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return ""
	}

	return string(data)
}

// SortByFeed orders reading-list items by feed id ascending, then by
// publication date descending within a feed.
func SortByFeed(items []domain.ReadListItem) {
	slices.SortStableFunc(items, func(a, b domain.ReadListItem) int {
		if c := cmp.Compare(a.FeedID, b.FeedID); c != 0 {
			return c
		}

		return b.PublicationDate.Compare(a.PublicationDate)
	})
}

// SortByDate orders reading-list items by publication date descending.
func SortByDate(items []domain.ReadListItem) {
	slices.SortStableFunc(items, func(a, b domain.ReadListItem) int {
		return b.PublicationDate.Compare(a.PublicationDate)
	})
}
