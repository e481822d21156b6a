// Package server exposes the aggregator state to the external UI as a
// small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rssperso/internal/domain"
	"rssperso/internal/feed"
	"rssperso/internal/gist"
	"rssperso/internal/readinglist"
	"rssperso/internal/timeutil"
)

type Server struct {
	sessions    []*feed.Session
	byID        map[int64]*feed.Session
	store       *gist.Store
	readingList *readinglist.Manager
	validator   *feed.Validator
	router      chi.Router
	httpServer  *http.Server
	log         *slog.Logger
}

func New(
	sessions []*feed.Session,
	store *gist.Store,
	readingList *readinglist.Manager,
	validator *feed.Validator,
	log *slog.Logger,
) *Server {
	byID := make(map[int64]*feed.Session, len(sessions))
	for _, sess := range sessions {
		byID[sess.Config().ID] = sess
	}

	s := &Server{
		sessions:    sessions,
		byID:        byID,
		store:       store,
		readingList: readingList,
		validator:   validator,
		log:         log,
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleAddFeed)
		r.Get("/feeds/{feedID}/links", s.handleFeedLinks)
		r.Post("/feeds/{feedID}/refresh", s.handleRefreshFeed)
		r.Post("/feeds/{feedID}/clear", s.handleClearFeed)
		r.Post("/feeds/{feedID}/clear-all", s.handleClearAllFeed)
		r.Post("/feeds/{feedID}/display-all", s.handleDisplayAll)
		r.Post("/feeds/{feedID}/read", s.handleReadItem)

		r.Get("/readinglist", s.handleReadingList)
		r.Post("/readinglist", s.handleAddReadingListItem)
		r.Delete("/readinglist", s.handleRemoveReadingListItem)
		r.Post("/readinglist/restore", s.handleRestoreReadingListItem)
		r.Post("/readinglist/sort", s.handleSortReadingList)
	})

	s.router = r
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.httpServer.ListenAndServe(); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

type feedSummary struct {
	ID                     int64  `json:"id"`
	Name                   string `json:"name"`
	Title                  string `json:"title"`
	URL                    string `json:"url"`
	WebsiteURL             string `json:"websiteUrl"`
	Logo                   string `json:"logo"`
	Error                  string `json:"error,omitempty"`
	ClearDate              string `json:"clearDate"`
	DisplayingAll          bool   `json:"displayingAll"`
	RefreshIntervalSeconds int    `json:"refreshIntervalSeconds"`
	LinkCount              int    `json:"linkCount"`
}

func (s *Server) summary(sess *feed.Session) feedSummary {
	cfg := sess.Config()

	intervalSeconds := -1
	if interval := sess.RefreshInterval(); interval != domain.NoRefresh {
		intervalSeconds = int(interval.Seconds())
	}

	return feedSummary{
		ID:                     cfg.ID,
		Name:                   cfg.Name,
		Title:                  sess.Title(),
		URL:                    cfg.URL,
		WebsiteURL:             sess.WebsiteURL(),
		Logo:                   sess.Logo(),
		Error:                  sess.Error(),
		ClearDate:              timeutil.FormatDate(sess.ClearDate(), time.Now()),
		DisplayingAll:          sess.IsDisplayingAllLinks(),
		RefreshIntervalSeconds: intervalSeconds,
		LinkCount:              len(sess.LinksToDisplay()),
	}
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	summaries := make([]feedSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		summaries = append(summaries, s.summary(sess))
	}

	s.respond(w, r, http.StatusOK, summaries)
}

func (s *Server) handleFeedLinks(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	s.respond(w, r, http.StatusOK, sess.LinksToDisplay())
}

func (s *Server) handleRefreshFeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	sess.LoadContent(r.Context())

	s.respond(w, r, http.StatusOK, s.summary(sess))
}

func (s *Server) handleClearFeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var body struct {
		Date time.Time `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))

		return
	}

	if err := sess.ClearFeed(r.Context(), body.Date); err != nil {
		s.respondError(w, r, http.StatusBadGateway, err)

		return
	}

	s.respond(w, r, http.StatusOK, s.summary(sess))
}

func (s *Server) handleClearAllFeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := sess.ClearAllFeed(r.Context()); err != nil {
		s.respondError(w, r, http.StatusBadGateway, err)

		return
	}

	s.respond(w, r, http.StatusOK, s.summary(sess))
}

func (s *Server) handleDisplayAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	sess.DisplayAllLinks()

	s.respond(w, r, http.StatusOK, s.summary(sess))
}

func (s *Server) handleReadItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var body struct {
		Item      domain.ReadListItem `json:"item"`
		AlsoClear bool                `json:"alsoClear"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))

		return
	}

	if err := sess.AddItemToReadingList(r.Context(), body.Item, body.AlsoClear); err != nil {
		s.respondError(w, r, http.StatusBadGateway, err)

		return
	}

	s.respond(w, r, http.StatusOK, s.summary(sess))
}

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))

		return
	}

	urls, err := feed.FindFeedURLs(body.Text)
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err)

		return
	}
	if len(urls) == 0 {
		s.respondError(w, r, http.StatusBadRequest, errors.New("no feed URL found in text"))

		return
	}

	cfg, err := s.validator.Validate(r.Context(), urls[0])
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err)

		return
	}

	cfg.ID = s.store.NextFeedID()

	if err := s.store.AddFeed(r.Context(), *cfg); err != nil {
		s.respondError(w, r, http.StatusBadGateway, err)

		return
	}

	s.respond(w, r, http.StatusCreated, cfg)
}

func (s *Server) handleReadingList(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.readingList.Items())
}

func (s *Server) handleAddReadingListItem(w http.ResponseWriter, r *http.Request) {
	var item domain.ReadListItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		s.respondError(w, r, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))

		return
	}

	if err := s.readingList.Add(r.Context(), item, false); err != nil {
		s.respondError(w, r, http.StatusBadGateway, err)

		return
	}

	s.respond(w, r, http.StatusOK, s.readingList.Items())
}

func (s *Server) handleRemoveReadingListItem(w http.ResponseWriter, r *http.Request) {
	var item domain.ReadListItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		s.respondError(w, r, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))

		return
	}

	if err := s.readingList.Remove(r.Context(), item); err != nil {
		s.respondError(w, r, http.StatusBadGateway, err)

		return
	}

	s.respond(w, r, http.StatusOK, s.readingList.Items())
}

func (s *Server) handleRestoreReadingListItem(w http.ResponseWriter, r *http.Request) {
	if !s.readingList.CouldBeRestored() {
		s.respondError(w, r, http.StatusConflict, errors.New("nothing to restore"))

		return
	}

	if err := s.readingList.RestoreLast(r.Context()); err != nil {
		s.respondError(w, r, http.StatusBadGateway, err)

		return
	}

	s.respond(w, r, http.StatusOK, s.readingList.Items())
}

func (s *Server) handleSortReadingList(w http.ResponseWriter, r *http.Request) {
	switch by := r.URL.Query().Get("by"); by {
	case "date":
		s.readingList.SortByDate()
	case "feed", "":
		s.readingList.SortByFeed()
	default:
		s.respondError(w, r, http.StatusBadRequest,
			fmt.Errorf("unknown sort order %q", by))

		return
	}

	s.respond(w, r, http.StatusOK, s.readingList.Items())
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*feed.Session, bool) {
	feedID, err := strconv.ParseInt(chi.URLParam(r, "feedID"), 10, 64)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, fmt.Errorf("parse feed id: %w", err))

		return nil, false
	}

	sess, ok := s.byID[feedID]
	if !ok {
		s.respondError(w, r, http.StatusNotFound, fmt.Errorf("unknown feed %d", feedID))

		return nil, false
	}

	return sess, true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.ErrorContext(r.Context(), "Failed to encode response",
			"error", err,
			"path", r.URL.Path)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.log.WarnContext(r.Context(), "Request failed",
		"error", err,
		"status", status,
		"path", r.URL.Path)

	s.respond(w, r, status, map[string]string{"error": err.Error()})
}
