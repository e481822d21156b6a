// Package scheduler drives the polling: each feed session refreshes on its
// own estimated cadence, and the remote document is polled for out-of-band
// changes made from another device.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rssperso/internal/domain"
	"rssperso/internal/feed"
	"rssperso/internal/gist"
	"rssperso/internal/readinglist"
)

const (
	DocumentPollSpec = "@every 1m"

	loadTimeout         = 2 * time.Minute
	documentPollTimeout = 30 * time.Second
)

type Scheduler struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cron        *cron.Cron
	store       *gist.Store
	readingList *readinglist.Manager
	sessions    []*feed.Session
	wg          sync.WaitGroup
	log         *slog.Logger
}

func New(
	ctx context.Context,
	store *gist.Store,
	readingList *readinglist.Manager,
	sessions []*feed.Session,
	log *slog.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)

	return &Scheduler{
		ctx:         ctx,
		cancel:      cancel,
		cron:        cron.New(),
		store:       store,
		readingList: readingList,
		sessions:    sessions,
		log:         log,
	}
}

func (s *Scheduler) Start() error {
	for _, sess := range s.sessions {
		s.wg.Add(1)

		go s.refreshLoop(sess)
	}

	if _, err := s.cron.AddFunc(DocumentPollSpec, s.checkDocumentUpdated); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

// Stop cancels every refresh loop and waits for them to drain. In-flight
// network calls finish on their own; their results are discarded because
// each loop checks cancellation before rescheduling.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.wg.Wait()
}

func (s *Scheduler) refreshLoop(sess *feed.Session) {
	defer s.wg.Done()

	for {
		loadCtx, cancel := context.WithTimeout(s.ctx, loadTimeout)
		sess.LoadContent(loadCtx)
		cancel()

		if s.ctx.Err() != nil {
			return
		}

		interval := sess.RefreshInterval()
		if interval == domain.NoRefresh {
			s.log.InfoContext(s.ctx, "Suspending auto-refresh for dormant feed",
				"title", sess.Title(),
				"feedURL", sess.Config().URL)

			return
		}

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()

			return
		}
	}
}

func (s *Scheduler) checkDocumentUpdated() {
	ctx, cancel := context.WithTimeout(s.ctx, documentPollTimeout)
	defer cancel()

	if !s.store.IsUpdated(ctx) {
		return
	}

	s.log.InfoContext(ctx, "Document changed remotely, reloading")

	doc, err := s.store.Load(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to reload document",
			"error", err)

		return
	}

	for _, sess := range s.sessions {
		key := strconv.FormatInt(sess.Config().ID, 10)
		if date, ok := doc.State.Updates[key]; ok {
			sess.ApplyClearDate(date)
		}
	}

	s.readingList.Replace(doc.ReadList)
}
