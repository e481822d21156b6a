package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"rssperso/internal/cache"
	"rssperso/internal/config"
	"rssperso/internal/feed"
	"rssperso/internal/gist"
	"rssperso/internal/readinglist"
	"rssperso/internal/relay"
	"rssperso/internal/scheduler"
	"rssperso/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.LoadConfig()

	snapshots, err := cache.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize snapshot cache",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = snapshots.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close snapshot cache",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "Snapshot cache is initialized",
		"dbPath", cfg.DBPath)

	store := gist.NewStore(
		cfg.GithubAPIURL,
		cfg.GistID(),
		cfg.GistUser,
		cfg.GithubToken,
		snapshots,
		log,
	)

	doc, err := store.Load(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load document",
			"error", err,
			"gistID", cfg.GistID())

		return
	}
	log.InfoContext(ctx, "Document is loaded",
		"gistID", cfg.GistID(),
		"feedCount", len(doc.Feeds),
		"readListCount", len(doc.ReadList),
		"revision", doc.RevisionCount)

	relayClient := relay.NewClient(cfg.RelayURL, log)
	defer relayClient.Stop()

	parser := feed.NewParser(log)
	icons := feed.NewIconFinder(log)
	readingListMgr := readinglist.NewManager(doc.ReadList, store, log)

	sessions := make([]*feed.Session, 0, len(doc.Feeds))
	for _, fc := range doc.Feeds {
		clearDate := doc.State.Updates[strconv.FormatInt(fc.ID, 10)]

		sessions = append(sessions, feed.NewSession(
			fc,
			clearDate,
			relayClient,
			parser,
			store,
			readingListMgr,
			icons,
			cfg.NewestFirst,
			log,
		))
	}

	sched := scheduler.New(ctx, store, readingListMgr, sessions, log)
	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", scheduler.DocumentPollSpec)

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", scheduler.DocumentPollSpec,
		"sessionCount", len(sessions))

	validator := feed.NewValidator(relayClient, parser, log)
	srv := server.New(sessions, store, readingListMgr, validator, log)

	go func() {
		if serveErr := srv.Start(cfg.ListenAddr); serveErr != nil {
			log.ErrorContext(ctx, "HTTP server stopped",
				"error", serveErr,
				"addr", cfg.ListenAddr)
		}
	}()
	log.InfoContext(ctx, "HTTP server is started",
		"addr", cfg.ListenAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(ctx, "Failed to shut down HTTP server",
			"error", err)
	}

	cancel()

	log.InfoContext(ctx, "Exiting...",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())
}
