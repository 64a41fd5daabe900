package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linktracker/internal/config"
	"linktracker/internal/database"
	"linktracker/internal/notify"
	"linktracker/internal/poller"
	"linktracker/internal/scheduler"
	"linktracker/internal/source"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load scheduler timezone",
			"error", err,
			"timezone", cfg.Timezone)

		return
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	sender, err := notify.NewSender(cfg.PushType, httpClient, cfg.BotHost, cfg.BotPort, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize sender",
			"error", err,
			"pushType", cfg.PushType)

		return
	}
	log.InfoContext(ctx, "Sender is initialized",
		"pushType", cfg.PushType)

	sources := source.NewRegistry(map[string]source.Client{
		"github.com":        source.NewGitHubClient(httpClient, log),
		"stackoverflow.com": source.NewStackOverflowClient(httpClient, log),
	}, source.NewFeedClient(httpClient, log))

	sched := scheduler.New(ctx, sender, loc, cfg.MisfireGrace, log)
	sched.Start()
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"timezone", loc.String(),
		"misfireGraceSeconds", cfg.MisfireGrace.Seconds())

	p := poller.New(db, sources, sched, sender, poller.Config{
		PageSize:    cfg.PageSize,
		ChunkCount:  cfg.ChunkCount,
		Workers:     cfg.WorkerPool,
		IdleBackoff: cfg.IdleBackoff,
	}, log)

	go p.Run(ctx)
	log.InfoContext(ctx, "Poller is started",
		"pageSize", cfg.PageSize,
		"chunkCount", cfg.ChunkCount,
		"workerPoolSize", cfg.WorkerPool,
		"idleBackoffSeconds", cfg.IdleBackoff.Seconds())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	log.InfoContext(ctx, "Exiting...",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())
}
