package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sdr-backend/internal/app"
	"sdr-backend/internal/auth"
	"sdr-backend/internal/config"
	"sdr-backend/internal/debounce"
	"sdr-backend/internal/dedup"
	"sdr-backend/internal/httpapi"
	"sdr-backend/internal/jobs"
	"sdr-backend/internal/webhook"
	"sdr-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// Background work must survive request cancellation and drain on shutdown.
	workCtx := context.WithoutCancel(rootCtx)

	buffer := debounce.New(workCtx, cfg.Intake.TextBufferDelay, a.Orchestrator.HandleFlush, log.With("component", "debounce"), a.Metrics)

	queue := jobs.NewRedisQueue(a.Redis, cfg.Intake.TranscriptionQueue)
	worker := jobs.NewWorker(queue, cfg.Intake.TranscriptionMaxAttempts, log.With("component", "jobs"), a.Metrics)
	worker.Handle(jobs.KindTranscription, a.Orchestrator.HandleTranscription)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(rootCtx); err != nil {
			log.Error("transcription worker stopped", "err", err)
		}
	}()

	intake := webhook.NewHandler(webhook.Deps{
		Dedup:         dedup.NewFilter(a.Cache, a.ConversationRepo, cfg.Intake.DedupTTL, log.With("component", "dedup"), a.Metrics),
		Conversations: a.Conversations,
		Events:        a.Events,
		Processor:     a.Orchestrator,
		Buffer:        buffer,
		Jobs:          queue,
		Limiter:       a.Cache,
		Metrics:       a.Metrics,
	}, webhook.Options{
		Secret:             cfg.Evolution.WebhookSecret,
		RateLimitPerMinute: cfg.Intake.RateLimitPerMinute,
		BaseContext:        workCtx,
	})

	handlers := httpapi.Handlers{
		Auth:     authManager,
		Sweeper:  a.Scheduler,
		Debounce: buffer,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/metrics"))

	registerPublicRoutes(r, a, intake, handlers)
	registerAdminRoutes(r, auth.RequireAccessToken(authManager), handlers)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second, // synchronous turns wait on the LLM
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Pending text is flushed, not dropped.
	buffer.Close()
	intake.Wait()
	<-workerDone

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
