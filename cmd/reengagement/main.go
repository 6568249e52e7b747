// Command reengagement runs the inactivity sweep on a fixed interval.
// Several replicas may run; the shared lock lets one sweep at a time.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sdr-backend/internal/app"
	"sdr-backend/internal/config"
	"sdr-backend/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	interval := flag.Duration("interval", 0, "override REENGAGEMENT_INTERVAL")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.NewWithLevel(cfg.App.Env, cfg.App.LogLevel).With("process", "reengagement")
	slog.SetDefault(log)

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if *once {
		rep, err := a.Scheduler.Sweep(rootCtx)
		if err != nil {
			log.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		log.Info("sweep finished",
			"acquired", rep.Acquired,
			"outside_hours", rep.OutsideHours,
			"lock_lost", rep.LockLost,
			"sent", rep.Sent,
			"handoffs", rep.Handoffs,
			"failed", rep.Failed,
		)
		return
	}

	every := cfg.Reengagement.Interval
	if *interval > 0 {
		every = *interval
	}
	log.Info("reengagement runner started", "interval", every.String(), "tiers", cfg.Reengagement.Tiers)
	a.Scheduler.Run(rootCtx, every)
	log.Info("reengagement runner stopped")
}
