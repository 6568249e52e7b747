// Package app wires the components shared by the api and sweep processes.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"sdr-backend/internal/agents"
	"sdr-backend/internal/attachments"
	"sdr-backend/internal/cache"
	"sdr-backend/internal/config"
	"sdr-backend/internal/conversations"
	"sdr-backend/internal/events"
	"sdr-backend/internal/handoff"
	"sdr-backend/internal/lock"
	"sdr-backend/internal/messaging"
	"sdr-backend/internal/metrics"
	"sdr-backend/internal/orchestrator"
	"sdr-backend/internal/profile"
	"sdr-backend/internal/reengagement"
	"sdr-backend/internal/secrets"
	"sdr-backend/pkg/utils"
)

type App struct {
	Config  config.Config
	Log     *slog.Logger
	DB      *sql.DB
	Redis   *redis.Client
	Metrics *metrics.Metrics
	Cache   cache.Store

	ConversationRepo *conversations.PostgresRepo
	Conversations    *conversations.Service
	Events           *events.Service
	Profile          *profile.Service
	Agents           *agents.Client
	Provider         messaging.Provider
	Handoff          *handoff.Service
	Attachments      *attachments.Service
	Locks            *lock.Manager
	Orchestrator     *orchestrator.Orchestrator
	Scheduler        *reengagement.Scheduler
}

// New opens Postgres and Redis and builds every shared component.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPool{})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis init: %w", err)
	}

	a := &App{Config: cfg, Log: log, DB: db, Redis: rdb, Metrics: metrics.New()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	log := a.Log

	a.Cache = cache.NewRedisStore(a.Redis)
	a.ConversationRepo = conversations.NewPostgresRepo(a.DB)
	a.Conversations = conversations.NewService(a.ConversationRepo, log.With("component", "conversations"))
	a.Events = events.NewService(events.NewPostgresRepo(a.DB), log.With("component", "events"))
	a.Profile = profile.NewService(profile.NewPostgresRepo(a.DB), cfg.OpenAI.Model, cfg.Cache.AgentConfigTTL, cfg.Cache.CompanyTTL)
	a.Locks = lock.NewManager(a.Cache, log.With("component", "lock"), a.Metrics)

	getter, keyName, err := apiKeyGetter(ctx, cfg.OpenAI)
	if err != nil {
		return err
	}
	a.Agents, err = agents.NewClient(getter, keyName,
		agents.WithBaseURL(cfg.OpenAI.BaseURL),
		agents.WithHTTPClient(&http.Client{Timeout: cfg.OpenAI.Timeout}),
		agents.WithModels(cfg.OpenAI.Model, cfg.OpenAI.WhisperModel),
		agents.WithConfigSource(a.Profile),
		agents.WithLogger(log.With("component", "agents")),
	)
	if err != nil {
		return fmt.Errorf("agents init: %w", err)
	}

	a.Provider, err = provider(cfg, log)
	if err != nil {
		return err
	}

	a.Handoff = handoff.NewService(a.Agents, a.Profile, handoff.NewPostgresRepo(a.DB), a.Events, cfg.Handoff.Timeout, log.With("component", "handoff"))
	a.Attachments = attachments.NewService(
		attachments.NewFetcher(&http.Client{Timeout: cfg.OpenAI.Timeout}, cfg.Intake.TrustedMediaHosts),
		a.Provider,
		attachments.NewPostgresRepo(a.DB),
		cfg.Intake.DocumentMaxBytes,
		cfg.Intake.AudioMaxBytes,
	)

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Conversations: a.Conversations,
		Provider:      a.Provider,
		Events:        a.Events,
		Classifier:    a.Agents,
		Answers:       a.Agents,
		Guardrail:     a.Agents,
		DocumentQA:    a.Agents,
		Companies:     a.Profile,
		Attachments:   a.Attachments,
		Transcriber:   a.Agents,
		Log:           log.With("component", "orchestrator"),
	})

	prompts, err := reengagement.LoadPrompts(cfg.Reengagement.PromptsFile)
	if err != nil {
		return err
	}
	a.Scheduler = reengagement.New(reengagement.Deps{
		Store:         a.ConversationRepo,
		Conversations: a.Conversations,
		Locker:        a.Locks,
		Sender:        a.Provider,
		Composer:      a.Agents,
		Broker:        a.Handoff,
		Events:        a.Events,
		Metrics:       a.Metrics,
		Log:           log.With("component", "reengagement"),
	}, reengagement.Options{
		Tiers:        cfg.Reengagement.Tiers,
		LockTTL:      cfg.Reengagement.LockTTL,
		Location:     cfg.Reengagement.Location,
		StartHour:    cfg.Reengagement.StartHour,
		EndHour:      cfg.Reengagement.EndHour,
		HistoryLimit: cfg.Reengagement.HistoryLimit,
		Prompts:      prompts,
	})
	return nil
}

// apiKeyGetter prefers a literal key over the parameter store.
func apiKeyGetter(ctx context.Context, cfg config.OpenAIConfig) (agents.Getter, string, error) {
	if cfg.APIKey != "" || cfg.APIKeyParam == "" {
		return secrets.Static(cfg.APIKey), "", nil
	}
	store, err := secrets.NewFromEnv(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, "", err
	}
	return store, cfg.APIKeyParam, nil
}

func provider(cfg config.Config, log *slog.Logger) (messaging.Provider, error) {
	if cfg.Evolution.BaseURL == "" {
		log.Warn("EVOLUTION_BASE_URL unset; outbound messages are only logged")
		return messaging.NewLogProvider(log.With("component", "messaging")), nil
	}
	p, err := messaging.NewEvolutionProvider(cfg.Evolution.BaseURL, cfg.Evolution.Token, cfg.Evolution.Instance, &http.Client{Timeout: cfg.OpenAI.Timeout})
	if err != nil {
		return nil, fmt.Errorf("evolution provider init: %w", err)
	}
	return p, nil
}

// Ready pings both stores.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	if err := utils.HealthCheck(ctx, a.DB, 2*time.Second); err != nil {
		errs = append(errs, fmt.Errorf("postgres: %w", err))
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
