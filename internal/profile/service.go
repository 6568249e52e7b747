package profile

import (
	"context"
	"fmt"
	"time"
)

const companyKey = "company"

// Service serves company profile and agent configs through process-wide TTL caches.
type Service struct {
	repo         Repository
	defaultModel string
	companies    *TTLCache[Company]
	agents       *TTLCache[agentLookup]
}

type agentLookup struct {
	cfg   AgentConfig
	found bool
}

func NewService(repo Repository, defaultModel string, agentTTL, companyTTL time.Duration) *Service {
	s := &Service{repo: repo, defaultModel: defaultModel}
	s.companies = NewTTLCache(companyTTL, func(ctx context.Context, _ string) (Company, error) {
		c, _, err := repo.LatestCompany(ctx)
		if err != nil {
			return Company{}, fmt.Errorf("profile: load company: %w", err)
		}
		return c, nil
	})
	s.agents = NewTTLCache(agentTTL, func(ctx context.Context, key string) (agentLookup, error) {
		a, ok, err := repo.AgentConfig(ctx, key)
		if err != nil {
			return agentLookup{}, fmt.Errorf("profile: load agent config %s: %w", key, err)
		}
		return agentLookup{cfg: a, found: ok}, nil
	})
	return s
}

// Company returns the cached profile; a missing row yields the zero profile.
func (s *Service) Company(ctx context.Context) (Company, error) {
	return s.companies.Get(ctx, companyKey)
}

// AgentConfig returns the stored config for key merged over fallback.
// Blank stored fields keep the fallback's values.
func (s *Service) AgentConfig(ctx context.Context, key string, fallback AgentConfig) (AgentConfig, error) {
	got, err := s.agents.Get(ctx, key)
	if err != nil {
		return fallback, err
	}
	out := fallback
	out.Key = key
	if got.found {
		if got.cfg.SystemPrompt != "" {
			out.SystemPrompt = got.cfg.SystemPrompt
		}
		if got.cfg.Model != "" {
			out.Model = got.cfg.Model
		}
		out.Temperature = got.cfg.Temperature
		if got.cfg.MaxTokens > 0 {
			out.MaxTokens = got.cfg.MaxTokens
		}
	}
	if out.Model == "" {
		out.Model = s.defaultModel
	}
	return out, nil
}
