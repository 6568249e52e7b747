package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
)

// Repository reads dynamic configuration rows.
type Repository interface {
	// LatestCompany returns the most recently updated profile.
	LatestCompany(ctx context.Context) (Company, bool, error)
	AgentConfig(ctx context.Context, key string) (AgentConfig, bool, error)
}

// PostgresRepo reads company_config and ai_agent_configs.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) LatestCompany(ctx context.Context) (Company, bool, error) {
	const q = `
SELECT COALESCE(name, ''), COALESCE(description, ''), COALESCE(contacts, '{}'::jsonb),
       COALESCE(policy_text, ''), COALESCE(allowed_topics, ''),
       COALESCE(handoff_webhook_url, ''), COALESCE(handoff_webhook_secret, '')
FROM company_config
ORDER BY updated_at DESC
LIMIT 1
`
	var c Company
	var contacts []byte
	var topics string
	err := r.db.QueryRowContext(ctx, q).Scan(
		&c.Name,
		&c.Description,
		&contacts,
		&c.PolicyText,
		&topics,
		&c.HandoffWebhookURL,
		&c.HandoffWebhookSecret,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Company{}, false, nil
		}
		return Company{}, false, err
	}
	if len(contacts) > 0 {
		// Non-string contact values are ignored.
		var raw map[string]any
		if err := json.Unmarshal(contacts, &raw); err == nil {
			c.Contacts = map[string]string{}
			for k, v := range raw {
				if s, ok := v.(string); ok {
					c.Contacts[k] = s
				}
			}
		}
	}
	c.AllowedTopics = ParseTopics(topics)
	return c, true, nil
}

func (r *PostgresRepo) AgentConfig(ctx context.Context, key string) (AgentConfig, bool, error) {
	const q = `
SELECT agent_key, COALESCE(system_prompt, ''), COALESCE(model, ''),
       COALESCE(temperature, 0), COALESCE(max_tokens, 0)
FROM ai_agent_configs
WHERE agent_key = $1
LIMIT 1
`
	var a AgentConfig
	err := r.db.QueryRowContext(ctx, q, key).Scan(&a.Key, &a.SystemPrompt, &a.Model, &a.Temperature, &a.MaxTokens)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AgentConfig{}, false, nil
		}
		return AgentConfig{}, false, err
	}
	return a, true, nil
}

// MemoryRepo is a simple in-memory repository useful for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	company *Company
	agents  map[string]AgentConfig
	loads   int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{agents: map[string]AgentConfig{}} }

func (r *MemoryRepo) SetCompany(c Company) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.company = &c
}

func (r *MemoryRepo) SetAgentConfig(a AgentConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Key] = a
}

// Loads counts repository reads.
func (r *MemoryRepo) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

func (r *MemoryRepo) LatestCompany(context.Context) (Company, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if r.company == nil {
		return Company{}, false, nil
	}
	return *r.company, true, nil
}

func (r *MemoryRepo) AgentConfig(_ context.Context, key string) (AgentConfig, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	a, ok := r.agents[key]
	return a, ok, nil
}
