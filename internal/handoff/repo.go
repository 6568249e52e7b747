package handoff

import (
	"context"
	"database/sql"
	"sync"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Save(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO handoffs (id, conversation_id, summary, sent_to, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)
`
	_, err := r.db.ExecContext(ctx, q, rec.ID, rec.ConversationID, rec.Summary, rec.SentTo, rec.CreatedAt)
	return err
}

// MemoryRepo keeps handoffs in memory for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Save(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
