package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("events: marshal payload: %w", err)
	}
	const q = `
INSERT INTO conversation_events (id, conversation_id, event_type, payload, agent_key, message_id, created_at)
VALUES ($1, $2, $3, $4::jsonb, NULLIF($5, ''), NULLIF($6, '')::uuid, $7)
`
	_, err = r.db.ExecContext(ctx, q, e.ID, e.ConversationID, string(e.Type), string(payload), e.AgentKey, e.MessageID, e.CreatedAt)
	return err
}
