package conversations

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sdr-backend/internal/domain"
	"sdr-backend/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the tables from migrations/0001_init.sql:
// - leads (UNIQUE contact)
// - conversations
// - messages
// - reengagements (append-only)
// - incoming_messages (PRIMARY KEY event_id; the dedup ledger)

// PostgresRepo implements Repository over database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) UpsertLead(ctx context.Context, contact, channel, name string, now time.Time) (Lead, error) {
	// Single statement so two first contacts racing on the same address converge on one row.
	const q = `
INSERT INTO leads (id, contact, name, channel, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $5)
ON CONFLICT (contact)
DO UPDATE SET name = COALESCE(NULLIF(leads.name, ''), EXCLUDED.name),
              updated_at = CASE WHEN COALESCE(leads.name, '') = '' AND EXCLUDED.name IS NOT NULL
                                THEN EXCLUDED.updated_at ELSE leads.updated_at END
RETURNING id, contact, COALESCE(name, ''), channel, created_at, updated_at
`
	var l Lead
	if err := r.db.QueryRowContext(ctx, q, uuid.NewString(), contact, name, channel, now).Scan(
		&l.ID,
		&l.Contact,
		&l.Name,
		&l.Channel,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return Lead{}, err
	}
	return l, nil
}

func (r *PostgresRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Conversation{}, ErrNotFound
	}
	const q = `
SELECT id, lead_id, channel, status, last_activity_at, created_at
FROM conversations
WHERE id = $1
`
	var c Conversation
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.LeadID,
		&c.Channel,
		&c.Status,
		&c.LastActivityAt,
		&c.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return c, nil
}

func (r *PostgresRepo) LatestConversation(ctx context.Context, leadID string) (Conversation, bool, error) {
	const q = `
SELECT id, lead_id, channel, status, last_activity_at, created_at
FROM conversations
WHERE lead_id = $1
ORDER BY last_activity_at DESC, created_at DESC
LIMIT 1
`
	var c Conversation
	err := r.db.QueryRowContext(ctx, q, leadID).Scan(
		&c.ID,
		&c.LeadID,
		&c.Channel,
		&c.Status,
		&c.LastActivityAt,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, false, nil
		}
		return Conversation{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) CreateConversation(ctx context.Context, c Conversation) error {
	const q = `
INSERT INTO conversations (id, lead_id, channel, status, last_activity_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := r.db.ExecContext(ctx, q, c.ID, c.LeadID, c.Channel, c.Status, c.LastActivityAt, c.CreatedAt)
	return err
}

func (r *PostgresRepo) TouchConversation(ctx context.Context, id string, at time.Time, status Status) error {
	// Closed rows keep their status; the CASE makes that hold under concurrent touches.
	const q = `
UPDATE conversations
SET last_activity_at = $2,
    status = CASE
      WHEN status IN ('ended', 'handed_off', 'nurture') OR $3 = '' THEN status
      ELSE $3
    END
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, at, string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) AppendMessage(ctx context.Context, m Message) error {
	const q = `
INSERT INTO messages (id, conversation_id, author, kind, content, external_id, created_at)
VALUES ($1,$2,$3,$4,$5,NULLIF($6, ''),$7)
`
	_, err := r.db.ExecContext(ctx, q,
		m.ID,
		m.ConversationID,
		m.Author,
		m.Kind,
		m.Content,
		m.ExternalID,
		m.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) MessageByExternalID(ctx context.Context, conversationID, externalID string) (Message, bool, error) {
	const q = `
SELECT id, conversation_id, author, kind, content, external_id, created_at
FROM messages
WHERE conversation_id = $1 AND external_id = $2
ORDER BY created_at ASC
LIMIT 1
`
	var m Message
	var kind string
	err := r.db.QueryRowContext(ctx, q, conversationID, externalID).
		Scan(&m.ID, &m.ConversationID, &m.Author, &kind, &m.Content, &m.ExternalID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	m.Kind = domain.ContentKind(kind)
	return m, true, nil
}

func (r *PostgresRepo) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, conversation_id, author, kind, content, COALESCE(external_id, ''), created_at
FROM (
  SELECT * FROM messages
  WHERE conversation_id = $1
  ORDER BY created_at DESC
  LIMIT $2
) recent
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var kind string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Author, &kind, &m.Content, &m.ExternalID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = domain.ContentKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListInactive(ctx context.Context, cutoff time.Time) ([]InactiveConversation, error) {
	const q = `
SELECT c.id, c.lead_id, c.channel, c.status, c.last_activity_at, c.created_at,
       l.contact, COALESCE(l.name, '')
FROM conversations c
JOIN leads l ON l.id = c.lead_id
WHERE c.last_activity_at <= $1
  AND c.status NOT IN ('ended', 'handed_off', 'nurture')
ORDER BY c.last_activity_at ASC, c.id ASC
`
	rows, err := r.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InactiveConversation
	for rows.Next() {
		var ic InactiveConversation
		if err := rows.Scan(
			&ic.ID,
			&ic.LeadID,
			&ic.Channel,
			&ic.Status,
			&ic.LastActivityAt,
			&ic.CreatedAt,
			&ic.Contact,
			&ic.LeadName,
		); err != nil {
			return nil, err
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) HasReengagementSince(ctx context.Context, conversationID string, tierMinutes int, since time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM reengagements
  WHERE conversation_id = $1 AND tier_minutes = $2 AND executed_at >= $3
)
`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, conversationID, tierMinutes, since).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepo) RecordReengagement(ctx context.Context, rec ReengagementRecord) error {
	const q = `
INSERT INTO reengagements (id, conversation_id, tier_minutes, executed_at)
VALUES ($1,$2,$3,$4)
`
	_, err := r.db.ExecContext(ctx, q, rec.ID, rec.ConversationID, rec.TierMinutes, rec.ExecutedAt)
	return err
}

func (r *PostgresRepo) RegisterIncomingMessage(ctx context.Context, eventID string) (bool, error) {
	const q = `INSERT INTO incoming_messages (event_id, created_at) VALUES ($1, now())`
	if _, err := r.db.ExecContext(ctx, q, eventID); err != nil {
		if utils.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *PostgresRepo) ReleaseIncomingMessage(ctx context.Context, eventID string) error {
	const q = `DELETE FROM incoming_messages WHERE event_id = $1`
	_, err := r.db.ExecContext(ctx, q, eventID)
	return err
}
