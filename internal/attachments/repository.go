package attachments

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"sdr-backend/pkg/utils"
)

type Repository interface {
	// SaveProcessed stores an attachment and, when extraction succeeded,
	// its extraction in one transaction.
	SaveProcessed(ctx context.Context, a Attachment, e *Extraction) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) SaveProcessed(ctx context.Context, a Attachment, e *Extraction) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const qa = `
INSERT INTO attachments (id, conversation_id, message_id, mime_type, ext, size_bytes, sha256, status, created_at)
VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9)
`
		if _, err := tx.ExecContext(ctx, qa, a.ID, a.ConversationID, a.MessageID, a.MimeType, a.Ext, a.SizeBytes, a.SHA256, a.Status, a.CreatedAt); err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		const qe = `
INSERT INTO attachment_extractions (id, attachment_id, text, metadata, tokens_est, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6)
`
		_, err = tx.ExecContext(ctx, qe, e.ID, e.AttachmentID, e.Text, string(meta), e.TokensEst, e.CreatedAt)
		return err
	})
}

// MemoryRepo keeps rows in memory for tests.
type MemoryRepo struct {
	mu          sync.Mutex
	attachments []Attachment
	extractions []Extraction
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) SaveProcessed(_ context.Context, a Attachment, e *Extraction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachments = append(r.attachments, a)
	if e != nil {
		r.extractions = append(r.extractions, *e)
	}
	return nil
}

func (r *MemoryRepo) Attachments() []Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Attachment(nil), r.attachments...)
}

func (r *MemoryRepo) Extractions() []Extraction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Extraction(nil), r.extractions...)
}
