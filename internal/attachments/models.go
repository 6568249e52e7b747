package attachments

import "time"

type Attachment struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	MessageID      string    `json:"message_id" db:"message_id"`
	MimeType       string    `json:"mime_type" db:"mime_type"`
	Ext            string    `json:"ext" db:"ext"`
	SizeBytes      int64     `json:"size_bytes" db:"size_bytes"`
	SHA256         string    `json:"sha256" db:"sha256"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type Extraction struct {
	ID           string         `json:"id" db:"id"`
	AttachmentID string         `json:"attachment_id" db:"attachment_id"`
	Text         string         `json:"text" db:"text"`
	Metadata     map[string]any `json:"metadata" db:"metadata"`
	// TokensEst is a whitespace word count.
	TokensEst int       `json:"tokens_est" db:"tokens_est"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Result is what the document path needs after processing.
type Result struct {
	AttachmentID string
	Text         string
	Metadata     map[string]any
	Summary      string
}
