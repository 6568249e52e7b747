package events

import "time"

// Event is an append-only record of something that happened in a conversation.
//
// Events are never updated or deleted. Recording is best-effort: callers do
// not fail a lead-facing flow because an event could not be written.
type Event struct {
	ID             string         `json:"id" db:"id"`
	ConversationID string         `json:"conversation_id" db:"conversation_id"`
	Type           Type           `json:"event_type" db:"event_type"`
	Payload        map[string]any `json:"payload,omitempty" db:"payload"`
	// AgentKey names the model agent that produced the event, if any.
	AgentKey string `json:"agent_key,omitempty" db:"agent_key"`
	// MessageID links the event to a logged message.
	MessageID string    `json:"message_id,omitempty" db:"message_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Type string

const (
	TypeIncomingMessage     Type = "incoming_message"
	TypeTextBuffered        Type = "text_buffered"
	TypeTextBufferFlushed   Type = "text_buffer_flushed"
	TypeIntentDetected      Type = "intent_detected"
	TypeAnswerSent          Type = "answer_sent"
	TypeQualifierPrompt     Type = "qualifier_prompt"
	TypeClosed              Type = "closed"
	TypeNoise               Type = "noise"
	TypeSendError           Type = "send_error"
	TypeDocumentError       Type = "document_error"
	TypeDocumentNoQuestion  Type = "document_missing_question"
	TypeDocumentBlocked     Type = "document_blocked"
	TypeDocumentAnswer      Type = "document_answer"
	TypeTranscription       Type = "transcription"
	TypeReengagementSent    Type = "reengagement_sent"
	TypeHandoffSummary      Type = "handoff_summary"
	TypeHandoffWebhookError Type = "handoff_webhook_error"
)
