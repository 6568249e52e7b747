package conversations

import (
	"errors"
	"time"

	"sdr-backend/internal/domain"
)

// Status is a conversation state. Closed statuses are terminal: a lead who
// writes again after closure gets a new conversation.
type Status string

const (
	StatusInitiating        Status = "initiating"
	StatusAnsweringQuestion Status = "answering_question"
	StatusQualifying        Status = "qualifying"
	StatusAwaitingReply     Status = "awaiting_reply"

	StatusEnded     Status = "ended"
	StatusHandedOff Status = "handed_off"
	StatusNurture   Status = "nurture"
)

// ClosedStatuses is the terminal set.
var ClosedStatuses = []Status{StatusEnded, StatusHandedOff, StatusNurture}

func (s Status) IsClosed() bool {
	switch s {
	case StatusEnded, StatusHandedOff, StatusNurture:
		return true
	default:
		return false
	}
}

type Author string

const (
	AuthorLead  Author = "lead"
	AuthorAgent Author = "agent"
)

type Lead struct {
	ID        string    `json:"id"`
	Contact   string    `json:"contact"`
	Name      string    `json:"name,omitempty"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Conversation struct {
	ID             string    `json:"id"`
	LeadID         string    `json:"lead_id"`
	Channel        string    `json:"channel"`
	Status         Status    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type Message struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	Author         Author             `json:"author"`
	Kind           domain.ContentKind `json:"kind"`
	Content        string             `json:"content"`
	// ExternalID is the originating inbound event id, when there is one.
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReengagementRecord is append-only. A record at or after the conversation's
// last activity means the tier already fired for the current inactivity window.
type ReengagementRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	TierMinutes    int       `json:"tier_minutes"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// InactiveConversation is a sweep candidate joined with its lead.
type InactiveConversation struct {
	Conversation
	Contact  string `json:"contact"`
	LeadName string `json:"lead_name,omitempty"`
}

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)
