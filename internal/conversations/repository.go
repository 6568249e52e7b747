package conversations

import (
	"context"
	"time"
)

// Repository is the durable store contract for the conversation timeline.
type Repository interface {
	// UpsertLead returns the lead for contact, creating it if needed.
	// The name is filled only while the stored name is empty.
	UpsertLead(ctx context.Context, contact, channel, name string, now time.Time) (Lead, error)

	GetConversation(ctx context.Context, id string) (Conversation, error)
	// LatestConversation returns the lead's most recently active conversation.
	LatestConversation(ctx context.Context, leadID string) (Conversation, bool, error)
	CreateConversation(ctx context.Context, c Conversation) error
	// TouchConversation sets last activity and, when status is non-empty, the status.
	// A closed conversation keeps its status.
	TouchConversation(ctx context.Context, id string, at time.Time, status Status) error

	AppendMessage(ctx context.Context, m Message) error
	// MessageByExternalID finds a message of the conversation by its source id.
	MessageByExternalID(ctx context.Context, conversationID, externalID string) (Message, bool, error)
	// RecentMessages returns up to limit messages, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// ListInactive returns non-closed conversations with last activity at or before cutoff.
	ListInactive(ctx context.Context, cutoff time.Time) ([]InactiveConversation, error)
	HasReengagementSince(ctx context.Context, conversationID string, tierMinutes int, since time.Time) (bool, error)
	RecordReengagement(ctx context.Context, r ReengagementRecord) error

	RegisterIncomingMessage(ctx context.Context, eventID string) (bool, error)
	ReleaseIncomingMessage(ctx context.Context, eventID string) error
}
