package conversations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sdr-backend/internal/domain"

	"github.com/google/uuid"
)

// Service is the conversation lifecycle manager.
//
// Invariants:
// - At most one open conversation per lead is considered current.
// - A closed conversation is never returned for new activity; the lead gets a new one.
// - Any store failure is returned to the caller; there is no partial state to repair.
type Service struct {
	repo Repository
	log  *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

// WithClock replaces the time source. Tests only.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) Now() time.Time { return s.clock().UTC() }

type EnsureRequest struct {
	Contact string
	Channel string
	// ConversationID is an optional explicit target.
	ConversationID string
	DisplayName    string
}

// EnsureActive resolves the lead and its current open conversation, creating either as needed.
func (s *Service) EnsureActive(ctx context.Context, req EnsureRequest) (Conversation, Lead, error) {
	contact := strings.TrimSpace(req.Contact)
	if contact == "" {
		return Conversation{}, Lead{}, ErrInvalidArgument
	}
	channel := req.Channel
	if channel == "" {
		channel = domain.ChannelWhatsApp
	}
	now := s.Now()

	lead, err := s.repo.UpsertLead(ctx, contact, channel, strings.TrimSpace(req.DisplayName), now)
	if err != nil {
		return Conversation{}, Lead{}, fmt.Errorf("conversations: upsert lead: %w", err)
	}

	if id := strings.TrimSpace(req.ConversationID); id != "" {
		c, err := s.repo.GetConversation(ctx, id)
		switch {
		case err == nil && !c.Status.IsClosed() && c.LeadID == lead.ID:
			return c, lead, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return Conversation{}, Lead{}, fmt.Errorf("conversations: get %s: %w", id, err)
		}
	}

	latest, ok, err := s.repo.LatestConversation(ctx, lead.ID)
	if err != nil {
		return Conversation{}, Lead{}, fmt.Errorf("conversations: latest for lead: %w", err)
	}
	if ok && !latest.Status.IsClosed() {
		return latest, lead, nil
	}

	c := Conversation{
		ID:             uuid.NewString(),
		LeadID:         lead.ID,
		Channel:        channel,
		Status:         StatusInitiating,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := s.repo.CreateConversation(ctx, c); err != nil {
		return Conversation{}, Lead{}, fmt.Errorf("conversations: create: %w", err)
	}
	s.log.Info("conversation opened", "conversation_id", c.ID, "lead_id", lead.ID)
	return c, lead, nil
}

// Touch bumps last activity; status is applied only when non-empty.
func (s *Service) Touch(ctx context.Context, conversationID string, status Status) error {
	if conversationID == "" {
		return ErrInvalidArgument
	}
	if err := s.repo.TouchConversation(ctx, conversationID, s.Now(), status); err != nil {
		return fmt.Errorf("conversations: touch %s: %w", conversationID, err)
	}
	return nil
}

// LogMessage appends one message to the conversation history.
func (s *Service) LogMessage(ctx context.Context, conversationID string, author Author, kind domain.ContentKind, content, externalID string) (Message, error) {
	if conversationID == "" {
		return Message{}, ErrInvalidArgument
	}
	m := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Author:         author,
		Kind:           kind,
		Content:        content,
		ExternalID:     externalID,
		CreatedAt:      s.Now(),
	}
	if err := s.repo.AppendMessage(ctx, m); err != nil {
		return Message{}, fmt.Errorf("conversations: append message: %w", err)
	}
	return m, nil
}

// LogMessageOnce appends the message unless one with the same externalID is
// already in the conversation. It reports whether a new row was written.
func (s *Service) LogMessageOnce(ctx context.Context, conversationID string, author Author, kind domain.ContentKind, content, externalID string) (Message, bool, error) {
	if externalID == "" {
		m, err := s.LogMessage(ctx, conversationID, author, kind, content, "")
		return m, err == nil, err
	}
	existing, ok, err := s.repo.MessageByExternalID(ctx, conversationID, externalID)
	if err != nil {
		return Message{}, false, fmt.Errorf("conversations: find message: %w", err)
	}
	if ok {
		return existing, false, nil
	}
	m, err := s.LogMessage(ctx, conversationID, author, kind, content, externalID)
	return m, err == nil, err
}

// HistoryText renders the last limit messages as "author: content" lines, oldest first.
func (s *Service) HistoryText(ctx context.Context, conversationID string, limit int) (string, error) {
	msgs, err := s.repo.RecentMessages(ctx, conversationID, limit)
	if err != nil {
		return "", fmt.Errorf("conversations: history: %w", err)
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, string(m.Author)+": "+m.Content)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	return s.repo.GetConversation(ctx, id)
}
