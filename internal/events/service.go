package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for conversation events.
// It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("events: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("events: repository not configured")
	}
	if e.ConversationID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends an event and only logs failures. A nil Service is a no-op.
func (s *Service) Record(ctx context.Context, conversationID string, typ Type, payload map[string]any) {
	s.RecordAgent(ctx, conversationID, typ, "", "", payload)
}

// RecordAgent is Record with agent and message attribution.
func (s *Service) RecordAgent(ctx context.Context, conversationID string, typ Type, agentKey, messageID string, payload map[string]any) {
	if s == nil {
		return
	}
	err := s.Append(ctx, Event{
		ConversationID: conversationID,
		Type:           typ,
		Payload:        payload,
		AgentKey:       agentKey,
		MessageID:      messageID,
	})
	if err != nil {
		s.log.Warn("event record failed", "conversation_id", conversationID, "event_type", string(typ), "err", err)
	}
}
