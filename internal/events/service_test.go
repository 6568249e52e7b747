package events

import (
	"context"
	"errors"
	"testing"

	"sdr-backend/pkg/logger"
)

func TestService_AppendRequiresConversationAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo(), logger.Discard())

	if err := svc.Append(context.Background(), Event{Type: TypeNoise}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{ConversationID: "c"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestService_RecordFillsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())

	svc.RecordAgent(context.Background(), "c1", TypeAnswerSent, "qa", "m1", map[string]any{"chars": 12})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at to be set")
	}
	if evs[0].AgentKey != "qa" || evs[0].MessageID != "m1" {
		t.Fatalf("expected attribution captured: %+v", evs[0])
	}
}

func TestService_RecordSwallowsFailures(t *testing.T) {
	repo := NewMemoryRepo()
	repo.FailWith(errors.New("db down"))
	svc := NewService(repo, logger.Discard())

	svc.Record(context.Background(), "c1", TypeNoise, nil)
	if len(repo.Events()) != 0 {
		t.Fatalf("expected nothing stored")
	}

	var nilSvc *Service
	nilSvc.Record(context.Background(), "c1", TypeNoise, nil)
}
