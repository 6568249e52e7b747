package conversations

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a simple in-memory repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu sync.Mutex

	leads         map[string]Lead // by contact
	conversations map[string]Conversation
	convOrder     []string
	messages      map[string][]Message
	reengagements []ReengagementRecord
	ledger        map[string]bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		leads:         map[string]Lead{},
		conversations: map[string]Conversation{},
		messages:      map[string][]Message{},
		ledger:        map[string]bool{},
	}
}

func (r *MemoryRepo) UpsertLead(_ context.Context, contact, channel, name string, now time.Time) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[contact]
	if !ok {
		l = Lead{ID: uuid.NewString(), Contact: contact, Channel: channel, Name: name, CreatedAt: now, UpdatedAt: now}
		r.leads[contact] = l
		return l, nil
	}
	if l.Name == "" && name != "" {
		l.Name = name
		l.UpdatedAt = now
		r.leads[contact] = l
	}
	return l, nil
}

func (r *MemoryRepo) GetConversation(_ context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) LatestConversation(_ context.Context, leadID string) (Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best Conversation
	found := false
	for _, id := range r.convOrder {
		c := r.conversations[id]
		if c.LeadID != leadID {
			continue
		}
		// Ties go to the newer row.
		if !found || !c.LastActivityAt.Before(best.LastActivityAt) {
			best, found = c, true
		}
	}
	return best, found, nil
}

func (r *MemoryRepo) CreateConversation(_ context.Context, c Conversation) error {
	if c.ID == "" || c.LeadID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[c.ID] = c
	r.convOrder = append(r.convOrder, c.ID)
	return nil
}

func (r *MemoryRepo) TouchConversation(_ context.Context, id string, at time.Time, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = at
	if status != "" && !c.Status.IsClosed() {
		c.Status = status
	}
	r.conversations[id] = c
	return nil
}

func (r *MemoryRepo) AppendMessage(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[m.ConversationID]; !ok {
		return ErrNotFound
	}
	r.messages[m.ConversationID] = append(r.messages[m.ConversationID], m)
	return nil
}

func (r *MemoryRepo) MessageByExternalID(_ context.Context, conversationID, externalID string) (Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages[conversationID] {
		if m.ExternalID == externalID {
			return m, true, nil
		}
	}
	return Message{}, false, nil
}

func (r *MemoryRepo) RecentMessages(_ context.Context, conversationID string, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Message, len(all))
	copy(out, all)
	return out, nil
}

func (r *MemoryRepo) ListInactive(_ context.Context, cutoff time.Time) ([]InactiveConversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := map[string]Lead{}
	for _, l := range r.leads {
		byID[l.ID] = l
	}
	var out []InactiveConversation
	for _, id := range r.convOrder {
		c := r.conversations[id]
		if c.Status.IsClosed() || c.LastActivityAt.After(cutoff) {
			continue
		}
		l := byID[c.LeadID]
		out = append(out, InactiveConversation{Conversation: c, Contact: l.Contact, LeadName: l.Name})
	}
	return out, nil
}

func (r *MemoryRepo) HasReengagementSince(_ context.Context, conversationID string, tierMinutes int, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.reengagements {
		if rec.ConversationID == conversationID && rec.TierMinutes == tierMinutes && !rec.ExecutedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) RecordReengagement(_ context.Context, rec ReengagementRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reengagements = append(r.reengagements, rec)
	return nil
}

func (r *MemoryRepo) RegisterIncomingMessage(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ledger[eventID] {
		return false, nil
	}
	r.ledger[eventID] = true
	return true, nil
}

func (r *MemoryRepo) ReleaseIncomingMessage(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ledger, eventID)
	return nil
}

// Messages returns a copy of every message in the conversation.
func (r *MemoryRepo) Messages(conversationID string) []Message {
	out, _ := r.RecentMessages(context.Background(), conversationID, 0)
	return out
}

// Reengagements returns a copy of the reengagement log.
func (r *MemoryRepo) Reengagements() []ReengagementRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReengagementRecord, len(r.reengagements))
	copy(out, r.reengagements)
	return out
}

// SetLastActivity rewinds a conversation's activity clock. Test helper.
func (r *MemoryRepo) SetLastActivity(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conversations[id]; ok {
		c.LastActivityAt = at
		r.conversations[id] = c
	}
}
