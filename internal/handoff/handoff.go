// Package handoff forwards a conversation to the human broker/CRM.
package handoff

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sdr-backend/internal/agents"
	"sdr-backend/internal/events"
	"sdr-backend/internal/profile"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Handoff-Signature"

type Request struct {
	ConversationID string
	LeadName       string
	LeadContact    string
	// History is the transcript the summary is generated from.
	History string
	Status  string
}

// Payload is the JSON body posted to the company's handoff webhook.
type Payload struct {
	LeadName       string `json:"lead_name"`
	LeadContact    string `json:"lead_contact"`
	ConversationID string `json:"conversation_id"`
	Summary        string `json:"summary"`
	Status         string `json:"status"`
}

// Record is a persisted handoff.
type Record struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Summary        string    `json:"summary" db:"summary"`
	SentTo         string    `json:"sent_to,omitempty" db:"sent_to"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type Repository interface {
	Save(ctx context.Context, r Record) error
}

type CompanySource interface {
	Company(ctx context.Context) (profile.Company, error)
}

type Service struct {
	summarizer agents.Summarizer
	companies  CompanySource
	repo       Repository
	events     *events.Service
	httpClient *http.Client
	log        *slog.Logger
	clock      func() time.Time
}

func NewService(summarizer agents.Summarizer, companies CompanySource, repo Repository, ev *events.Service, timeout time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		summarizer: summarizer,
		companies:  companies,
		repo:       repo,
		events:     ev,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		clock:      time.Now,
	}
}

// Dispatch summarizes the conversation, stores the handoff and notifies the
// company webhook. Webhook failures are recorded, not returned.
func (s *Service) Dispatch(ctx context.Context, req Request) (string, error) {
	if req.ConversationID == "" {
		return "", errors.New("handoff: conversation id is required")
	}
	company, err := s.companies.Company(ctx)
	if err != nil {
		s.log.Warn("company profile unavailable for handoff", "conversation_id", req.ConversationID, "err", err)
	}

	summary := req.History
	if s.summarizer != nil {
		summary, err = s.summarizer.Summarize(ctx, req.History, company.Render())
		if err != nil {
			return "", fmt.Errorf("handoff: summarize: %w", err)
		}
	}

	payload := Payload{
		LeadName:       req.LeadName,
		LeadContact:    req.LeadContact,
		ConversationID: req.ConversationID,
		Summary:        summary,
		Status:         req.Status,
	}
	s.events.RecordAgent(ctx, req.ConversationID, events.TypeHandoffSummary, agents.KeyHandoffSummary, "",
		map[string]any{"status": req.Status})

	if s.repo != nil {
		rec := Record{
			ID:             uuid.NewString(),
			ConversationID: req.ConversationID,
			Summary:        summary,
			SentTo:         company.HandoffWebhookURL,
			CreatedAt:      s.clock().UTC(),
		}
		if err := s.repo.Save(ctx, rec); err != nil {
			return "", fmt.Errorf("handoff: save: %w", err)
		}
	}

	if err := s.notify(ctx, payload, company.HandoffWebhookURL, company.HandoffWebhookSecret); err != nil {
		s.log.Error("handoff webhook failed", "conversation_id", req.ConversationID, "err", err)
		s.events.Record(ctx, req.ConversationID, events.TypeHandoffWebhookError, map[string]any{"error": err.Error()})
	}
	return summary, nil
}

func (s *Service) notify(ctx context.Context, p Payload, url, secret string) error {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}
	res, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("handoff: webhook returned %d: %s", res.StatusCode, string(buf))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
