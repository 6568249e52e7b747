package messaging

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the outbound message-delivery contract used by business logic.
//
// No provider HTTP calls outside adapters. Request/response types stay
// provider-agnostic.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	SendText(ctx context.Context, req SendTextRequest) (SendResult, error)

	// FetchMedia downloads the media attached to an inbound provider message.
	// Used when the webhook carried only an opaque media key.
	FetchMedia(ctx context.Context, req FetchMediaRequest) (Media, error)
}

type SendTextRequest struct {
	// To is the lead's channel address (digits, no JID suffix).
	To   string `json:"to"`
	Text string `json:"text"`
}

type SendResult struct {
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

type FetchMediaRequest struct {
	MessageID string `json:"message_id"`
	RemoteJID string `json:"remote_jid,omitempty"`
}

type Media struct {
	Data     []byte
	MimeType string
}

// ErrSendFailed marks delivery failures.
var ErrSendFailed = errors.New("messaging: send failed")

// SendError carries the provider's response for a rejected request.
type SendError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("messaging: %s rejected request with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *SendError) Is(target error) bool { return target == ErrSendFailed }
