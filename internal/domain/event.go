package domain

import "time"

// ContentKind is the kind of payload carried by an inbound event.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindAudio    ContentKind = "audio"
	KindImage    ContentKind = "image"
	KindDocument ContentKind = "document"
)

// ChannelWhatsApp is the only channel this deployment serves.
const ChannelWhatsApp = "whatsapp"

// Media describes a provider-hosted attachment.
// URL is only populated for http(s) links; MediaKey/DirectPath let the provider resolve it later.
type Media struct {
	URL        string `json:"url,omitempty"`
	MediaKey   string `json:"media_key,omitempty"`
	DirectPath string `json:"direct_path,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Caption    string `json:"caption,omitempty"`
}

// InboundEvent is a normalized provider delivery. Immutable once received.
type InboundEvent struct {
	// ID is the provider message id. When the provider omitted it, a fresh id is
	// generated and GeneratedID is set; such events never match a redelivery.
	ID          string      `json:"id"`
	GeneratedID bool        `json:"generated_id,omitempty"`
	Sender      string      `json:"sender"`
	Channel     string      `json:"channel"`
	Kind        ContentKind `json:"kind"`
	Text        string      `json:"text,omitempty"`
	Media       *Media      `json:"media,omitempty"`
	DisplayName string      `json:"display_name,omitempty"`

	// ConversationID is an optional explicit target conversation.
	ConversationID string    `json:"conversation_id,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// IsMedia reports whether the event bypasses text debouncing.
func (e InboundEvent) IsMedia() bool {
	switch e.Kind {
	case KindAudio, KindImage, KindDocument:
		return true
	default:
		return false
	}
}

// Caption returns the media caption, if any.
func (e InboundEvent) Caption() string {
	if e.Media == nil {
		return ""
	}
	return e.Media.Caption
}
