package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"sdr-backend/internal/domain"
)

// Ignore reasons returned to the provider. None of them should be retried.
const (
	ReasonJSONInvalid   = "json_invalid"
	ReasonParseError    = "parse_error"
	ReasonMissingSender = "missing_sender"
	ReasonDuplicate     = "duplicate"
)

const jidSuffix = "@s.whatsapp.net"

// ParseError is a payload that will never normalize.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// envelope covers both accepted shapes: the flat intake form and the
// Evolution API MESSAGES_UPSERT body (optionally wrapped in "body").
type envelope struct {
	MensagemID string     `json:"mensagem_id"`
	Contato    string     `json:"contato"`
	Tipo       string     `json:"tipo"`
	Conteudo   string     `json:"conteudo"`
	Canal      string     `json:"canal"`
	ConversaID string     `json:"conversa_id"`
	Nome       string     `json:"nome"`
	Media      *flatMedia `json:"media"`

	Data *evolutionData `json:"data"`
	Body *struct {
		Data *evolutionData `json:"data"`
	} `json:"body"`
	Sender   string `json:"sender"`
	PushName string `json:"pushName"`
}

type flatMedia struct {
	URL        string      `json:"url"`
	MediaKey   looseString `json:"media_key"`
	DirectPath string      `json:"direct_path"`
	MimeType   string      `json:"mime_type"`
	FileName   string      `json:"file_name"`
	Caption    string      `json:"caption"`
}

type evolutionData struct {
	ID  string `json:"id"`
	Key struct {
		RemoteJID    string `json:"remoteJid"`
		RemoteJIDAlt string `json:"remoteJidAlt"`
		ID           string `json:"id"`
	} `json:"key"`
	Message     evolutionMessage `json:"message"`
	MessageType string           `json:"messageType"`
	PushName    string           `json:"pushName"`
	Text        string           `json:"text"`
}

type evolutionMessage struct {
	Conversation        string `json:"conversation"`
	Text                string `json:"text"`
	Caption             string `json:"caption"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	AudioMessage    *mediaMessage `json:"audioMessage"`
	PttMessage      *mediaMessage `json:"pttMessage"`
	ImageMessage    *mediaMessage `json:"imageMessage"`
	DocumentMessage *mediaMessage `json:"documentMessage"`
}

type mediaMessage struct {
	URL         string      `json:"url"`
	MediaKey    looseString `json:"mediaKey"`
	DirectPath  string      `json:"directPath"`
	Mimetype    string      `json:"mimetype"`
	MimeType    string      `json:"mimeType"`
	FileName    string      `json:"fileName"`
	Caption     string      `json:"caption"`
	CaptionText string      `json:"captionText"`
}

// looseString accepts a JSON string or any other value kept as raw text.
// Some gateway versions send media keys as byte maps.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(b)
	return nil
}

// Parse normalizes a raw webhook body into an InboundEvent.
func Parse(raw []byte, now time.Time) (domain.InboundEvent, error) {
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return domain.InboundEvent{}, &ParseError{Reason: ReasonJSONInvalid}
	}
	if len(raw) > 0 && raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return domain.InboundEvent{}, &ParseError{Reason: ReasonParseError, Err: errors.New("empty array")}
		}
		raw = bytes.TrimSpace(list[0])
	}
	if len(raw) == 0 || raw[0] != '{' {
		return domain.InboundEvent{}, &ParseError{Reason: ReasonParseError, Err: errors.New("payload is not an object")}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.InboundEvent{}, &ParseError{Reason: ReasonParseError, Err: err}
	}

	var ev domain.InboundEvent
	if env.MensagemID != "" && env.Contato != "" && env.Tipo != "" {
		ev = env.flat()
	} else {
		ev = env.evolution()
	}
	if ev.Sender == "" {
		return domain.InboundEvent{}, &ParseError{Reason: ReasonMissingSender}
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
		ev.GeneratedID = true
	}
	if ev.Channel == "" {
		ev.Channel = domain.ChannelWhatsApp
	}
	ev.ReceivedAt = now.UTC()
	return ev, nil
}

func (env envelope) flat() domain.InboundEvent {
	ev := domain.InboundEvent{
		ID:             strings.TrimSpace(env.MensagemID),
		Sender:         normalizeSender(env.Contato),
		Channel:        strings.TrimSpace(env.Canal),
		Kind:           flatKind(env.Tipo),
		DisplayName:    strings.TrimSpace(env.Nome),
		ConversationID: strings.TrimSpace(env.ConversaID),
	}
	content := strings.TrimSpace(env.Conteudo)
	if !ev.IsMedia() {
		ev.Text = content
		return ev
	}
	m := &domain.Media{}
	if env.Media != nil {
		m.URL = sanitizeURL(env.Media.URL)
		m.MediaKey = string(env.Media.MediaKey)
		m.DirectPath = env.Media.DirectPath
		m.MimeType = env.Media.MimeType
		m.FileName = env.Media.FileName
		m.Caption = strings.TrimSpace(env.Media.Caption)
	}
	if m.URL == "" {
		if u := sanitizeURL(content); u != "" {
			m.URL = u
		} else {
			ev.Text = content
		}
	}
	ev.Media = m
	return ev
}

func (env envelope) evolution() domain.InboundEvent {
	data := env.Data
	if data == nil && env.Body != nil {
		data = env.Body.Data
	}
	if data == nil {
		data = &evolutionData{}
	}
	sender := data.Key.RemoteJID
	if sender == "" {
		sender = data.Key.RemoteJIDAlt
	}
	if sender == "" {
		sender = env.Sender
	}
	id := data.Key.ID
	if id == "" {
		id = data.ID
	}
	name := data.PushName
	if name == "" {
		name = env.PushName
	}

	ev := domain.InboundEvent{
		ID:          strings.TrimSpace(id),
		Sender:      normalizeSender(sender),
		Kind:        domain.KindText,
		Text:        strings.TrimSpace(data.text()),
		DisplayName: strings.TrimSpace(name),
	}
	if kind, mm := data.media(); mm != nil {
		ev.Kind = kind
		caption := mm.Caption
		if caption == "" {
			caption = mm.CaptionText
		}
		if caption == "" {
			caption = data.Message.Caption
		}
		mime := mm.Mimetype
		if mime == "" {
			mime = mm.MimeType
		}
		ev.Media = &domain.Media{
			URL:        sanitizeURL(mm.URL),
			MediaKey:   string(mm.MediaKey),
			DirectPath: mm.DirectPath,
			MimeType:   mime,
			FileName:   mm.FileName,
			Caption:    strings.TrimSpace(caption),
		}
	}
	return ev
}

func (d *evolutionData) text() string {
	m := d.Message
	switch {
	case m.Conversation != "":
		return m.Conversation
	case m.Text != "":
		return m.Text
	case m.ExtendedTextMessage != nil && m.ExtendedTextMessage.Text != "":
		return m.ExtendedTextMessage.Text
	default:
		return d.Text
	}
}

// media picks the attachment, falling back to messageType when the message
// body omits the typed node.
func (d *evolutionData) media() (domain.ContentKind, *mediaMessage) {
	m := d.Message
	typ := strings.ToLower(strings.TrimSpace(d.MessageType))
	switch {
	case m.AudioMessage != nil || m.PttMessage != nil || typ == "audio" || typ == "ptt" || typ == "audiomessage":
		if m.AudioMessage != nil {
			return domain.KindAudio, m.AudioMessage
		}
		if m.PttMessage != nil {
			return domain.KindAudio, m.PttMessage
		}
		return domain.KindAudio, &mediaMessage{}
	case m.ImageMessage != nil || typ == "image" || typ == "imagemessage":
		if m.ImageMessage != nil {
			return domain.KindImage, m.ImageMessage
		}
		return domain.KindImage, &mediaMessage{}
	case m.DocumentMessage != nil || typ == "document" || typ == "documentmessage":
		if m.DocumentMessage != nil {
			return domain.KindDocument, m.DocumentMessage
		}
		return domain.KindDocument, &mediaMessage{}
	}
	return domain.KindText, nil
}

func flatKind(tipo string) domain.ContentKind {
	switch strings.ToLower(strings.TrimSpace(tipo)) {
	case "audio":
		return domain.KindAudio
	case "imagem", "image":
		return domain.KindImage
	case "documento", "document":
		return domain.KindDocument
	default:
		return domain.KindText
	}
}

func normalizeSender(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, jidSuffix, ""))
}

// sanitizeURL keeps only http(s) links.
func sanitizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return raw
}

// logContent is what the message history stores for an event.
func logContent(ev domain.InboundEvent) string {
	if ev.Media != nil && ev.Media.URL != "" {
		return ev.Media.URL
	}
	if ev.Text != "" {
		return ev.Text
	}
	return ev.Caption()
}

// turnText is the text an image turn is classified on.
func turnText(ev domain.InboundEvent) string {
	if c := ev.Caption(); c != "" {
		return c
	}
	return ev.Text
}
