package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdr-backend/internal/domain"
)

var received = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func TestParse_FlatShape(t *testing.T) {
	ev, err := Parse([]byte(`{"mensagem_id":"m1","contato":"+551199","tipo":"texto","conteudo":" Hello ","nome":"Ana"}`), received)
	require.NoError(t, err)
	assert.Equal(t, "m1", ev.ID)
	assert.False(t, ev.GeneratedID)
	assert.Equal(t, "+551199", ev.Sender)
	assert.Equal(t, domain.KindText, ev.Kind)
	assert.Equal(t, "Hello", ev.Text)
	assert.Equal(t, "Ana", ev.DisplayName)
	assert.Equal(t, domain.ChannelWhatsApp, ev.Channel)
	assert.Equal(t, received, ev.ReceivedAt)
}

func TestParse_FlatDocumentTakesURLFromContent(t *testing.T) {
	ev, err := Parse([]byte(`{"mensagem_id":"m2","contato":"5511","tipo":"documento","conteudo":"https://cdn.example.com/a.pdf","media":{"mime_type":"application/pdf","caption":"qual o prazo?"}}`), received)
	require.NoError(t, err)
	assert.Equal(t, domain.KindDocument, ev.Kind)
	require.NotNil(t, ev.Media)
	assert.Equal(t, "https://cdn.example.com/a.pdf", ev.Media.URL)
	assert.Equal(t, "application/pdf", ev.Media.MimeType)
	assert.Equal(t, "qual o prazo?", ev.Caption())
}

func TestParse_EvolutionShape(t *testing.T) {
	raw := `{"event":"messages.upsert","data":{
		"key":{"remoteJid":"5511988887777@s.whatsapp.net","id":"ABC123"},
		"pushName":"Bruno",
		"messageType":"extendedTextMessage",
		"message":{"extendedTextMessage":{"text":"tem vaga de garagem?"}}}}`
	ev, err := Parse([]byte(raw), received)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", ev.ID)
	assert.Equal(t, "5511988887777", ev.Sender)
	assert.Equal(t, "Bruno", ev.DisplayName)
	assert.Equal(t, domain.KindText, ev.Kind)
	assert.Equal(t, "tem vaga de garagem?", ev.Text)
	assert.Nil(t, ev.Media)
}

func TestParse_ArrayAndBodyWrapper(t *testing.T) {
	raw := `[{"body":{"data":{"key":{"remoteJidAlt":"5511@s.whatsapp.net","id":"X1"},"message":{"conversation":"oi"}}}}]`
	ev, err := Parse([]byte(raw), received)
	require.NoError(t, err)
	assert.Equal(t, "X1", ev.ID)
	assert.Equal(t, "5511", ev.Sender)
	assert.Equal(t, "oi", ev.Text)
}

func TestParse_AudioMedia(t *testing.T) {
	raw := `{"data":{"key":{"remoteJid":"5511@s.whatsapp.net","id":"A1"},"messageType":"audioMessage",
		"message":{"pttMessage":{"url":"file:///etc/passwd","mediaKey":{"0":12,"1":7},"directPath":"/v/t62","mimetype":"audio/ogg; codecs=opus"}}}}`
	ev, err := Parse([]byte(raw), received)
	require.NoError(t, err)
	assert.Equal(t, domain.KindAudio, ev.Kind)
	require.NotNil(t, ev.Media)
	assert.Empty(t, ev.Media.URL, "non-http urls are dropped")
	assert.NotEmpty(t, ev.Media.MediaKey)
	assert.Equal(t, "/v/t62", ev.Media.DirectPath)
	assert.Equal(t, "audio/ogg; codecs=opus", ev.Media.MimeType)
}

func TestParse_ImageCaption(t *testing.T) {
	raw := `{"data":{"key":{"remoteJid":"5511","id":"I1"},"message":{"imageMessage":{"url":"https://mmg.whatsapp.net/x","captionText":"essa planta tem suite?"}}}}`
	ev, err := Parse([]byte(raw), received)
	require.NoError(t, err)
	assert.Equal(t, domain.KindImage, ev.Kind)
	assert.Equal(t, "essa planta tem suite?", turnText(ev))
	assert.Equal(t, "https://mmg.whatsapp.net/x", logContent(ev))
}

func TestParse_MissingIDIsGenerated(t *testing.T) {
	a, err := Parse([]byte(`{"data":{"key":{"remoteJid":"5511"},"message":{"conversation":"oi"}}}`), received)
	require.NoError(t, err)
	b, err := Parse([]byte(`{"data":{"key":{"remoteJid":"5511"},"message":{"conversation":"oi"}}}`), received)
	require.NoError(t, err)
	assert.True(t, a.GeneratedID)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestParse_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		reason string
	}{
		{"not json", `{"data":`, ReasonJSONInvalid},
		{"empty body", ``, ReasonJSONInvalid},
		{"scalar", `"hello"`, ReasonParseError},
		{"empty array", `[]`, ReasonParseError},
		{"wrong field type", `{"data":{"key":{"remoteJid":5511}}}`, ReasonParseError},
		{"no sender", `{"data":{"key":{"id":"m1"},"message":{"conversation":"oi"}}}`, ReasonMissingSender},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw), received)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.reason, pe.Reason)
		})
	}
}
