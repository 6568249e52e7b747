package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"sdr-backend/internal/profile"
)

const defaultBaseURL = "https://api.openai.com/v1"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Getter resolves the API key by name.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ConfigSource supplies tunable per-agent configs.
type ConfigSource interface {
	AgentConfig(ctx context.Context, key string, fallback profile.AgentConfig) (profile.AgentConfig, error)
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("agents: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) Is(target error) bool { return target == ErrUpstream }

// Client talks to an OpenAI-compatible API and implements every collaborator
// interface in this package.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	getter       Getter
	keyName      string
	model        string
	whisperModel string
	configs      ConfigSource
	log          *slog.Logger

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithModels(chat, whisper string) Option {
	return func(c *Client) {
		if chat != "" {
			c.model = chat
		}
		if whisper != "" {
			c.whisperModel = whisper
		}
	}
}

func WithConfigSource(src ConfigSource) Option {
	return func(c *Client) { c.configs = src }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient builds a client whose API key is read once through getter.
// keyName is passed to the getter; it is the SSM parameter name when
// backed by the parameter store.
func NewClient(getter Getter, keyName string, opts ...Option) (*Client, error) {
	if getter == nil {
		return nil, errors.New("agents: key getter must not be nil")
	}
	c := &Client{
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		getter:       getter,
		keyName:      strings.TrimSpace(keyName),
		model:        "gpt-4o-mini",
		whisperModel: "whisper-1",
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.keyName)
		if err != nil {
			c.keyErr = fmt.Errorf("agents: resolve api key: %w", err)
			return
		}
		c.apiKey, c.keyErr = parseToken(raw)
	})
	return c.apiKey, c.keyErr
}

// parseToken accepts either a bare key or a JSON {"token": "..."} document.
func parseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("agents: decode token payload: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("agents: api key is empty")
	}
	return raw, nil
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

func (c *Client) agentConfig(ctx context.Context, key string) profile.AgentConfig {
	fallback := DefaultConfig(key)
	cfg := fallback
	if c.configs != nil {
		got, err := c.configs.AgentConfig(ctx, key, fallback)
		if err != nil {
			c.log.Warn("agent config lookup failed; using default", "agent_key", key, "err", err)
		} else {
			cfg = got
		}
	}
	if cfg.Model == "" {
		cfg.Model = c.model
	}
	return cfg
}

func (c *Client) complete(ctx context.Context, key, user string, format *responseFormat) (string, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}
	cfg := c.agentConfig(ctx, key)
	temp := cfg.Temperature

	body, err := json.Marshal(chatRequest{
		Model: cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: cfg.SystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:    &temp,
		MaxTokens:      cfg.MaxTokens,
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("agents: marshal request: %w", err)
	}

	url := endpointURL(c.baseURL, "/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("agents: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("agents: %s request failed: %w", key, err)
	}
	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("agents: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrUpstream)
	}
	return strings.TrimSpace(payload.Choices[0].Message.Content), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func (c *Client) DetectIntent(ctx context.Context, text string) (Classification, error) {
	out, err := c.complete(ctx, KeyIntention, text, intentResponseFormat())
	if err != nil {
		return Classification{}, err
	}
	var raw struct {
		Label     string `json:"label"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return Classification{}, fmt.Errorf("%w: decode intent: %v", ErrUpstream, err)
	}
	return Classification{Intent: ParseIntent(raw.Label, text), Rationale: raw.Rationale}, nil
}

func (c *Client) GenerateAnswer(ctx context.Context, text string) (string, error) {
	return c.complete(ctx, KeyQA, text, nil)
}

func (c *Client) ComposeNudge(ctx context.Context, history, base string) (string, error) {
	user := "Historico recente:\n" + history + "\nBase sugerida:\n" + base + "\nGere a mensagem:"
	return c.complete(ctx, KeyReengagement, user, nil)
}

func (c *Client) Summarize(ctx context.Context, history, company string) (string, error) {
	user := "Perfil da empresa:\n" + company + "\n\nHistorico da conversa:\n" + history + "\n\nResuma para o corretor:"
	return c.complete(ctx, KeyHandoffSummary, user, nil)
}

func (c *Client) CheckDocument(ctx context.Context, question, documentSummary, company string) (GuardrailDecision, error) {
	user := "Perfil da empresa:\n" + company + "\n\nResumo do documento:\n" + documentSummary +
		"\n\nPergunta do lead:\n" + question + "\nResponda em JSON indicando se deve permitir ou nao."
	out, err := c.complete(ctx, KeyDocumentGuardrail, user, guardrailResponseFormat())
	if err != nil {
		return GuardrailDecision{}, err
	}
	var d GuardrailDecision
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		return GuardrailDecision{}, fmt.Errorf("%w: decode guardrail: %v", ErrUpstream, err)
	}
	return d, nil
}

func (c *Client) AnswerFromDocument(ctx context.Context, question, document, company string) (string, error) {
	user := "Perfil da empresa:\n" + company + "\n\nDocumento:\n" + document + "\n\nPergunta: " + question
	return c.complete(ctx, KeyDocumentQA, user, nil)
}

// Transcribe posts audio to the transcription endpoint and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("agents: audio is empty")
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}
	if filename == "" {
		filename = "audio.ogg"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("model", c.whisperModel); err != nil {
		return "", fmt.Errorf("agents: write model field: %w", err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("agents: create file part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("agents: write audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("agents: close multipart: %w", err)
	}

	url := endpointURL(c.baseURL, "/audio/transcriptions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("agents: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("agents: transcription request failed: %w", err)
	}
	var payload transcriptionResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("agents: decode transcription: %w", err)
	}
	return strings.TrimSpace(payload.Text), nil
}

func intentResponseFormat() *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaConfig{
			Name:   "intent",
			Strict: true,
			Schema: json.RawMessage(`{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"label":{"type":"string","enum":["seguir","encerrar","pergunta","ruido"]},
					"rationale":{"type":"string"}
				},
				"required":["label","rationale"]
			}`),
		},
	}
}

func guardrailResponseFormat() *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaConfig{
			Name:   "guardrail_decision",
			Strict: true,
			Schema: json.RawMessage(`{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"allowed":{"type":"boolean"},
					"reason":{"type":"string"},
					"policy_message":{"type":"string"}
				},
				"required":["allowed","reason","policy_message"]
			}`),
		},
	}
}
