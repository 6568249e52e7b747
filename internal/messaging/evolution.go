package messaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// EvolutionProvider sends WhatsApp messages through an Evolution API instance.
type EvolutionProvider struct {
	baseURL    string
	token      string
	instance   string
	httpClient *http.Client
}

func NewEvolutionProvider(baseURL, token, instance string, httpClient *http.Client) (*EvolutionProvider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("messaging: evolution base url is required")
	}
	if strings.TrimSpace(instance) == "" {
		return nil, errors.New("messaging: evolution instance is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &EvolutionProvider{baseURL: baseURL, token: token, instance: instance, httpClient: httpClient}, nil
}

func (p *EvolutionProvider) Name() string { return "evolution" }

func (p *EvolutionProvider) endpoint(parts ...string) string {
	return p.baseURL + "/" + strings.Join(parts, "/") + "/" + url.PathEscape(p.instance)
}

func (p *EvolutionProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("instance", "connectionState"), nil)
	if err != nil {
		return err
	}
	_, err = p.do(req)
	return err
}

func (p *EvolutionProvider) SendText(ctx context.Context, in SendTextRequest) (SendResult, error) {
	if strings.TrimSpace(in.To) == "" || strings.TrimSpace(in.Text) == "" {
		return SendResult{}, errors.New("messaging: recipient and text are required")
	}
	body, err := json.Marshal(map[string]string{"number": in.To, "text": in.Text})
	if err != nil {
		return SendResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("message", "sendText"), bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := p.do(req)
	if err != nil {
		return SendResult{}, err
	}
	var out struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	// Some gateway versions answer with an empty body.
	_ = json.Unmarshal(raw, &out)
	return SendResult{ProviderMessageID: out.Key.ID}, nil
}

func (p *EvolutionProvider) FetchMedia(ctx context.Context, in FetchMediaRequest) (Media, error) {
	if strings.TrimSpace(in.MessageID) == "" {
		return Media{}, errors.New("messaging: message id is required")
	}
	key := map[string]any{"id": in.MessageID}
	if in.RemoteJID != "" {
		key["remoteJid"] = in.RemoteJID
	}
	body, err := json.Marshal(map[string]any{"message": map[string]any{"key": key}, "convertToMp4": false})
	if err != nil {
		return Media{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("chat", "getBase64FromMediaMessage"), bytes.NewReader(body))
	if err != nil {
		return Media{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := p.do(req)
	if err != nil {
		return Media{}, err
	}
	var out struct {
		Base64   string `json:"base64"`
		Mimetype string `json:"mimetype"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Media{}, fmt.Errorf("messaging: decode media response: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(out.Base64)
	if err != nil {
		return Media{}, fmt.Errorf("messaging: decode media payload: %w", err)
	}
	if len(data) == 0 {
		return Media{}, errors.New("messaging: media payload is empty")
	}
	return Media{Data: data, MimeType: out.Mimetype}, nil
}

func (p *EvolutionProvider) do(req *http.Request) ([]byte, error) {
	if p.token != "" {
		req.Header.Set("apikey", p.token)
	}
	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &SendError{Provider: p.Name(), StatusCode: res.StatusCode, Body: string(buf)}
	}
	return io.ReadAll(io.LimitReader(res.Body, 64<<20))
}
