package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ErrProcessing marks attachment failures the lead is told about.
var ErrProcessing = errors.New("attachments: processing failed")

func processingError(reason string) error {
	return fmt.Errorf("%w: %s", ErrProcessing, reason)
}

// Fetcher downloads media over https from an optional host allow-list.
type Fetcher struct {
	client       *http.Client
	trustedHosts []string
}

// NewFetcher returns a Fetcher. A nil client gets a default that never follows redirects.
func NewFetcher(client *http.Client, trustedHosts []string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 40 * time.Second}
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &Fetcher{client: &c, trustedHosts: trustedHosts}
}

// Validate rejects non-https URLs and hosts outside the allow-list.
func (f *Fetcher) Validate(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(u.Scheme, "https") {
		return processingError("invalid_url")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return processingError("invalid_url")
	}
	if len(f.trustedHosts) > 0 && !slices.Contains(f.trustedHosts, host) {
		return processingError("host_not_allowed")
	}
	return nil
}

// Download fetches raw with a hard cap of maxBytes. It returns the body and
// the response content type.
func (f *Fetcher) Download(ctx context.Context, raw string, maxBytes int64) ([]byte, string, error) {
	if err := f.Validate(raw); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, "", processingError("invalid_url")
	}
	res, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: download: %v", ErrProcessing, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, "", processingError(fmt.Sprintf("download_status_%d", res.StatusCode))
	}
	if maxBytes > 0 && res.ContentLength > maxBytes {
		return nil, "", processingError("too_large")
	}
	body := io.Reader(res.Body)
	if maxBytes > 0 {
		body = io.LimitReader(res.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %v", ErrProcessing, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", processingError("too_large")
	}
	return data, res.Header.Get("Content-Type"), nil
}
