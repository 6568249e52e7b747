package attachments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"sdr-backend/internal/domain"
	"sdr-backend/internal/messaging"
)

// MediaFetcher resolves media by provider message id when no URL is usable.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, req messaging.FetchMediaRequest) (messaging.Media, error)
}

// Source locates inbound media.
type Source struct {
	// ProviderMessageID is the gateway's id for the inbound message.
	ProviderMessageID string
	RemoteJID         string
	Media             *domain.Media
	// Content is the message text, which some gateways set to the media URL.
	Content string
}

type DocumentRequest struct {
	ConversationID string
	// MessageID is the logged lead message the document belongs to.
	MessageID string
	Source    Source
}

type Service struct {
	fetcher  *Fetcher
	media    MediaFetcher
	repo     Repository
	docMax   int64
	audioMax int64
	clock    func() time.Time
}

func NewService(fetcher *Fetcher, media MediaFetcher, repo Repository, docMax, audioMax int64) *Service {
	return &Service{fetcher: fetcher, media: media, repo: repo, docMax: docMax, audioMax: audioMax, clock: time.Now}
}

func (s *Service) load(ctx context.Context, src Source, maxBytes int64) ([]byte, string, error) {
	var candidates []string
	if src.Media != nil && src.Media.URL != "" {
		candidates = append(candidates, src.Media.URL)
	}
	if strings.HasPrefix(src.Content, "http") {
		candidates = append(candidates, src.Content)
	}
	var lastErr error
	for _, u := range candidates {
		data, ct, err := s.fetcher.Download(ctx, u, maxBytes)
		if err == nil {
			return data, ct, nil
		}
		lastErr = err
	}

	if src.Media != nil && src.Media.MediaKey != "" && src.ProviderMessageID != "" && s.media != nil {
		m, err := s.media.FetchMedia(ctx, messaging.FetchMediaRequest{MessageID: src.ProviderMessageID, RemoteJID: src.RemoteJID})
		if err != nil {
			return nil, "", fmt.Errorf("%w: resolve media: %v", ErrProcessing, err)
		}
		if maxBytes > 0 && int64(len(m.Data)) > maxBytes {
			return nil, "", processingError("too_large")
		}
		return m.Data, m.MimeType, nil
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", processingError("media_unavailable")
}

// FetchAudio downloads a voice note within the audio size cap.
func (s *Service) FetchAudio(ctx context.Context, src Source) ([]byte, string, error) {
	return s.load(ctx, src, s.audioMax)
}

// ProcessDocument downloads, fingerprints, extracts and persists a document.
func (s *Service) ProcessDocument(ctx context.Context, req DocumentRequest) (Result, error) {
	data, contentType, err := s.load(ctx, req.Source, s.docMax)
	if err != nil {
		return Result{}, err
	}
	declared, fileName := "", ""
	if m := req.Source.Media; m != nil {
		declared, fileName = m.MimeType, m.FileName
	}
	mimeType := DetectMime(declared, contentType, data)
	if !allowedDocuments[mimeType] {
		return Result{}, processingError("unsupported_mime_type:" + mimeType)
	}

	digest := sha256.Sum256(data)
	now := s.clock().UTC()
	att := Attachment{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		MimeType:       mimeType,
		Ext:            extension(fileName, mimeType),
		SizeBytes:      int64(len(data)),
		SHA256:         hex.EncodeToString(digest[:]),
		Status:         "extracted",
		CreatedAt:      now,
	}

	text, meta, extractErr := Extract(data, mimeType)
	var ext *Extraction
	if extractErr != nil {
		att.Status = "failed"
	} else {
		ext = &Extraction{
			ID:           uuid.NewString(),
			AttachmentID: att.ID,
			Text:         text,
			Metadata:     meta,
			TokensEst:    len(strings.Fields(text)),
			CreatedAt:    now,
		}
	}
	if s.repo != nil {
		if err := s.repo.SaveProcessed(ctx, att, ext); err != nil {
			return Result{}, errors.Join(processingError("persist_failed"), err)
		}
	}
	if extractErr != nil {
		return Result{}, extractErr
	}
	return Result{AttachmentID: att.ID, Text: text, Metadata: meta, Summary: Summarize(text)}, nil
}

func extension(fileName, mimeType string) string {
	if ext := filepath.Ext(fileName); ext != "" {
		return strings.ToLower(ext)
	}
	switch mimeType {
	case MimePDF:
		return ".pdf"
	case MimeDOCX:
		return ".docx"
	case MimeDOC:
		return ".doc"
	case MimeText:
		return ".txt"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
