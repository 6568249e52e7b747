package messaging

import (
	"context"
	"errors"
	"log/slog"

	"sdr-backend/pkg/logger"
)

// LogProvider writes outbound messages to the log instead of delivering them.
// It backs local runs without a gateway.
type LogProvider struct {
	log *slog.Logger
}

func NewLogProvider(log *slog.Logger) *LogProvider {
	if log == nil {
		log = slog.Default()
	}
	return &LogProvider{log: log}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) HealthCheck(context.Context) error { return nil }

func (p *LogProvider) SendText(_ context.Context, in SendTextRequest) (SendResult, error) {
	p.log.Info("outbound message (not delivered)", "to", logger.MaskContact(in.To), "chars", len(in.Text))
	return SendResult{}, nil
}

func (p *LogProvider) FetchMedia(context.Context, FetchMediaRequest) (Media, error) {
	return Media{}, errors.New("messaging: log provider cannot fetch media")
}
