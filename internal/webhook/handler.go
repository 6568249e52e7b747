// Package webhook is the inbound boundary for the messaging gateway.
//
// Every well-formed request gets a small JSON status object. Payloads that
// will never parse are answered 200 "ignored" so the gateway stops retrying;
// infrastructure failures are 500 after the dedup claim is undone.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sdr-backend/internal/conversations"
	"sdr-backend/internal/dedup"
	"sdr-backend/internal/domain"
	"sdr-backend/internal/events"
	"sdr-backend/internal/jobs"
	"sdr-backend/internal/metrics"
	"sdr-backend/internal/orchestrator"
	"sdr-backend/pkg/logger"
)

const (
	SecretHeader   = "x-evolution-secret"
	RateKeyPrefix  = "evolution:webhook:rate:"
	rateWindow     = time.Minute
	maxPayloadSize = 2 << 20
)

const (
	StatusIgnored  = "ignored"
	StatusBuffered = "buffered"
	StatusAck      = "ack"
	StatusOK       = "ok"
)

type Admitter interface {
	Admit(ctx context.Context, eventID string) (dedup.Verdict, error)
	Release(ctx context.Context, eventID string) error
}

type RateCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type TextBuffer interface {
	Push(conversationID, text string, ev domain.InboundEvent) bool
}

type Processor interface {
	Process(ctx context.Context, ev domain.InboundEvent, text string) (orchestrator.Reply, error)
	HandleDocument(ctx context.Context, t orchestrator.DocumentTask) error
}

type Deps struct {
	Dedup         Admitter
	Conversations *conversations.Service
	Events        *events.Service
	Processor     Processor
	// Buffer may be nil; text is then processed synchronously.
	Buffer TextBuffer
	Jobs   jobs.Queue
	// Limiter may be nil to disable rate limiting.
	Limiter RateCounter
	Metrics *metrics.Metrics
}

type Options struct {
	// Secret, when set, must match the SecretHeader value exactly.
	Secret             string
	RateLimitPerMinute int
	// BaseContext scopes background document work; it should outlive requests.
	BaseContext context.Context
}

type Handler struct {
	deps  Deps
	opts  Options
	clock func() time.Time
	bg    sync.WaitGroup
}

func NewHandler(d Deps, o Options) *Handler {
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	return &Handler{deps: d, opts: o, clock: time.Now}
}

// Wait blocks until background document work started by this handler is done.
func (h *Handler) Wait() { h.bg.Wait() }

// Response is the body of every 200 answer.
type Response struct {
	Status         string              `json:"status"`
	Reason         string              `json:"reason,omitempty"`
	Queued         string              `json:"queued,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	MessageID      string              `json:"message_id,omitempty"`
	Reply          *orchestrator.Reply `json:"response,omitempty"`
}

func (h *Handler) Evolution(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	if h.opts.Secret != "" {
		got := c.GetHeader(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.Secret)) != 1 {
			log.Warn("invalid webhook secret", "ip", c.ClientIP())
			h.deps.Metrics.WebhookOutcome("rejected", "invalid_signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}
	}

	if h.rateLimited(ctx, log, c.ClientIP()) {
		h.deps.Metrics.WebhookOutcome("rejected", "rate_limited")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadSize))
	if err != nil {
		log.Warn("webhook body read failed", "err", err)
		h.ignore(c, ReasonJSONInvalid)
		return
	}
	ev, err := Parse(body, h.clock())
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			log.Warn("webhook payload ignored", "reason", pe.Reason, "err", pe.Err)
			h.ignore(c, pe.Reason)
			return
		}
		log.Error("webhook parse failed", "err", err)
		h.ignore(c, ReasonParseError)
		return
	}

	logger.Annotate(c, "event_id", ev.ID, "kind", string(ev.Kind))
	logger.AnnotateContact(c, ev.Sender)

	admitted := false
	if !ev.GeneratedID && h.deps.Dedup != nil {
		verdict, err := h.deps.Dedup.Admit(ctx, ev.ID)
		if err != nil {
			log.Error("dedup admit failed", "event_id", ev.ID, "err", err)
			h.fail(c)
			return
		}
		if verdict == dedup.Duplicate {
			log.Info("duplicate delivery ignored", "event_id", ev.ID, "contact", logger.MaskContact(ev.Sender))
			h.ignore(c, ReasonDuplicate)
			return
		}
		admitted = true
	}

	res, err := h.accept(ctx, log, ev)
	if err != nil {
		log.Error("webhook processing failed", "event_id", ev.ID, "contact", logger.MaskContact(ev.Sender), "err", err)
		if admitted {
			if rerr := h.deps.Dedup.Release(context.WithoutCancel(ctx), ev.ID); rerr != nil {
				log.Warn("dedup release failed", "event_id", ev.ID, "err", rerr)
			}
		}
		h.fail(c)
		return
	}
	logger.Annotate(c, "conversation_id", res.ConversationID, "outcome", res.Status)
	h.deps.Metrics.WebhookOutcome(res.Status, res.Queued)
	c.JSON(http.StatusOK, res)
}

// rateLimited fails open: a counter error never blocks intake.
func (h *Handler) rateLimited(ctx context.Context, log *slog.Logger, ip string) bool {
	if h.deps.Limiter == nil || h.opts.RateLimitPerMinute <= 0 {
		return false
	}
	if ip == "" {
		ip = "unknown"
	}
	n, err := h.deps.Limiter.IncrWindow(ctx, RateKeyPrefix+ip, rateWindow)
	if err != nil {
		log.Warn("rate limiter unavailable", "ip", ip, "err", err)
		return false
	}
	if n > int64(h.opts.RateLimitPerMinute) {
		log.Warn("rate limit exceeded", "ip", ip, "count", n)
		return true
	}
	return false
}

// accept folds an admitted event into its conversation and dispatches it.
func (h *Handler) accept(ctx context.Context, log *slog.Logger, ev domain.InboundEvent) (Response, error) {
	conv, _, err := h.deps.Conversations.EnsureActive(ctx, conversations.EnsureRequest{
		Contact:        ev.Sender,
		Channel:        ev.Channel,
		ConversationID: ev.ConversationID,
		DisplayName:    ev.DisplayName,
	})
	if err != nil {
		return Response{}, err
	}
	ev.ConversationID = conv.ID

	msg, err := h.deps.Conversations.LogMessage(ctx, conv.ID, conversations.AuthorLead, ev.Kind, logContent(ev), ev.ID)
	if err != nil {
		return Response{}, err
	}
	if err := h.deps.Conversations.Touch(ctx, conv.ID, ""); err != nil {
		return Response{}, err
	}
	h.deps.Events.RecordAgent(ctx, conv.ID, events.TypeIncomingMessage, "", msg.ID,
		map[string]any{"kind": string(ev.Kind)})

	res := Response{ConversationID: conv.ID, MessageID: msg.ID}
	switch ev.Kind {
	case domain.KindAudio:
		if h.deps.Jobs == nil {
			return Response{}, errors.New("webhook: job queue not configured")
		}
		err := h.deps.Jobs.Enqueue(ctx, jobs.Job{
			ID:             uuid.NewString(),
			Kind:           jobs.KindTranscription,
			ConversationID: conv.ID,
			MessageID:      msg.ID,
			Event:          ev,
			EnqueuedAt:     h.clock().UTC(),
		})
		if err != nil {
			return Response{}, err
		}
		log.Info("audio queued", "conversation_id", conv.ID, "message_id", msg.ID, "contact", logger.MaskContact(ev.Sender))
		res.Status, res.Queued = StatusAck, "transcription"
		return res, nil

	case domain.KindDocument:
		h.background(log, orchestrator.DocumentTask{Event: ev, ConversationID: conv.ID, MessageID: msg.ID})
		res.Status, res.Queued = StatusAck, "document_processing"
		return res, nil

	case domain.KindText:
		if h.deps.Buffer != nil && h.deps.Buffer.Push(conv.ID, ev.Text, ev) {
			h.deps.Events.RecordAgent(ctx, conv.ID, events.TypeTextBuffered, "", msg.ID, nil)
			res.Status = StatusBuffered
			return res, nil
		}
	}

	reply, err := h.deps.Processor.Process(ctx, ev, turnText(ev))
	if err != nil {
		return Response{}, err
	}
	log.Info("message processed", "conversation_id", conv.ID, "contact", logger.MaskContact(ev.Sender), "intent", string(reply.Intent))
	res.Status, res.Reply = StatusOK, &reply
	return res, nil
}

func (h *Handler) background(log *slog.Logger, t orchestrator.DocumentTask) {
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		if err := h.deps.Processor.HandleDocument(h.opts.BaseContext, t); err != nil {
			log.Error("document follow-up failed", "conversation_id", t.ConversationID, "message_id", t.MessageID, "err", err)
		}
	}()
}

func (h *Handler) ignore(c *gin.Context, reason string) {
	logger.Annotate(c, "outcome", StatusIgnored, "reason", reason)
	h.deps.Metrics.WebhookOutcome(StatusIgnored, reason)
	c.JSON(http.StatusOK, Response{Status: StatusIgnored, Reason: reason})
}

func (h *Handler) fail(c *gin.Context) {
	h.deps.Metrics.WebhookOutcome("error", "")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing_failed"})
}
