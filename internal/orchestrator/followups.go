package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sdr-backend/internal/agents"
	"sdr-backend/internal/attachments"
	"sdr-backend/internal/conversations"
	"sdr-backend/internal/debounce"
	"sdr-backend/internal/domain"
	"sdr-backend/internal/events"
	"sdr-backend/internal/jobs"
	"sdr-backend/pkg/logger"
)

// HandleFlush is the debounce buffer's flush callback.
func (o *Orchestrator) HandleFlush(ctx context.Context, u debounce.Unit) {
	o.deps.Events.Record(ctx, u.ConversationID, events.TypeTextBufferFlushed, map[string]any{"count": u.Fragments})
	ev := u.Event
	ev.ConversationID = u.ConversationID
	ev.Text = u.Text
	if _, err := o.Process(ctx, ev, u.Text); err != nil {
		o.log.Error("buffered turn failed", "conversation_id", u.ConversationID, "fragments", u.Fragments, "err", err)
	}
}

// DocumentTask is a document received in a conversation and already logged.
type DocumentTask struct {
	Event          domain.InboundEvent
	ConversationID string
	MessageID      string
}

// HandleDocument processes a document and answers the caption's question
// about it. Lead-facing failures are answered, not returned.
func (o *Orchestrator) HandleDocument(ctx context.Context, t DocumentTask) error {
	if o.deps.Attachments == nil {
		return errors.New("orchestrator: attachments not configured")
	}
	unlock := o.locks.Lock(turnKey(t.Event.Sender, t.ConversationID))
	defer unlock()

	to := t.Event.Sender
	res, err := o.deps.Attachments.ProcessDocument(ctx, attachments.DocumentRequest{
		ConversationID: t.ConversationID,
		MessageID:      t.MessageID,
		Source:         sourceOf(t.Event),
	})
	if err != nil {
		o.log.Warn("document processing failed", "conversation_id", t.ConversationID, "err", err)
		o.deps.Events.Record(ctx, t.ConversationID, events.TypeDocumentError, map[string]any{"error": err.Error()})
		_, rerr := o.reply(ctx, t.ConversationID, to, MsgDocumentFailed, "", "", "")
		return rerr
	}

	question := strings.TrimSpace(t.Event.Caption())
	if question == "" {
		_, err := o.reply(ctx, t.ConversationID, to, MsgDocumentAsk, "", events.TypeDocumentNoQuestion, "")
		return err
	}

	company := o.company(ctx)
	decision := agents.GuardrailDecision{Allowed: true}
	if o.deps.Guardrail != nil {
		decision, err = o.deps.Guardrail.CheckDocument(ctx, question, res.Summary, company)
		if err != nil {
			o.log.Warn("document guardrail failed; declining", "conversation_id", t.ConversationID, "err", err)
			decision = agents.GuardrailDecision{Allowed: false, Reason: "guardrail_unavailable"}
		}
	}
	if !decision.Allowed {
		msg := strings.TrimSpace(decision.PolicyMessage)
		if msg == "" {
			msg = MsgDocumentDecline
		}
		o.deps.Events.RecordAgent(ctx, t.ConversationID, events.TypeDocumentBlocked, agents.KeyDocumentGuardrail, t.MessageID,
			map[string]any{"reason": decision.Reason})
		_, err := o.reply(ctx, t.ConversationID, to, msg, "", "", "")
		return err
	}

	answer := MsgAnswerFallback
	if o.deps.DocumentQA != nil {
		out, err := o.deps.DocumentQA.AnswerFromDocument(ctx, question, res.Text, company)
		if err != nil || strings.TrimSpace(out) == "" {
			o.log.Warn("document answer failed; using fallback", "conversation_id", t.ConversationID, "err", err)
		} else {
			answer = out
		}
	}
	_, err = o.reply(ctx, t.ConversationID, to, answer, conversations.StatusAnsweringQuestion, events.TypeDocumentAnswer, agents.KeyDocumentQA)
	return err
}

// HandleTranscription is the job handler for voice notes. Unusable media is
// dropped; transcription and store failures are returned for retry.
func (o *Orchestrator) HandleTranscription(ctx context.Context, j jobs.Job) error {
	if o.deps.Attachments == nil || o.deps.Transcriber == nil {
		return errors.New("orchestrator: transcription not configured")
	}
	audio, _, err := o.deps.Attachments.FetchAudio(ctx, sourceOf(j.Event))
	if err != nil {
		if errors.Is(err, attachments.ErrProcessing) {
			o.log.Warn("audio rejected", "conversation_id", j.ConversationID, "message_id", j.MessageID, "err", err)
			return nil
		}
		return err
	}

	text, err := o.deps.Transcriber.Transcribe(ctx, audio, audioFileName(j.Event))
	if err != nil {
		return fmt.Errorf("orchestrator: transcribe: %w", err)
	}
	// Retries of the same voice note reuse the transcript row.
	var key string
	if j.MessageID != "" {
		key = "transcript:" + j.MessageID
	}
	_, created, err := o.deps.Conversations.LogMessageOnce(ctx, j.ConversationID, conversations.AuthorLead, domain.KindText,
		"[transcription] "+text, key)
	if err != nil {
		return err
	}
	if created {
		o.deps.Events.Record(ctx, j.ConversationID, events.TypeTranscription, map[string]any{"chars": len(text), "message_id": j.MessageID})
	}
	o.log.Info("transcription done", "conversation_id", j.ConversationID, "contact", logger.MaskContact(j.Event.Sender),
		"attempt", j.Attempt, "transcript_logged", created)

	ev := j.Event
	ev.ConversationID = j.ConversationID
	ev.Kind = domain.KindText
	ev.Text = text
	_, err = o.Process(ctx, ev, text)
	return err
}

func sourceOf(ev domain.InboundEvent) attachments.Source {
	src := attachments.Source{Media: ev.Media, Content: ev.Text, RemoteJID: ev.Sender + "@s.whatsapp.net"}
	if !ev.GeneratedID {
		src.ProviderMessageID = ev.ID
	}
	return src
}

func audioFileName(ev domain.InboundEvent) string {
	if ev.Media != nil && ev.Media.FileName != "" {
		return ev.Media.FileName
	}
	return "audio.ogg"
}
