// Package orchestrator turns one lead turn into a reply: it classifies
// intent, picks the response, delivers it and records the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"sdr-backend/internal/agents"
	"sdr-backend/internal/attachments"
	"sdr-backend/internal/conversations"
	"sdr-backend/internal/domain"
	"sdr-backend/internal/events"
	"sdr-backend/internal/messaging"
	"sdr-backend/internal/profile"
	"sdr-backend/pkg/logger"
)

// Lead-facing fixed replies.
const (
	MsgQualifier       = "Posso seguir com algumas perguntas rapidas?"
	MsgClosing         = "Tudo bem, obrigado pelo retorno. Se mudar de ideia, e so chamar."
	MsgNoise           = "Nao captei bem. Prefere saber sobre preco, plantas ou localizacao?"
	MsgAnswerFallback  = "Vou confirmar essa informacao e ja te retorno. Prefere que eu continue por aqui?"
	MsgDocumentFailed  = "Nao consegui abrir o documento. Pode reenviar em PDF (ate 15MB) ou em formato DOCX?"
	MsgDocumentAsk     = "Recebi o documento! Me conta qual duvida devo analisar nele."
	MsgDocumentDecline = "Consigo ajudar apenas com assuntos relacionados aos nossos empreendimentos."
)

type CompanySource interface {
	Company(ctx context.Context) (profile.Company, error)
}

// Deps are the orchestrator's collaborators. Classifier and Answers may be
// nil; the fallback intent rule and MsgAnswerFallback are used instead.
type Deps struct {
	Conversations *conversations.Service
	Provider      messaging.Provider
	Events        *events.Service
	Classifier    agents.IntentClassifier
	Answers       agents.AnswerGenerator
	Guardrail     agents.Guardrail
	DocumentQA    agents.DocumentQA
	Companies     CompanySource
	Attachments   *attachments.Service
	Transcriber   agents.Transcriber
	Log           *slog.Logger
}

type Orchestrator struct {
	deps  Deps
	log   *slog.Logger
	locks *keyedMutex
}

func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{deps: d, log: log, locks: newKeyedMutex()}
}

// Reply describes what was said back to the lead.
type Reply struct {
	Intent         agents.Intent `json:"intent"`
	Answer         string        `json:"answer"`
	ConversationID string        `json:"conversation_id"`
	Delivered      bool          `json:"delivered"`
}

type route struct {
	status   conversations.Status
	event    events.Type
	agentKey string
}

var routes = map[agents.Intent]route{
	agents.IntentQuestion: {conversations.StatusAnsweringQuestion, events.TypeAnswerSent, agents.KeyQA},
	agents.IntentFollow:   {conversations.StatusQualifying, events.TypeQualifierPrompt, ""},
	agents.IntentEnd:      {conversations.StatusEnded, events.TypeClosed, ""},
	agents.IntentNoise:    {conversations.StatusAwaitingReply, events.TypeNoise, ""},
}

// Process handles one unit of lead text. Turns of the same lead are
// serialized, and the conversation is resolved inside that critical section
// so a turn queued behind a closing turn lands in a fresh conversation.
func (o *Orchestrator) Process(ctx context.Context, ev domain.InboundEvent, text string) (Reply, error) {
	unlock := o.locks.Lock(turnKey(ev.Sender, ev.ConversationID))
	defer unlock()

	conv, _, err := o.deps.Conversations.EnsureActive(ctx, conversations.EnsureRequest{
		Contact:        ev.Sender,
		Channel:        ev.Channel,
		ConversationID: ev.ConversationID,
		DisplayName:    ev.DisplayName,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("orchestrator: resolve conversation: %w", err)
	}

	text = strings.TrimSpace(text)
	intent := o.classify(ctx, conv.ID, text)
	o.deps.Events.RecordAgent(ctx, conv.ID, events.TypeIntentDetected, agents.KeyIntention, "",
		map[string]any{"label": string(intent)})

	var answer string
	switch intent {
	case agents.IntentQuestion:
		answer = o.answer(ctx, conv.ID, text)
	case agents.IntentFollow:
		answer = MsgQualifier
	case agents.IntentEnd:
		answer = MsgClosing
	default:
		intent = agents.IntentNoise
		answer = MsgNoise
	}

	r := routes[intent]
	delivered, err := o.reply(ctx, conv.ID, ev.Sender, answer, r.status, r.event, r.agentKey)
	if err != nil {
		return Reply{}, err
	}
	o.log.Info("turn processed",
		"conversation_id", conv.ID,
		"contact", logger.MaskContact(ev.Sender),
		"intent", string(intent),
		"delivered", delivered,
	)
	return Reply{Intent: intent, Answer: answer, ConversationID: conv.ID, Delivered: delivered}, nil
}

func (o *Orchestrator) classify(ctx context.Context, conversationID, text string) agents.Intent {
	if o.deps.Classifier == nil {
		return agents.FallbackIntent(text)
	}
	c, err := o.deps.Classifier.DetectIntent(ctx, text)
	if err != nil {
		o.log.Warn("intent classification failed; using fallback", "conversation_id", conversationID, "err", err)
		return agents.FallbackIntent(text)
	}
	return c.Intent
}

func (o *Orchestrator) answer(ctx context.Context, conversationID, text string) string {
	if o.deps.Answers == nil {
		return MsgAnswerFallback
	}
	out, err := o.deps.Answers.GenerateAnswer(ctx, text)
	if err != nil || strings.TrimSpace(out) == "" {
		o.log.Warn("answer generation failed; using fallback", "conversation_id", conversationID, "err", err)
		return MsgAnswerFallback
	}
	return out
}

// reply delivers text, logs it as an agent message whatever the delivery
// outcome, and bumps the conversation. Only store failures are returned.
func (o *Orchestrator) reply(ctx context.Context, conversationID, to, text string, status conversations.Status, evType events.Type, agentKey string) (bool, error) {
	delivered := true
	if _, err := o.deps.Provider.SendText(ctx, messaging.SendTextRequest{To: to, Text: text}); err != nil {
		delivered = false
		o.log.Warn("reply delivery failed", "conversation_id", conversationID, "contact", logger.MaskContact(to), "err", err)
		reason := "send_failed"
		var se *messaging.SendError
		if errors.As(err, &se) {
			reason = fmt.Sprintf("status_%d", se.StatusCode)
		}
		o.deps.Events.Record(ctx, conversationID, events.TypeSendError, map[string]any{"reason": reason})
	}

	msg, err := o.deps.Conversations.LogMessage(ctx, conversationID, conversations.AuthorAgent, domain.KindText, text, "")
	if err != nil {
		return delivered, fmt.Errorf("orchestrator: log reply: %w", err)
	}
	if err := o.deps.Conversations.Touch(ctx, conversationID, status); err != nil {
		return delivered, fmt.Errorf("orchestrator: touch: %w", err)
	}
	if evType != "" {
		o.deps.Events.RecordAgent(ctx, conversationID, evType, agentKey, msg.ID, map[string]any{"delivered": delivered})
	}
	return delivered, nil
}

// turnKey serializes per lead. A lead has at most one open conversation, so
// this also serializes per conversation.
func turnKey(contact, conversationID string) string {
	if c := strings.TrimSpace(contact); c != "" {
		return "lead:" + c
	}
	return "conv:" + conversationID
}

func (o *Orchestrator) company(ctx context.Context) string {
	if o.deps.Companies == nil {
		return ""
	}
	c, err := o.deps.Companies.Company(ctx)
	if err != nil {
		o.log.Warn("company profile unavailable", "err", err)
		return ""
	}
	return c.Render()
}
