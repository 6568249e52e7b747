// Package agents defines the language-model collaborators used by the
// pipeline and an OpenAI-compatible implementation of all of them.
package agents

import (
	"context"
	"errors"
)

// ErrUpstream marks failures returned by the model provider.
var ErrUpstream = errors.New("agents: upstream failure")

type IntentClassifier interface {
	DetectIntent(ctx context.Context, text string) (Classification, error)
}

type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, text string) (string, error)
}

// NudgeComposer turns a tier base message into a reengagement nudge that
// fits the recent history.
type NudgeComposer interface {
	ComposeNudge(ctx context.Context, history, base string) (string, error)
}

// Summarizer writes the broker-facing handoff summary.
type Summarizer interface {
	Summarize(ctx context.Context, history, company string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// GuardrailDecision says whether a document question is within the company's topics.
type GuardrailDecision struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason"`
	PolicyMessage string `json:"policy_message"`
}

type Guardrail interface {
	CheckDocument(ctx context.Context, question, documentSummary, company string) (GuardrailDecision, error)
}

type DocumentQA interface {
	AnswerFromDocument(ctx context.Context, question, document, company string) (string, error)
}
