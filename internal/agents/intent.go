package agents

import "strings"

// Intent is the closed set of lead intents the pipeline routes on.
type Intent string

const (
	IntentFollow   Intent = "seguir"
	IntentEnd      Intent = "encerrar"
	IntentQuestion Intent = "pergunta"
	IntentNoise    Intent = "ruido"
)

// Classification is a classifier verdict.
type Classification struct {
	Intent    Intent `json:"label"`
	Rationale string `json:"rationale,omitempty"`
}

// ParseIntent maps a raw classifier label onto Intent. Unrecognized labels
// fall back to FallbackIntent(text).
func ParseIntent(label, text string) Intent {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case string(IntentFollow):
		return IntentFollow
	case string(IntentEnd):
		return IntentEnd
	case string(IntentQuestion):
		return IntentQuestion
	case string(IntentNoise):
		return IntentNoise
	default:
		return FallbackIntent(text)
	}
}

// FallbackIntent: a question mark means a question, anything else continues.
func FallbackIntent(text string) Intent {
	if strings.Contains(text, "?") {
		return IntentQuestion
	}
	return IntentFollow
}
