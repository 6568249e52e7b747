package reengagement

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// HandoffPromptKey selects the base message for the 24h handoff nudge.
const HandoffPromptKey = "24h_handoff"

const defaultBase = "Posso ajudar em algo mais?"

// Prompts maps a tier (minutes, as a string) or HandoffPromptKey to a base message.
type Prompts map[string]string

// DefaultPrompts returns the built-in base messages.
func DefaultPrompts() Prompts {
	return Prompts{
		"30":             "Oi! Conseguiu ver minha mensagem? Posso ajudar com algo rapido?",
		"180":            "Voltei pra saber se ficou alguma duvida sobre o empreendimento. Posso te mandar plantas ou valores indicativos?",
		"360":            "Caso precise, sigo aqui. Quer que eu agende uma visita ou mande um resumo com plantas e faixa de preco?",
		HandoffPromptKey: "Nao tivemos retorno em 24h, vou te encaminhar ao corretor para um contato direto. Pode me sinalizar se preferir outro horario ou canal.",
	}
}

// LoadPrompts reads a YAML mapping and layers it over the defaults. An empty
// path returns the defaults.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reengagement: read prompts: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("reengagement: parse prompts %s: %w", path, err)
	}
	for k, v := range overrides {
		if v != "" {
			p[k] = v
		}
	}
	return p, nil
}

// ForTier returns the base message for a tier.
func (p Prompts) ForTier(minutes int) string {
	return p.get(strconv.Itoa(minutes))
}

func (p Prompts) Handoff() string { return p.get(HandoffPromptKey) }

func (p Prompts) get(key string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return defaultBase
}
