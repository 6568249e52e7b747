package profile

import (
	"sort"
	"strings"
)

// Company is the deployment's business profile used to ground replies and route handoffs.
type Company struct {
	Name                 string            `json:"name,omitempty"`
	Description          string            `json:"description,omitempty"`
	Contacts             map[string]string `json:"contacts,omitempty"`
	PolicyText           string            `json:"policy_text,omitempty"`
	AllowedTopics        []string          `json:"allowed_topics,omitempty"`
	HandoffWebhookURL    string            `json:"-"`
	HandoffWebhookSecret string            `json:"-"`
}

// Render formats the profile for a model prompt. Webhook settings are never included.
func (c Company) Render() string {
	var b strings.Builder
	if c.Name != "" {
		b.WriteString("Nome: " + c.Name + "\n")
	}
	if c.Description != "" {
		b.WriteString("Descricao: " + c.Description + "\n")
	}
	if len(c.AllowedTopics) > 0 {
		b.WriteString("Temas permitidos: " + strings.Join(c.AllowedTopics, ", ") + "\n")
	}
	if len(c.Contacts) > 0 {
		keys := make([]string, 0, len(c.Contacts))
		for k := range c.Contacts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("Contato " + k + ": " + c.Contacts[k] + "\n")
		}
	}
	if c.PolicyText != "" {
		b.WriteString("Politica: " + c.PolicyText + "\n")
	}
	return strings.TrimSpace(b.String())
}

// AgentConfig is the tunable prompt/model for one agent key.
type AgentConfig struct {
	Key          string  `json:"agent_key"`
	SystemPrompt string  `json:"system_prompt"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// ParseTopics splits a comma-separated topic list.
func ParseTopics(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
