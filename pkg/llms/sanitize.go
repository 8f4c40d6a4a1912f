package llms

import (
	"fmt"
	"strings"
)

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// SanitizeMessages enforces the cloud-backend message contract: roles from
// the closed set, content coerced to string, empty non-system messages
// dropped, at least one user message present.
func SanitizeMessages(messages []Message) ([]Message, error) {
	out := make([]Message, 0, len(messages))
	hasUser := false

	for _, m := range messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if !validRoles[role] {
			role = "user"
		}
		content := strings.TrimSpace(m.Content)
		if content == "" && role != "system" {
			continue
		}
		if role == "user" {
			hasUser = true
		}
		out = append(out, Message{Role: role, Content: content})
	}

	if !hasUser {
		return nil, fmt.Errorf("message list must contain at least one user message")
	}
	return out, nil
}

// Clamp enforces hard parameter ranges: temperature [0, 2], top_p [0, 1],
// max_tokens [1, 32768].
func (p Params) Clamp() Params {
	if p.Temperature < 0 {
		p.Temperature = 0
	}
	if p.Temperature > 2 {
		p.Temperature = 2
	}
	if p.TopP < 0 {
		p.TopP = 0
	}
	if p.TopP > 1 {
		p.TopP = 1
	}
	if p.MaxTokens != 0 {
		if p.MaxTokens < 1 {
			p.MaxTokens = 1
		}
		if p.MaxTokens > 32768 {
			p.MaxTokens = 32768
		}
	}
	return p
}
