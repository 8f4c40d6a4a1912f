package engine

import "strings"

const defaultPersona = "core"

// selectPersona adopts the persona registered for the probe's primary
// collection, falling back to keyword matching over the prompt.
func (e *Engine) selectPersona(probe *ProbeResult, prompt string) string {
	if probe != nil && probe.PrimaryCollection != "" {
		if kb, ok := e.cfg.Knowledge[probe.PrimaryCollection]; ok && kb.Persona != "" {
			return kb.Persona
		}
	}

	lower := strings.ToLower(prompt)
	for _, kb := range e.cfg.Knowledge {
		for _, keyword := range kb.Keywords {
			if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
				if kb.Persona != "" {
					return kb.Persona
				}
			}
		}
	}
	return defaultPersona
}
