// Package utils holds small shared helpers; today that is token
// counting for prompt budgets.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with the tiktoken encoding for one model.
// Local models are approximated with the cl100k_base encoding, which is
// close enough for budget decisions.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// Message is the role/content pair CountMessages prices.
type Message struct {
	Role    string
	Content string
}

// Encodings are expensive to build; share them across counters.
var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.Mutex
)

func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	encoding, ok := encodingCache[model]
	if !ok {
		var err error
		encoding, err = tiktoken.EncodingForModel(model)
		if err != nil {
			encoding, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				return nil, fmt.Errorf("failed to get encoding: %w", err)
			}
		}
		encodingCache[model] = encoding
	}
	return &TokenCounter{encoding: encoding, model: model}, nil
}

func (tc *TokenCounter) Model() string { return tc.model }

// Count returns the token count for raw text.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages prices a message list including per-message framing
// overhead and the assistant reply priming.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	const tokensPerMessage = 3

	total := 3 // reply priming
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(msg.Role, nil, nil))
		total += len(tc.encoding.Encode(msg.Content, nil, nil))
	}
	return total
}

// FitWithinLimit keeps the most recent messages that fit the budget,
// preserving order.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	fitted := []Message{}
	used := 3 // reply priming

	for i := len(messages) - 1; i >= 0; i-- {
		cost := tc.CountMessages([]Message{messages[i]}) - 3
		if used+cost > maxTokens {
			break
		}
		fitted = append([]Message{messages[i]}, fitted...)
		used += cost
	}
	return fitted
}
