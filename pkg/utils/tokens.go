// Package utils provides token-budget helpers for composing LLM prompts
// within a settings-configured max-context-length.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens for a specific model's encoding.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

// Message is a role/content pair for chat-style token counting.
type Message struct {
	Role    string
	Content string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model, falling back to
// cl100k_base when the model has no known encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a message list, including the
// per-message role/framing overhead used by chat-style payloads.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	const tokensPerMessage = 3

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(msg.Role, nil, nil))
		total += len(tc.encoding.Encode(msg.Content, nil, nil))
	}
	total += 3 // reply priming

	return total
}

// TruncateToFit trims text from the front (oldest content first) until its
// token count fits within maxTokens. Used to bound the retrieved-document
// text against a configured max-context-length.
func (tc *TokenCounter) TruncateToFit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if tc.Count(text) <= maxTokens {
		return text
	}

	tc.mu.RLock()
	tokens := tc.encoding.Encode(text, nil, nil)
	tc.mu.RUnlock()

	if len(tokens) <= maxTokens {
		return text
	}

	kept := tokens[len(tokens)-maxTokens:]

	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.encoding.Decode(kept)
}

// FitWithinLimit selects messages, most recent first, that fit within
// maxTokens.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := []Message{}
	currentTokens := 3 // reply priming

	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.CountMessages([]Message{messages[i]})
		if currentTokens+msgTokens > maxTokens {
			break
		}
		fitted = append([]Message{messages[i]}, fitted...)
		currentTokens += msgTokens
	}

	return fitted
}

// GetModel returns the model name this counter is configured for.
func (tc *TokenCounter) GetModel() string {
	return tc.model
}

// GetEncodingForModel maps a model name to its tiktoken encoding name.
func GetEncodingForModel(model string) string {
	encodingMap := map[string]string{
		"gpt-4":         "cl100k_base",
		"gpt-4-turbo":   "cl100k_base",
		"gpt-4o":        "o200k_base",
		"gpt-4o-mini":   "o200k_base",
		"gpt-3.5-turbo": "cl100k_base",
		"claude":        "cl100k_base",
		"claude-3":      "cl100k_base",
		"gemini":        "cl100k_base",
	}

	if encoding, exists := encodingMap[model]; exists {
		return encoding
	}

	for modelPrefix, encoding := range encodingMap {
		if len(model) >= len(modelPrefix) && model[:len(modelPrefix)] == modelPrefix {
			return encoding
		}
	}

	return "cl100k_base"
}
