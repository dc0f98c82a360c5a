package ai

import (
	"context"
	"errors"
	"strings"
)

// StreamEventType defines the type of streaming event
type StreamEventType string

const (
	EventTypeText  StreamEventType = "text"
	EventTypeError StreamEventType = "error"
	EventTypeDone  StreamEventType = "done"
)

// StreamEvent represents a streaming response event
type StreamEvent struct {
	Type  StreamEventType `json:"type"`
	Text  string          `json:"text,omitempty"`
	Error error           `json:"-"`
}

// Role of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole maps interchange roles onto Role. "model" is accepted as an
// alias for assistant.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, true
	case "assistant", "model":
		return RoleAssistant, true
	case "system":
		return RoleSystem, true
	}
	return "", false
}

// Message is one entry of a conversation history.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ChatRequest represents a request to the AI provider
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Provider is a conversational backend.
type Provider interface {
	// ID returns the provider identifier (e.g., "ollama", "anthropic")
	ID() string

	// Handshake verifies the backend is usable before a session relies on it.
	Handshake(ctx context.Context) error

	// Stream sends a request and returns a channel of streaming events. The
	// channel is closed when the reply ends or ctx is cancelled.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// ProviderError represents an error from a provider
type ProviderError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func (e *ProviderError) Error() string {
	return e.Message
}

// ClassifyErrorReason determines the category of a backend error.
// Returns: "billing", "rate_limit", "auth", "timeout", "unreachable" or "other"
func ClassifyErrorReason(err error) string {
	if err == nil {
		return "other"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return "auth"
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "rate_limit_exceeded":
			return "rate_limit"
		case "authentication_error", "invalid_api_key", "unauthorized":
			return "auth"
		case "insufficient_quota", "billing_error", "payment_required":
			return "billing"
		}
	}

	msg := strings.ToLower(err.Error())
	patterns := []struct {
		reason string
		words  []string
	}{
		{"billing", []string{"billing", "quota", "payment", "insufficient", "spending limit"}},
		{"rate_limit", []string{"rate limit", "rate_limit", "too many requests", "429", "throttl"}},
		{"auth", []string{"authentication", "unauthorized", "api key", "401", "forbidden", "403"}},
		{"timeout", []string{"timeout", "timed out", "deadline exceeded"}},
		{"unreachable", []string{"connection refused", "no such host", "network is unreachable", "eof"}},
	}
	for _, p := range patterns {
		for _, w := range p.words {
			if strings.Contains(msg, w) {
				return p.reason
			}
		}
	}
	return "other"
}

// send delivers ev unless ctx is done. It reports whether the event was
// delivered; producers stop when it returns false.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
