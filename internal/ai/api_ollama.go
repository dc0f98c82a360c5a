package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "qwen3:4b"
)

// OllamaProvider implements the Provider interface for Ollama (local models) using the official SDK
type OllamaProvider struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(baseURL, model string, logger *zap.Logger) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}

	httpClient := &http.Client{
		Timeout: 5 * time.Minute, // Longer timeout for local inference
	}

	return &OllamaProvider{
		client: api.NewClient(parsedURL, httpClient),
		model:  model,
		logger: logger.With(zap.String("provider", "ollama")),
	}, nil
}

// ID returns the provider identifier
func (p *OllamaProvider) ID() string {
	return "ollama"
}

// Handshake pings the local Ollama server.
func (p *OllamaProvider) Handshake(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama heartbeat: %w", err)
	}
	return nil
}

// Stream sends a request to Ollama and streams the response
func (p *OllamaProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	resultCh := make(chan StreamEvent, 100)

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	stream := true
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: p.buildMessages(req),
		Stream:   &stream,
	}

	if req.Temperature > 0 || req.MaxTokens > 0 {
		chatReq.Options = make(map[string]any)
		if req.Temperature > 0 {
			chatReq.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			chatReq.Options["num_predict"] = req.MaxTokens
		}
	}

	p.logger.Debug("sending request",
		zap.String("model", model),
		zap.Int("messages", len(chatReq.Messages)))

	go func() {
		defer close(resultCh)

		done := false
		err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				if !send(ctx, resultCh, StreamEvent{Type: EventTypeText, Text: resp.Message.Content}) {
					return ctx.Err()
				}
			}
			if resp.Done {
				done = true
			}
			return nil
		})

		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("stream error", zap.Error(err))
			}
			send(ctx, resultCh, StreamEvent{Type: EventTypeError, Error: err})
			return
		}
		if done {
			send(ctx, resultCh, StreamEvent{Type: EventTypeDone})
		}
	}()

	return resultCh, nil
}

// buildMessages converts history to Ollama format
func (p *OllamaProvider) buildMessages(req *ChatRequest) []api.Message {
	messages := make([]api.Message, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		if msg.Text == "" {
			continue
		}
		messages = append(messages, api.Message{Role: string(msg.Role), Content: msg.Text})
	}
	return messages
}
