package ai

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.uber.org/zap"
)

const (
	defaultMaxTokens      = 8192
	DefaultAnthropicModel = "claude-sonnet-4-5"
)

// AnthropicProvider implements the Anthropic Claude API using the official SDK
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, model string, logger *zap.Logger) *AnthropicProvider {
	if model == "" {
		model = DefaultAnthropicModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger.With(zap.String("provider", "anthropic")),
	}
}

// ID returns the provider identifier
func (p *AnthropicProvider) ID() string {
	return "anthropic"
}

// Handshake lists models, which fails fast on a bad key or unreachable API.
func (p *AnthropicProvider) Handshake(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		return fmt.Errorf("anthropic handshake: %w", err)
	}
	return nil
}

// Stream sends a request and returns streaming events
func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(defaultMaxTokens),
		Messages:  p.buildMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if system := p.systemPrompt(req); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	p.logger.Debug("sending request",
		zap.String("model", model),
		zap.Int("messages", len(params.Messages)))

	stream := p.client.Messages.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 100)
	go p.handleStream(ctx, stream, events)

	return events, nil
}

// systemPrompt merges the request system prompt with system-role history.
func (p *AnthropicProvider) systemPrompt(req *ChatRequest) string {
	system := req.System
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem && msg.Text != "" {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text
		}
	}
	return system
}

// buildMessages converts history to Anthropic format
func (p *AnthropicProvider) buildMessages(msgs []Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, msg := range msgs {
		// Skip empty messages to avoid "text content blocks must be non-empty" error
		if msg.Text == "" {
			continue
		}
		switch msg.Role {
		case RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		case RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}
	return result
}

// handleStream processes the streaming response
func (p *AnthropicProvider) handleStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			if d, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
				if !send(ctx, events, StreamEvent{Type: EventTypeText, Text: d.Text}) {
					return
				}
			}

		case "message_stop":
			send(ctx, events, StreamEvent{Type: EventTypeDone})
			return

		case "error":
			send(ctx, events, StreamEvent{
				Type:  EventTypeError,
				Error: fmt.Errorf("stream error: %s", event.RawJSON()),
			})
			return
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("stream error", zap.Error(err))
		}
		send(ctx, events, StreamEvent{Type: EventTypeError, Error: err})
		return
	}

	send(ctx, events, StreamEvent{Type: EventTypeDone})
}
