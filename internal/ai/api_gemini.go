package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider implements the Provider interface for Google Gemini
type GeminiProvider struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiProvider creates a new Gemini provider. The returned provider
// holds a client connection and must be closed.
func NewGeminiProvider(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiProvider, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		model:  model,
		logger: logger.With(zap.String("provider", "gemini")),
	}, nil
}

// ID returns the provider identifier
func (p *GeminiProvider) ID() string {
	return "gemini"
}

// Handshake fetches the first model listing entry.
func (p *GeminiProvider) Handshake(ctx context.Context) error {
	_, err := p.client.ListModels(ctx).Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("gemini handshake: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// Stream sends a request and returns streaming events
func (p *GeminiProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	if len(req.Messages) == 0 || req.Messages[len(req.Messages)-1].Role != RoleUser {
		return nil, fmt.Errorf("gemini: request must end with a user message")
	}

	name := p.model
	if req.Model != "" {
		name = req.Model
	}

	model := p.client.GenerativeModel(name)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}

	history, system := p.buildHistory(req)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	cs := model.StartChat()
	cs.History = history
	last := req.Messages[len(req.Messages)-1].Text

	p.logger.Debug("sending request",
		zap.String("model", name),
		zap.Int("messages", len(history)+1))

	iter := cs.SendMessageStream(ctx, genai.Text(last))

	events := make(chan StreamEvent, 100)
	go p.handleStream(ctx, iter, events)

	return events, nil
}

// buildHistory converts all but the final message to Gemini contents.
// System entries are folded into the system instruction.
func (p *GeminiProvider) buildHistory(req *ChatRequest) ([]*genai.Content, string) {
	system := req.System
	var history []*genai.Content
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		if msg.Text == "" {
			continue
		}
		switch msg.Role {
		case RoleUser:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Text)}})
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Text)}})
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text
		}
	}
	return history, system
}

func (p *GeminiProvider) handleStream(ctx context.Context, iter *genai.GenerateContentResponseIterator, events chan<- StreamEvent) {
	defer close(events)

	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			send(ctx, events, StreamEvent{Type: EventTypeDone})
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("stream error", zap.Error(err))
			}
			send(ctx, events, StreamEvent{Type: EventTypeError, Error: err})
			return
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if text, ok := part.(genai.Text); ok && text != "" {
					if !send(ctx, events, StreamEvent{Type: EventTypeText, Text: string(text)}) {
						return
					}
				}
			}
		}
	}
}
