package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"strings"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/types"
)

// Descriptor is the parsed {action, parameters} object.
type Descriptor = types.Invocation

// Streamer is the part of a model session the parser needs.
type Streamer interface {
	SendStream(ctx context.Context, message string) iter.Seq2[string, error]
}

// Option configures a Parser
type Option func(*Parser)

// WithLogger sets the logger used for parse failures
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDirectJSON controls whether text that already is a descriptor object
// skips the model round-trip. Enabled by default.
func WithDirectJSON(enabled bool) Option {
	return func(p *Parser) {
		p.directJSON = enabled
	}
}

// Parser turns free-form commands into descriptors using a model session.
type Parser struct {
	logger     *zap.Logger
	directJSON bool
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		logger:     zap.NewNop(),
		directJSON: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse resolves text to a descriptor. It returns nil when no actionable
// intent could be extracted, including backend errors and cancellation.
func (p *Parser) Parse(ctx context.Context, s Streamer, text string, known []string) *Descriptor {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if d := p.Direct(text); d != nil {
		p.logger.Debug("direct intent", zap.String("action", d.Action))
		return d
	}

	if s == nil {
		p.logger.Debug("no model session for intent", zap.String("text", text))
		return nil
	}

	var reply strings.Builder
	for fragment, err := range s.SendStream(ctx, Prompt(text, known)) {
		if err != nil {
			p.logger.Debug("intent stream failed", zap.Error(err))
			return nil
		}
		reply.WriteString(fragment)
	}

	d := Extract(reply.String())
	if d == nil {
		p.logger.Debug("no intent in reply",
			zap.String("text", text),
			zap.Int("reply_len", reply.Len()))
	}
	return d
}

// Direct returns the descriptor when text is itself a descriptor object and
// direct intents are enabled.
func (p *Parser) Direct(text string) *Descriptor {
	text = strings.TrimSpace(text)
	if !p.directJSON || !strings.HasPrefix(text, "{") {
		return nil
	}
	return Extract(text)
}

// Prompt builds the instruction sent to the model for text.
func Prompt(text string, known []string) string {
	var sb strings.Builder
	sb.WriteString("You translate user commands into a single JSON object.\n")
	sb.WriteString(`Respond with exactly one object of the form {"action": "<name>", "parameters": {...}} and nothing else.`)
	sb.WriteString("\n")
	if len(known) > 0 {
		sb.WriteString("Known actions: ")
		sb.WriteString(strings.Join(known, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString(`If the command asks to open an application, use {"action": "open_app", "parameters": {"app": "<name>"}}.`)
	sb.WriteString("\n")
	sb.WriteString("Command: ")
	sb.WriteString(text)
	return sb.String()
}

// Extract decodes the first JSON object in reply, starting at the first '{'.
// Comments and trailing commas are tolerated; prose around the object is
// ignored. The action must be a non-empty string and parameters, when
// present, an object.
func Extract(reply string) *Descriptor {
	start := strings.IndexByte(reply, '{')
	if start < 0 {
		return nil
	}

	var raw struct {
		Action     *string        `json:"action"`
		Parameters map[string]any `json:"parameters"`
	}
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(reply[start:]))))
	if err := dec.Decode(&raw); err != nil {
		return nil
	}
	if raw.Action == nil {
		return nil
	}
	action := strings.TrimSpace(*raw.Action)
	if action == "" {
		return nil
	}
	if raw.Parameters == nil {
		raw.Parameters = map[string]any{}
	}
	return &Descriptor{Action: action, Parameters: raw.Parameters}
}
