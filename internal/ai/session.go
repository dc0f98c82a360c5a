package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/keyring"
)

// Preference selects the kind of backend a session talks to.
type Preference string

const (
	Local Preference = "local"
	Cloud Preference = "cloud"
)

// ParsePreference accepts "local" or "cloud" (case-insensitive). An empty
// string yields def.
func ParsePreference(s string, def Preference) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "local":
		return Local, nil
	case "cloud":
		return Cloud, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

const defaultHandshakeTimeout = 10 * time.Second

// ConversationLog persists completed turns outside the process.
type ConversationLog interface {
	Load(ctx context.Context, sessionKey string) ([]Message, error)
	Append(ctx context.Context, sessionKey string, msgs ...Message) error
}

// Options configures Create.
type Options struct {
	Provider string // "ollama" for local; "anthropic", "openai" or "gemini" for cloud
	APIKey   string
	Model    string
	BaseURL  string
	System   string

	// History seeds the session. When empty and Log is set, history is
	// loaded from Log under SessionKey.
	History    []Message
	Log        ConversationLog
	SessionKey string

	HandshakeTimeout time.Duration

	// Backend, when set, is used instead of constructing a provider.
	Backend Provider
	Logger  *zap.Logger
}

var apiKeyEnv = map[string][]string{
	"anthropic": {"ANTHROPIC_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Session is a conversation with one backend. History only ever holds
// complete exchanges: a user entry followed by the full assistant reply.
type Session struct {
	backend  Preference
	provider Provider
	system   string
	model    string
	key      string
	log      ConversationLog
	logger   *zap.Logger

	mu      sync.Mutex
	history []Message
}

// Create builds a session and verifies its backend with a handshake. An
// unusable backend yields an *InitializationError.
func Create(ctx context.Context, pref Preference, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := opts.Backend
	if provider == nil {
		p, err := newProvider(ctx, pref, opts, logger)
		if err != nil {
			return nil, err
		}
		provider = p
	} else if pref != Local && pref != Cloud {
		return nil, initError(pref, provider.ID(), ErrUnknownBackend)
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	err := provider.Handshake(hctx)
	cancel()
	if err != nil {
		closeProvider(provider)
		return nil, initError(pref, provider.ID(), err)
	}

	history := append([]Message(nil), opts.History...)
	if len(history) == 0 && opts.Log != nil && opts.SessionKey != "" {
		loaded, err := opts.Log.Load(ctx, opts.SessionKey)
		if err != nil {
			closeProvider(provider)
			return nil, fmt.Errorf("load history for %q: %w", opts.SessionKey, err)
		}
		history = loaded
	}

	logger.Debug("session created",
		zap.String("backend", string(pref)),
		zap.String("provider", provider.ID()),
		zap.Int("history", len(history)))

	return &Session{
		backend:  pref,
		provider: provider,
		system:   opts.System,
		model:    opts.Model,
		key:      opts.SessionKey,
		log:      opts.Log,
		logger:   logger.With(zap.String("provider", provider.ID())),
		history:  history,
	}, nil
}

func newProvider(ctx context.Context, pref Preference, opts Options, logger *zap.Logger) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Provider))

	switch pref {
	case Local:
		if name == "" {
			name = "ollama"
		}
		if name != "ollama" {
			return nil, initError(pref, name, ErrUnknownProvider)
		}
		p, err := NewOllamaProvider(opts.BaseURL, opts.Model, logger)
		if err != nil {
			return nil, initError(pref, name, err)
		}
		return p, nil

	case Cloud:
		switch name {
		case "", "claude":
			name = "anthropic"
		case "gpt":
			name = "openai"
		case "google":
			name = "gemini"
		}
		if _, known := apiKeyEnv[name]; !known {
			return nil, initError(pref, name, ErrUnknownProvider)
		}

		key, err := resolveAPIKey(name, opts.APIKey)
		if err != nil {
			return nil, initError(pref, name, err)
		}

		switch name {
		case "anthropic":
			return NewAnthropicProvider(key, opts.Model, logger), nil
		case "openai":
			return NewOpenAIProvider(key, opts.Model, logger), nil
		default:
			p, err := NewGeminiProvider(ctx, key, opts.Model, logger)
			if err != nil {
				return nil, initError(pref, name, err)
			}
			return p, nil
		}
	}

	return nil, initError(pref, name, ErrUnknownBackend)
}

// resolveAPIKey picks the explicit key, then the provider's environment
// variables, then the OS keychain.
func resolveAPIKey(provider, explicit string) (string, error) {
	if k := strings.TrimSpace(explicit); k != "" {
		return k, nil
	}
	for _, env := range apiKeyEnv[provider] {
		if k := strings.TrimSpace(os.Getenv(env)); k != "" {
			return k, nil
		}
	}
	k, err := keyring.APIKey(provider)
	if err == nil && k != "" {
		return k, nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %v", ErrMissingAPIKey, err)
	}
	return "", ErrMissingAPIKey
}

// Backend reports whether the session is local or cloud.
func (s *Session) Backend() Preference {
	return s.backend
}

// Provider returns the backend provider id.
func (s *Session) Provider() string {
	return s.provider.ID()
}

// Key returns the conversation log key, if any.
func (s *Session) Key() string {
	return s.key
}

// History returns a copy of the completed turns.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// SendStream sends message and yields reply fragments as they arrive. The
// sequence can be ranged over once. History is updated only when the
// consumer reads through to the backend's completion signal; stopping
// early cancels the backend request and leaves history untouched. A
// backend failure is yielded as the final (empty, err) pair.
func (s *Session) SendStream(ctx context.Context, message string) iter.Seq2[string, error] {
	var used atomic.Bool

	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		events, err := s.provider.Stream(streamCtx, s.request(message))
		if err != nil {
			yield("", err)
			return
		}

		var reply strings.Builder
		for ev := range events {
			switch ev.Type {
			case EventTypeText:
				reply.WriteString(ev.Text)
				if !yield(ev.Text, nil) {
					s.logger.Debug("stream abandoned by consumer", zap.Int("received", reply.Len()))
					return
				}
			case EventTypeError:
				yield("", ev.Error)
				return
			case EventTypeDone:
				s.commit(ctx, message, reply.String())
				return
			}
		}

		err = ErrStreamIncomplete
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		yield("", err)
	}
}

// Collect sends message and returns the full reply.
func (s *Session) Collect(ctx context.Context, message string) (string, error) {
	var reply strings.Builder
	for fragment, err := range s.SendStream(ctx, message) {
		if err != nil {
			return reply.String(), err
		}
		reply.WriteString(fragment)
	}
	return reply.String(), nil
}

// Close releases provider resources.
func (s *Session) Close() error {
	if c, ok := s.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Session) request(message string) *ChatRequest {
	s.mu.Lock()
	msgs := make([]Message, 0, len(s.history)+1)
	msgs = append(msgs, s.history...)
	s.mu.Unlock()

	msgs = append(msgs, Message{Role: RoleUser, Text: message})
	return &ChatRequest{
		Messages: msgs,
		System:   s.system,
		Model:    s.model,
	}
}

func (s *Session) commit(ctx context.Context, message, reply string) {
	turn := []Message{
		{Role: RoleUser, Text: message},
		{Role: RoleAssistant, Text: reply},
	}

	s.mu.Lock()
	s.history = append(s.history, turn...)
	s.mu.Unlock()

	if s.log == nil || s.key == "" {
		return
	}
	if err := s.log.Append(context.WithoutCancel(ctx), s.key, turn...); err != nil {
		s.logger.Warn("failed to persist turn", zap.String("session", s.key), zap.Error(err))
	}
}

func closeProvider(p Provider) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}
