// Package features registers the built-in actions.
package features

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/actions"
	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/orchestrator"
)

// DataEmitter publishes incremental output for a running task.
type DataEmitter interface {
	Data(ctx context.Context, taskID string, payload any) error
}

// ChatOpener opens the conversational session used by chat.ask.
type ChatOpener func(ctx context.Context, pref ai.Preference) (*ai.Session, error)

// Deps are the collaborators the built-in actions need. Chat and Emitter
// may be nil, in which case chat.ask is not registered.
type Deps struct {
	Emitter DataEmitter
	Chat    ChatOpener
	Now     func() time.Time
	Logger  *zap.Logger
}

// Register adds system.echo, system.time and, when a chat backend is
// available, chat.ask.
func Register(reg *actions.Registry, deps Deps) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	if err := reg.RegisterNamespace("system", map[string]actions.Handler{
		"echo": echo,
		"time": clock(deps.Now),
	}); err != nil {
		return err
	}

	if deps.Chat == nil || deps.Emitter == nil {
		return nil
	}
	return reg.Register("chat.ask", ask(deps),
		"Ask the language model a question; streams the reply as data events.")
}

func echo(_ context.Context, params map[string]any, _ string) (any, error) {
	return params, nil
}

func clock(now func() time.Time) actions.Handler {
	return func(_ context.Context, params map[string]any, _ string) (any, error) {
		t := now()
		if tz, ok := params["timezone"].(string); ok && tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
			}
			t = t.In(loc)
		}
		return map[string]any{
			"time":     t.Format(time.RFC3339),
			"unix":     t.Unix(),
			"timezone": t.Location().String(),
		}, nil
	}
}

func ask(deps Deps) actions.Handler {
	return func(ctx context.Context, params map[string]any, taskID string) (any, error) {
		prompt, _ := params["prompt"].(string)
		if prompt == "" {
			prompt, _ = params["question"].(string)
		}
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			return nil, errors.New("chat.ask needs a prompt parameter")
		}

		def := orchestrator.TaskPreference(ctx)
		if def == "" {
			def = ai.Local
		}
		pref, err := ai.ParsePreference(stringParam(params, "preference"), def)
		if err != nil {
			return nil, err
		}

		session, err := deps.Chat(ctx, pref)
		if err != nil {
			return nil, err
		}
		defer session.Close()

		var reply strings.Builder
		for fragment, err := range session.SendStream(ctx, prompt) {
			if err != nil {
				return nil, err
			}
			reply.WriteString(fragment)
			if err := deps.Emitter.Data(ctx, taskID, map[string]any{"text": fragment}); err != nil {
				deps.Logger.Debug("chat fragment not emitted", zap.String("task_id", taskID), zap.Error(err))
			}
		}

		return map[string]any{
			"text":     reply.String(),
			"provider": session.Provider(),
		}, nil
	}
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}
