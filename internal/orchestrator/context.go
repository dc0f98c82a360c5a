package orchestrator

import (
	"context"

	"github.com/neboloop/intentcore/internal/ai"
)

type ctxKey int

const (
	chainDepthKey ctxKey = iota
	taskIDKey
	preferenceKey
)

// WithChainDepth records how many completions led to the intent processed
// with ctx.
func WithChainDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, chainDepthKey, depth)
}

// ChainDepth returns the chain depth carried by ctx, zero for intents that
// came from a caller directly.
func ChainDepth(ctx context.Context) int {
	if d, ok := ctx.Value(chainDepthKey).(int); ok {
		return d
	}
	return 0
}

// TaskID returns the id of the task whose handler is running with ctx.
func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey).(string)
	return id
}

func withTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskPreference returns the backend preference of the task whose handler is
// running with ctx, or "" outside a handler.
func TaskPreference(ctx context.Context) ai.Preference {
	pref, _ := ctx.Value(preferenceKey).(ai.Preference)
	return pref
}

func withTask(ctx context.Context, id string, pref ai.Preference) context.Context {
	return context.WithValue(withTaskID(ctx, id), preferenceKey, pref)
}
