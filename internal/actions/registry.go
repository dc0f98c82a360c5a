package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrInvalidName = errors.New("action name must not be empty")
	ErrNilHandler  = errors.New("action handler must not be nil")
)

// Handler runs one invocation of an action. taskID identifies the task the
// orchestrator created for it.
type Handler func(ctx context.Context, params map[string]any, taskID string) (any, error)

// Action is a named, registered unit of work.
type Action struct {
	Name        string
	Handler     Handler
	Description string
}

// Description is the human-readable view of an action.
type Description struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Registry maps action names to handlers. Registering a name that already
// exists replaces the previous handler.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	logger  *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		actions: make(map[string]Action),
		logger:  logger,
	}
}

// Register adds an action. An optional description may follow the handler.
func (r *Registry) Register(name string, h Handler, description ...string) error {
	a := Action{Name: name, Handler: h}
	if len(description) > 0 {
		a.Description = strings.Join(description, " ")
	}
	return r.Add(a)
}

// Add registers a fully described action.
func (r *Registry) Add(a Action) error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return ErrInvalidName
	}
	if a.Handler == nil {
		return fmt.Errorf("%s: %w", a.Name, ErrNilHandler)
	}

	r.mu.Lock()
	_, replaced := r.actions[a.Name]
	r.actions[a.Name] = a
	r.mu.Unlock()

	if replaced {
		r.logger.Debug("action replaced", zap.String("action", a.Name))
	} else {
		r.logger.Debug("action registered", zap.String("action", a.Name))
	}
	return nil
}

// RegisterNamespace registers each handler as "prefix.name".
func (r *Registry) RegisterNamespace(prefix string, handlers map[string]Handler) error {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return ErrInvalidName
	}

	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.Register(prefix+"."+name, handlers[name]); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes an action. It reports whether the name was registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[name]; !ok {
		return false
	}
	delete(r.actions, name)
	return true
}

// Lookup returns the action registered under name. The boolean is false for
// unknown actions; callers decide what an unknown action means.
func (r *Registry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// List returns all registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns name/description pairs for all actions, sorted by name.
func (r *Registry) Describe() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Description, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, Description{Name: a.Name, Description: a.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
