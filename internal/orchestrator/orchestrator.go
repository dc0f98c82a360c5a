package orchestrator

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/actions"
	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/events"
	"github.com/neboloop/intentcore/internal/intent"
)

// OpenApp is the action name handed off to the UI layer as a launch event.
const OpenApp = "open_app"

const (
	DefaultTimeout       = 60 * time.Second
	DefaultMaxChainDepth = 8
)

// SessionFactory opens a model session used to parse one intent. Sessions
// implementing io.Closer are closed once parsing finishes.
type SessionFactory func(ctx context.Context, pref ai.Preference) (intent.Streamer, error)

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithParser replaces the default intent parser.
func WithParser(p *intent.Parser) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.parser = p
		}
	}
}

// WithTimeout bounds how long parsing an intent may take. Zero disables
// the deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithFailUnknown makes intents for unregistered actions fail with
// ErrUnknownAction instead of staying pending.
func WithFailUnknown(enabled bool) Option {
	return func(o *Orchestrator) {
		o.failUnknown = enabled
	}
}

// WithMaxChainDepth limits how many completions may chain into new intents.
func WithMaxChainDepth(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxChainDepth = n
		}
	}
}

// WithPreference sets the backend used when ProcessIntent gets none.
func WithPreference(pref ai.Preference) Option {
	return func(o *Orchestrator) {
		if pref != "" {
			o.preference = pref
		}
	}
}

// Orchestrator turns intents into tasks and drives them through their
// lifecycle: pending -> running -> completed | failed.
type Orchestrator struct {
	bus      *events.Bus
	registry *actions.Registry
	sessions SessionFactory
	parser   *intent.Parser
	logger   *zap.Logger

	timeout       time.Duration
	failUnknown   bool
	maxChainDepth int
	preference    ai.Preference
	now           func() time.Time

	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// New creates an Orchestrator. sessions may be nil when only direct JSON
// intents are processed.
func New(bus *events.Bus, registry *actions.Registry, sessions SessionFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:           bus,
		registry:      registry,
		sessions:      sessions,
		logger:        zap.NewNop(),
		timeout:       DefaultTimeout,
		maxChainDepth: DefaultMaxChainDepth,
		preference:    ai.Local,
		now:           time.Now,
		tasks:         make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.parser == nil {
		o.parser = intent.NewParser(intent.WithLogger(o.logger))
	}
	return o
}

// ProcessIntent parses text and dispatches the resulting task. It returns
// (nil, nil) when text holds no actionable intent. Handler failures are
// recorded on the task and reported through a fail event; only failures to
// open a model session are returned as errors.
func (o *Orchestrator) ProcessIntent(ctx context.Context, text string, pref ai.Preference) (*Task, error) {
	if depth := ChainDepth(ctx); depth > o.maxChainDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d", ErrChainTooDeep, depth, o.maxChainDepth)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if pref == "" {
		pref = o.preference
	}

	d, err := o.parse(ctx, text, pref)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	if d.Parameters == nil {
		d.Parameters = map[string]any{}
	}

	now := o.now()
	task := &Task{
		ID:         newTaskID(),
		Invocation: d.Clone(),
		Preference: pref,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.order = append(o.order, task.ID)
	o.mu.Unlock()

	o.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("action", d.Action),
		zap.Int("chain_depth", ChainDepth(ctx)))

	// the stored descriptor is never handed out; events and handlers get copies
	o.bus.Emit(ctx, events.Action(task.ID, task.Invocation.Clone()))
	o.dispatch(ctx, task.ID, task.Invocation.Clone(), pref)

	t, _ := o.GetTask(task.ID)
	return t, nil
}

func (o *Orchestrator) parse(ctx context.Context, text string, pref ai.Preference) (*intent.Descriptor, error) {
	if d := o.parser.Direct(text); d != nil {
		return d, nil
	}
	if o.sessions == nil {
		return nil, nil
	}

	parseCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		parseCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	session, err := o.sessions(parseCtx, pref)
	if err != nil {
		return nil, err
	}
	if c, ok := session.(io.Closer); ok {
		defer c.Close()
	}

	return o.parser.Parse(parseCtx, session, text, o.knownActions()), nil
}

func (o *Orchestrator) knownActions() []string {
	return append(o.registry.List(), OpenApp)
}

func (o *Orchestrator) dispatch(ctx context.Context, id string, inv intent.Descriptor, pref ai.Preference) {
	if inv.Action == OpenApp {
		v, _ := inv.Param("app")
		if app, ok := v.(string); ok {
			o.transition(id, StatusRunning, nil, nil)
			o.bus.Emit(ctx, events.Launch(id, app, inv.Parameters))
			return
		}
	}

	action, found := o.registry.Lookup(inv.Action)
	if !found {
		suggestion, _ := o.registry.Suggest(inv.Action)
		if o.failUnknown {
			err := fmt.Errorf("%w: %s", ErrUnknownAction, inv.Action)
			if suggestion != "" {
				err = fmt.Errorf("%w (did you mean %s?)", err, suggestion)
			}
			o.transition(id, StatusRunning, nil, nil)
			o.finish(ctx, id, nil, err)
			return
		}
		o.logger.Debug("no handler for action, task left pending",
			zap.String("task_id", id),
			zap.String("action", inv.Action),
			zap.String("suggestion", suggestion))
		return
	}

	o.transition(id, StatusRunning, nil, nil)
	result, err := o.invoke(withTask(ctx, id, pref), id, action, inv.Parameters)
	if err != nil {
		err = &HandlerError{TaskID: id, Action: inv.Action, Err: err}
	}
	o.finish(ctx, id, result, err)
}

func (o *Orchestrator) invoke(ctx context.Context, id string, action actions.Action, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			o.logger.Error("action handler panicked",
				zap.String("task_id", id),
				zap.String("action", action.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", stack))
			err = &PanicError{Value: r, Stack: stack}
		}
	}()
	return action.Handler(ctx, params, id)
}

// finish moves a task to its terminal state and emits the matching event.
// It reports false when the task had already finished.
func (o *Orchestrator) finish(ctx context.Context, id string, result any, err error) bool {
	if err != nil {
		if !o.transition(id, StatusFailed, nil, err) {
			return false
		}
		o.logger.Warn("task failed", zap.String("task_id", id), zap.Error(err))
		o.bus.Emit(ctx, events.Fail(id, err))
		return true
	}

	if !o.transition(id, StatusCompleted, result, nil) {
		return false
	}
	o.logger.Info("task completed", zap.String("task_id", id))
	o.bus.Emit(ctx, events.Complete(id, result))
	return true
}

// transition applies a forward status change. It reports false when the
// change would move the task backwards or out of a terminal state.
func (o *Orchestrator) transition(id string, to Status, result any, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok || t.Status.Terminal() || to.rank() <= t.Status.rank() {
		return false
	}
	t.Status = to
	t.Result = result
	t.Err = err
	t.UpdatedAt = o.now()
	return true
}

// GetTask returns a snapshot of the task with id.
func (o *Orchestrator) GetTask(id string) (*Task, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	t, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	return t.snapshot(), true
}

// Tasks returns snapshots of every task in creation order.
func (o *Orchestrator) Tasks() []*Task {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*Task, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.tasks[id].snapshot())
	}
	return out
}

// Resolve finishes a task handed off outside the orchestrator, such as an
// open_app launch. A nil err completes the task with result.
func (o *Orchestrator) Resolve(ctx context.Context, id string, result any, err error) error {
	t, ok := o.GetTask(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, t.Status)
	}

	o.transition(id, StatusRunning, nil, nil)
	if err != nil {
		err = &HandlerError{TaskID: id, Action: t.Invocation.Action, Err: err}
	}
	if !o.finish(ctx, id, result, err) {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, id)
	}
	return nil
}

// Data emits a data event for a running task.
func (o *Orchestrator) Data(ctx context.Context, id string, payload any) error {
	t, ok := o.GetTask(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != StatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrTaskNotActive, id, t.Status)
	}
	o.bus.Emit(ctx, events.Data(id, payload))
	return nil
}

func newTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
