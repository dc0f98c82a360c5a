package router

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/events"
	"github.com/neboloop/intentcore/internal/orchestrator"
	"github.com/neboloop/intentcore/internal/types"
)

// DefaultMinInterval is the minimum spacing between data sends to one
// destination.
const DefaultMinInterval = 100 * time.Millisecond

// DataPrefix prefixes the route key used for a task's data events.
const DataPrefix = "data:"

var ErrInvalidRoute = errors.New("route needs both from and to")

// Route forwards data or chains completions from one endpoint to another.
// From is either DataPrefix+taskID for data fan-out or an action name for
// completion chaining.
type Route struct {
	From      string
	To        string
	Transform Transform
}

// DataRoute returns the route key for data events of taskID.
func DataRoute(taskID string) string {
	return DataPrefix + taskID
}

// Intents is the orchestrator surface the router drives.
type Intents interface {
	ProcessIntent(ctx context.Context, text string, pref ai.Preference) (*orchestrator.Task, error)
	GetTask(id string) (*orchestrator.Task, bool)
}

// Option configures a Router
type Option func(*Router)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMinInterval sets the per-destination throttle for data events.
func WithMinInterval(d time.Duration) Option {
	return func(r *Router) {
		if d >= 0 {
			r.minInterval = d
		}
	}
}

// WithClock replaces time.Now for throttling.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router listens to task events, fans data out on the StreamBus and chains
// completed tasks into new intents.
type Router struct {
	bus     *events.Bus
	stream  *events.StreamBus
	intents Intents
	logger  *zap.Logger

	minInterval time.Duration
	now         func() time.Time

	mu       sync.Mutex
	routes   map[string]Route
	lastSend map[string]time.Time
	subs     []events.Subscription
}

func New(bus *events.Bus, stream *events.StreamBus, intents Intents, opts ...Option) *Router {
	r := &Router{
		bus:         bus,
		stream:      stream,
		intents:     intents,
		logger:      zap.NewNop(),
		minInterval: DefaultMinInterval,
		now:         time.Now,
		routes:      make(map[string]Route),
		lastSend:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddRoute registers rt, replacing any route with the same From.
func (r *Router) AddRoute(rt Route) error {
	rt.From = strings.TrimSpace(rt.From)
	rt.To = strings.TrimSpace(rt.To)
	if rt.From == "" || rt.To == "" {
		return ErrInvalidRoute
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[rt.From] = rt
	return nil
}

// RemoveRoute deletes the route keyed by from and reports whether it existed.
func (r *Router) RemoveRoute(from string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.routes[from]
	delete(r.routes, from)
	return ok
}

// SetRoutes atomically replaces every route.
func (r *Router) SetRoutes(routes []Route) error {
	next := make(map[string]Route, len(routes))
	for _, rt := range routes {
		rt.From = strings.TrimSpace(rt.From)
		rt.To = strings.TrimSpace(rt.To)
		if rt.From == "" || rt.To == "" {
			return ErrInvalidRoute
		}
		next[rt.From] = rt
	}

	r.mu.Lock()
	r.routes = next
	r.mu.Unlock()
	return nil
}

// Routes returns the registered routes ordered by From.
func (r *Router) Routes() []Route {
	r.mu.Lock()
	out := make([]Route, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// Attach subscribes the router to data and complete events. Calling it
// again is a no-op.
func (r *Router) Attach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) > 0 {
		return
	}
	r.subs = []events.Subscription{
		r.bus.On(events.KindData, r.onData),
		r.bus.On(events.KindComplete, r.onComplete),
	}
}

// Detach removes the router's subscriptions.
func (r *Router) Detach() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		r.bus.Off(sub)
	}
}

func (r *Router) lookup(from string) (Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routes[from]
	return rt, ok
}

// allow records a send to dest unless one happened within minInterval.
func (r *Router) allow(dest string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.lastSend[dest]; ok && now.Sub(last) < r.minInterval {
		return false
	}
	r.lastSend[dest] = now
	return true
}

func (r *Router) onData(_ context.Context, evt events.Event) error {
	rt, ok := r.lookup(DataRoute(evt.TaskID))
	if !ok {
		return nil
	}
	if !r.allow(rt.To) {
		r.logger.Debug("data dropped by throttle",
			zap.String("task_id", evt.TaskID),
			zap.String("to", rt.To))
		return nil
	}

	payload := evt.Payload
	if rt.Transform != nil {
		payload = rt.Transform(payload)
	}
	n := r.stream.Publish(events.StreamMessage{From: rt.From, To: rt.To, Payload: payload})
	r.logger.Debug("data routed",
		zap.String("task_id", evt.TaskID),
		zap.String("to", rt.To),
		zap.Int("subscribers", n))
	return nil
}

func (r *Router) onComplete(ctx context.Context, evt events.Event) error {
	task, ok := r.intents.GetTask(evt.TaskID)
	if !ok {
		return nil
	}
	rt, ok := r.lookup(task.Invocation.Action)
	if !ok {
		return nil
	}

	result := evt.Result
	if rt.Transform != nil {
		result = rt.Transform(result)
	}
	next := types.Invocation{Action: rt.To, Parameters: parameters(result)}

	ctx = orchestrator.WithChainDepth(ctx, orchestrator.ChainDepth(ctx)+1)
	chained, err := r.intents.ProcessIntent(ctx, next.String(), task.Preference)
	if err != nil {
		if errors.Is(err, orchestrator.ErrChainTooDeep) {
			r.logger.Warn("completion chain dropped",
				zap.String("task_id", evt.TaskID),
				zap.String("from", rt.From),
				zap.String("to", rt.To),
				zap.Error(err))
			return nil
		}
		return err
	}

	if chained != nil {
		r.logger.Info("completion chained",
			zap.String("task_id", evt.TaskID),
			zap.String("next_task_id", chained.ID),
			zap.String("to", rt.To))
	}
	return nil
}
