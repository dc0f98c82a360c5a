package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handler is called for every event of the kind it was registered for.
// A returned error is logged; it never stops delivery to later handlers.
type Handler func(context.Context, Event) error

// Option configures a Bus
type Option func(*busConfig)

type busConfig struct {
	logger       *zap.Logger
	dispatchLoop bool
	bufferSize   int
	emitTimeout  time.Duration
}

// WithLogger sets a structured logger for handler failures
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *busConfig) {
		cfg.logger = logger
	}
}

// WithDispatchLoop moves delivery off the emitting goroutine onto a single
// dispatch goroutine fed by a buffered channel. Handlers still run one at a
// time in registration order, and events keep their emission order.
func WithDispatchLoop(bufferSize int) Option {
	return func(cfg *busConfig) {
		cfg.dispatchLoop = true
		if bufferSize > 0 {
			cfg.bufferSize = bufferSize
		}
	}
}

// Subscription identifies a registered handler.
type Subscription struct {
	ID          string
	Kind        Kind
	Unsubscribe func()
}

type queued struct {
	ctx context.Context
	evt Event
}

// Bus is a publish/subscribe hub for task lifecycle events. By default
// Emit invokes every handler synchronously, in registration order, on the
// caller's goroutine.
type Bus struct {
	handlers *table[Kind, Handler]
	nextID   atomic.Int64
	config   busConfig

	queue    chan queued
	shutdown chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// NewBus creates a Bus with optional configuration.
func NewBus(opts ...Option) *Bus {
	cfg := busConfig{
		bufferSize:  512,
		emitTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	b := &Bus{
		handlers: newTable[Kind, Handler](),
		config:   cfg,
		shutdown: make(chan struct{}),
	}

	if cfg.dispatchLoop {
		b.queue = make(chan queued, cfg.bufferSize)
		b.wg.Add(1)
		go b.dispatchLoop()
	}
	return b
}

// On registers h for kind. Handlers for the same kind run in the order they
// were registered.
func (b *Bus) On(kind Kind, h Handler) Subscription {
	id := fmt.Sprintf("%s-%d", kind, b.nextID.Add(1))
	b.handlers.add(kind, entry[Handler]{id: id, handler: h})

	sub := Subscription{ID: id, Kind: kind}
	sub.Unsubscribe = func() {
		b.handlers.remove(kind, id)
	}
	return sub
}

// Off removes a subscription. It reports whether the handler was registered.
func (b *Bus) Off(sub Subscription) bool {
	return b.handlers.remove(sub.Kind, sub.ID)
}

// Subscribers returns the number of handlers registered for kind.
func (b *Bus) Subscribers(kind Kind) int {
	return b.handlers.count(kind)
}

// Emit delivers evt to every handler registered for evt.Kind. It never
// panics and never returns an error: failing handlers are logged and
// skipped.
func (b *Bus) Emit(ctx context.Context, evt Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !b.config.dispatchLoop {
		b.deliver(ctx, evt)
		return
	}

	if b.closed.Load() {
		b.config.logger.Warn("event dropped, bus closed",
			zap.String("kind", string(evt.Kind)),
			zap.String("task_id", evt.TaskID))
		return
	}

	select {
	case b.queue <- queued{ctx: ctx, evt: evt}:
	case <-b.shutdown:
	case <-time.After(b.config.emitTimeout):
		b.config.logger.Error("event dropped, dispatch queue full",
			zap.String("kind", string(evt.Kind)),
			zap.String("task_id", evt.TaskID))
	}
}

// Close stops the dispatch loop, if any. It is idempotent.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.shutdown)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.config.logger.Warn("timed out waiting for dispatch loop")
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.shutdown:
			return
		case q := <-b.queue:
			b.deliver(q.ctx, q.evt)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, evt Event) {
	for _, e := range b.handlers.snapshot(evt.Kind) {
		if err := b.invoke(ctx, e, evt); err != nil {
			b.config.logger.Warn("event handler error",
				zap.String("kind", string(evt.Kind)),
				zap.String("task_id", evt.TaskID),
				zap.String("subscription_id", e.id),
				zap.Error(err))
		}
	}
}

func (b *Bus) invoke(ctx context.Context, e entry[Handler], evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return e.handler(ctx, evt)
}
