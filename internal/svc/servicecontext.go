package svc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/actions"
	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/config"
	"github.com/neboloop/intentcore/internal/events"
	"github.com/neboloop/intentcore/internal/features"
	"github.com/neboloop/intentcore/internal/intent"
	"github.com/neboloop/intentcore/internal/logging"
	"github.com/neboloop/intentcore/internal/orchestrator"
	"github.com/neboloop/intentcore/internal/router"
	"github.com/neboloop/intentcore/internal/scheduler"
	"github.com/neboloop/intentcore/internal/store"
)

// Option customises NewServiceContext
type Option func(*options)

type options struct {
	backend   ai.Provider
	logger    *zap.Logger
	skipStore bool
	version   string
}

// WithBackend makes every session use p instead of the configured backend.
func WithBackend(p ai.Provider) Option {
	return func(o *options) { o.backend = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithoutStore keeps conversations in memory only.
func WithoutStore() Option {
	return func(o *options) { o.skipStore = true }
}

func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// ServiceContext wires the orchestration core together.
type ServiceContext struct {
	Version string
	Logger  *zap.Logger

	Store        *store.Store // nil when running without persistence
	Bus          *events.Bus
	Stream       *events.StreamBus
	Registry     *actions.Registry
	Orchestrator *orchestrator.Orchestrator
	Router       *router.Router
	Scheduler    *scheduler.Scheduler

	mu      sync.RWMutex
	config  *config.Config
	backend ai.Provider
}

// NewServiceContext builds every component from cfg. Close releases them.
func NewServiceContext(ctx context.Context, cfg *config.Config, opts ...Option) (*ServiceContext, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.L()
	}

	svcCtx := &ServiceContext{
		Version: o.version,
		Logger:  o.logger,
		config:  cfg,
		backend: o.backend,
	}

	if !o.skipStore {
		st, err := store.Open(ctx, cfg.DBPath(), o.logger.Named("store"))
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		svcCtx.Store = st
	}

	pref, err := ai.ParsePreference(cfg.Backend.Preference, ai.Local)
	if err != nil {
		svcCtx.Close()
		return nil, err
	}

	busOpts := []events.Option{events.WithLogger(o.logger.Named("events"))}
	if cfg.Events.DispatchLoop {
		busOpts = append(busOpts, events.WithDispatchLoop(cfg.Events.BufferSize))
	}
	svcCtx.Bus = events.NewBus(busOpts...)
	svcCtx.Stream = events.NewStreamBus(o.logger.Named("stream"))
	svcCtx.Registry = actions.NewRegistry(o.logger.Named("actions"))

	orchLogger := o.logger.Named("orchestrator")
	svcCtx.Orchestrator = orchestrator.New(svcCtx.Bus, svcCtx.Registry, svcCtx.parseSession,
		orchestrator.WithLogger(orchLogger),
		orchestrator.WithParser(intent.NewParser(
			intent.WithLogger(o.logger.Named("intent")),
			intent.WithDirectJSON(cfg.Intent.DirectJSON),
		)),
		orchestrator.WithTimeout(cfg.Intent.Timeout),
		orchestrator.WithFailUnknown(cfg.Orchestrator.FailUnknown),
		orchestrator.WithMaxChainDepth(cfg.Orchestrator.MaxChainDepth),
		orchestrator.WithPreference(pref),
	)

	if err := features.Register(svcCtx.Registry, features.Deps{
		Emitter: svcCtx.Orchestrator,
		Chat:    svcCtx.ChatSession,
		Logger:  o.logger.Named("features"),
	}); err != nil {
		svcCtx.Close()
		return nil, err
	}

	svcCtx.Router = router.New(svcCtx.Bus, svcCtx.Stream, svcCtx.Orchestrator,
		router.WithLogger(o.logger.Named("router")),
		router.WithMinInterval(cfg.Router.MinInterval),
	)
	svcCtx.Router.Attach()

	if svcCtx.Store != nil {
		svcCtx.Bus.On(events.KindFail, svcCtx.recordFailure)
	}

	svcCtx.Scheduler = scheduler.New(svcCtx.Orchestrator, o.logger.Named("scheduler"))

	if err := svcCtx.Apply(cfg); err != nil {
		svcCtx.Close()
		return nil, err
	}
	return svcCtx, nil
}

// Config returns the active configuration.
func (s *ServiceContext) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Apply installs the routes and schedules declared in cfg. Other settings
// take effect on restart.
func (s *ServiceContext) Apply(cfg *config.Config) error {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	routes := make([]router.Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		rt := router.Route{From: rc.From, To: rc.To}
		if len(rc.Pick) > 0 {
			rt.Transform = router.Pick(rc.Pick...)
		}
		routes = append(routes, rt)
	}
	routeErr := s.Router.SetRoutes(routes)

	jobs := make([]scheduler.Job, 0, len(cfg.Schedules))
	var prefErrs []error
	for _, sc := range cfg.Schedules {
		pref, err := ai.ParsePreference(sc.Preference, "")
		if err != nil {
			prefErrs = append(prefErrs, fmt.Errorf("schedule %s: %w", sc.Name, err))
			continue
		}
		jobs = append(jobs, scheduler.Job{Name: sc.Name, Spec: sc.Spec, Intent: sc.Intent, Preference: pref})
	}
	schedErr := s.Scheduler.Set(jobs)

	return errors.Join(append(prefErrs, routeErr, schedErr)...)
}

// SessionOptions returns the session settings for pref from the active
// configuration.
func (s *ServiceContext) SessionOptions(pref ai.Preference) ai.Options {
	cfg := s.Config()
	opts := ai.Options{
		System:           cfg.Backend.System,
		HandshakeTimeout: cfg.Backend.HandshakeTimeout,
		Backend:          s.backend,
		Logger:           s.Logger.Named("ai"),
	}
	switch pref {
	case ai.Cloud:
		opts.Provider = cfg.Backend.Cloud.Provider
		opts.Model = cfg.Backend.Cloud.Model
		opts.APIKey = cfg.Backend.Cloud.APIKey
	default:
		opts.Provider = "ollama"
		opts.Model = cfg.Backend.Local.Model
		opts.BaseURL = cfg.Backend.Local.BaseURL
	}
	return opts
}

// parseSession opens a throwaway session for intent parsing; parse prompts
// never enter the conversation log.
func (s *ServiceContext) parseSession(ctx context.Context, pref ai.Preference) (intent.Streamer, error) {
	opts := s.SessionOptions(pref)
	opts.System = ""
	return ai.Create(ctx, pref, opts)
}

// ChatSession opens a session whose history is persisted under the
// configured chat key.
func (s *ServiceContext) ChatSession(ctx context.Context, pref ai.Preference) (*ai.Session, error) {
	opts := s.SessionOptions(pref)
	if s.Store != nil {
		opts.Log = s.Store
		opts.SessionKey = s.Config().Chat.SessionKey
	}
	return ai.Create(ctx, pref, opts)
}

// recordFailure persists failed tasks to the store's error log.
func (s *ServiceContext) recordFailure(ctx context.Context, evt events.Event) error {
	entry := store.ErrorLog{
		Level:   store.LevelError,
		Module:  "orchestrator",
		Message: evt.Err.Error(),
		Context: map[string]string{"task_id": evt.TaskID},
	}
	var herr *orchestrator.HandlerError
	if errors.As(evt.Err, &herr) {
		entry.Module = herr.Action
	}
	var perr *orchestrator.PanicError
	if errors.As(evt.Err, &perr) {
		entry.Level = store.LevelPanic
		entry.Stacktrace = string(perr.Stack)
	}
	// The emitting request may already be done; the record should still land
	return s.Store.LogError(context.WithoutCancel(ctx), entry)
}

// Close releases all resources
func (s *ServiceContext) Close() {
	if s.Router != nil {
		s.Router.Detach()
	}
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.Logger.Warn("failed to close store", zap.Error(err))
		}
	}
}
