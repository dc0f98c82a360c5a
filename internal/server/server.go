package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/handler"
	"github.com/neboloop/intentcore/internal/handler/catalog"
	"github.com/neboloop/intentcore/internal/handler/tasks"
	"github.com/neboloop/intentcore/internal/middleware"
	"github.com/neboloop/intentcore/internal/realtime"
	"github.com/neboloop/intentcore/internal/svc"
)

// Options holds optional server settings
type Options struct {
	Addr     string // Listen address, defaults to the configured server.addr
	Listener net.Listener
}

// Server is the HTTP adapter over the orchestration core.
type Server struct {
	svcCtx *svc.ServiceContext
	hub    *realtime.Hub
	router chi.Router
}

// New builds the route table.
func New(svcCtx *svc.ServiceContext) *Server {
	s := &Server{
		svcCtx: svcCtx,
		hub:    realtime.NewHub(svcCtx.Stream, svcCtx.Logger.Named("realtime")),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(svcCtx.Logger.Named("http")))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", handler.HealthCheckHandler(svcCtx))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/intents", tasks.ProcessIntentHandler(svcCtx))
		r.Get("/tasks", tasks.ListTasksHandler(svcCtx))
		r.Get("/tasks/{id}", tasks.GetTaskHandler(svcCtx))
		r.Post("/tasks/{id}/resolve", tasks.ResolveTaskHandler(svcCtx))
		r.Post("/tasks/{id}/data", tasks.TaskDataHandler(svcCtx))
		r.Get("/actions", catalog.ListActionsHandler(svcCtx))
		r.Get("/schedules", catalog.ListSchedulesHandler(svcCtx))
		r.Post("/schedules/{name}/trigger", catalog.TriggerScheduleHandler(svcCtx))
		r.Get("/routes", catalog.ListRoutesHandler(svcCtx))
		r.Post("/routes", catalog.AddRouteHandler(svcCtx))
		r.Delete("/routes", catalog.RemoveRouteHandler(svcCtx))
	})

	// WebSocket fan-out of StreamBus destinations
	r.Get("/stream/{to}", s.hub.ServeHTTP)

	s.router = r
	return s
}

// Handler returns the root http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, opts Options) error {
	logger := s.svcCtx.Logger.Named("server")

	ln := opts.Listener
	if ln == nil {
		addr := opts.Addr
		if addr == "" {
			addr = s.svcCtx.Config().Server.Addr
		}
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
	}

	// ReadTimeout/WriteTimeout are omitted: they would cut hijacked websocket
	// connections. Keepalive is handled by ping/pong in realtime.
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}
