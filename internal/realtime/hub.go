package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/events"
	"github.com/neboloop/intentcore/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || middleware.IsLocalhostOrigin(origin)
	},
}

// Hub bridges StreamBus destinations to websocket clients.
type Hub struct {
	stream *events.StreamBus
	logger *zap.Logger
	nextID atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[string]*Client
	wg      sync.WaitGroup
}

func NewHub(stream *events.StreamBus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		stream:  stream,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*Client),
	}
}

// ServeHTTP upgrades the request and streams every message published to the
// {to} destination until the peer disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	to := chi.URLParam(r, "to")
	if to == "" {
		http.Error(w, "missing destination", http.StatusBadRequest)
		return
	}
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h.ctx, conn, fmt.Sprintf("ws-%d", h.nextID.Add(1)), to, h.logger)
	h.register(c)
	defer h.unregister(c)

	unsubscribe := h.stream.Subscribe(to, c.deliver)
	defer unsubscribe()

	h.logger.Debug("stream client connected", zap.String("client", c.ID), zap.String("to", to))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()
	<-done

	h.logger.Debug("stream client disconnected", zap.String("client", c.ID), zap.String("to", to))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their handlers to return.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	h.wg.Add(1)
}

func (h *Hub) unregister(c *Client) {
	c.Close()
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	h.wg.Done()
}
