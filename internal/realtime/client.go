package realtime

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 256
)

// Client is one websocket subscriber of a StreamBus destination.
type Client struct {
	ID string
	To string

	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64
}

func newClient(parent context.Context, conn *websocket.Conn, id, to string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(parent)
	return &Client{
		ID:     id,
		To:     to,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// deliver queues msg for the peer. A slow peer loses messages rather than
// blocking the publisher.
func (c *Client) deliver(msg events.StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("stream message not encodable", zap.String("to", msg.To), zap.Error(err))
		return
	}

	select {
	case <-c.ctx.Done():
	case c.send <- data:
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			c.logger.Warn("client send buffer full, dropping", zap.String("client", c.ID), zap.Int64("dropped", n))
		}
	}
}

// Close disconnects the client.
func (c *Client) Close() {
	c.cancel()
}

// readPump discards inbound frames and returns when the peer goes away.
func (c *Client) readPump() {
	defer c.cancel()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.String("client", c.ID), zap.Error(err))
			}
			return
		}
	}
}

// writePump pumps queued messages to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
