package events

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// StreamMessage is the unit published on the StreamBus. Subscribers of To
// receive it.
type StreamMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Payload any    `json:"payload"`
}

// StreamHandler receives messages addressed to the destination it
// subscribed to.
type StreamHandler func(StreamMessage)

// StreamBus fans data out to named destinations. Delivery is synchronous
// and in subscription order.
type StreamBus struct {
	subs   *table[string, StreamHandler]
	nextID atomic.Int64
	logger *zap.Logger
}

// NewStreamBus creates an empty StreamBus. A nil logger disables logging.
func NewStreamBus(logger *zap.Logger) *StreamBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamBus{
		subs:   newTable[string, StreamHandler](),
		logger: logger,
	}
}

// Subscribe registers h for messages addressed to "to". The returned func
// removes the subscription.
func (s *StreamBus) Subscribe(to string, h StreamHandler) func() {
	id := fmt.Sprintf("%s-%d", to, s.nextID.Add(1))
	s.subs.add(to, entry[StreamHandler]{id: id, handler: h})
	return func() {
		s.subs.remove(to, id)
	}
}

// Publish delivers msg to every subscriber of msg.To and returns how many
// received it.
func (s *StreamBus) Publish(msg StreamMessage) int {
	delivered := 0
	for _, e := range s.subs.snapshot(msg.To) {
		if s.call(e, msg) {
			delivered++
		}
	}
	return delivered
}

// Subscribers returns the number of handlers listening on to.
func (s *StreamBus) Subscribers(to string) int {
	return s.subs.count(to)
}

func (s *StreamBus) call(e entry[StreamHandler], msg StreamMessage) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("stream subscriber panic",
				zap.String("from", msg.From),
				zap.String("to", msg.To),
				zap.String("subscription_id", e.id),
				zap.Any("panic", r))
			ok = false
		}
	}()
	e.handler(msg)
	return true
}
