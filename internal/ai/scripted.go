package ai

import (
	"context"
	"sync"
)

// ScriptedProvider replays canned replies. It stands in for a real backend
// in tests and offline runs.
type ScriptedProvider struct {
	// Respond, when set, computes the reply for each request and takes
	// precedence over queued replies.
	Respond func(req *ChatRequest) ([]string, error)

	// HandshakeErr is returned by Handshake.
	HandshakeErr error

	// Hang makes Stream produce nothing until its context is cancelled.
	Hang bool

	mu       sync.Mutex
	replies  [][]string
	failures []error
	requests []ChatRequest
}

// NewScriptedProvider queues the given replies, one per request.
func NewScriptedProvider(replies ...[]string) *ScriptedProvider {
	return &ScriptedProvider{replies: replies, failures: make([]error, len(replies))}
}

// Reply queues one more reply.
func (p *ScriptedProvider) Reply(fragments ...string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, fragments)
	p.failures = append(p.failures, nil)
	return p
}

// ReplyThenFail queues a reply that sends fragments and then fails with err
// instead of completing.
func (p *ScriptedProvider) ReplyThenFail(err error, fragments ...string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, fragments)
	p.failures = append(p.failures, err)
	return p
}

// Requests returns copies of every request received so far.
func (p *ScriptedProvider) Requests() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChatRequest(nil), p.requests...)
}

func (p *ScriptedProvider) ID() string {
	return "scripted"
}

func (p *ScriptedProvider) Handshake(ctx context.Context) error {
	return p.HandshakeErr
}

func (p *ScriptedProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	cp := *req
	cp.Messages = append([]Message(nil), req.Messages...)

	p.mu.Lock()
	p.requests = append(p.requests, cp)
	var fragments []string
	var failure error
	if p.Respond == nil && len(p.replies) > 0 {
		fragments = p.replies[0]
		p.replies = p.replies[1:]
		if len(p.failures) > 0 {
			failure = p.failures[0]
			p.failures = p.failures[1:]
		}
	}
	p.mu.Unlock()

	if p.Respond != nil {
		var err error
		fragments, err = p.Respond(&cp)
		if err != nil {
			return nil, err
		}
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		if p.Hang {
			<-ctx.Done()
			return
		}
		for _, f := range fragments {
			if !send(ctx, events, StreamEvent{Type: EventTypeText, Text: f}) {
				return
			}
		}
		if failure != nil {
			send(ctx, events, StreamEvent{Type: EventTypeError, Error: failure})
			return
		}
		send(ctx, events, StreamEvent{Type: EventTypeDone})
	}()
	return events, nil
}
