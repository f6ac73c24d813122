package eventcore

import (
	"context"
	"sync"
)

// EventPropagator is a single consumer-paced sink an EventHub fans events
// into. Push must not block the hub for long; implementations that need
// to block a downstream reader buffer internally (see BypassPropagator).
type EventPropagator interface {
	ID() PropagatorID
	Push(ctx context.Context, event Event)
	Events() <-chan Event
	Close()
}

// BypassPropagator is the plain case: events land on a channel in the
// order Push delivers them, nothing is cached or replayed. This is the
// propagator kind used for ordinary live event subscriptions.
type BypassPropagator struct {
	id PropagatorID

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewBypassPropagator builds a BypassPropagator buffering up to
// bufferSize undelivered events before Push starts dropping the oldest.
func NewBypassPropagator(bufferSize int) *BypassPropagator {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &BypassPropagator{
		ch: make(chan Event, bufferSize),
	}
}

// bindID is called once by EventHub.Register so the propagator can report
// its own id back to callers that only hold the EventPropagator.
func (p *BypassPropagator) bindID(id PropagatorID) { p.id = id }

func (p *BypassPropagator) ID() PropagatorID { return p.id }

func (p *BypassPropagator) Push(ctx context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- event:
	default:
		// Buffer full: drop the oldest pending event rather than block
		// the hub, matching the original source's bounded asyncio.Queue.
		select {
		case <-p.ch:
		default:
		}
		select {
		case p.ch <- event:
		default:
		}
	}
}

func (p *BypassPropagator) Events() <-chan Event { return p.ch }

// Close closes the event channel so a range/receive loop over Events()
// observes the close sentinel instead of blocking forever. Guarded by
// the same mutex as Push so a send can never race a close.
func (p *BypassPropagator) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}

// RegisterBypass registers a fresh BypassPropagator on hub under alias
// and returns it bound to its assigned id.
func RegisterBypass(hub *EventHub, bufferSize int, alias ...aliasKey) *BypassPropagator {
	p := NewBypassPropagator(bufferSize)
	id := hub.Register(p, alias...)
	p.bindID(id)
	return p
}
