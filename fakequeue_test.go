package eventcore

import (
	"context"
	"sync"
)

// fakeMessageQueue is an in-memory MessageQueue for tests that don't need
// real Redis semantics, just something that records/replays WireMessages.
type fakeMessageQueue struct {
	mu        sync.Mutex
	sent      []WireMessage
	broadcast []WireMessage
	consume   chan WireMessage
	subscribe chan WireMessage
	acked     []string
	closed    bool
}

func newFakeMessageQueue() *fakeMessageQueue {
	return &fakeMessageQueue{
		consume:   make(chan WireMessage, 64),
		subscribe: make(chan WireMessage, 64),
	}
}

func (q *fakeMessageQueue) Send(ctx context.Context, msg WireMessage) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.sent = append(q.sent, msg)
	q.mu.Unlock()
	select {
	case q.consume <- msg:
	default:
	}
	return nil
}

func (q *fakeMessageQueue) SendBroadcast(ctx context.Context, msg WireMessage) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.broadcast = append(q.broadcast, msg)
	q.mu.Unlock()
	select {
	case q.subscribe <- msg:
	default:
	}
	return nil
}

func (q *fakeMessageQueue) ConsumeQueue() <-chan WireMessage   { return q.consume }
func (q *fakeMessageQueue) SubscribeQueue() <-chan WireMessage { return q.subscribe }

func (q *fakeMessageQueue) Done(ctx context.Context, id string) error {
	q.mu.Lock()
	q.acked = append(q.acked, id)
	q.mu.Unlock()
	return nil
}

func (q *fakeMessageQueue) CleanupGhostGroups(ctx context.Context) (int, error) { return 0, nil }

func (q *fakeMessageQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
