package eventcore

import (
	"context"

	"github.com/google/uuid"
)

// BgtaskLastDoneFetcher resolves the terminal event of a background task
// if it already finished. BgtaskManager.FetchLastFinishedEvent satisfies
// this directly.
type BgtaskLastDoneFetcher interface {
	FetchLastFinishedEvent(ctx context.Context, taskID uuid.UUID) (*BgtaskAlreadyDoneEvent, error)
}

// BgtaskPropagator watches a single background task. If the task has
// already reached a terminal state by the time it's registered, it
// replays that one synthesized event and closes immediately rather than
// waiting on a live stream that will never arrive. Otherwise it behaves
// like a BypassPropagator until the task's real terminal event arrives.
type BgtaskPropagator struct {
	inner *BypassPropagator
}

// NewBgtaskPropagator builds a BgtaskPropagator for taskID, consulting
// fetcher up front.
func NewBgtaskPropagator(ctx context.Context, fetcher BgtaskLastDoneFetcher, taskID uuid.UUID, bufferSize int) (*BgtaskPropagator, error) {
	inner := NewBypassPropagator(bufferSize)
	last, err := fetcher.FetchLastFinishedEvent(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		inner.Push(ctx, *last)
		inner.Close()
	}
	return &BgtaskPropagator{inner: inner}, nil
}

func (p *BgtaskPropagator) bindID(id PropagatorID) { p.inner.bindID(id) }

func (p *BgtaskPropagator) ID() PropagatorID { return p.inner.ID() }

// Push forwards event, unless the task was already finished at
// registration time, in which case the propagator is closed and this is
// a no-op. After forwarding a terminal bgtask event it closes the
// propagator.
func (p *BgtaskPropagator) Push(ctx context.Context, event Event) {
	p.inner.Push(ctx, event)
	if be, ok := event.(BgtaskEvent); ok && be.Status().Finished() {
		p.inner.Close()
	}
}

func (p *BgtaskPropagator) Events() <-chan Event { return p.inner.Events() }

func (p *BgtaskPropagator) Close() { p.inner.Close() }

// RegisterBgtaskPropagator registers a fresh BgtaskPropagator on hub,
// aliased to the task's own (DomainBgtask, taskID) key plus any extras.
func RegisterBgtaskPropagator(ctx context.Context, hub *EventHub, fetcher BgtaskLastDoneFetcher, taskID uuid.UUID, bufferSize int, extraAliases ...aliasKey) (*BgtaskPropagator, error) {
	p, err := NewBgtaskPropagator(ctx, fetcher, taskID, bufferSize)
	if err != nil {
		return nil, err
	}
	aliases := append([]aliasKey{AliasFor(DomainBgtask, taskID.String())}, extraAliases...)
	id := hub.Register(p, aliases...)
	p.bindID(id)
	return p, nil
}
