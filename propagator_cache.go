package eventcore

import "context"

// EventFetcher resolves the most recent cached event for a domain id, so
// a subscriber that registers after an event already fired can still see
// it once. Returning (nil, nil) means "nothing cached yet", not an error.
type EventFetcher interface {
	FetchCachedEvent(ctx context.Context, domain EventDomain, domainID string) (Event, error)
}

// WithCachePropagator replays one cached event ahead of live ones: a
// caller that registers late still gets the snapshot a BypassPropagator
// would have missed, then sees everything from then on.
type WithCachePropagator struct {
	inner *BypassPropagator
}

// NewWithCachePropagator builds a WithCachePropagator for (domain,
// domainID), fetching and queuing the cached event (if any) up front.
func NewWithCachePropagator(ctx context.Context, fetcher EventFetcher, domain EventDomain, domainID string, bufferSize int) (*WithCachePropagator, error) {
	inner := NewBypassPropagator(bufferSize)
	cached, err := fetcher.FetchCachedEvent(ctx, domain, domainID)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		inner.Push(ctx, cached)
	}
	return &WithCachePropagator{inner: inner}, nil
}

func (p *WithCachePropagator) bindID(id PropagatorID) { p.inner.bindID(id) }

func (p *WithCachePropagator) ID() PropagatorID { return p.inner.ID() }

func (p *WithCachePropagator) Push(ctx context.Context, event Event) { p.inner.Push(ctx, event) }

func (p *WithCachePropagator) Events() <-chan Event { return p.inner.Events() }

func (p *WithCachePropagator) Close() { p.inner.Close() }

// RegisterWithCache registers a fresh WithCachePropagator on hub under
// alias, seeded from fetcher.
func RegisterWithCache(ctx context.Context, hub *EventHub, fetcher EventFetcher, domain EventDomain, domainID string, bufferSize int, alias ...aliasKey) (*WithCachePropagator, error) {
	p, err := NewWithCachePropagator(ctx, fetcher, domain, domainID, bufferSize)
	if err != nil {
		return nil, err
	}
	id := hub.Register(p, alias...)
	p.bindID(id)
	return p, nil
}
