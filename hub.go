package eventcore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PropagatorID identifies a single registered EventPropagator instance.
type PropagatorID string

// NewPropagatorID mints a fresh random id.
func NewPropagatorID() PropagatorID {
	return PropagatorID(uuid.New().String())
}

// aliasKey is the (domain, domain-id) pair an EventHub indexes
// propagators by, e.g. (DomainBgtask, "<task-uuid>") or
// (DomainSession, "<session-uuid>").
type aliasKey struct {
	domain EventDomain
	id     string
}

func (k aliasKey) String() string { return fmt.Sprintf("%s:%s", k.domain, k.id) }

type propagatorInfo struct {
	propagator EventPropagator
	aliases    map[aliasKey]struct{}
}

// EventHub fans a single event stream out to many independently-paced
// consumers (e.g. one per open client connection), each represented by
// an EventPropagator. Propagators are additionally reachable by alias so
// a late caller can find "the propagator watching bgtask X" without
// holding onto the id it was registered under.
type EventHub struct {
	mu          sync.RWMutex
	propagators map[PropagatorID]*propagatorInfo
	byAlias     map[aliasKey]map[PropagatorID]struct{}
}

// NewEventHub builds an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		propagators: make(map[PropagatorID]*propagatorInfo),
		byAlias:     make(map[aliasKey]map[PropagatorID]struct{}),
	}
}

// Register adds p to the hub under a fresh id, indexed by the given
// (domain, domainID) aliases, and returns that id.
func (h *EventHub) Register(p EventPropagator, aliases ...aliasKey) PropagatorID {
	id := NewPropagatorID()
	h.mu.Lock()
	defer h.mu.Unlock()

	aliasSet := make(map[aliasKey]struct{}, len(aliases))
	for _, a := range aliases {
		aliasSet[a] = struct{}{}
		if h.byAlias[a] == nil {
			h.byAlias[a] = make(map[PropagatorID]struct{})
		}
		h.byAlias[a][id] = struct{}{}
	}
	h.propagators[id] = &propagatorInfo{propagator: p, aliases: aliasSet}
	return id
}

// AliasFor builds the aliasKey for an event's (domain, domain id), the
// form Register/CloseByAlias/Propagate expect.
func AliasFor(domain EventDomain, domainID string) aliasKey {
	return aliasKey{domain: domain, id: domainID}
}

// Unregister removes a propagator and all of its aliases.
func (h *EventHub) Unregister(id PropagatorID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.propagators[id]
	if !ok {
		return ErrPropagatorNotFound
	}
	for alias := range info.aliases {
		delete(h.byAlias[alias], id)
		if len(h.byAlias[alias]) == 0 {
			delete(h.byAlias, alias)
		}
	}
	delete(h.propagators, id)
	return nil
}

// CloseByAlias closes and unregisters every propagator registered under
// (domain, domainID), e.g. once a bgtask or session reaches a terminal
// state and nothing further will ever be propagated for it.
func (h *EventHub) CloseByAlias(domain EventDomain, domainID string) {
	alias := AliasFor(domain, domainID)
	h.mu.Lock()
	ids := make([]PropagatorID, 0, len(h.byAlias[alias]))
	for id := range h.byAlias[alias] {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.mu.Lock()
		info := h.propagators[id]
		h.mu.Unlock()
		if info != nil {
			info.propagator.Close()
		}
		_ = h.Unregister(id)
	}
}

// Propagate hands event to every propagator registered under its
// (EventDomain, DomainID) alias. Propagators with no matching alias never
// see the event; a hub with nothing registered for an event is a no-op.
func (h *EventHub) Propagate(ctx context.Context, event Event) {
	alias := AliasFor(event.EventDomain(), event.DomainID())
	h.mu.RLock()
	ids := make([]PropagatorID, 0, len(h.byAlias[alias]))
	for id := range h.byAlias[alias] {
		ids = append(ids, id)
	}
	propagators := make([]EventPropagator, 0, len(ids))
	for _, id := range ids {
		if info := h.propagators[id]; info != nil {
			propagators = append(propagators, info.propagator)
		}
	}
	h.mu.RUnlock()

	for _, p := range propagators {
		p.Push(ctx, event)
	}
}

// Shutdown closes every registered propagator and empties the hub.
func (h *EventHub) Shutdown() {
	h.mu.Lock()
	propagators := make([]EventPropagator, 0, len(h.propagators))
	for _, info := range h.propagators {
		propagators = append(propagators, info.propagator)
	}
	h.propagators = make(map[PropagatorID]*propagatorInfo)
	h.byAlias = make(map[aliasKey]map[PropagatorID]struct{})
	h.mu.Unlock()

	for _, p := range propagators {
		p.Close()
	}
}
