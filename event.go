package eventcore

import "fmt"

// EventDomain groups events by the subsystem they describe. It doubles
// as the first half of an EventHub alias key.
type EventDomain string

const (
	DomainBgtask       EventDomain = "bgtask"
	DomainImage        EventDomain = "image"
	DomainKernel       EventDomain = "kernel"
	DomainModelServing EventDomain = "model_serving"
	DomainModelRoute   EventDomain = "model_route"
	DomainSchedule     EventDomain = "schedule"
	DomainIdleCheck    EventDomain = "idle_check"
	DomainSession      EventDomain = "session"
	DomainAgent        EventDomain = "agent"
	DomainVFolder      EventDomain = "vfolder"
	DomainVolume       EventDomain = "volume"
	DomainLog          EventDomain = "log"
	DomainWorkflow     EventDomain = "workflow"
)

// DeliveryPattern says whether an event is routed to one consumer
// (Anycast) or every subscriber (Broadcast).
type DeliveryPattern string

const (
	Anycast   DeliveryPattern = "anycast"
	Broadcast DeliveryPattern = "broadcast"
)

// Event is the shape every domain event satisfies: enough to name it,
// route it, serialize its args for the wire, and recover them again.
type Event interface {
	EventDomain() EventDomain
	EventName() string
	DomainID() string
	DeliveryPattern() DeliveryPattern
	Serialize() []interface{}
}

// EventFactory rebuilds a concrete Event from its decoded positional wire
// args, returning an error when the args do not fit that event type.
type EventFactory func(args []interface{}) (Event, error)

// AnycastEvent is a marker embedded by events routed to exactly one
// consumer.
type AnycastEvent struct{}

func (AnycastEvent) DeliveryPattern() DeliveryPattern { return Anycast }

// BroadcastEvent is a marker embedded by events fanned out to every
// subscriber. Concrete broadcast event types also call
// RegisterBroadcastEvent in an init() so LookupBroadcastEvent can resolve
// them by wire name; the dispatcher itself uses the factory passed to
// Consume/Subscribe.
type BroadcastEvent struct{}

func (BroadcastEvent) DeliveryPattern() DeliveryPattern { return Broadcast }

var broadcastEventRegistry = map[string]EventFactory{}

// RegisterBroadcastEvent associates a wire event name with a factory that
// reconstructs it from deserialized args. Registering the same name
// twice is a programming error and panics at startup, matching the
// original source's __init_subclass__ duplicate check.
func RegisterBroadcastEvent(name string, factory EventFactory) {
	if _, exists := broadcastEventRegistry[name]; exists {
		panic(fmt.Errorf("%w: %s", ErrDuplicateEventRegistration, name))
	}
	broadcastEventRegistry[name] = factory
}

// LookupBroadcastEvent resolves a wire event name to its factory.
func LookupBroadcastEvent(name string) (EventFactory, error) {
	factory, ok := broadcastEventRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotRegistered, name)
	}
	return factory, nil
}
