package eventcore

import "context"

// EventProducer encodes and sends an Event onto the right side
// (anycast/broadcast) of a MessageQueue, tagged with a source node id.
type EventProducer struct {
	mq     MessageQueue
	codec  *EventCodec
	source string
	closed bool
}

// NewEventProducer builds a producer that stamps every event it sends
// with source as the originating node.
func NewEventProducer(mq MessageQueue, source string) *EventProducer {
	return &EventProducer{mq: mq, codec: NewEventCodec(), source: source}
}

// Close marks the producer closed and releases its queue. Further
// Produce calls send nothing and return ErrQueueClosed.
func (p *EventProducer) Close() error {
	p.closed = true
	return p.mq.Close()
}

// Produce serializes event and routes it according to its
// DeliveryPattern. sourceOverride, if non-empty, replaces the producer's
// default source for this one event. Produce returns ErrQueueClosed
// once the producer has been closed.
func (p *EventProducer) Produce(ctx context.Context, event Event, sourceOverride ...string) error {
	if p.closed {
		return ErrQueueClosed
	}
	source := p.source
	if len(sourceOverride) > 0 && sourceOverride[0] != "" {
		source = sourceOverride[0]
	}

	args, err := p.codec.Pack(event.Serialize())
	if err != nil {
		return err
	}
	msg := WireMessage{Name: event.EventName(), Source: source, Args: args}

	switch event.DeliveryPattern() {
	case Anycast:
		return p.mq.Send(ctx, msg)
	default:
		return p.mq.SendBroadcast(ctx, msg)
	}
}
