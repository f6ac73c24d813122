package eventcore

import "time"

// EventReporter observes a handler's lifecycle around a single dispatch,
// independent of the EventObserver metrics seam: reporters are meant for
// per-registration hooks (e.g. attaching a trace span), not aggregate
// metrics.
type EventReporter interface {
	OnStart(event Event)
	OnComplete(event Event, duration time.Duration)
}

// NopEventReporter is the zero-value EventReporter.
type NopEventReporter struct{}

func (NopEventReporter) OnStart(Event)                   {}
func (NopEventReporter) OnComplete(Event, time.Duration) {}
