package eventcore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// EventCallback is invoked when a dispatched event matches a handler's
// registration. source is the node that produced the event.
type EventCallback func(ctx context.Context, source string, event Event) error

// CoalescingOptions rate-limits how often a handler actually runs:
// MaxWait caps the delay before a pending call fires, MaxBatchSize forces
// an immediate run once that many events have queued up behind it.
type CoalescingOptions struct {
	MaxWait      time.Duration
	MaxBatchSize int
}

type coalescingState struct {
	mu        sync.Mutex
	batchSize int
	timer     *time.Timer
	gate      *coalescingGate
}

// coalescingGate is the signal a batch of coalesced callers wait on.
// Closing it is idempotent via sync.Once: the batch-size path and the
// timer's own callback can both decide to fire the same generation of
// the gate (the timer races the batch-size check under the same lock),
// and without the Once guard that would double-close the channel.
type coalescingGate struct {
	ch   chan struct{}
	once sync.Once
	// latest is the batch position of the most recent call that joined
	// this gate; only that call runs once the gate fires.
	latest int
}

func newCoalescingGate() *coalescingGate {
	return &coalescingGate{ch: make(chan struct{})}
}

func (g *coalescingGate) fire() {
	g.once.Do(func() { close(g.ch) })
}

// rateControl blocks until the handler should actually run, or returns
// false if this call was folded into a later one. Every call that
// doesn't trigger an immediate fire resets the pending timer to
// +MaxWait from now, so a steady trickle of events below MaxBatchSize
// never fires on its own.
func (c *coalescingState) rateControl(opts *CoalescingOptions) bool {
	if opts == nil {
		return true
	}
	c.mu.Lock()
	if c.gate == nil {
		c.gate = newCoalescingGate()
		c.batchSize = 0
	}
	c.batchSize++
	gate := c.gate
	gate.latest = c.batchSize
	seq := c.batchSize
	fire := c.batchSize >= opts.MaxBatchSize

	if fire {
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.gate = nil
		c.batchSize = 0
	} else {
		if c.timer != nil {
			c.timer.Stop()
		}
		pending := gate
		c.timer = time.AfterFunc(opts.MaxWait, func() {
			c.mu.Lock()
			if c.gate == pending {
				c.gate = nil
				c.timer = nil
				c.batchSize = 0
			}
			c.mu.Unlock()
			pending.fire()
		})
	}
	c.mu.Unlock()

	if fire {
		gate.fire()
		return true
	}
	<-gate.ch
	return seq == gate.latest
}

// EventHandler is a single registered consumer or subscriber callback.
type EventHandler struct {
	name             string
	eventName        string
	callback         EventCallback
	handlerType      string
	coalescingOpts   *CoalescingOptions
	coalescingState  *coalescingState
	argsMatcher      func(args []interface{}) bool
	startReporters   []EventReporter
	completeReporters []EventReporter
}

// postCallback acks the originating message only once every registered
// consumer handler for that event has finished, matching the original
// source's _ConsumerPostCallback.
type postCallback struct {
	mu          sync.Mutex
	remaining   int
	ack         func()
}

func (p *postCallback) done() {
	p.mu.Lock()
	p.remaining--
	remaining := p.remaining
	p.mu.Unlock()
	if remaining <= 0 {
		p.ack()
	}
}

// EventObserver lets a host collect per-event-name timing/outcome
// metrics; NopEventObserver is the zero-value default.
type EventObserver interface {
	ObserveEventSuccess(eventType string, duration time.Duration)
	ObserveEventFailure(eventType string, duration time.Duration, err error)
}

type NopEventObserver struct{}

func (NopEventObserver) ObserveEventSuccess(string, time.Duration)        {}
func (NopEventObserver) ObserveEventFailure(string, time.Duration, error) {}

// EventDispatcherGroup is the handle returned by WithReporters: every
// Consume/Subscribe call through it inherits the attached reporters.
type EventDispatcherGroup interface {
	WithReporters(start, complete []EventReporter) EventDispatcherGroup
	Consume(eventName string, factory EventFactory, callback EventCallback, opts *CoalescingOptions, options ...HandlerOption) *EventHandler
	Subscribe(eventName string, factory EventFactory, callback EventCallback, opts *CoalescingOptions, options ...HandlerOption) *EventHandler
}

// HandlerOption customizes a single Consume/Subscribe registration.
type HandlerOption func(*EventHandler)

// WithHandlerName gives the registration a stable name instead of a
// random one; the name appears in the dispatcher's log lines.
func WithHandlerName(name string) HandlerOption {
	return func(h *EventHandler) { h.name = name }
}

// WithArgsMatcher only invokes the callback when the matcher returns true
// for the deserialized event's args.
func WithArgsMatcher(matcher func(args []interface{}) bool) HandlerOption {
	return func(h *EventHandler) { h.argsMatcher = matcher }
}

// WithOverrideEventName subscribes a handler under a legacy wire name
// while its event type's own EventName stays canonical, per
// SPEC_FULL.md A.3.5.
func WithOverrideEventName(name string) HandlerOption {
	return func(h *EventHandler) { h.eventName = name }
}

// EventDispatcher routes decoded wire messages to registered handlers.
// Consumers use anycast (one handler among many processes runs);
// subscribers use broadcast (every process's handlers run).
type EventDispatcher struct {
	mu          sync.RWMutex
	consumers   map[string][]*handlerEntry
	subscribers map[string][]*handlerEntry

	mq       MessageQueue
	codec    *EventCodec
	logger   *Logger
	observer EventObserver

	logEvents bool
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup // the two reader loops (consumeLoop/subscribeLoop)
	handlerWg sync.WaitGroup // one per in-flight per-message handler goroutine
}

// dispatcherCloseGrace bounds how long Close waits for in-flight handler
// goroutines to finish before giving up and returning anyway.
const dispatcherCloseGrace = 5 * time.Second

type handlerEntry struct {
	handler *EventHandler
	factory EventFactory
}

// NewEventDispatcher builds a dispatcher over an already-running
// MessageQueue.
func NewEventDispatcher(mq MessageQueue, opts ...func(*EventDispatcher)) *EventDispatcher {
	d := &EventDispatcher{
		consumers:   make(map[string][]*handlerEntry),
		subscribers: make(map[string][]*handlerEntry),
		mq:          mq,
		codec:       NewEventCodec(),
		logger:      NewLogger("dispatcher"),
		observer:    NopEventObserver{},
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithEventObserver sets the dispatcher's metrics seam.
func WithEventObserver(o EventObserver) func(*EventDispatcher) {
	return func(d *EventDispatcher) { d.observer = o }
}

// WithEventLogging turns on per-dispatch debug logging.
func WithEventLogging(enabled bool) func(*EventDispatcher) {
	return func(d *EventDispatcher) { d.logEvents = enabled }
}

// Start launches the consume and subscribe loops.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.wg.Add(2)
	go d.consumeLoop(ctx)
	go d.subscribeLoop(ctx)
}

// Close stops accepting new dispatches and waits for in-flight consumer
// and subscriber handler goroutines to finish, up to a bounded grace
// period, so a caller doesn't shut down while a handler is mid-write.
func (d *EventDispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	d.wg.Wait()

	done := make(chan struct{})
	go func() {
		d.handlerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(dispatcherCloseGrace):
		d.logger.Warn("dispatcher close grace period elapsed with handlers still running")
	}
}

// WithReporters returns a handle whose Consume/Subscribe calls
// automatically attach the given lifecycle reporters.
func (d *EventDispatcher) WithReporters(start, complete []EventReporter) EventDispatcherGroup {
	return &reporterGroup{dispatcher: d, start: start, complete: complete}
}

// Consume registers a handler for the anycast side of eventName. factory
// reconstructs the concrete Event from decoded wire args.
func (d *EventDispatcher) Consume(eventName string, factory EventFactory, callback EventCallback, opts *CoalescingOptions, options ...HandlerOption) *EventHandler {
	return d.register(d.consumers, "consumer", eventName, factory, callback, opts, options, nil, nil)
}

// Subscribe registers a handler for the broadcast side of eventName.
func (d *EventDispatcher) Subscribe(eventName string, factory EventFactory, callback EventCallback, opts *CoalescingOptions, options ...HandlerOption) *EventHandler {
	return d.register(d.subscribers, "subscriber", eventName, factory, callback, opts, options, nil, nil)
}

func (d *EventDispatcher) register(table map[string][]*handlerEntry, kind, eventName string, factory EventFactory, callback EventCallback, opts *CoalescingOptions, options []HandlerOption, startReporters, completeReporters []EventReporter) *EventHandler {
	h := &EventHandler{
		name:              randomHandlerName(),
		eventName:         eventName,
		callback:          callback,
		handlerType:       kind,
		coalescingOpts:    opts,
		coalescingState:   &coalescingState{},
		startReporters:    startReporters,
		completeReporters: completeReporters,
	}
	for _, opt := range options {
		opt(h)
	}

	d.mu.Lock()
	table[h.eventName] = append(table[h.eventName], &handlerEntry{handler: h, factory: factory})
	d.mu.Unlock()
	return h
}

// Unconsume removes a previously registered consumer handler.
func (d *EventDispatcher) Unconsume(eventName string, h *EventHandler) {
	d.removeHandler(d.consumers, eventName, h)
}

// Unsubscribe removes a previously registered subscriber handler.
func (d *EventDispatcher) Unsubscribe(eventName string, h *EventHandler) {
	d.removeHandler(d.subscribers, eventName, h)
}

func (d *EventDispatcher) removeHandler(table map[string][]*handlerEntry, eventName string, h *EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := table[eventName]
	for i, e := range entries {
		if e.handler == h {
			table[eventName] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

func (d *EventDispatcher) consumeLoop(ctx context.Context) {
	defer d.wg.Done()
	ch := d.mq.ConsumeQueue()
	for {
		select {
		case <-d.closed:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			d.dispatchConsumer(ctx, msg)
		}
	}
}

func (d *EventDispatcher) subscribeLoop(ctx context.Context) {
	defer d.wg.Done()
	ch := d.mq.SubscribeQueue()
	for {
		select {
		case <-d.closed:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			d.dispatchSubscriber(ctx, msg)
		}
	}
}

func (d *EventDispatcher) dispatchConsumer(ctx context.Context, msg WireMessage) {
	args, err := d.codec.Unpack(msg.Args)
	if err != nil {
		d.logger.Error("decode consumer event args", "event", msg.Name, "error", err)
		return
	}

	d.mu.RLock()
	entries := append([]*handlerEntry(nil), d.consumers[msg.Name]...)
	d.mu.RUnlock()

	if len(entries) == 0 {
		return
	}

	pc := &postCallback{remaining: len(entries), ack: func() {
		d.mq.Done(ctx, msg.ID)
	}}

	if d.logEvents {
		d.logger.Debug("dispatch consumers", "event", msg.Name, "source", msg.Source)
	}

	for _, entry := range entries {
		entry := entry
		d.handlerWg.Add(1)
		go d.handle(ctx, entry, msg.Source, args, pc)
	}
}

func (d *EventDispatcher) dispatchSubscriber(ctx context.Context, msg WireMessage) {
	args, err := d.codec.Unpack(msg.Args)
	if err != nil {
		d.logger.Error("decode subscriber event args", "event", msg.Name, "error", err)
		return
	}

	d.mu.RLock()
	entries := append([]*handlerEntry(nil), d.subscribers[msg.Name]...)
	d.mu.RUnlock()

	if d.logEvents {
		d.logger.Debug("dispatch subscribers", "event", msg.Name, "source", msg.Source)
	}

	for _, entry := range entries {
		entry := entry
		d.handlerWg.Add(1)
		go d.handle(ctx, entry, msg.Source, args, nil)
	}
}

func (d *EventDispatcher) handle(ctx context.Context, entry *handlerEntry, source string, args []interface{}, pc *postCallback) {
	defer d.handlerWg.Done()
	if pc != nil {
		defer pc.done()
	}
	h := entry.handler
	if h.argsMatcher != nil && !h.argsMatcher(args) {
		return
	}
	if !h.coalescingState.rateControl(h.coalescingOpts) {
		return
	}

	event, err := entry.factory(args)
	if err != nil {
		d.logger.Error("deserialize event", "handler", h.name, "error", err)
		return
	}

	for _, r := range h.startReporters {
		r.OnStart(event)
	}

	start := time.Now()
	err = h.callback(ctx, source, event)
	duration := time.Since(start)

	if err != nil {
		d.observer.ObserveEventFailure(h.eventName, duration, err)
		d.logger.Error("event handler failed", "handler", h.name, "event", h.eventName, "error", err)
		return
	}
	d.observer.ObserveEventSuccess(h.eventName, duration)
	for _, r := range h.completeReporters {
		r.OnComplete(event, duration)
	}
}

type reporterGroup struct {
	dispatcher *EventDispatcher
	start      []EventReporter
	complete   []EventReporter
}

func (g *reporterGroup) WithReporters(start, complete []EventReporter) EventDispatcherGroup {
	return &reporterGroup{
		dispatcher: g.dispatcher,
		start:      append(append([]EventReporter(nil), g.start...), start...),
		complete:   append(append([]EventReporter(nil), g.complete...), complete...),
	}
}

func (g *reporterGroup) Consume(eventName string, factory EventFactory, callback EventCallback, opts *CoalescingOptions, options ...HandlerOption) *EventHandler {
	return g.dispatcher.register(g.dispatcher.consumers, "consumer", eventName, factory, callback, opts, options, g.start, g.complete)
}

func (g *reporterGroup) Subscribe(eventName string, factory EventFactory, callback EventCallback, opts *CoalescingOptions, options ...HandlerOption) *EventHandler {
	return g.dispatcher.register(g.dispatcher.subscribers, "subscriber", eventName, factory, callback, opts, options, g.start, g.complete)
}

func randomHandlerName() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return "evh-" + hex.EncodeToString(b[:])
}
