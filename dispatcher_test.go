package eventcore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func deserializeAgentHeartbeatForTest(args []interface{}) (Event, error) {
	return deserializeAgentHeartbeat(args)
}

func TestDispatcherConsumeAcksOnlyAfterAllHandlersFinish(t *testing.T) {
	mq := newFakeMessageQueue()
	d := NewEventDispatcher(mq)
	d.Start(context.Background())
	defer d.Close()

	first := make(chan struct{})
	second := make(chan struct{})
	d.Consume("agent_heartbeat", deserializeAgentHeartbeatForTest, func(ctx context.Context, source string, event Event) error {
		close(first)
		return nil
	}, nil)
	d.Consume("agent_heartbeat", deserializeAgentHeartbeatForTest, func(ctx context.Context, source string, event Event) error {
		<-first
		close(second)
		return nil
	}, nil)

	codec := NewEventCodec()
	packed, _ := codec.Pack(AgentHeartbeatEvent{AgentID: "a1"}.Serialize())
	mq.consume <- WireMessage{ID: "1-0", Name: "agent_heartbeat", Source: "node-a", Args: packed}

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("expected both handlers to run")
	}

	deadline := time.After(time.Second)
	for {
		mq.mu.Lock()
		acked := len(mq.acked)
		mq.mu.Unlock()
		if acked == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the message to be acked after both handlers completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDispatcherSubscribeFansOutToEveryHandler(t *testing.T) {
	mq := newFakeMessageQueue()
	d := NewEventDispatcher(mq)
	d.Start(context.Background())
	defer d.Close()

	results := make(chan string, 2)
	d.Subscribe("agent_heartbeat", deserializeAgentHeartbeatForTest, func(ctx context.Context, source string, event Event) error {
		results <- "one"
		return nil
	}, nil)
	d.Subscribe("agent_heartbeat", deserializeAgentHeartbeatForTest, func(ctx context.Context, source string, event Event) error {
		results <- "two"
		return nil
	}, nil)

	codec := NewEventCodec()
	packed, _ := codec.Pack(AgentHeartbeatEvent{AgentID: "a1"}.Serialize())
	mq.subscribe <- WireMessage{ID: "1-0", Name: "agent_heartbeat", Source: "node-a", Args: packed}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			seen[r] = true
		case <-time.After(time.Second):
			t.Fatalf("expected both subscribers to run, got %v", seen)
		}
	}
	if !seen["one"] || !seen["two"] {
		t.Errorf("expected both handlers to fire, got %v", seen)
	}
}

func TestDispatcherArgsMatcherFilters(t *testing.T) {
	mq := newFakeMessageQueue()
	d := NewEventDispatcher(mq)
	d.Start(context.Background())
	defer d.Close()

	called := make(chan struct{}, 1)
	d.Subscribe("agent_heartbeat", deserializeAgentHeartbeatForTest, func(ctx context.Context, source string, event Event) error {
		called <- struct{}{}
		return nil
	}, nil, WithArgsMatcher(func(args []interface{}) bool {
		return len(args) > 0 && args[0] == "only-this-agent"
	}))

	codec := NewEventCodec()
	packed, _ := codec.Pack(AgentHeartbeatEvent{AgentID: "someone-else"}.Serialize())
	mq.subscribe <- WireMessage{ID: "1-0", Name: "agent_heartbeat", Source: "node-a", Args: packed}

	select {
	case <-called:
		t.Fatal("handler should have been filtered out by the args matcher")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherUnconsumeStopsFutureDispatch(t *testing.T) {
	mq := newFakeMessageQueue()
	d := NewEventDispatcher(mq)
	d.Start(context.Background())
	defer d.Close()

	called := make(chan struct{}, 1)
	h := d.Consume("agent_heartbeat", deserializeAgentHeartbeatForTest, func(ctx context.Context, source string, event Event) error {
		called <- struct{}{}
		return nil
	}, nil)
	d.Unconsume("agent_heartbeat", h)

	codec := NewEventCodec()
	packed, _ := codec.Pack(AgentHeartbeatEvent{AgentID: "a1"}.Serialize())
	mq.consume <- WireMessage{ID: "1-0", Name: "agent_heartbeat", Source: "node-a", Args: packed}

	select {
	case <-called:
		t.Fatal("handler should not run after Unconsume")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherWithReportersAttachesToRegistration(t *testing.T) {
	mq := newFakeMessageQueue()
	d := NewEventDispatcher(mq)
	d.Start(context.Background())
	defer d.Close()

	var started, completed int
	reporter := funcReporter{
		onStart:    func(Event) { started++ },
		onComplete: func(Event, time.Duration) { completed++ },
	}
	group := d.WithReporters([]EventReporter{reporter}, []EventReporter{reporter})
	done := make(chan struct{}, 1)
	group.Subscribe("agent_heartbeat", deserializeAgentHeartbeatForTest, func(ctx context.Context, source string, event Event) error {
		done <- struct{}{}
		return nil
	}, nil)

	codec := NewEventCodec()
	packed, _ := codec.Pack(AgentHeartbeatEvent{AgentID: "a1"}.Serialize())
	mq.subscribe <- WireMessage{ID: "1-0", Name: "agent_heartbeat", Source: "node-a", Args: packed}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the handler to run")
	}
	if started != 1 {
		t.Errorf("expected OnStart once, got %d", started)
	}
}

type funcReporter struct {
	onStart    func(Event)
	onComplete func(Event, time.Duration)
}

func (f funcReporter) OnStart(event Event)                           { f.onStart(event) }
func (f funcReporter) OnComplete(event Event, duration time.Duration) { f.onComplete(event, duration) }

func TestDispatcherCoalescingFiresImmediatelyOnMaxBatchSize(t *testing.T) {
	mq := newFakeMessageQueue()
	d := NewEventDispatcher(mq)
	d.Start(context.Background())
	defer d.Close()

	calls := make(chan struct{}, 8)
	opts := &CoalescingOptions{MaxWait: time.Minute, MaxBatchSize: 3}
	d.Subscribe("agent_heartbeat", deserializeAgentHeartbeatForTest, func(ctx context.Context, source string, event Event) error {
		calls <- struct{}{}
		return nil
	}, opts)

	codec := NewEventCodec()
	packed, _ := codec.Pack(AgentHeartbeatEvent{AgentID: "a1"}.Serialize())
	for i := 0; i < 3; i++ {
		mq.subscribe <- WireMessage{ID: "1-0", Name: "agent_heartbeat", Source: "node-a", Args: packed}
	}

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected the batch to fire once MaxBatchSize was reached, got 0 calls")
	}
	select {
	case <-calls:
		t.Fatal("expected exactly one callback for a batch of MaxBatchSize events, got a second one")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherCoalescingFiresOnMaxWait(t *testing.T) {
	mq := newFakeMessageQueue()
	d := NewEventDispatcher(mq)
	d.Start(context.Background())
	defer d.Close()

	calls := make(chan struct{}, 8)
	opts := &CoalescingOptions{MaxWait: 30 * time.Millisecond, MaxBatchSize: 100}
	d.Subscribe("agent_heartbeat", deserializeAgentHeartbeatForTest, func(ctx context.Context, source string, event Event) error {
		calls <- struct{}{}
		return nil
	}, opts)

	codec := NewEventCodec()
	packed, _ := codec.Pack(AgentHeartbeatEvent{AgentID: "a1"}.Serialize())
	mq.subscribe <- WireMessage{ID: "1-0", Name: "agent_heartbeat", Source: "node-a", Args: packed}

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected the batch to fire once MaxWait elapsed")
	}
}

func TestCoalescingGateHandlesConcurrentFireWithoutPanic(t *testing.T) {
	c := &coalescingState{}
	opts := &CoalescingOptions{MaxWait: 5 * time.Millisecond, MaxBatchSize: 2}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.rateControl(opts)
		}()
	}
	wg.Wait()
}
