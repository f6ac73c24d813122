package eventcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func waitForBroadcast(t *testing.T, mq *fakeMessageQueue, want string) WireMessage {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		mq.mu.Lock()
		for _, msg := range mq.broadcast {
			if msg.Name == want {
				mq.mu.Unlock()
				return msg
			}
		}
		mq.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a %q broadcast", want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBgtaskManagerStartProducesDoneEvent(t *testing.T) {
	store := newFakeStreamStore()
	mq := newFakeMessageQueue()
	producer := NewEventProducer(mq, "node-a")
	m := NewBgtaskManager(store, producer)

	taskID, err := m.Start(context.Background(), func(ctx context.Context, r *ProgressReporter) (BgtaskResult, error) {
		return BgtaskResult{Message: "all good"}, nil
	}, "export")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForBroadcast(t, mq, "bgtask_done")

	record, err := store.HGetAll(context.Background(), bgtaskTrackerKey(taskID))
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if record["status"] != string(TaskDone) {
		t.Errorf("expected persisted status %q, got %q", TaskDone, record["status"])
	}
}

func TestBgtaskManagerStartProducesFailedEventWithErrorCode(t *testing.T) {
	store := newFakeStreamStore()
	mq := newFakeMessageQueue()
	producer := NewEventProducer(mq, "node-a")
	m := NewBgtaskManager(store, producer)

	_, err := m.Start(context.Background(), func(ctx context.Context, r *ProgressReporter) (BgtaskResult, error) {
		return BgtaskResult{}, errors.New("boom")
	}, "export")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForBroadcast(t, mq, "bgtask_failed")
}

func TestBgtaskManagerPartialSuccessPersistsAsDone(t *testing.T) {
	store := newFakeStreamStore()
	mq := newFakeMessageQueue()
	producer := NewEventProducer(mq, "node-a")
	m := NewBgtaskManager(store, producer)

	taskID, err := m.Start(context.Background(), func(ctx context.Context, r *ProgressReporter) (BgtaskResult, error) {
		return BgtaskResult{Message: "mostly fine", Errors: []string{"item 3 failed"}}, nil
	}, "export")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForBroadcast(t, mq, "bgtask_partial_success")

	record, err := store.HGetAll(context.Background(), bgtaskTrackerKey(taskID))
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if record["status"] != string(TaskDone) {
		t.Errorf("expected partial success to persist as %q, got %q", TaskDone, record["status"])
	}
}

func TestBgtaskManagerShutdownCancelsRunningTasks(t *testing.T) {
	store := newFakeStreamStore()
	mq := newFakeMessageQueue()
	producer := NewEventProducer(mq, "node-a")
	m := NewBgtaskManager(store, producer)

	started := make(chan struct{})
	_, err := m.Start(context.Background(), func(ctx context.Context, r *ProgressReporter) (BgtaskResult, error) {
		close(started)
		<-ctx.Done()
		return BgtaskResult{}, ctx.Err()
	}, "long-running")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-started
	m.Shutdown()

	waitForBroadcast(t, mq, "bgtask_cancelled")
}

func TestProgressReporterUpdateProducesBgtaskUpdated(t *testing.T) {
	store := newFakeStreamStore()
	mq := newFakeMessageQueue()
	producer := NewEventProducer(mq, "node-a")
	taskID := uuid.New()
	reporter := newProgressReporter(store, producer, taskID, 10)

	if err := reporter.Update(context.Background(), 3, "a third done"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	msg := waitForBroadcast(t, mq, "bgtask_updated")
	codec := NewEventCodec()
	args, err := codec.Unpack(msg.Args)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	event, err := deserializeBgtaskUpdated(args)
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}
	updated := event.(BgtaskUpdatedEvent)
	if updated.CurrentProgress != 3 || updated.TotalProgress != 10 {
		t.Errorf("unexpected progress: %+v", updated)
	}
}

func TestFetchLastFinishedEventNilForUnfinishedTask(t *testing.T) {
	store := newFakeStreamStore()
	mq := newFakeMessageQueue()
	producer := NewEventProducer(mq, "node-a")
	m := NewBgtaskManager(store, producer)

	taskID := uuid.New()
	if err := m.writeStatus(context.Background(), taskID, TaskStarted, ""); err != nil {
		t.Fatalf("writeStatus failed: %v", err)
	}

	event, err := m.FetchLastFinishedEvent(context.Background(), taskID)
	if err != nil {
		t.Fatalf("FetchLastFinishedEvent failed: %v", err)
	}
	if event != nil {
		t.Errorf("expected nil for an unfinished task, got %+v", event)
	}
}

func TestFetchLastFinishedEventErrorsForUnknownTask(t *testing.T) {
	store := newFakeStreamStore()
	mq := newFakeMessageQueue()
	producer := NewEventProducer(mq, "node-a")
	m := NewBgtaskManager(store, producer)

	_, err := m.FetchLastFinishedEvent(context.Background(), uuid.New())
	if !errors.Is(err, ErrBgtaskNotFound) {
		t.Errorf("expected ErrBgtaskNotFound, got %v", err)
	}
}

func TestFetchLastFinishedEventReturnsSynthesizedEvent(t *testing.T) {
	store := newFakeStreamStore()
	mq := newFakeMessageQueue()
	producer := NewEventProducer(mq, "node-a")
	m := NewBgtaskManager(store, producer)

	taskID := uuid.New()
	if err := m.writeStatus(context.Background(), taskID, TaskDone, "finished cleanly"); err != nil {
		t.Fatalf("writeStatus failed: %v", err)
	}

	event, err := m.FetchLastFinishedEvent(context.Background(), taskID)
	if err != nil {
		t.Fatalf("FetchLastFinishedEvent failed: %v", err)
	}
	if event == nil {
		t.Fatal("expected a synthesized event for a finished task")
	}
	if event.TaskStatus != TaskDone || event.ID != taskID {
		t.Errorf("unexpected event: %+v", event)
	}
}
