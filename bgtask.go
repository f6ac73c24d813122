package eventcore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// bgtaskArchivePeriod is how long a finished task's KV record survives,
// matching the original source's _MAX_BGTASK_ARCHIVE_PERIOD (24h).
const bgtaskArchivePeriod = 24 * time.Hour

// BgtaskRecord is the KV snapshot of a task's last known state, used to
// answer "what happened to this task" after its producer/subscriber
// handlers are long gone.
type BgtaskRecord struct {
	Status     TaskStatus
	Message    string
	StartedAt  string
	LastUpdate string
	Current    string
	Total      string
}

func (r BgtaskRecord) toFields() map[string]string {
	return map[string]string{
		"status":      string(r.Status),
		"msg":         r.Message,
		"started_at":  r.StartedAt,
		"last_update": r.LastUpdate,
		"current":     r.Current,
		"total":       r.Total,
	}
}

func bgtaskRecordFromFields(fields map[string]string) (BgtaskRecord, error) {
	if len(fields) == 0 {
		return BgtaskRecord{}, ErrBgtaskNotFound
	}
	status, ok := fields["status"]
	if !ok {
		return BgtaskRecord{}, ErrInvalidTaskMetadata
	}
	return BgtaskRecord{
		Status:     TaskStatus(status),
		Message:    fields["msg"],
		StartedAt:  fields["started_at"],
		LastUpdate: fields["last_update"],
		Current:    fields["current"],
		Total:      fields["total"],
	}, nil
}

func bgtaskTrackerKey(taskID uuid.UUID) string {
	return fmt.Sprintf("bgtask.%s", taskID)
}

func nowSeconds() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

// ProgressReporter is handed to a running background task so it can
// publish incremental progress without knowing about Redis or the event
// wire format.
type ProgressReporter struct {
	store    StreamStore
	producer *EventProducer
	taskID   uuid.UUID

	mu              sync.Mutex
	currentProgress float64
	totalProgress   float64
}

func newProgressReporter(store StreamStore, producer *EventProducer, taskID uuid.UUID, total float64) *ProgressReporter {
	return &ProgressReporter{store: store, producer: producer, taskID: taskID, totalProgress: total}
}

// Update bumps current progress by increment and publishes a
// BgtaskUpdatedEvent with the resulting totals. current/total are read
// into local variables before any await point so a concurrent Update
// can't smear its own numbers into this call's event.
func (r *ProgressReporter) Update(ctx context.Context, increment float64, message string) error {
	r.mu.Lock()
	r.currentProgress += increment
	current, total := r.currentProgress, r.totalProgress
	r.mu.Unlock()

	fields := map[string]string{
		"current":     formatFloat(current),
		"total":       formatFloat(total),
		"msg":         message,
		"last_update": nowSeconds(),
	}
	if err := r.store.HSet(ctx, bgtaskTrackerKey(r.taskID), fields, bgtaskArchivePeriod); err != nil {
		return err
	}

	var msgPtr *string
	if message != "" {
		msgPtr = &message
	}
	return r.producer.Produce(ctx, BgtaskUpdatedEvent{
		ID:              r.taskID,
		CurrentProgress: current,
		TotalProgress:   total,
		Message:         msgPtr,
	})
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// BackgroundTaskObserver lets a host collect bgtask lifecycle metrics.
type BackgroundTaskObserver interface {
	ObserveBgtaskStarted(taskName string)
	ObserveBgtaskDone(taskName string, status TaskStatus, duration time.Duration, errorCode ErrorCode)
}

// NopBackgroundTaskObserver is the zero-value BackgroundTaskObserver.
type NopBackgroundTaskObserver struct{}

func (NopBackgroundTaskObserver) ObserveBgtaskStarted(string)                                   {}
func (NopBackgroundTaskObserver) ObserveBgtaskDone(string, TaskStatus, time.Duration, ErrorCode) {}

// BgtaskResult is what a background task function hands back: a summary
// message, and any per-item errors collected along the way. A non-empty
// Errors slice with no hard failure maps to BgtaskPartialSuccessEvent.
type BgtaskResult struct {
	Message string
	Errors  []string
}

func (r BgtaskResult) hasErrors() bool { return len(r.Errors) > 0 }

// BackgroundTask is the function signature a caller hands to
// BgtaskManager.Start.
type BackgroundTask func(ctx context.Context, reporter *ProgressReporter) (BgtaskResult, error)

// BgtaskManager runs background tasks, tracks their progress and
// terminal status in Redis, and emits the matching lifecycle event
// exactly once per task.
type BgtaskManager struct {
	store    StreamStore
	producer *EventProducer
	observer BackgroundTaskObserver
	logger   *Logger

	mu     sync.Mutex
	tasks  map[uuid.UUID]context.CancelFunc
}

// NewBgtaskManager builds a BgtaskManager over the given store and
// producer.
func NewBgtaskManager(store StreamStore, producer *EventProducer, opts ...func(*BgtaskManager)) *BgtaskManager {
	m := &BgtaskManager{
		store:    store,
		producer: producer,
		observer: NopBackgroundTaskObserver{},
		logger:   NewLogger("bgtask"),
		tasks:    make(map[uuid.UUID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithBackgroundTaskObserver sets the manager's metrics seam.
func WithBackgroundTaskObserver(o BackgroundTaskObserver) func(*BgtaskManager) {
	return func(m *BgtaskManager) { m.observer = o }
}

// Start kicks off fn in a new goroutine, returning its task id
// immediately. fn's terminal event is produced exactly once, whether it
// returns normally, returns an error, or is cancelled via Shutdown.
func (m *BgtaskManager) Start(ctx context.Context, fn BackgroundTask, taskName string) (uuid.UUID, error) {
	taskID := uuid.New()
	if err := m.writeStatus(ctx, taskID, TaskStarted, ""); err != nil {
		return uuid.Nil, err
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.tasks[taskID] = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.tasks, taskID)
			m.mu.Unlock()
			cancel()
		}()
		m.runTask(taskCtx, fn, taskID, taskName)
	}()

	return taskID, nil
}

// Shutdown cancels every still-running task and returns without waiting
// for them to unwind; each task writes its terminal status and produces
// its terminal event from its own goroutine once fn returns. This replaces the Python implementation's weakref.WeakSet
// sweep (Go has no analogous weak-reference collection) with an owned
// map whose entries remove themselves on completion.
func (m *BgtaskManager) Shutdown() {
	m.logger.Info("cancelling remaining background tasks")
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.tasks))
	for _, c := range m.tasks {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (m *BgtaskManager) runTask(ctx context.Context, fn BackgroundTask, taskID uuid.UUID, taskName string) {
	m.observer.ObserveBgtaskStarted(taskName)
	start := time.Now()

	reporter := newProgressReporter(m.store, m.producer, taskID, 0)
	event, errCode := m.observeResult(ctx, fn, reporter, taskID)
	duration := time.Since(start)

	m.observer.ObserveBgtaskDone(taskName, event.Status(), duration, errCode)

	if err := m.writeStatus(context.Background(), taskID, event.Status(), bgtaskMessage(event)); err != nil {
		m.logger.Error("persist bgtask status", "task", taskID, "error", err)
	}
	if err := m.producer.Produce(context.Background(), event); err != nil {
		m.logger.Error("produce bgtask terminal event", "task", taskID, "error", err)
	}
	m.logger.Info("background task finished", "task", taskID, "name", taskName, "event", event.EventName())
}

func (m *BgtaskManager) observeResult(ctx context.Context, fn BackgroundTask, reporter *ProgressReporter, taskID uuid.UUID) (BgtaskEvent, ErrorCode) {
	result, err := fn(ctx, reporter)
	select {
	case <-ctx.Done():
		return BgtaskCancelledEvent{ID: taskID}, ""
	default:
	}
	if err != nil {
		msg := err.Error()
		if de, ok := err.(DomainError); ok {
			return BgtaskFailedEvent{ID: taskID, Message: &msg}, de.ErrorCode()
		}
		return BgtaskFailedEvent{ID: taskID, Message: &msg}, DefaultErrorCode
	}
	var msgPtr *string
	if result.Message != "" {
		msgPtr = &result.Message
	}
	if result.hasErrors() {
		return BgtaskPartialSuccessEvent{ID: taskID, Message: msgPtr, Errors: result.Errors}, ""
	}
	return BgtaskDoneEvent{ID: taskID, Message: msgPtr}, ""
}

func bgtaskMessage(event BgtaskEvent) string {
	switch e := event.(type) {
	case BgtaskDoneEvent:
		return derefString(e.Message)
	case BgtaskFailedEvent:
		return derefString(e.Message)
	case BgtaskCancelledEvent:
		return derefString(e.Message)
	case BgtaskPartialSuccessEvent:
		return derefString(e.Message)
	default:
		return ""
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (m *BgtaskManager) writeStatus(ctx context.Context, taskID uuid.UUID, status TaskStatus, message string) error {
	now := nowSeconds()
	record := BgtaskRecord{Status: status, Message: message, StartedAt: now, LastUpdate: now, Current: "0", Total: "0"}
	fields := record.toFields()
	if status.Finished() {
		// A terminal write keeps the start time and progress already on record.
		delete(fields, "started_at")
		delete(fields, "current")
		delete(fields, "total")
	}
	prev, err := m.store.HSetPreviousStatus(ctx, bgtaskTrackerKey(taskID), fields, bgtaskArchivePeriod)
	if err != nil {
		return err
	}
	if status.Finished() && TaskStatus(prev).Finished() {
		m.logger.Warn("bgtask already had a terminal status", "task", taskID, "previous", prev, "new", status)
	}
	return nil
}

// FetchLastFinishedEvent reconstructs the terminal event for a task from
// its persisted record, for replaying to a subscriber that arrived after
// the task finished. It returns (nil, nil) if the task is known but not
// yet finished, and ErrBgtaskNotFound if the record is missing/expired.
func (m *BgtaskManager) FetchLastFinishedEvent(ctx context.Context, taskID uuid.UUID) (*BgtaskAlreadyDoneEvent, error) {
	fields, err := m.store.HGetAll(ctx, bgtaskTrackerKey(taskID))
	if err != nil {
		return nil, err
	}
	record, err := bgtaskRecordFromFields(fields)
	if err != nil {
		return nil, err
	}
	if !record.Status.Finished() {
		return nil, nil
	}
	var msgPtr *string
	if record.Message != "" {
		msgPtr = &record.Message
	}
	return &BgtaskAlreadyDoneEvent{
		ID:         taskID,
		TaskStatus: record.Status,
		Message:    msgPtr,
		Current:    record.Current,
		Total:      record.Total,
	}, nil
}
