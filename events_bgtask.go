package eventcore

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskStatus is the terminal (or in-flight) state of a background task,
// both the wire status carried by done-family events and the status
// persisted in a BgtaskRecord.
type TaskStatus string

const (
	TaskStarted        TaskStatus = "started"
	TaskDone           TaskStatus = "done"
	TaskCancelled      TaskStatus = "cancelled"
	TaskFailed         TaskStatus = "failed"
	TaskPartialSuccess TaskStatus = "partial_success"
)

// Finished reports whether the status represents a terminal state.
func (s TaskStatus) Finished() bool {
	switch s {
	case TaskDone, TaskCancelled, TaskFailed, TaskPartialSuccess:
		return true
	default:
		return false
	}
}

// BgtaskEvent is the common shape of every event a BgtaskManager
// produces: it is always BROADCAST, domain-scoped to the task id, and
// carries the status that should be persisted if this turns out to be
// the task's terminal event.
type BgtaskEvent interface {
	Event
	TaskID() uuid.UUID
	Status() TaskStatus
}

func bgtaskArgString(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("eventcore: missing bgtask arg %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("eventcore: bgtask arg %d is not a string", i)
	}
	return s, nil
}

func bgtaskOptionalString(args []interface{}, i int) *string {
	if i >= len(args) || args[i] == nil {
		return nil
	}
	if s, ok := args[i].(string); ok {
		return &s
	}
	return nil
}

// bgtaskArgFloat returns args[i] as a float64, defaulting to zero for a
// truncated tuple or a mistyped/missing field, matching the forward-
// compatibility contract of suffix fields added after a tuple was
// already on the wire.
func bgtaskArgFloat(args []interface{}, i int) float64 {
	if i >= len(args) {
		return 0
	}
	f, _ := args[i].(float64)
	return f
}

// bgtaskArgStrings returns args[i] as a []string, defaulting to nil for
// a truncated tuple or a mistyped/missing field.
func bgtaskArgStrings(args []interface{}, i int) []string {
	if i >= len(args) {
		return nil
	}
	raw, ok := args[i].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BgtaskUpdatedEvent reports incremental progress on a running task.
type BgtaskUpdatedEvent struct {
	BroadcastEvent
	ID              uuid.UUID
	CurrentProgress float64
	TotalProgress   float64
	Message         *string
}

func (e BgtaskUpdatedEvent) EventDomain() EventDomain { return DomainBgtask }
func (e BgtaskUpdatedEvent) EventName() string        { return "bgtask_updated" }
func (e BgtaskUpdatedEvent) DomainID() string         { return e.ID.String() }
func (e BgtaskUpdatedEvent) TaskID() uuid.UUID        { return e.ID }
func (e BgtaskUpdatedEvent) Status() TaskStatus       { return TaskStarted }

func (e BgtaskUpdatedEvent) Serialize() []interface{} {
	return []interface{}{e.ID.String(), e.CurrentProgress, e.TotalProgress, e.Message}
}

func deserializeBgtaskUpdated(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	current := bgtaskArgFloat(args, 1)
	total := bgtaskArgFloat(args, 2)
	return BgtaskUpdatedEvent{ID: taskID, CurrentProgress: current, TotalProgress: total, Message: bgtaskOptionalString(args, 3)}, nil
}

// BgtaskDoneEvent reports a successfully completed task.
type BgtaskDoneEvent struct {
	BroadcastEvent
	ID      uuid.UUID
	Message *string
}

func (e BgtaskDoneEvent) EventDomain() EventDomain { return DomainBgtask }
func (e BgtaskDoneEvent) EventName() string        { return "bgtask_done" }
func (e BgtaskDoneEvent) DomainID() string         { return e.ID.String() }
func (e BgtaskDoneEvent) TaskID() uuid.UUID        { return e.ID }
func (e BgtaskDoneEvent) Status() TaskStatus       { return TaskDone }
func (e BgtaskDoneEvent) Serialize() []interface{} { return []interface{}{e.ID.String(), e.Message} }

func deserializeBgtaskDone(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return BgtaskDoneEvent{ID: taskID, Message: bgtaskOptionalString(args, 1)}, nil
}

// BgtaskCancelledEvent reports a task cancelled before completion.
type BgtaskCancelledEvent struct {
	BroadcastEvent
	ID      uuid.UUID
	Message *string
}

func (e BgtaskCancelledEvent) EventDomain() EventDomain { return DomainBgtask }
func (e BgtaskCancelledEvent) EventName() string        { return "bgtask_cancelled" }
func (e BgtaskCancelledEvent) DomainID() string         { return e.ID.String() }
func (e BgtaskCancelledEvent) TaskID() uuid.UUID        { return e.ID }
func (e BgtaskCancelledEvent) Status() TaskStatus       { return TaskCancelled }
func (e BgtaskCancelledEvent) Serialize() []interface{} {
	return []interface{}{e.ID.String(), e.Message}
}

func deserializeBgtaskCancelled(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return BgtaskCancelledEvent{ID: taskID, Message: bgtaskOptionalString(args, 1)}, nil
}

// BgtaskFailedEvent reports a task that raised an error.
type BgtaskFailedEvent struct {
	BroadcastEvent
	ID      uuid.UUID
	Message *string
}

func (e BgtaskFailedEvent) EventDomain() EventDomain { return DomainBgtask }
func (e BgtaskFailedEvent) EventName() string        { return "bgtask_failed" }
func (e BgtaskFailedEvent) DomainID() string         { return e.ID.String() }
func (e BgtaskFailedEvent) TaskID() uuid.UUID        { return e.ID }
func (e BgtaskFailedEvent) Status() TaskStatus       { return TaskFailed }
func (e BgtaskFailedEvent) Serialize() []interface{} {
	return []interface{}{e.ID.String(), e.Message}
}

func deserializeBgtaskFailed(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return BgtaskFailedEvent{ID: taskID, Message: bgtaskOptionalString(args, 1)}, nil
}

// BgtaskPartialSuccessEvent reports a task that completed with some
// per-item errors collected along the way.
//
// Its persisted/wire status is intentionally TaskDone, not
// TaskPartialSuccess: client-side handling for a distinct partial-success
// status isn't implemented yet, so this event's Status() reports DONE
// until that lands (see SPEC_FULL.md A.5).
type BgtaskPartialSuccessEvent struct {
	BroadcastEvent
	ID      uuid.UUID
	Message *string
	Errors  []string
}

func (e BgtaskPartialSuccessEvent) EventDomain() EventDomain { return DomainBgtask }
func (e BgtaskPartialSuccessEvent) EventName() string        { return "bgtask_partial_success" }
func (e BgtaskPartialSuccessEvent) DomainID() string         { return e.ID.String() }
func (e BgtaskPartialSuccessEvent) TaskID() uuid.UUID        { return e.ID }
func (e BgtaskPartialSuccessEvent) Status() TaskStatus       { return TaskDone }
func (e BgtaskPartialSuccessEvent) Serialize() []interface{} {
	return []interface{}{e.ID.String(), e.Message, e.Errors}
}

func deserializeBgtaskPartialSuccess(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	errs := bgtaskArgStrings(args, 2)
	return BgtaskPartialSuccessEvent{ID: taskID, Message: bgtaskOptionalString(args, 1), Errors: errs}, nil
}

// BgtaskAlreadyDoneEvent is synthesized in-process from a persisted
// BgtaskRecord when a late subscriber asks about a task that already
// finished; it is never produced to the wire, matching the original
// source's UnreachableError guard on serialize/deserialize.
type BgtaskAlreadyDoneEvent struct {
	BroadcastEvent
	ID         uuid.UUID
	TaskStatus TaskStatus
	Message    *string
	Current    string
	Total      string
}

func (e BgtaskAlreadyDoneEvent) EventDomain() EventDomain { return DomainBgtask }
func (e BgtaskAlreadyDoneEvent) EventName() string        { return "bgtask_already_done" }
func (e BgtaskAlreadyDoneEvent) DomainID() string         { return e.ID.String() }
func (e BgtaskAlreadyDoneEvent) TaskID() uuid.UUID        { return e.ID }
func (e BgtaskAlreadyDoneEvent) Status() TaskStatus       { return e.TaskStatus }
func (e BgtaskAlreadyDoneEvent) Serialize() []interface{} {
	panic("eventcore: BgtaskAlreadyDoneEvent must not be serialized")
}

func init() {
	RegisterBroadcastEvent("bgtask_updated", deserializeBgtaskUpdated)
	RegisterBroadcastEvent("bgtask_done", deserializeBgtaskDone)
	RegisterBroadcastEvent("bgtask_cancelled", deserializeBgtaskCancelled)
	RegisterBroadcastEvent("bgtask_failed", deserializeBgtaskFailed)
	RegisterBroadcastEvent("bgtask_partial_success", deserializeBgtaskPartialSuccess)
}
