// Error definitions for the event and background-task coordination core.
package eventcore

import "errors"

var (
	// ErrQueueClosed is returned by MessageQueue/EventProducer operations
	// attempted after Close.
	ErrQueueClosed = errors.New("eventcore: queue is closed")

	// ErrBgtaskNotFound is returned when a bgtask KV record is absent,
	// either because the task never existed or its TTL expired.
	ErrBgtaskNotFound = errors.New("eventcore: background task not found")

	// ErrInvalidTaskMetadata is returned when a bgtask KV record exists
	// but cannot be parsed into a BgtaskRecord.
	ErrInvalidTaskMetadata = errors.New("eventcore: invalid background task metadata")

	// ErrEventNotRegistered is returned when a broadcast event name has no
	// registered factory to deserialize it.
	ErrEventNotRegistered = errors.New("eventcore: event name not registered")

	// ErrDuplicateEventRegistration is raised (as a panic, per spec §3's
	// "fatal startup error") when two broadcast event types register the
	// same event name.
	ErrDuplicateEventRegistration = errors.New("eventcore: event name already registered")

	// ErrPropagatorNotFound is returned by EventHub.Unregister for an
	// unknown propagator id.
	ErrPropagatorNotFound = errors.New("eventcore: propagator not registered")

	// ErrScriptNotRegistered is returned by ScriptRegistry.Run for an
	// unknown script name.
	ErrScriptNotRegistered = errors.New("eventcore: script not registered")
)

// ErrorCode identifies the class of a domain-typed failure surfaced through
// a BgtaskFailedEvent. It mirrors the original source's ErrorCode concept
// used to tag failures for metrics and client-facing error payloads.
type ErrorCode string

// DefaultErrorCode is used whenever a raised error has no more specific
// domain classification.
const DefaultErrorCode ErrorCode = "generic-failure"

// DomainError is a typed failure carrying an ErrorCode, analogous to
// BackendAIError in the original source. BgtaskManager treats any error
// satisfying this interface specially when building a BgtaskFailedEvent.
type DomainError interface {
	error
	ErrorCode() ErrorCode
}

// WrappedError is a concrete DomainError, the Go analogue of the teacher's
// BackstageError: a message, an error code, and an optional wrapped cause.
type WrappedError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *WrappedError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *WrappedError) Unwrap() error {
	return e.Err
}

func (e *WrappedError) ErrorCode() ErrorCode {
	return e.Code
}

// NewDomainError constructs a WrappedError with the given code and message.
func NewDomainError(code ErrorCode, message string, cause error) *WrappedError {
	return &WrappedError{Code: code, Message: message, Err: cause}
}
