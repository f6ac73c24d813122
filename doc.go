// Package eventcore implements the distributed event and background-task
// coordination core of a multi-tenant compute-cluster control plane.
//
// It moves named events between manager processes over Redis Streams
// (StreamStore, MessageQueue), tracks long-running background tasks with
// progress reporting and 24-hour replayability (BgtaskManager), dispatches
// events to in-process handlers under anycast and broadcast delivery
// disciplines (EventDispatcher), and fans out per-domain event streams to
// many in-process subscribers such as SSE responders (EventHub,
// EventPropagator).
package eventcore
