package eventcore

import "github.com/google/uuid"

// The events below are the one-representative-per-domain set called for
// by SPEC_FULL.md A.3.7: enough for EventDispatcher/EventHub routing to
// have something realistic to carry per EventDomain beyond BGTASK. Field
// sets are illustrative, not a port of any single upstream dataclass.

// ImagePullStartedEvent announces that an agent began pulling an image.
type ImagePullStartedEvent struct {
	BroadcastEvent
	Reference string
	AgentID   string
}

func (e ImagePullStartedEvent) EventDomain() EventDomain { return DomainImage }
func (e ImagePullStartedEvent) EventName() string        { return "image_pull_started" }
func (e ImagePullStartedEvent) DomainID() string         { return e.Reference }
func (e ImagePullStartedEvent) Serialize() []interface{} {
	return []interface{}{e.Reference, e.AgentID}
}

func deserializeImagePullStarted(args []interface{}) (Event, error) {
	ref, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	agent, _ := bgtaskArgString(args, 1)
	return ImagePullStartedEvent{Reference: ref, AgentID: agent}, nil
}

// KernelStartedEvent announces that a kernel finished booting.
type KernelStartedEvent struct {
	BroadcastEvent
	KernelID uuid.UUID
	SessionID uuid.UUID
}

func (e KernelStartedEvent) EventDomain() EventDomain { return DomainKernel }
func (e KernelStartedEvent) EventName() string        { return "kernel_started" }
func (e KernelStartedEvent) DomainID() string         { return e.KernelID.String() }
func (e KernelStartedEvent) Serialize() []interface{} {
	return []interface{}{e.KernelID.String(), e.SessionID.String()}
}

func deserializeKernelStarted(args []interface{}) (Event, error) {
	kernelID, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	k, err := uuid.Parse(kernelID)
	if err != nil {
		return nil, err
	}
	sessionID, _ := bgtaskArgString(args, 1)
	s, _ := uuid.Parse(sessionID)
	return KernelStartedEvent{KernelID: k, SessionID: s}, nil
}

// ModelServiceStatusChangedEvent announces a change in a model service's
// readiness.
type ModelServiceStatusChangedEvent struct {
	BroadcastEvent
	ServiceID uuid.UUID
	Status    string
}

func (e ModelServiceStatusChangedEvent) EventDomain() EventDomain { return DomainModelServing }
func (e ModelServiceStatusChangedEvent) EventName() string        { return "model_service_status_changed" }
func (e ModelServiceStatusChangedEvent) DomainID() string         { return e.ServiceID.String() }
func (e ModelServiceStatusChangedEvent) Serialize() []interface{} {
	return []interface{}{e.ServiceID.String(), e.Status}
}

func deserializeModelServiceStatusChanged(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	svc, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	status, _ := bgtaskArgString(args, 1)
	return ModelServiceStatusChangedEvent{ServiceID: svc, Status: status}, nil
}

// DoScheduleEvent is a process-scoped anycast trigger telling a manager
// worker to run a scheduling pass. It carries no domain id: it targets
// whichever worker happens to consume it, not a specific entity.
type DoScheduleEvent struct {
	AnycastEvent
}

func (e DoScheduleEvent) EventDomain() EventDomain { return DomainSchedule }
func (e DoScheduleEvent) EventName() string        { return "do_schedule" }
func (e DoScheduleEvent) DomainID() string         { return "" }
func (e DoScheduleEvent) Serialize() []interface{} { return nil }

// DoIdleCheckEvent is a process-scoped anycast trigger telling a manager
// worker to run an idleness sweep.
type DoIdleCheckEvent struct {
	AnycastEvent
}

func (e DoIdleCheckEvent) EventDomain() EventDomain { return DomainIdleCheck }
func (e DoIdleCheckEvent) EventName() string        { return "do_idle_check" }
func (e DoIdleCheckEvent) DomainID() string         { return "" }
func (e DoIdleCheckEvent) Serialize() []interface{} { return nil }

// SessionTerminatedEvent announces that a compute session has ended.
type SessionTerminatedEvent struct {
	BroadcastEvent
	SessionID uuid.UUID
	Reason    string
}

func (e SessionTerminatedEvent) EventDomain() EventDomain { return DomainSession }
func (e SessionTerminatedEvent) EventName() string        { return "session_terminated" }
func (e SessionTerminatedEvent) DomainID() string         { return e.SessionID.String() }
func (e SessionTerminatedEvent) Serialize() []interface{} {
	return []interface{}{e.SessionID.String(), e.Reason}
}

func deserializeSessionTerminated(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	s, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	reason, _ := bgtaskArgString(args, 1)
	return SessionTerminatedEvent{SessionID: s, Reason: reason}, nil
}

// AgentHeartbeatEvent announces a liveness signal from an agent.
type AgentHeartbeatEvent struct {
	BroadcastEvent
	AgentID string
}

func (e AgentHeartbeatEvent) EventDomain() EventDomain { return DomainAgent }
func (e AgentHeartbeatEvent) EventName() string        { return "agent_heartbeat" }
func (e AgentHeartbeatEvent) DomainID() string         { return e.AgentID }
func (e AgentHeartbeatEvent) Serialize() []interface{} { return []interface{}{e.AgentID} }

func deserializeAgentHeartbeat(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	return AgentHeartbeatEvent{AgentID: id}, nil
}

// VFolderDeletedEvent announces that a virtual folder was removed.
type VFolderDeletedEvent struct {
	BroadcastEvent
	VFolderID uuid.UUID
}

func (e VFolderDeletedEvent) EventDomain() EventDomain { return DomainVFolder }
func (e VFolderDeletedEvent) EventName() string        { return "vfolder_deleted" }
func (e VFolderDeletedEvent) DomainID() string         { return e.VFolderID.String() }
func (e VFolderDeletedEvent) Serialize() []interface{} {
	return []interface{}{e.VFolderID.String()}
}

func deserializeVFolderDeleted(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	v, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return VFolderDeletedEvent{VFolderID: v}, nil
}

// VolumeMountedEvent announces that a storage volume was attached.
type VolumeMountedEvent struct {
	BroadcastEvent
	VolumeID string
	MountPath string
}

func (e VolumeMountedEvent) EventDomain() EventDomain { return DomainVolume }
func (e VolumeMountedEvent) EventName() string        { return "volume_mounted" }
func (e VolumeMountedEvent) DomainID() string         { return e.VolumeID }
func (e VolumeMountedEvent) Serialize() []interface{} {
	return []interface{}{e.VolumeID, e.MountPath}
}

func deserializeVolumeMounted(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	path, _ := bgtaskArgString(args, 1)
	return VolumeMountedEvent{VolumeID: id, MountPath: path}, nil
}

// AgentErrorLogEvent carries a single structured error log line surfaced
// from an agent for aggregation.
type AgentErrorLogEvent struct {
	BroadcastEvent
	AgentID string
	Message string
}

func (e AgentErrorLogEvent) EventDomain() EventDomain { return DomainLog }
func (e AgentErrorLogEvent) EventName() string        { return "agent_error_log" }
func (e AgentErrorLogEvent) DomainID() string         { return e.AgentID }
func (e AgentErrorLogEvent) Serialize() []interface{} {
	return []interface{}{e.AgentID, e.Message}
}

func deserializeAgentErrorLog(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	msg, _ := bgtaskArgString(args, 1)
	return AgentErrorLogEvent{AgentID: id, Message: msg}, nil
}

// WorkflowCompletedEvent announces that a multi-step workflow reached a
// terminal state.
type WorkflowCompletedEvent struct {
	BroadcastEvent
	WorkflowID uuid.UUID
	Status     string
}

func (e WorkflowCompletedEvent) EventDomain() EventDomain { return DomainWorkflow }
func (e WorkflowCompletedEvent) EventName() string        { return "workflow_completed" }
func (e WorkflowCompletedEvent) DomainID() string         { return e.WorkflowID.String() }
func (e WorkflowCompletedEvent) Serialize() []interface{} {
	return []interface{}{e.WorkflowID.String(), e.Status}
}

func deserializeWorkflowCompleted(args []interface{}) (Event, error) {
	id, err := bgtaskArgString(args, 0)
	if err != nil {
		return nil, err
	}
	w, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	status, _ := bgtaskArgString(args, 1)
	return WorkflowCompletedEvent{WorkflowID: w, Status: status}, nil
}

func init() {
	RegisterBroadcastEvent("image_pull_started", deserializeImagePullStarted)
	RegisterBroadcastEvent("kernel_started", deserializeKernelStarted)
	RegisterBroadcastEvent("model_service_status_changed", deserializeModelServiceStatusChanged)
	RegisterBroadcastEvent("session_terminated", deserializeSessionTerminated)
	RegisterBroadcastEvent("agent_heartbeat", deserializeAgentHeartbeat)
	RegisterBroadcastEvent("vfolder_deleted", deserializeVFolderDeleted)
	RegisterBroadcastEvent("volume_mounted", deserializeVolumeMounted)
	RegisterBroadcastEvent("agent_error_log", deserializeAgentErrorLog)
	RegisterBroadcastEvent("workflow_completed", deserializeWorkflowCompleted)
}
