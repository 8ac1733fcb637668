package ir

// Checkpoint is the persisted aggregate of a single flow instance.
//
// FlowStartContext and FlowState are mandatory on read; a record missing
// either is corrupt. PipelineState is owned by the pipeline driver and is
// carried alongside, never rolled back with the flow state.
type Checkpoint struct {
	FlowID           string            `json:"flow_id"`
	FlowStartContext *FlowStartContext `json:"flow_start_context"`
	FlowState        *FlowState        `json:"flow_state"`
	PipelineState    *PipelineState    `json:"pipeline_state,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// HoldingIdentity names a virtual node: an X.500 name inside a membership group.
type HoldingIdentity struct {
	X500Name string `json:"x500_name"`
	GroupID  string `json:"group_id"`
}

// FlowKey is the status key a flow reports its progress under.
type FlowKey struct {
	ID       string          `json:"id"`
	Identity HoldingIdentity `json:"identity"`
}

// InitiatorType records how a flow was started.
type InitiatorType string

const (
	// InitiatorRPC is a flow started by a client request.
	InitiatorRPC InitiatorType = "RPC"
	// InitiatorP2P is a flow started by a counterparty session.
	InitiatorP2P InitiatorType = "P2P"
)

// FlowStartContext is the immutable description of how and by whom a flow
// was launched. The two context property maps seed frame 0 of the stack.
type FlowStartContext struct {
	StatusKey                 FlowKey           `json:"status_key"`
	InitiatorType             InitiatorType     `json:"initiator_type"`
	RequestID                 string            `json:"request_id"`
	Identity                  HoldingIdentity   `json:"identity"`
	InitiatedBy               HoldingIdentity   `json:"initiated_by"`
	CPIID                     string            `json:"cpi_id"`
	FlowClassName             string            `json:"flow_class_name"`
	StartArgs                 string            `json:"start_args"`
	ContextPlatformProperties map[string]string `json:"context_platform_properties"`
	ContextUserProperties     map[string]string `json:"context_user_properties"`
	CreatedMillis             int64             `json:"created_millis"`
}

// FlowState is the rollback-able execution state of a flow.
type FlowState struct {
	WaitingFor   *WaitingFor    `json:"waiting_for,omitempty"`
	SuspendedOn  string         `json:"suspended_on"`
	Fiber        []byte         `json:"fiber"`
	SuspendCount int64          `json:"suspend_count"`
	IsKilled     bool           `json:"is_killed"`
	Sessions     []SessionState `json:"sessions"`
	StackItems   []StackItem    `json:"stack_items"`
}

// StackItem is one persisted frame of the flow stack.
type StackItem struct {
	FlowName           string            `json:"flow_name"`
	IsInitiatingFlow   bool              `json:"is_initiating_flow"`
	SessionIDs         []string          `json:"session_ids"`
	PlatformProperties map[string]string `json:"platform_properties"`
	UserProperties     map[string]string `json:"user_properties"`
}

// SessionStatus is the lifecycle status of a counterparty session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "CREATED"
	SessionConfirmed SessionStatus = "CONFIRMED"
	SessionClosing   SessionStatus = "CLOSING"
	SessionClosed    SessionStatus = "CLOSED"
	SessionError     SessionStatus = "ERROR"
)

// Terminal reports whether no further messages are expected on the session.
func (s SessionStatus) Terminal() bool {
	return s == SessionClosed || s == SessionError
}

// SessionState is the messaging collaborator's state for one session.
// The checkpoint core treats it as opaque apart from SessionID, Status and
// ExpiresAtMillis. Properties is the narrow key/value contract the
// collaborator reads and writes through.
type SessionState struct {
	SessionID       string            `json:"session_id"`
	Counterparty    HoldingIdentity   `json:"counterparty"`
	Status          SessionStatus     `json:"status"`
	ExpiresAtMillis int64             `json:"expires_at_millis,omitempty"`
	Properties      map[string]string `json:"properties,omitempty"`
}

// WaitingForKind tags the condition that resumes a suspended flow.
type WaitingForKind string

const (
	WaitingForNothing             WaitingForKind = "Nothing"
	WaitingForWakeup              WaitingForKind = "Wakeup"
	WaitingForSessionConfirmation WaitingForKind = "SessionConfirmation"
	WaitingForSessionData         WaitingForKind = "SessionData"
	WaitingForExternalEvent       WaitingForKind = "ExternalEvent"
)

// WaitingFor is a tagged variant; only the fields of the active Kind are set.
type WaitingFor struct {
	Kind            WaitingForKind `json:"kind"`
	SessionIDs      []string       `json:"session_ids,omitempty"`
	ExternalEventID string         `json:"external_event_id,omitempty"`
}

// Wakeup returns a WaitingFor that resumes on the next wakeup event.
func Wakeup() WaitingFor { return WaitingFor{Kind: WaitingForWakeup} }

// Nothing returns a WaitingFor that never resumes the flow.
func Nothing() WaitingFor { return WaitingFor{Kind: WaitingForNothing} }

// SessionConfirmation waits until the given sessions are confirmed.
func SessionConfirmation(sessionIDs ...string) WaitingFor {
	return WaitingFor{Kind: WaitingForSessionConfirmation, SessionIDs: sessionIDs}
}

// SessionData waits for data on the given sessions.
func SessionData(sessionIDs ...string) WaitingFor {
	return WaitingFor{Kind: WaitingForSessionData, SessionIDs: sessionIDs}
}

// ExternalEvent waits for the external event with the given id.
func ExternalEvent(id string) WaitingFor {
	return WaitingFor{Kind: WaitingForExternalEvent, ExternalEventID: id}
}

// PipelineState is the transient, never-rolled-back processing state.
type PipelineState struct {
	MaxFlowSleepMillis int64       `json:"max_flow_sleep_millis"`
	Retry              *RetryState `json:"retry,omitempty"`
}

// RetryState records an unresolved transient failure.
type RetryState struct {
	RetryCount         int               `json:"retry_count"`
	FailedEvent        FlowEvent         `json:"failed_event"`
	Error              ExceptionEnvelope `json:"error"`
	FirstFailureMillis int64             `json:"first_failure_millis"`
	LastFailureMillis  int64             `json:"last_failure_millis"`
}

// ExceptionEnvelope is the classified form of a processing failure.
type ExceptionEnvelope struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

// FlowEventKind names the event types delivered to a flow.
type FlowEventKind string

const (
	EventStartFlow     FlowEventKind = "StartFlow"
	EventWakeup        FlowEventKind = "Wakeup"
	EventSessionData   FlowEventKind = "SessionData"
	EventExternalEvent FlowEventKind = "ExternalEvent"
)

// FlowEvent is a single unit of work delivered to a flow by the scheduler.
type FlowEvent struct {
	FlowID  string        `json:"flow_id"`
	Kind    FlowEventKind `json:"kind"`
	Payload string        `json:"payload,omitempty"`
}
