package harness

import "github.com/corda/corda-runtime-os-sub032/internal/ir"

// Trace event types.
const (
	EventStep = "step"
	EventPass = "pass"
)

// TraceEvent records either an applied step or a settled pass.
type TraceEvent struct {
	Type string `json:"type"` // "step" or "pass"
	Seq  int64  `json:"seq"`
	Pass int64  `json:"pass"`

	// Step fields.
	Op   string            `json:"op,omitempty"`
	Args map[string]string `json:"args,omitempty"`

	// Error is the checkpoint error code, or the message of any other error.
	Error string `json:"error,omitempty"`

	// Pass fields.
	Event       string `json:"event,omitempty"`
	Status      string `json:"status,omitempty"`
	Revision    int64  `json:"revision,omitempty"`
	RetryCount  int    `json:"retry_count,omitempty"`
	SleepMillis int64  `json:"sleep_millis,omitempty"`
}

// FinalState summarizes the last persisted checkpoint of a scenario.
type FinalState struct {
	Revision     int64             `json:"revision"`
	SuspendCount int64             `json:"suspend_count"`
	SuspendedOn  string            `json:"suspended_on"`
	WaitingFor   string            `json:"waiting_for"`
	IsKilled     bool              `json:"is_killed"`
	Stack        []FrameState      `json:"stack"`
	Sessions     []SessionSummary  `json:"sessions"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RetryCount   int               `json:"retry_count"`
}

// FrameState is one persisted stack frame.
type FrameState struct {
	Flow       string            `json:"flow"`
	Initiating bool              `json:"initiating"`
	SessionIDs []string          `json:"session_ids"`
	Platform   map[string]string `json:"platform"`
	User       map[string]string `json:"user"`
}

// SessionSummary is the id and status of one persisted session.
type SessionSummary struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// summarize builds the FinalState of a stored checkpoint.
func summarize(revision int64, raw *ir.Checkpoint) *FinalState {
	fs := raw.FlowState
	out := &FinalState{
		Revision:     revision,
		SuspendCount: fs.SuspendCount,
		SuspendedOn:  fs.SuspendedOn,
		IsKilled:     fs.IsKilled,
		Stack:        []FrameState{},
		Sessions:     []SessionSummary{},
		Metadata:     raw.Metadata,
		RetryCount:   -1,
	}
	if fs.WaitingFor != nil {
		out.WaitingFor = string(fs.WaitingFor.Kind)
	}
	for _, item := range fs.StackItems {
		frame := FrameState{
			Flow:       item.FlowName,
			Initiating: item.IsInitiatingFlow,
			SessionIDs: item.SessionIDs,
			Platform:   item.PlatformProperties,
			User:       item.UserProperties,
		}
		if frame.SessionIDs == nil {
			frame.SessionIDs = []string{}
		}
		if frame.Platform == nil {
			frame.Platform = map[string]string{}
		}
		if frame.User == nil {
			frame.User = map[string]string{}
		}
		out.Stack = append(out.Stack, frame)
	}
	for _, s := range fs.Sessions {
		out.Sessions = append(out.Sessions, SessionSummary{ID: s.SessionID, Status: string(s.Status)})
	}
	if raw.PipelineState != nil && raw.PipelineState.Retry != nil {
		out.RetryCount = raw.PipelineState.Retry.RetryCount
	}
	return out
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True if every expectation and assertion held.
	Pass bool `json:"pass"`

	// FlowID is the id the scenario's flow ran under.
	FlowID string `json:"flow_id"`

	// Trace contains all steps and pass outcomes in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the last persisted checkpoint, or nil if the flow no longer
	// has one.
	Final *FinalState `json:"final,omitempty"`

	// Record is the raw form of Final.
	Record *ir.Checkpoint `json:"-"`

	seq int64
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace appends an applied step to the trace.
func (r *Result) AddStepTrace(pass int64, op string, args map[string]string, errLabel string) {
	r.seq++
	r.Trace = append(r.Trace, TraceEvent{
		Type:  EventStep,
		Seq:   r.seq,
		Pass:  pass,
		Op:    op,
		Args:  args,
		Error: errLabel,
	})
}

// AddPassTrace appends a settled pass to the trace.
func (r *Result) AddPassTrace(ev TraceEvent) {
	r.seq++
	ev.Type = EventPass
	ev.Seq = r.seq
	r.Trace = append(r.Trace, ev)
}
