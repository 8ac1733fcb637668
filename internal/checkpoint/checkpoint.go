package checkpoint

import (
	"maps"
	"slices"
	"strconv"

	"github.com/corda/corda-runtime-os-sub032/internal/flowtype"
	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// SessionExpiryKey is the metadata key holding the earliest expiry, in
// epoch milliseconds, among the flow's open sessions.
const SessionExpiryKey = "session.expiry"

// Phase is the lifecycle state of a Checkpoint.
type Phase int

const (
	// PhaseUninitialized: no initializer has run yet.
	PhaseUninitialized Phase = iota
	// PhaseActive: state is loaded; accessors succeed.
	PhaseActive
	// PhaseDeleted: the flow is logically gone; accessors fail.
	PhaseDeleted
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseActive:
		return "active"
	case PhaseDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Checkpoint is the in-memory execution state of one flow instance.
//
// A Checkpoint is owned by exactly one worker at a time and performs no
// locking. Every accessor goes through live(), the single point where the
// lifecycle phase is checked.
type Checkpoint struct {
	phase    Phase
	resolver flowtype.Resolver

	flowID   string
	start    ir.FlowStartContext
	state    flowState
	stack    *FlowStack
	sessions *SessionRegistry
	metadata map[string]string

	// committed is the snapshot Rollback restores.
	committed *ir.Checkpoint
}

type flowState struct {
	waitingFor   *ir.WaitingFor
	suspendedOn  string
	fiber        []byte
	suspendCount int64
	isKilled     bool
}

// New returns an uninitialized checkpoint. resolver supplies the
// precomputed initiating-flow facts used by Push; nil means no flow type
// is initiating.
func New(resolver flowtype.Resolver) *Checkpoint {
	if resolver == nil {
		resolver = flowtype.Empty()
	}
	return &Checkpoint{resolver: resolver}
}

// InitFromNew creates the state of a freshly started flow: no suspensions,
// not killed, an empty fiber, and empty stack and sessions.
func (c *Checkpoint) InitFromNew(flowID string, start ir.FlowStartContext, waitingFor ir.WaitingFor) error {
	if c.phase != PhaseUninitialized {
		return fatal(ErrCodeAlreadyInitialized, c.flowID, "checkpoint already initialized")
	}
	if flowID == "" {
		return fatal(ErrCodeMissingField, "", "flow id is required")
	}
	wf := waitingFor.Clone()
	sc := start.Clone()
	raw := &ir.Checkpoint{
		FlowID:           flowID,
		FlowStartContext: &sc,
		FlowState: &ir.FlowState{
			WaitingFor: &wf,
			Fiber:      []byte{},
			Sessions:   []ir.SessionState{},
			StackItems: []ir.StackItem{},
		},
	}
	return c.load(raw)
}

// InitFromPersisted materializes a checkpoint from its persisted record.
//
// FlowState and FlowStartContext are mandatory. Absent session and stack
// item lists default to empty, as do each frame's session id lists.
// Duplicate session ids fail the load.
func (c *Checkpoint) InitFromPersisted(raw *ir.Checkpoint) error {
	if c.phase != PhaseUninitialized {
		return fatal(ErrCodeAlreadyInitialized, c.flowID, "checkpoint already initialized")
	}
	if raw == nil {
		return fatal(ErrCodeMissingField, "", "persisted checkpoint is nil")
	}
	if raw.FlowState == nil {
		return fatal(ErrCodeMissingField, raw.FlowID, "persisted checkpoint has no flow_state")
	}
	if raw.FlowStartContext == nil {
		return fatal(ErrCodeMissingField, raw.FlowID, "persisted checkpoint has no flow_start_context")
	}

	normalized := raw.Clone()
	normalized.PipelineState = nil
	fs := normalized.FlowState
	if fs.Sessions == nil {
		fs.Sessions = []ir.SessionState{}
	}
	if fs.StackItems == nil {
		fs.StackItems = []ir.StackItem{}
	}
	if fs.Fiber == nil {
		fs.Fiber = []byte{}
	}
	for i := range fs.StackItems {
		if fs.StackItems[i].SessionIDs == nil {
			fs.StackItems[i].SessionIDs = []string{}
		}
	}
	return c.load(normalized)
}

// load installs raw as the active state and as the rollback snapshot.
// Existing stack and registry objects are restored in place so handles
// handed out before a rollback stay attached.
func (c *Checkpoint) load(raw *ir.Checkpoint) error {
	fs := raw.FlowState

	if c.sessions == nil {
		sessions, err := newSessionRegistry(raw.FlowID, fs.Sessions)
		if err != nil {
			return err
		}
		sessions.onChange = c.refreshSessionExpiry
		c.sessions = sessions
	} else if err := c.sessions.restore(raw.FlowID, fs.Sessions); err != nil {
		return err
	}

	if c.stack == nil {
		c.stack = newFlowStack(raw.FlowID, c.resolver, raw.FlowStartContext, fs.StackItems)
	} else {
		c.stack.restore(fs.StackItems)
	}

	c.flowID = raw.FlowID
	c.start = raw.FlowStartContext.Clone()
	c.state = flowState{
		suspendedOn:  fs.SuspendedOn,
		fiber:        slices.Clone(fs.Fiber),
		suspendCount: fs.SuspendCount,
		isKilled:     fs.IsKilled,
	}
	if c.state.fiber == nil {
		c.state.fiber = []byte{}
	}
	if fs.WaitingFor != nil {
		wf := fs.WaitingFor.Clone()
		c.state.waitingFor = &wf
	}
	c.metadata = maps.Clone(raw.Metadata)
	if c.metadata == nil {
		c.metadata = map[string]string{}
	}
	c.refreshSessionExpiry()

	c.committed = raw.Clone()
	c.phase = PhaseActive
	return nil
}

// live is the single point where the lifecycle phase is enforced.
func (c *Checkpoint) live() error {
	switch c.phase {
	case PhaseActive:
		return nil
	case PhaseDeleted:
		return fatal(ErrCodeAccessedAfterDeletion, c.flowID, "checkpoint accessed after deletion")
	default:
		return fatal(ErrCodeNotInitialized, "", "checkpoint accessed before initialization")
	}
}

// Phase reports the lifecycle phase. It never fails.
func (c *Checkpoint) Phase() Phase {
	return c.phase
}

// FlowID returns the immutable flow identity.
func (c *Checkpoint) FlowID() (string, error) {
	if err := c.live(); err != nil {
		return "", err
	}
	return c.flowID, nil
}

// StartContext returns a copy of the flow start context.
func (c *Checkpoint) StartContext() (ir.FlowStartContext, error) {
	if err := c.live(); err != nil {
		return ir.FlowStartContext{}, err
	}
	return c.start.Clone(), nil
}

// WaitingFor returns the condition that will resume the flow. A flow that
// has never recorded one reports Nothing.
func (c *Checkpoint) WaitingFor() (ir.WaitingFor, error) {
	if err := c.live(); err != nil {
		return ir.WaitingFor{}, err
	}
	if c.state.waitingFor == nil {
		return ir.Nothing(), nil
	}
	return c.state.waitingFor.Clone(), nil
}

// SetWaitingFor replaces the active resume condition.
func (c *Checkpoint) SetWaitingFor(w ir.WaitingFor) error {
	if err := c.live(); err != nil {
		return err
	}
	wf := w.Clone()
	c.state.waitingFor = &wf
	return nil
}

// SuspendedOn returns the marker of the last suspend call site.
func (c *Checkpoint) SuspendedOn() (string, error) {
	if err := c.live(); err != nil {
		return "", err
	}
	return c.state.suspendedOn, nil
}

// Fiber returns the serialized continuation. Empty, never nil, until the
// flow first suspends.
func (c *Checkpoint) Fiber() ([]byte, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	return slices.Clone(c.state.fiber), nil
}

// SuspendCount returns how many times the flow has suspended.
func (c *Checkpoint) SuspendCount() (int64, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	return c.state.suspendCount, nil
}

// Suspend records a suspension: the call-site marker, the resume
// condition, and the serialized fiber.
func (c *Checkpoint) Suspend(suspendedOn string, waitingFor ir.WaitingFor, fiber []byte) error {
	if err := c.live(); err != nil {
		return err
	}
	wf := waitingFor.Clone()
	c.state.suspendedOn = suspendedOn
	c.state.waitingFor = &wf
	c.state.fiber = slices.Clone(fiber)
	if c.state.fiber == nil {
		c.state.fiber = []byte{}
	}
	c.state.suspendCount++
	return nil
}

// IsKilled reports whether the flow was killed.
func (c *Checkpoint) IsKilled() (bool, error) {
	if err := c.live(); err != nil {
		return false, err
	}
	return c.state.isKilled, nil
}

// MarkKilled flags the flow as killed; the scheduler stops resuming it.
func (c *Checkpoint) MarkKilled() error {
	if err := c.live(); err != nil {
		return err
	}
	c.state.isKilled = true
	return nil
}

// Stack returns the flow stack.
func (c *Checkpoint) Stack() (*FlowStack, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	return c.stack, nil
}

// Sessions returns the session registry.
func (c *Checkpoint) Sessions() (*SessionRegistry, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	return c.sessions, nil
}

// Context returns the live flow context over this checkpoint's stack.
func (c *Checkpoint) Context() (*LiveContext, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	return NewLiveContext(c.stack), nil
}

// Metadata returns the value of a checkpoint metadata key.
func (c *Checkpoint) Metadata(key string) (string, bool, error) {
	if err := c.live(); err != nil {
		return "", false, err
	}
	v, ok := c.metadata[key]
	return v, ok, nil
}

// SetMetadata sets a checkpoint metadata key.
func (c *Checkpoint) SetMetadata(key, value string) error {
	if err := c.live(); err != nil {
		return err
	}
	c.metadata[key] = value
	return nil
}

// refreshSessionExpiry keeps SessionExpiryKey equal to the earliest expiry
// of the open sessions, removing it when none has one.
func (c *Checkpoint) refreshSessionExpiry() {
	if c.metadata == nil || c.sessions == nil {
		return
	}
	if earliest, ok := c.sessions.earliestExpiry(); ok {
		c.metadata[SessionExpiryKey] = strconv.FormatInt(earliest, 10)
		return
	}
	delete(c.metadata, SessionExpiryKey)
}

// Rollback discards every mutation made since the checkpoint was
// initialized, restoring flow state, stack and sessions from the snapshot.
// Pipeline state is not part of the checkpoint and is unaffected.
func (c *Checkpoint) Rollback() error {
	if err := c.live(); err != nil {
		return err
	}
	return c.load(c.committed.Clone())
}

// MarkDeleted ends the checkpoint's life. It is irreversible: later
// accessors fail and ToSerializable returns nil.
func (c *Checkpoint) MarkDeleted() {
	c.phase = PhaseDeleted
}

// ToSerializable returns the persisted record, or nil if the checkpoint was
// deleted, signalling that there is nothing to persist. Sessions come out
// sorted by id; PipelineState is left for the pipeline driver to attach.
func (c *Checkpoint) ToSerializable() (*ir.Checkpoint, error) {
	if c.phase == PhaseDeleted {
		return nil, nil
	}
	if err := c.live(); err != nil {
		return nil, err
	}

	var wf *ir.WaitingFor
	if c.state.waitingFor != nil {
		w := c.state.waitingFor.Clone()
		wf = &w
	}
	sc := c.start.Clone()
	out := &ir.Checkpoint{
		FlowID:           c.flowID,
		FlowStartContext: &sc,
		FlowState: &ir.FlowState{
			WaitingFor:   wf,
			SuspendedOn:  c.state.suspendedOn,
			Fiber:        slices.Clone(c.state.fiber),
			SuspendCount: c.state.suspendCount,
			IsKilled:     c.state.isKilled,
			Sessions:     c.sessions.States(),
			StackItems:   c.stack.Items(),
		},
	}
	if len(c.metadata) > 0 {
		out.Metadata = maps.Clone(c.metadata)
	}
	if out.FlowState.Fiber == nil {
		out.FlowState.Fiber = []byte{}
	}
	return out, nil
}
