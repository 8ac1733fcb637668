package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// Scenario defines a checkpoint lifecycle scenario.
// Scenarios drive a single flow through one or more processing passes and
// assert on the resulting trace and the final persisted checkpoint.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Flows lists paths to CUE flow type declarations.
	// Paths are relative to the scenario file location.
	Flows []string `yaml:"flows,omitempty"`

	// FlowID is an optional fixed flow id.
	// If empty, defaults to "test-flow-default" for deterministic golden file comparison.
	FlowID string `yaml:"flow_id,omitempty"`

	// MaxRetries overrides the pipeline retry limit. Zero keeps the default.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Start describes the StartFlow request that creates the flow.
	Start StartSpec `yaml:"start"`

	// Sessions are put into the registry before the first step runs.
	Sessions []SessionSpec `yaml:"sessions,omitempty"`

	// Steps are the operations applied to the checkpoint, in order.
	// Every succeed or fail step ends a processing pass.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state, final_context
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// StartSpec is the start context of the scenario's flow.
type StartSpec struct {
	FlowClass string            `yaml:"flow_class"`
	Platform  map[string]string `yaml:"platform,omitempty"`
	User      map[string]string `yaml:"user,omitempty"`
}

// SessionSpec describes one counterparty session.
type SessionSpec struct {
	ID        string `yaml:"id"`
	Status    string `yaml:"status"`
	ExpiresAt int64  `yaml:"expires_at,omitempty"`
}

func (s SessionSpec) state() ir.SessionState {
	return ir.SessionState{
		SessionID:       s.ID,
		Counterparty:    ir.HoldingIdentity{X500Name: "CN=Bob, O=Bob Corp, L=NYC, C=US", GroupID: "test-group"},
		Status:          ir.SessionStatus(s.Status),
		ExpiresAtMillis: s.ExpiresAt,
	}
}

// Step is a single operation against the live checkpoint.
type Step struct {
	// Op names the operation; see the Op constants.
	Op string `yaml:"op"`

	// Flow is the flow type pushed by push.
	Flow string `yaml:"flow,omitempty"`

	// Key and Value are used by put and put_platform.
	Key   string `yaml:"key,omitempty"`
	Value string `yaml:"value,omitempty"`

	// Session is the state written by put_session.
	Session *SessionSpec `yaml:"session,omitempty"`

	// SessionID is the session removed by remove_session.
	SessionID string `yaml:"session_id,omitempty"`

	// SuspendedOn, WaitingFor and WaitingOn describe a suspend.
	// WaitingOn holds session ids, or the external event id.
	SuspendedOn string   `yaml:"suspended_on,omitempty"`
	WaitingFor  string   `yaml:"waiting_for,omitempty"`
	WaitingOn   []string `yaml:"waiting_on,omitempty"`

	// Message and Transient describe the failure reported by fail.
	Message   string `yaml:"message,omitempty"`
	Transient bool   `yaml:"transient,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectStatus is the pass status a succeed or fail step must produce.
	ExpectStatus string `yaml:"expect_status,omitempty"`
}

// Step operations.
const (
	OpPush          = "push"
	OpPop           = "pop"
	OpPut           = "put"
	OpPutPlatform   = "put_platform"
	OpPutSession    = "put_session"
	OpRemoveSession = "remove_session"
	OpSuspend       = "suspend"
	OpKill          = "kill"
	OpRollback      = "rollback"
	OpDelete        = "delete"
	OpFail          = "fail"
	OpSucceed       = "succeed"
)

// endsPass reports whether op settles a processing pass.
func endsPass(op string) bool {
	return op == OpSucceed || op == OpFail
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check a step appears in trace with args
	// - "trace_order": Check steps appear in order
	// - "trace_count": Check a step appears exactly N times
	// - "final_state": Query a store table and verify expected values
	// - "final_context": Look up keys in the final checkpoint's context
	Type string `yaml:"type"`

	// Op is the step operation (used by trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Args are the expected step arguments (used by trace_contains).
	// Subset match - only specified fields are validated.
	Args map[string]string `yaml:"args,omitempty"`

	// Ops is the expected operation order (used by trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Table is the store table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state) or context
	// values (final_context). Subset match.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertFinalContext  = "final_context"
)

// LoadScenario reads and parses a scenario YAML file.
// Flow declaration paths are resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving flow declaration paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve flow paths relative to base path BEFORE validation
	for i, flowPath := range scenario.Flows {
		if !filepath.IsAbs(flowPath) && basePath != "" {
			scenario.Flows[i] = filepath.Join(basePath, flowPath)
		}
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes scenario YAML without validating it.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Start.FlowClass == "" {
		return fmt.Errorf("start.flow_class is required")
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, flowPath := range s.Flows {
		if _, err := os.Stat(flowPath); os.IsNotExist(err) {
			return fmt.Errorf("flow declarations not found: %s", flowPath)
		}
	}

	for i, sess := range s.Sessions {
		if err := validateSession(fmt.Sprintf("sessions[%d]", i), sess); err != nil {
			return err
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	if last := s.Steps[len(s.Steps)-1]; !endsPass(last.Op) {
		return fmt.Errorf("steps[%d]: last step must be %s or %s", len(s.Steps)-1, OpSucceed, OpFail)
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateSession(field string, s SessionSpec) error {
	if s.ID == "" {
		return fmt.Errorf("%s: id is required", field)
	}
	switch ir.SessionStatus(s.Status) {
	case ir.SessionCreated, ir.SessionConfirmed, ir.SessionClosing, ir.SessionClosed, ir.SessionError:
		return nil
	default:
		return fmt.Errorf("%s: unknown status %q", field, s.Status)
	}
}

// validateStep validates a single step based on its operation.
func validateStep(index int, st Step) error {
	field := fmt.Sprintf("steps[%d]", index)

	if st.ExpectStatus != "" && !endsPass(st.Op) {
		return fmt.Errorf("%s: expect_status is only valid on %s and %s", field, OpSucceed, OpFail)
	}

	switch st.Op {
	case "":
		return fmt.Errorf("%s: op is required", field)
	case OpPush:
		if st.Flow == "" {
			return fmt.Errorf("%s: flow is required for push", field)
		}
	case OpPut, OpPutPlatform:
		if st.Key == "" {
			return fmt.Errorf("%s: key is required for %s", field, st.Op)
		}
	case OpPutSession:
		if st.Session == nil {
			return fmt.Errorf("%s: session is required for put_session", field)
		}
		return validateSession(field+".session", *st.Session)
	case OpRemoveSession:
		if st.SessionID == "" {
			return fmt.Errorf("%s: session_id is required for remove_session", field)
		}
	case OpSuspend:
		if _, err := waitingFor(st); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	case OpFail:
		if st.Message == "" {
			return fmt.Errorf("%s: message is required for fail", field)
		}
	case OpPop, OpKill, OpRollback, OpDelete, OpSucceed:
	default:
		return fmt.Errorf("%s: unknown op %q", field, st.Op)
	}
	return nil
}

// waitingFor builds the resume condition of a suspend step.
func waitingFor(st Step) (ir.WaitingFor, error) {
	switch ir.WaitingForKind(st.WaitingFor) {
	case "", ir.WaitingForWakeup:
		return ir.Wakeup(), nil
	case ir.WaitingForNothing:
		return ir.Nothing(), nil
	case ir.WaitingForSessionConfirmation:
		return ir.SessionConfirmation(st.WaitingOn...), nil
	case ir.WaitingForSessionData:
		return ir.SessionData(st.WaitingOn...), nil
	case ir.WaitingForExternalEvent:
		if len(st.WaitingOn) != 1 {
			return ir.WaitingFor{}, fmt.Errorf("ExternalEvent needs exactly one waiting_on id")
		}
		return ir.ExternalEvent(st.WaitingOn[0]), nil
	default:
		return ir.WaitingFor{}, fmt.Errorf("unknown waiting_for %q", st.WaitingFor)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertFinalContext:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_context", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
