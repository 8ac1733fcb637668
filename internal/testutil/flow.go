package testutil

import "github.com/corda/corda-runtime-os-sub032/internal/ir"

// FixedFlowIDGenerator generates the same flow id every time.
//
// This enables deterministic test execution and golden snapshot comparison.
//
// Thread-safety: FixedFlowIDGenerator is stateless and safe for concurrent use.
type FixedFlowIDGenerator struct {
	id string
}

// NewFixedFlowIDGenerator creates a new fixed flow id generator.
// If id is empty, Generate() returns "test-flow-default".
func NewFixedFlowIDGenerator(id string) *FixedFlowIDGenerator {
	if id == "" {
		id = "test-flow-default"
	}
	return &FixedFlowIDGenerator{id: id}
}

// Generate returns the fixed flow id.
func (g *FixedFlowIDGenerator) Generate() string {
	return g.id
}

// StartContext builds a minimal RPC start context for flowClass with the
// given seed properties.
func StartContext(flowClass string, platform, user map[string]string) ir.FlowStartContext {
	alice := ir.HoldingIdentity{X500Name: "CN=Alice, O=Alice Corp, L=LDN, C=GB", GroupID: "test-group"}
	if platform == nil {
		platform = map[string]string{}
	}
	if user == nil {
		user = map[string]string{}
	}
	return ir.FlowStartContext{
		StatusKey:                 ir.FlowKey{ID: "request-1", Identity: alice},
		InitiatorType:             ir.InitiatorRPC,
		RequestID:                 "request-1",
		Identity:                  alice,
		InitiatedBy:               alice,
		CPIID:                     "test-cpi",
		FlowClassName:             flowClass,
		StartArgs:                 "{}",
		ContextPlatformProperties: platform,
		ContextUserProperties:     user,
		CreatedMillis:             1_700_000_000_000,
	}
}

// Session builds a session state with the given id and status.
func Session(id string, status ir.SessionStatus) ir.SessionState {
	return ir.SessionState{
		SessionID:    id,
		Counterparty: ir.HoldingIdentity{X500Name: "CN=Bob, O=Bob Corp, L=NYC, C=US", GroupID: "test-group"},
		Status:       status,
	}
}

// PersistedCheckpoint builds a persisted record with the given sessions and
// stack items, as a store would hand it back.
func PersistedCheckpoint(flowID string, sessions []ir.SessionState, items []ir.StackItem) *ir.Checkpoint {
	sc := StartContext("com.example.TestFlow", nil, nil)
	wf := ir.Wakeup()
	return &ir.Checkpoint{
		FlowID:           flowID,
		FlowStartContext: &sc,
		FlowState: &ir.FlowState{
			WaitingFor: &wf,
			Fiber:      []byte{},
			Sessions:   sessions,
			StackItems: items,
		},
	}
}
