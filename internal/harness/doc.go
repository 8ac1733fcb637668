// Package harness runs checkpoint lifecycle scenarios.
//
// A scenario drives one flow through the pipeline driver, pass by pass,
// against a fresh in-memory store. Steps mutate the live checkpoint; every
// succeed or fail step ends a pass, which the driver then settles (save,
// retry, complete or fail) exactly as it would in production.
//
// # Scenario Format
//
//	name: payment_retry
//	description: "What this scenario validates"
//	flows:
//	  - flows.cue
//	flow_id: flow-1
//	start:
//	  flow_class: PaymentFlow
//	  platform: { corda.account: acc-1 }
//	  user: { invoice: inv-7 }
//	sessions:
//	  - { id: s0, status: CREATED }
//	steps:
//	  - op: push
//	    flow: PaymentFlow
//	  - op: put
//	    key: CORDA.sneaky
//	    value: x
//	    expect_error: RESERVED_KEY
//	  - op: fail
//	    message: ledger unavailable
//	    transient: true
//	    expect_status: RETRY_SCHEDULED
//	assertions:
//	  - type: trace_contains
//	    op: push
//	    args: { flow: PaymentFlow }
//	  - type: final_state
//	    table: checkpoints
//	    where: { flow_id: flow-1 }
//	    expect: { retry_count: 1 }
//
// # Operations
//
// push, pop, put, put_platform, put_session, remove_session, suspend, kill,
// rollback and delete act on the live checkpoint. succeed ends a pass
// normally; fail ends it with an error, transient or not.
//
// The first pass processes a StartFlow event; every later pass processes
// a Wakeup, which the driver replays as the failed event while a retry is
// outstanding.
//
// # Assertion Types
//
//   - trace_contains: Verifies a step appears in the trace with matching args
//   - trace_order: Verifies ops first appear in the specified order
//   - trace_count: Verifies an op appears exactly N times
//   - final_state: Queries a store table and verifies expected values
//   - final_context: Looks keys up in the final checkpoint's context
//
// # Deterministic Testing
//
// The harness uses a fixed flow id, a manual wall clock that advances by
// each pass's sleep, and an isolated in-memory SQLite database, so that
// snapshots are identical across runs.
package harness
