// Package checkpoint implements the execution-state model of a suspendable
// flow: the call stack, the session bindings, the context properties, and
// the transient retry state of the pipeline that processes it.
//
// ARCHITECTURE:
//
// Two state layers with different rollback semantics:
//
//   - Checkpoint (flow state): stack, sessions, start context, fiber and
//     waiting-for. Rolled back to the last loaded snapshot when a transient
//     failure interrupts an event mid-processing.
//   - PipelineState (pipeline state): retry ledger and sleep ceiling.
//     Never rolled back. Built fresh at the start of each processing pass
//     and carried across the rollback by the caller.
//
// Lifecycle:
//
//	Uninitialized --InitFromNew / InitFromPersisted--> Active --MarkDeleted--> Deleted
//
// Accessors succeed only in the Active phase. Accessing a checkpoint before
// initialization or after deletion is a fatal error, never a default value.
//
// Context properties:
//
// Each frame owns a platform map and a user map. Single-key reads resolve
// nearest-first (top frame down, platform before user). Flattening folds
// frames bottom-to-top with later frames overwriting earlier ones. The two
// rules have opposite precedence and are implemented separately.
//
// Concurrency: a checkpoint is owned by exactly one worker. Nothing here
// locks, blocks or logs; every failure is returned as an *Error.
package checkpoint
