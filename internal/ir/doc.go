// Package ir provides the persisted record types for flow checkpoints.
//
// These records are the serialize/materialize boundary of the checkpoint
// model: internal/checkpoint builds its in-memory state from an ir.Checkpoint
// and produces one again when the flow is persisted. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - timestamps are int64 epoch milliseconds
//   - Blobs are canonical JSON so an unchanged checkpoint re-serializes byte-for-byte
//   - All JSON tags use snake_case
//   - Nil slices and maps are normalized to empty on read, never trusted
package ir
