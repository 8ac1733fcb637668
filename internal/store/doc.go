// Package store provides SQLite-backed durable storage for flow checkpoints.
//
// The store keeps two tables:
//   - checkpoints: the current record of each live flow, keyed by flow id
//   - checkpoint_log: an append-only history of saves and deletes
//
// Each record is stored as canonical JSON (see internal/ir) together with
// its content fingerprint. Load re-derives the fingerprint and rejects a
// body that no longer matches, so a corrupted row never reaches a worker.
//
// Every save bumps the row's revision. Queries order deterministically:
// List by flow_id COLLATE BINARY, History by seq.
//
// # Opening
//
// Open applies journal_mode=WAL, synchronous=NORMAL, busy_timeout=5000 and
// foreign_keys=ON, then reads each pragma back and fails if SQLite did not
// take it. Numbered migrations are tracked in PRAGMA user_version; a file
// migrated by a newer build is refused with ErrSchemaTooNew.
//
// Each row also records the ir.SchemaVersion it was written with. Load
// returns *SchemaMismatchError for a row from another record schema and
// leaves it in place.
package store
