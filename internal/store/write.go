package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// Save upserts the checkpoint for cp.FlowID and returns the stored record.
//
// The row's revision starts at 1 and increases by one on every save. Saving
// a checkpoint whose content is unchanged still bumps the revision: a save
// is a commit point of the processing pass, not a content diff.
//
// The body is serialized to canonical JSON per RFC 8785, so saving the same
// checkpoint twice stores identical bytes.
func (s *Store) Save(ctx context.Context, cp *ir.Checkpoint) (Record, error) {
	if cp == nil {
		return Record{}, fmt.Errorf("save checkpoint: nil checkpoint")
	}
	if cp.FlowID == "" {
		return Record{}, fmt.Errorf("save checkpoint: empty flow id")
	}

	body, fp, err := marshalCheckpoint(cp)
	if err != nil {
		return Record{}, fmt.Errorf("save checkpoint: %w", err)
	}

	rec := Record{
		FlowID:        cp.FlowID,
		Fingerprint:   fp,
		WaitingFor:    waitingForLabel(cp),
		EngineVersion: ir.EngineVersion,
		SchemaVersion: ir.SchemaVersion,
	}
	if cp.FlowState != nil {
		rec.SuspendCount = cp.FlowState.SuspendCount
		rec.IsKilled = cp.FlowState.IsKilled
	}
	if cp.PipelineState != nil && cp.PipelineState.Retry != nil {
		rec.RetryCount = cp.PipelineState.Retry.RetryCount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("save checkpoint: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM checkpoints WHERE flow_id = ?`, cp.FlowID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("save checkpoint: read revision: %w", err)
	}
	rec.Revision = current + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints
		(flow_id, revision, fingerprint, waiting_for, suspend_count, retry_count, is_killed, body, engine_version, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(flow_id) DO UPDATE SET
			revision       = excluded.revision,
			fingerprint    = excluded.fingerprint,
			waiting_for    = excluded.waiting_for,
			suspend_count  = excluded.suspend_count,
			retry_count    = excluded.retry_count,
			is_killed      = excluded.is_killed,
			body           = excluded.body,
			engine_version = excluded.engine_version,
			schema_version = excluded.schema_version
	`,
		rec.FlowID,
		rec.Revision,
		rec.Fingerprint,
		rec.WaitingFor,
		rec.SuspendCount,
		rec.RetryCount,
		rec.IsKilled,
		body,
		rec.EngineVersion,
		rec.SchemaVersion,
	)
	if err != nil {
		return Record{}, fmt.Errorf("save checkpoint: %w", err)
	}

	if err := appendLog(ctx, tx, rec.FlowID, rec.Revision, OpSave, rec.Fingerprint); err != nil {
		return Record{}, fmt.Errorf("save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("save checkpoint: commit: %w", err)
	}
	return rec, nil
}

// Delete removes the checkpoint for flowID. Returns false if there was none;
// deleting an absent flow is not an error.
func (s *Store) Delete(ctx context.Context, flowID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete checkpoint: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var revision int64
	var fingerprint string
	err = tx.QueryRowContext(ctx,
		`SELECT revision, fingerprint FROM checkpoints WHERE flow_id = ?`, flowID,
	).Scan(&revision, &fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE flow_id = ?`, flowID); err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}
	if err := appendLog(ctx, tx, flowID, revision, OpDelete, fingerprint); err != nil {
		return false, fmt.Errorf("delete checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete checkpoint: commit: %w", err)
	}
	return true, nil
}

func appendLog(ctx context.Context, tx *sql.Tx, flowID string, revision int64, op Op, fingerprint string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoint_log (flow_id, revision, op, fingerprint)
		VALUES (?, ?, ?, ?)
	`, flowID, revision, string(op), fingerprint)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}
