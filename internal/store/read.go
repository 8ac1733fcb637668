package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// Record summarizes a stored checkpoint without decoding its body.
type Record struct {
	FlowID        string `json:"flow_id"`
	Revision      int64  `json:"revision"`
	Fingerprint   string `json:"fingerprint"`
	WaitingFor    string `json:"waiting_for"`
	SuspendCount  int64  `json:"suspend_count"`
	RetryCount    int    `json:"retry_count"`
	IsKilled      bool   `json:"is_killed"`
	EngineVersion string `json:"engine_version"`
	SchemaVersion string `json:"schema_version"`
}

// Op is a checkpoint_log operation.
type Op string

const (
	OpSave   Op = "SAVE"
	OpDelete Op = "DELETE"
)

// LogEntry is one row of the checkpoint history.
type LogEntry struct {
	Seq         int64  `json:"seq"`
	FlowID      string `json:"flow_id"`
	Revision    int64  `json:"revision"`
	Op          Op     `json:"op"`
	Fingerprint string `json:"fingerprint"`
}

// Load returns the checkpoint stored for flowID.
// Returns ErrNotFound if there is none, a *SchemaMismatchError if the row
// was written under another record schema, and a *CorruptError if the
// stored body does not match its fingerprint.
func (s *Store) Load(ctx context.Context, flowID string) (*ir.Checkpoint, error) {
	var body, fingerprint, schemaVersion string
	err := s.db.QueryRowContext(ctx,
		`SELECT body, fingerprint, schema_version FROM checkpoints WHERE flow_id = ?`, flowID,
	).Scan(&body, &fingerprint, &schemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load checkpoint %s: %w", flowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", flowID, err)
	}
	if schemaVersion != ir.SchemaVersion {
		return nil, &SchemaMismatchError{FlowID: flowID, Stored: schemaVersion, Supported: ir.SchemaVersion}
	}
	return unmarshalCheckpoint(flowID, body, fingerprint)
}

// Get returns the record for flowID without decoding its body.
func (s *Store) Get(ctx context.Context, flowID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT flow_id, revision, fingerprint, waiting_for, suspend_count, retry_count, is_killed, engine_version, schema_version
		FROM checkpoints
		WHERE flow_id = ?
	`, flowID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get checkpoint %s: %w", flowID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get checkpoint %s: %w", flowID, err)
	}
	return rec, nil
}

// List returns every stored record ordered by flow id.
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	return s.Find(ctx, nil)
}

// History returns the save/delete log for flowID ordered by seq.
// Returns an empty slice (not nil) if the flow was never saved.
func (s *Store) History(ctx context.Context, flowID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, flow_id, revision, op, fingerprint
		FROM checkpoint_log
		WHERE flow_id = ?
		ORDER BY seq ASC
	`, flowID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		var op string
		if err := rows.Scan(&e.Seq, &e.FlowID, &e.Revision, &op, &e.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Op = Op(op)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.FlowID,
		&rec.Revision,
		&rec.Fingerprint,
		&rec.WaitingFor,
		&rec.SuspendCount,
		&rec.RetryCount,
		&rec.IsKilled,
		&rec.EngineVersion,
		&rec.SchemaVersion,
	)
	return rec, err
}
