package store

import (
	"fmt"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// marshalCheckpoint converts a checkpoint to canonical JSON TEXT for
// storage and returns it with its fingerprint.
func marshalCheckpoint(cp *ir.Checkpoint) (body, fingerprint string, err error) {
	data, err := ir.MarshalCanonical(cp)
	if err != nil {
		return "", "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	fp, err := ir.Fingerprint(cp)
	if err != nil {
		return "", "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	return string(data), fp, nil
}

// unmarshalCheckpoint parses a stored body and checks it against the
// fingerprint recorded when it was written.
func unmarshalCheckpoint(flowID, body, fingerprint string) (*ir.Checkpoint, error) {
	cp, err := ir.UnmarshalCheckpoint([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", flowID, err)
	}
	got, err := ir.Fingerprint(cp)
	if err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", flowID, err)
	}
	if got != fingerprint {
		return nil, &CorruptError{FlowID: flowID, Expected: fingerprint, Actual: got}
	}
	return cp, nil
}

// waitingForLabel is the indexed summary of a checkpoint's resume condition.
func waitingForLabel(cp *ir.Checkpoint) string {
	if cp.FlowState == nil || cp.FlowState.WaitingFor == nil {
		return string(ir.WaitingForNothing)
	}
	return string(cp.FlowState.WaitingFor.Kind)
}

// CorruptError is returned when a stored body no longer matches its
// recorded fingerprint.
type CorruptError struct {
	FlowID   string
	Expected string
	Actual   string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("checkpoint %s is corrupt: fingerprint %s, expected %s", e.FlowID, e.Actual, e.Expected)
}

// SchemaMismatchError is returned when a stored row carries a record schema
// version this build does not read. The row is left untouched.
type SchemaMismatchError struct {
	FlowID    string
	Stored    string
	Supported string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("checkpoint %s has record schema %q, this build reads %q", e.FlowID, e.Stored, e.Supported)
}
