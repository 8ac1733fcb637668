package pipeline

import (
	"time"

	"github.com/corda/corda-runtime-os-sub032/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// Action is what the caller must do with the store after a pass.
type Action string

const (
	// ActionSave persists Disposition.Record.
	ActionSave Action = "SAVE"
	// ActionDelete removes the flow; it finished normally.
	ActionDelete Action = "DELETE"
	// ActionFail removes the flow; it failed.
	ActionFail Action = "FAIL"
)

// Disposition is the settled result of one processing pass.
type Disposition struct {
	Action Action

	// Record is the checkpoint to save, with pipeline state attached.
	// Set only for ActionSave.
	Record *ir.Checkpoint

	// Retrying is true when the pass failed transiently and will be retried.
	Retrying bool

	// RetryCount is the consecutive failure count, or -1.
	RetryCount int

	// Sleep is the pass's final sleep ceiling.
	Sleep time.Duration
}

// Settle applies the outcome of processing event to cp and pipe.
//
// procErr is the processor's result. Transient failures (see
// checkpoint.Transient) roll cp back and are recorded on pipe; once the
// count exceeds maxRetries the flow fails with a *RetriesExhaustedError.
// Any other error fails the flow. Failing marks cp deleted and returns the
// error alongside an ActionFail disposition.
//
// Deletion is final: a processor that marked cp deleted and then failed
// transiently still gets ActionDelete, with nothing rolled back or retried.
func Settle(cp *checkpoint.Checkpoint, pipe *checkpoint.PipelineState, event ir.FlowEvent, procErr error, now time.Time, maxRetries int) (Disposition, error) {
	switch {
	case procErr == nil:
		pipe.MarkSuccess()
		return finish(cp, pipe, false)

	case checkpoint.IsTransient(procErr) && cp.Phase() == checkpoint.PhaseDeleted:
		return finish(cp, pipe, false)

	case checkpoint.IsTransient(procErr):
		if err := cp.Rollback(); err != nil {
			return fail(cp, pipe, err)
		}
		pipe.RecordFailure(event, procErr, now)
		if pipe.RetryCount() > maxRetries {
			return fail(cp, pipe, &RetriesExhaustedError{
				FlowID:  event.FlowID,
				Retries: pipe.RetryCount(),
				Limit:   maxRetries,
				Cause:   procErr,
			})
		}
		return finish(cp, pipe, true)

	default:
		return fail(cp, pipe, procErr)
	}
}

func finish(cp *checkpoint.Checkpoint, pipe *checkpoint.PipelineState, retrying bool) (Disposition, error) {
	raw, err := cp.ToSerializable()
	if err != nil {
		return fail(cp, pipe, err)
	}
	d := Disposition{
		Retrying:   retrying,
		RetryCount: pipe.RetryCount(),
		Sleep:      pipe.SleepCeiling(),
	}
	if raw == nil {
		d.Action = ActionDelete
		return d, nil
	}
	raw.PipelineState = pipe.ToSerializable()
	d.Action = ActionSave
	d.Record = raw
	return d, nil
}

func fail(cp *checkpoint.Checkpoint, pipe *checkpoint.PipelineState, err error) (Disposition, error) {
	cp.MarkDeleted()
	return Disposition{
		Action:     ActionFail,
		RetryCount: pipe.RetryCount(),
		Sleep:      pipe.SleepCeiling(),
	}, err
}
