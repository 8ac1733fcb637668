package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// RetryBaseDelay is the backoff delay after the first transient failure.
const RetryBaseDelay = 1000 * time.Millisecond

// maxBackoffShift bounds the exponent so the delay cannot overflow.
const maxBackoffShift = 32

// RetryConfig carries the configured limits for a processing pass.
type RetryConfig struct {
	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration

	// MaxFlowSleep is the sleep-ceiling baseline each pass starts from.
	MaxFlowSleep time.Duration
}

// BackoffDelay returns min(limit, RetryBaseDelay * 2^(retryCount-1)).
// A non-positive limit disables the cap.
func BackoffDelay(retryCount int, limit time.Duration) time.Duration {
	shift := retryCount - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := RetryBaseDelay << shift
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// PipelineState is the transient bookkeeping of one processing pass: the
// retry ledger and the sleep ceiling.
//
// It lives outside Checkpoint so that a rollback of flow state leaves the
// failure record intact.
type PipelineState struct {
	cfg      RetryConfig
	retry    *ir.RetryState
	maxSleep time.Duration
}

// NewPipelineState starts a processing pass. The sleep ceiling is reset to
// the configured baseline; an unresolved retry from the persisted record
// is carried forward.
func NewPipelineState(cfg RetryConfig, persisted *ir.PipelineState) *PipelineState {
	p := &PipelineState{cfg: cfg, maxSleep: cfg.MaxFlowSleep}
	if persisted != nil && persisted.Retry != nil {
		r := *persisted.Retry
		p.retry = &r
	}
	return p
}

// RecordFailure records a transient failure of event and returns the
// updated sleep ceiling.
//
// The first failure creates the ledger with a count of 1 and fixes the
// failed event and first-failure time. Later failures increment the count
// and refresh the last-failure time and error.
func (p *PipelineState) RecordFailure(event ir.FlowEvent, err error, now time.Time) time.Duration {
	nowMillis := now.UnixMilli()
	envelope := classify(err)

	if p.retry == nil {
		p.retry = &ir.RetryState{
			RetryCount:         1,
			FailedEvent:        event,
			Error:              envelope,
			FirstFailureMillis: nowMillis,
			LastFailureMillis:  nowMillis,
		}
	} else {
		p.retry.RetryCount++
		p.retry.Error = envelope
		p.retry.LastFailureMillis = nowMillis
	}

	return p.LowerSleepCeiling(BackoffDelay(p.retry.RetryCount, p.cfg.MaxRetryDelay))
}

// MarkSuccess clears the retry ledger.
func (p *PipelineState) MarkSuccess() {
	p.retry = nil
}

// IsRetrying reports whether an unresolved failure is being retried.
func (p *PipelineState) IsRetrying() bool {
	return p.retry != nil
}

// RetryCount returns the consecutive failure count, or -1 when not retrying.
func (p *PipelineState) RetryCount() int {
	if p.retry == nil {
		return -1
	}
	return p.retry.RetryCount
}

// RetryEvent returns the event being retried. Callers must check
// IsRetrying first; calling it otherwise is a fatal contract violation.
func (p *PipelineState) RetryEvent() (ir.FlowEvent, error) {
	if p.retry == nil {
		return ir.FlowEvent{}, fatal(ErrCodeNotRetrying, "", "retry event requested while not retrying")
	}
	return p.retry.FailedEvent, nil
}

// Retry returns a copy of the retry ledger, or nil when not retrying.
func (p *PipelineState) Retry() *ir.RetryState {
	if p.retry == nil {
		return nil
	}
	r := *p.retry
	return &r
}

// SleepCeiling returns the current sleep ceiling.
func (p *PipelineState) SleepCeiling() time.Duration {
	return p.maxSleep
}

// LowerSleepCeiling combines d with the ceiling via min and returns the
// result. The ceiling never rises within a pass.
func (p *PipelineState) LowerSleepCeiling(d time.Duration) time.Duration {
	if d < p.maxSleep {
		p.maxSleep = d
	}
	return p.maxSleep
}

// ToSerializable returns the persisted form.
func (p *PipelineState) ToSerializable() *ir.PipelineState {
	return &ir.PipelineState{
		MaxFlowSleepMillis: p.maxSleep.Milliseconds(),
		Retry:              p.Retry(),
	}
}

// classify turns a failure into the envelope stored on the ledger.
func classify(err error) ir.ExceptionEnvelope {
	if err == nil {
		return ir.ExceptionEnvelope{ErrorType: "unknown"}
	}
	env := ir.ExceptionEnvelope{ErrorType: fmt.Sprintf("%T", err), ErrorMessage: err.Error()}
	var ce *Error
	if errors.As(err, &ce) {
		env.ErrorType = string(ce.Code)
		if ce.Err != nil {
			env.ErrorType = fmt.Sprintf("%s(%T)", ce.Code, ce.Err)
		}
	}
	return env
}
