package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corda/corda-runtime-os-sub032/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub032/internal/flowtype"
	"github.com/corda/corda-runtime-os-sub032/internal/ir"
	"github.com/corda/corda-runtime-os-sub032/internal/store"
)

// Processor runs flow code for one event against a live checkpoint.
//
// Returning nil commits the pass. Returning an error wrapped with
// checkpoint.Transient rolls the pass back for a retry; any other error
// fails the flow. A processor that finishes the flow calls MarkDeleted.
type Processor interface {
	Process(ctx context.Context, cp *checkpoint.Checkpoint, event ir.FlowEvent) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, cp *checkpoint.Checkpoint, event ir.FlowEvent) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, cp *checkpoint.Checkpoint, event ir.FlowEvent) error {
	return f(ctx, cp, event)
}

// Status summarizes a processing pass.
type Status string

const (
	StatusSaved          Status = "SAVED"
	StatusRetryScheduled Status = "RETRY_SCHEDULED"
	StatusCompleted      Status = "COMPLETED"
	StatusKilled         Status = "KILLED"
	StatusFailed         Status = "FAILED"
)

// Outcome reports what a processing pass did.
type Outcome struct {
	FlowID     string
	Pass       int64
	Status     Status
	Revision   int64 // Store revision after a save, else 0
	RetryCount int   // -1 when not retrying
	Sleep      time.Duration
}

// Driver is the single-writer pipeline loop.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - NewFlowID(): safe from any goroutine (delegates to thread-safe generator)
//   - Process(): not safe to call concurrently with Run
type Driver struct {
	store     *store.Store
	processor Processor
	resolver  flowtype.Resolver
	cfg       Config
	queue     *eventQueue
	ids       FlowIDGenerator
	now       func() time.Time
	passes    passClock
}

// Option configures a Driver.
type Option func(*Driver)

// WithResolver sets the flow type registry used by checkpoints.
func WithResolver(r flowtype.Resolver) Option {
	return func(d *Driver) {
		d.resolver = r
	}
}

// WithIDGenerator sets the flow id generator. Default: UUIDv7Generator.
func WithIDGenerator(g FlowIDGenerator) Option {
	return func(d *Driver) {
		d.ids = g
	}
}

// WithClock sets the wall clock used to stamp retry failures.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// New creates a Driver over s running p.
func New(s *store.Store, p Processor, cfg Config, opts ...Option) *Driver {
	d := &Driver{
		store:     s,
		processor: p,
		resolver:  flowtype.Empty(),
		cfg:       cfg,
		queue:     newEventQueue(),
		ids:       UUIDv7Generator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue submits an event for processing by the Run loop.
// Returns false if the driver has been stopped.
func (d *Driver) Enqueue(ev ir.FlowEvent) bool {
	return d.queue.Enqueue(ev)
}

// NewFlowID generates an id for a flow about to be started.
func (d *Driver) NewFlowID() string {
	return d.ids.Generate()
}

// Start enqueues a StartFlow event for a new flow and returns its id.
func (d *Driver) Start(start ir.FlowStartContext) (string, error) {
	payload, err := ir.MarshalCanonical(start)
	if err != nil {
		return "", fmt.Errorf("start flow: %w", err)
	}
	id := d.NewFlowID()
	if !d.Enqueue(ir.FlowEvent{FlowID: id, Kind: ir.EventStartFlow, Payload: string(payload)}) {
		return "", fmt.Errorf("start flow: driver stopped")
	}
	return id, nil
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// A failed pass is logged with its event context and the loop continues;
// the failure has already been settled against the store.
func (d *Driver) Run(ctx context.Context) error {
	slog.Info("pipeline starting")

	for {
		event, ok := d.queue.TryDequeue()
		if ok {
			if _, err := d.Process(ctx, event); err != nil {
				logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("pipeline stopping: context cancelled")
			d.queue.Close()
			return ctx.Err()

		case <-d.queue.Wait():
			// The signal channel closes when the queue is closed.
			if d.queue.Len() == 0 {
				slog.Info("pipeline stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue, which will cause Run() to return.
func (d *Driver) Stop() {
	d.queue.Close()
}

// Process runs one processing pass for event and persists its outcome.
func (d *Driver) Process(ctx context.Context, event ir.FlowEvent) (Outcome, error) {
	pass := d.passes.Next()
	out := Outcome{FlowID: event.FlowID, Pass: pass, RetryCount: -1}

	slog.Debug("processing event",
		"flow_id", event.FlowID,
		"event", event.Kind,
		"pass", pass,
	)

	cp := checkpoint.New(d.resolver)
	var persisted *ir.PipelineState

	raw, err := d.store.Load(ctx, event.FlowID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if event.Kind != ir.EventStartFlow {
			return out, fmt.Errorf("process %s event: %w", event.Kind, err)
		}
		start, err := decodeStart(event.Payload)
		if err != nil {
			out.Status = StatusFailed
			return out, err
		}
		if err := cp.InitFromNew(event.FlowID, start, ir.Nothing()); err != nil {
			out.Status = StatusFailed
			return out, err
		}
	case errors.As(err, new(*store.SchemaMismatchError)):
		// Written by another build; leave the row for it.
		out.Status = StatusFailed
		return out, fmt.Errorf("process %s event: %w", event.Kind, err)
	case err != nil:
		// A corrupt or unreadable record is terminal for the flow.
		return d.discard(ctx, out, err)
	default:
		persisted = raw.PipelineState
		if err := cp.InitFromPersisted(raw); err != nil {
			return d.discard(ctx, out, err)
		}
	}

	killed, err := cp.IsKilled()
	if err != nil {
		out.Status = StatusFailed
		return out, fmt.Errorf("read kill flag: %w", err)
	}
	if killed {
		cp.MarkDeleted()
		if _, err := d.store.Delete(ctx, event.FlowID); err != nil {
			return out, fmt.Errorf("remove killed flow: %w", err)
		}
		slog.Info("killed flow removed", "flow_id", event.FlowID)
		out.Status = StatusKilled
		return out, nil
	}

	pipe := checkpoint.NewPipelineState(d.cfg.RetryConfig(), persisted)

	// A wakeup for a flow in retry replays the event that failed.
	if pipe.IsRetrying() && event.Kind == ir.EventWakeup {
		retry, err := pipe.RetryEvent()
		if err != nil {
			return d.discard(ctx, out, err)
		}
		slog.Debug("replaying failed event",
			"flow_id", event.FlowID,
			"event", retry.Kind,
			"retry_count", pipe.RetryCount(),
		)
		event = retry
	}

	procErr := d.processor.Process(ctx, cp, event)
	disp, settleErr := Settle(cp, pipe, event, procErr, d.now(), d.cfg.Retry.MaxRetries)
	out.RetryCount = disp.RetryCount
	out.Sleep = disp.Sleep

	switch disp.Action {
	case ActionSave:
		rec, err := d.store.Save(ctx, disp.Record)
		if err != nil {
			return out, fmt.Errorf("persist checkpoint: %w", err)
		}
		out.Revision = rec.Revision
		out.Status = StatusSaved
		if disp.Retrying {
			out.Status = StatusRetryScheduled
			slog.Warn("transient failure, retry scheduled",
				"flow_id", event.FlowID,
				"retry_count", disp.RetryCount,
				"sleep", disp.Sleep,
				"error", procErr,
			)
		}
		return out, nil

	case ActionDelete:
		if _, err := d.store.Delete(ctx, event.FlowID); err != nil {
			return out, fmt.Errorf("remove completed flow: %w", err)
		}
		slog.Info("flow completed", "flow_id", event.FlowID)
		out.Status = StatusCompleted
		return out, nil

	default:
		if _, err := d.store.Delete(ctx, event.FlowID); err != nil {
			return out, fmt.Errorf("remove failed flow: %w (after %v)", err, settleErr)
		}
		out.Status = StatusFailed
		return out, settleErr
	}
}

// discard removes a flow whose record cannot be materialized.
func (d *Driver) discard(ctx context.Context, out Outcome, cause error) (Outcome, error) {
	out.Status = StatusFailed
	if _, err := d.store.Delete(ctx, out.FlowID); err != nil {
		return out, fmt.Errorf("remove unreadable flow: %w (after %v)", err, cause)
	}
	return out, cause
}

func decodeStart(payload string) (ir.FlowStartContext, error) {
	var start ir.FlowStartContext
	if err := json.Unmarshal([]byte(payload), &start); err != nil {
		return ir.FlowStartContext{}, fmt.Errorf("decode start context: %w", err)
	}
	return start, nil
}

// logEventError logs a failed pass with full event context.
func logEventError(event ir.FlowEvent, err error) {
	attrs := []any{
		"error", err,
		"flow_id", event.FlowID,
		"event", event.Kind,
	}
	var ce *checkpoint.Error
	if errors.As(err, &ce) {
		attrs = append(attrs, "code", ce.Code, "kind", ce.Kind)
	}
	slog.Error("event processing failed", attrs...)
}
