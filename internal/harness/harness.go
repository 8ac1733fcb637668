package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/corda/corda-runtime-os-sub032/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub032/internal/flowtype"
	"github.com/corda/corda-runtime-os-sub032/internal/ir"
	"github.com/corda/corda-runtime-os-sub032/internal/pipeline"
	"github.com/corda/corda-runtime-os-sub032/internal/store"
	"github.com/corda/corda-runtime-os-sub032/internal/testutil"
)

// scenarioEpoch is the wall-clock start of every scenario.
var scenarioEpoch = time.UnixMilli(1_700_000_000_000)

// Harness is the scenario execution engine.
// It drives a real pipeline.Driver with a scripted processor, a manual
// wall clock and a fixed flow id.
type Harness struct {
	store  *store.Store
	driver *pipeline.Driver
	clock  *testutil.ManualClock
	logger *slog.Logger
	result *Result

	// Current pass, set before each Driver.Process call.
	pass     int64
	steps    []indexedStep
	sessions []SessionSpec
	invoked  bool
	event    ir.FlowEvent
}

type indexedStep struct {
	index int
	step  Step
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and load flow declarations
// 2. Split steps into processing passes at each succeed or fail
// 3. Process a StartFlow event for the first pass and a Wakeup for each later one
// 4. Read back the final checkpoint and evaluate assertions
//
// The returned error covers infrastructure failures only; expectation and
// assertion failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	registry, err := LoadFlows(scenario.Flows)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow declarations: %w", err)
	}

	cfg := pipeline.DefaultConfig()
	if scenario.MaxRetries > 0 {
		cfg.Retry.MaxRetries = scenario.MaxRetries
	}

	h := &Harness{
		store:  st,
		clock:  testutil.NewManualClock(scenarioEpoch),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		result: NewResult(),
	}
	h.driver = pipeline.New(st, pipeline.ProcessorFunc(h.process), cfg,
		pipeline.WithResolver(registry),
		pipeline.WithIDGenerator(testutil.NewFixedFlowIDGenerator(scenario.FlowID)),
		pipeline.WithClock(h.clock.Now),
	)
	flowID := h.driver.NewFlowID()
	h.result.FlowID = flowID

	start := testutil.StartContext(scenario.Start.FlowClass, scenario.Start.Platform, scenario.Start.User)
	payload, err := ir.MarshalCanonical(start)
	if err != nil {
		return nil, fmt.Errorf("failed to encode start context: %w", err)
	}

	ctx := context.Background()
	passes := splitPasses(scenario.Steps)
	for i, steps := range passes {
		event := ir.FlowEvent{FlowID: flowID, Kind: ir.EventWakeup}
		if i == 0 {
			event = ir.FlowEvent{FlowID: flowID, Kind: ir.EventStartFlow, Payload: string(payload)}
			h.sessions = scenario.Sessions
		} else {
			h.sessions = nil
		}
		h.pass = int64(i + 1)
		h.steps = steps
		h.invoked = false
		h.event = event

		out, procErr := h.driver.Process(ctx, event)
		h.settled(steps, out, procErr)

		if out.Status == "" {
			h.result.AddError(fmt.Sprintf("pass %d: %v", h.pass, procErr))
			break
		}
		h.clock.Advance(out.Sleep)

		if terminal(out.Status) && i < len(passes)-1 {
			h.result.AddError(fmt.Sprintf("pass %d: flow %s; %d later passes not run",
				h.pass, strings.ToLower(string(out.Status)), len(passes)-1-i))
			break
		}
	}

	if err := h.readFinal(ctx, flowID); err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Store:    st,
		Ctx:      ctx,
		Resolver: registry,
	}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}

	return h.result, nil
}

// LoadFlows compiles flow declarations from CUE files or directories into
// a registry. No paths yields an empty registry.
func LoadFlows(paths []string) (*flowtype.Registry, error) {
	var decls []flowtype.Declaration
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}

		var loaded *flowtype.LoadResult
		if info.IsDir() {
			loaded, err = flowtype.LoadDir(path)
		} else {
			var src []byte
			src, err = os.ReadFile(path)
			if err == nil {
				loaded, err = flowtype.CompileString(string(src), path)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		decls = append(decls, loaded.Declarations...)
	}
	return flowtype.NewRegistry(decls...)
}

// splitPasses groups steps into passes, each ending with succeed or fail.
func splitPasses(steps []Step) [][]indexedStep {
	var passes [][]indexedStep
	var current []indexedStep
	for i, st := range steps {
		current = append(current, indexedStep{index: i, step: st})
		if endsPass(st.Op) {
			passes = append(passes, current)
			current = nil
		}
	}
	return passes
}

func terminal(s pipeline.Status) bool {
	return s == pipeline.StatusCompleted || s == pipeline.StatusFailed || s == pipeline.StatusKilled
}

// process is the scripted pipeline.Processor: it applies the current
// pass's steps to the live checkpoint.
func (h *Harness) process(_ context.Context, cp *checkpoint.Checkpoint, ev ir.FlowEvent) error {
	h.invoked = true
	h.event = ev

	if len(h.sessions) > 0 {
		registry, err := cp.Sessions()
		if err != nil {
			return err
		}
		for _, s := range h.sessions {
			registry.Put(s.state())
		}
	}

	for _, is := range h.steps {
		st := is.step
		if endsPass(st.Op) {
			h.result.AddStepTrace(h.pass, st.Op, stepArgs(st), "")
			if st.Op == OpFail {
				if st.Transient {
					return checkpoint.Transient(errors.New(st.Message))
				}
				return errors.New(st.Message)
			}
			return nil
		}

		label := errorLabel(applyStep(cp, st))
		h.result.AddStepTrace(h.pass, st.Op, stepArgs(st), label)
		h.expectError(is.index, st, label)

		h.logger.Info("step applied",
			"pass", h.pass,
			"step", is.index,
			"op", st.Op,
			"error", label,
		)
	}
	return nil
}

// settled records a processed pass and checks its expected status.
func (h *Harness) settled(steps []indexedStep, out pipeline.Outcome, procErr error) {
	ev := TraceEvent{
		Pass:        h.pass,
		Event:       string(h.event.Kind),
		Status:      string(out.Status),
		Revision:    out.Revision,
		RetryCount:  out.RetryCount,
		SleepMillis: out.Sleep.Milliseconds(),
		Error:       errorLabel(procErr),
	}
	h.result.AddPassTrace(ev)

	last := steps[len(steps)-1]
	switch {
	case last.step.ExpectStatus != "" && last.step.ExpectStatus != string(out.Status):
		h.result.AddError(fmt.Sprintf("steps[%d]: expected status %s, got %s",
			last.index, last.step.ExpectStatus, out.Status))
	case last.step.ExpectStatus == "" && out.Status == pipeline.StatusFailed:
		h.result.AddError(fmt.Sprintf("pass %d: flow failed: %s", h.pass, ev.Error))
	}

	if !h.invoked && len(steps) > 1 {
		h.result.AddError(fmt.Sprintf("pass %d: flow %s before its steps ran",
			h.pass, strings.ToLower(string(out.Status))))
	}

	h.logger.Info("pass settled",
		"pass", h.pass,
		"event", ev.Event,
		"status", ev.Status,
		"revision", ev.Revision,
	)
}

// expectError compares a step's error label with its expect_error.
func (h *Harness) expectError(index int, st Step, label string) {
	switch {
	case st.ExpectError == label:
	case label == "":
		h.result.AddError(fmt.Sprintf("steps[%d]: expected error %s, got none", index, st.ExpectError))
	case st.ExpectError == "":
		h.result.AddError(fmt.Sprintf("steps[%d]: %s: unexpected error %s", index, st.Op, label))
	default:
		h.result.AddError(fmt.Sprintf("steps[%d]: expected error %s, got %s", index, st.ExpectError, label))
	}
}

// readFinal loads the flow's last persisted checkpoint into the result.
func (h *Harness) readFinal(ctx context.Context, flowID string) error {
	rec, err := h.store.Get(ctx, flowID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read final checkpoint: %w", err)
	}
	raw, err := h.store.Load(ctx, flowID)
	if err != nil {
		return fmt.Errorf("failed to load final checkpoint: %w", err)
	}
	h.result.Record = raw
	h.result.Final = summarize(rec.Revision, raw)
	return nil
}

// applyStep performs one non-terminal step against the live checkpoint.
func applyStep(cp *checkpoint.Checkpoint, st Step) error {
	switch st.Op {
	case OpPush:
		stack, err := cp.Stack()
		if err != nil {
			return err
		}
		_, err = stack.Push(st.Flow)
		return err

	case OpPop:
		stack, err := cp.Stack()
		if err != nil {
			return err
		}
		if _, ok := stack.Pop(); !ok {
			// An empty stack is traced the way PeekFirst reports it.
			_, err = stack.PeekFirst()
		}
		return err

	case OpPut, OpPutPlatform:
		live, err := cp.Context()
		if err != nil {
			return err
		}
		if st.Op == OpPutPlatform {
			return live.PutPlatform(st.Key, st.Value)
		}
		return live.Put(st.Key, st.Value)

	case OpPutSession:
		registry, err := cp.Sessions()
		if err != nil {
			return err
		}
		registry.Put(st.Session.state())
		// The session belongs to the flow that opened it.
		stack, err := cp.Stack()
		if err != nil {
			return err
		}
		if top, ok := stack.Peek(); ok {
			top.AddSessionID(st.Session.ID)
		}
		return nil

	case OpRemoveSession:
		registry, err := cp.Sessions()
		if err != nil {
			return err
		}
		registry.Remove(st.SessionID)
		return nil

	case OpSuspend:
		wf, err := waitingFor(st)
		if err != nil {
			return err
		}
		return cp.Suspend(st.SuspendedOn, wf, []byte(st.SuspendedOn))

	case OpKill:
		return cp.MarkKilled()

	case OpRollback:
		return cp.Rollback()

	case OpDelete:
		cp.MarkDeleted()
		return nil

	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}

// stepArgs lists a step's non-empty arguments for the trace.
func stepArgs(st Step) map[string]string {
	args := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			args[k] = v
		}
	}
	set("flow", st.Flow)
	set("key", st.Key)
	if st.Op == OpPut || st.Op == OpPutPlatform {
		args["value"] = st.Value
	}
	if st.Session != nil {
		set("session_id", st.Session.ID)
		set("status", st.Session.Status)
		if st.Session.ExpiresAt > 0 {
			args["expires_at"] = strconv.FormatInt(st.Session.ExpiresAt, 10)
		}
	}
	set("session_id", st.SessionID)
	set("suspended_on", st.SuspendedOn)
	set("waiting_for", st.WaitingFor)
	set("waiting_on", strings.Join(st.WaitingOn, ","))
	set("message", st.Message)
	if st.Transient {
		args["transient"] = "true"
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// errorLabel names an error in the trace: the checkpoint error code when
// there is one, otherwise the message.
func errorLabel(err error) string {
	if err == nil {
		return ""
	}
	if pipeline.IsRetriesExhausted(err) {
		return "RETRIES_EXHAUSTED"
	}
	var ce *checkpoint.Error
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	return err.Error()
}
