package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corda/corda-runtime-os-sub032/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub032/internal/ir"
	"github.com/corda/corda-runtime-os-sub032/internal/store"
)

// StoreOptions holds flags shared by the store-backed commands.
type StoreOptions struct {
	*RootOptions
	Database string
}

// InspectResult is a stored checkpoint as seen by its flow.
type InspectResult struct {
	Record      store.Record      `json:"record"`
	WaitingFor  *ir.WaitingFor    `json:"waiting_for,omitempty"`
	SuspendedOn string            `json:"suspended_on"`
	Stack       []ir.StackItem    `json:"stack"`
	Sessions    []ir.SessionState `json:"sessions"`
	Platform    map[string]string `json:"platform_properties"`
	User        map[string]string `json:"user_properties"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Retry       *ir.RetryState    `json:"retry,omitempty"`
}

// HistoryResult holds the save/delete log of one flow.
type HistoryResult struct {
	FlowID  string           `json:"flow_id"`
	Entries []store.LogEntry `json:"entries"`
}

// DeleteResult reports whether a checkpoint was removed.
type DeleteResult struct {
	FlowID  string `json:"flow_id"`
	Deleted bool   `json:"deleted"`
}

func addDatabaseFlag(cmd *cobra.Command, opts *StoreOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	StoreOptions
	WaitingFor string
	Killed     bool
	Retrying   bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored checkpoints",
		Long: `List the checkpoints in the store, ordered by flow id.

Filters combine: a record is listed only if it matches all of them.

Examples:
  flowstate list --db ./flows.db
  flowstate list --db ./flows.db --waiting-for SessionData
  flowstate list --db ./flows.db --retrying --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}
	addDatabaseFlag(cmd, &opts.StoreOptions)
	cmd.Flags().StringVar(&opts.WaitingFor, "waiting-for", "", "only flows waiting for this condition (e.g. SessionData)")
	cmd.Flags().BoolVar(&opts.Killed, "killed", false, "only killed flows")
	cmd.Flags().BoolVar(&opts.Retrying, "retrying", false, "only flows with an outstanding retry")

	return cmd
}

// listFilter builds the store predicate selected by the list flags.
func listFilter(opts *ListOptions) store.Predicate {
	var preds []store.Predicate
	if opts.WaitingFor != "" {
		preds = append(preds, store.Equals{Column: "waiting_for", Value: opts.WaitingFor})
	}
	if opts.Killed {
		preds = append(preds, store.Equals{Column: "is_killed", Value: true})
	}
	if opts.Retrying {
		preds = append(preds, store.AtLeast{Column: "retry_count", Value: 1})
	}
	return store.And{Predicates: preds}
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <flow-id>",
		Short: "Show one stored checkpoint",
		Long: `Load a checkpoint and show its stack, sessions, effective context
properties and outstanding retry.

The record is materialized exactly as the pipeline would load it, so a
checkpoint that cannot be resumed is reported as invalid.

Examples:
  flowstate inspect --db ./flows.db flow-1
  flowstate inspect --db ./flows.db flow-1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}
	addDatabaseFlag(cmd, opts)

	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <flow-id>",
		Short: "Show the save and delete log of a flow",
		Long: `Show every revision written for a flow and its removal, if any.

Examples:
  flowstate history --db ./flows.db flow-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}
	addDatabaseFlag(cmd, opts)

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <flow-id>",
		Short: "Remove a stored checkpoint",
		Long: `Remove a flow's checkpoint from the store. The removal is recorded
in the flow's history.

Exit codes:
  0 - Checkpoint removed
  2 - No checkpoint for the flow, or the store could not be opened`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args[0], cmd)
		},
	}
	addDatabaseFlag(cmd, opts)

	return cmd
}

func openStore(f *OutputFormatter, path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		_ = f.Error(ErrCodeStore, "failed to open database", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	f.VerboseLog("Opened store %s", path)
	return st, nil
}

// storeFailure maps a store read error to output and an exit code.
func storeFailure(f *OutputFormatter, flowID string, err error) error {
	var corrupt *store.CorruptError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no checkpoint for flow %s", flowID), nil)
	case errors.As(err, &corrupt):
		return f.Fail(ExitFailure, ErrCodeCorrupt, corrupt.Error(), map[string]string{
			"expected": corrupt.Expected,
			"actual":   corrupt.Actual,
		})
	default:
		_ = f.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "store read failed", err)
	}
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, err := openStore(f, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Find(context.Background(), listFilter(opts))
	if err != nil {
		return storeFailure(f, "", err)
	}

	if f.IsJSON() {
		return f.Success(records)
	}

	w := f.Writer
	if len(records) == 0 {
		fmt.Fprintln(w, "No checkpoints stored.")
		return nil
	}
	for _, rec := range records {
		killed := ""
		if rec.IsKilled {
			killed = " killed"
		}
		retry := ""
		if rec.RetryCount > 0 {
			retry = fmt.Sprintf(" retry=%d", rec.RetryCount)
		}
		fmt.Fprintf(w, "%s  rev=%d  waiting=%s  suspends=%d%s%s\n",
			rec.FlowID, rec.Revision, rec.WaitingFor, rec.SuspendCount, retry, killed)
	}
	return nil
}

func runInspect(opts *StoreOptions, flowID string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(opts.RootOptions, cmd)
	st, err := openStore(f, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(ctx, flowID)
	if err != nil {
		return storeFailure(f, flowID, err)
	}
	raw, err := st.Load(ctx, flowID)
	if err != nil {
		return storeFailure(f, flowID, err)
	}

	result, err := inspect(rec, raw)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeInvalidRecord, err.Error(), checkpointErrorDetails(err))
	}

	if f.IsJSON() {
		return f.Success(result)
	}
	outputInspectText(f.Writer, result)
	return nil
}

// inspect materializes raw and reads its effective view.
func inspect(rec store.Record, raw *ir.Checkpoint) (*InspectResult, error) {
	cp := checkpoint.New(nil)
	if err := cp.InitFromPersisted(raw); err != nil {
		return nil, err
	}
	stack, err := cp.Stack()
	if err != nil {
		return nil, err
	}
	sessions, err := cp.Sessions()
	if err != nil {
		return nil, err
	}
	live, err := cp.Context()
	if err != nil {
		return nil, err
	}

	result := &InspectResult{
		Record:      rec,
		SuspendedOn: raw.FlowState.SuspendedOn,
		WaitingFor:  raw.FlowState.WaitingFor,
		Stack:       stack.Items(),
		Sessions:    sessions.States(),
		Platform:    live.FlattenPlatformProperties(),
		User:        live.FlattenUserProperties(),
		Metadata:    raw.Metadata,
	}
	if raw.PipelineState != nil {
		result.Retry = raw.PipelineState.Retry
	}
	return result, nil
}

func outputInspectText(w io.Writer, r *InspectResult) {
	fmt.Fprintf(w, "Flow: %s\n", r.Record.FlowID)
	fmt.Fprintf(w, "Revision: %d\n", r.Record.Revision)
	fmt.Fprintf(w, "Fingerprint: %s\n", r.Record.Fingerprint)
	fmt.Fprintf(w, "Waiting for: %s\n", describeWaitingFor(r.WaitingFor))
	if r.SuspendedOn != "" {
		fmt.Fprintf(w, "Suspended on: %s\n", r.SuspendedOn)
	}
	fmt.Fprintf(w, "Suspend count: %d\n", r.Record.SuspendCount)
	if r.Record.IsKilled {
		fmt.Fprintln(w, "Killed: yes")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stack (bottom first) ===")
	if len(r.Stack) == 0 {
		fmt.Fprintln(w, "  (empty)")
	}
	for i, item := range r.Stack {
		initiating := ""
		if item.IsInitiatingFlow {
			initiating = " [initiating]"
		}
		fmt.Fprintf(w, "  %d. %s%s", i, item.FlowName, initiating)
		if len(item.SessionIDs) > 0 {
			fmt.Fprintf(w, " sessions=%s", strings.Join(item.SessionIDs, ","))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Sessions ===")
	if len(r.Sessions) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, s := range r.Sessions {
		fmt.Fprintf(w, "  %s %s", s.SessionID, s.Status)
		if s.ExpiresAtMillis > 0 {
			fmt.Fprintf(w, " expires=%d", s.ExpiresAtMillis)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	writeProperties(w, "Platform properties", r.Platform)
	writeProperties(w, "User properties", r.User)

	if r.Retry != nil {
		fmt.Fprintln(w, "=== Retry ===")
		fmt.Fprintf(w, "  count: %d\n", r.Retry.RetryCount)
		fmt.Fprintf(w, "  event: %s\n", r.Retry.FailedEvent.Kind)
		fmt.Fprintf(w, "  error: %s: %s\n", r.Retry.Error.ErrorType, r.Retry.Error.ErrorMessage)
	}
}

func writeProperties(w io.Writer, title string, props map[string]string) {
	fmt.Fprintf(w, "=== %s ===\n", title)
	if len(props) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, props[k])
	}
	fmt.Fprintln(w)
}

func describeWaitingFor(wf *ir.WaitingFor) string {
	if wf == nil {
		return string(ir.WaitingForNothing)
	}
	switch wf.Kind {
	case ir.WaitingForSessionConfirmation, ir.WaitingForSessionData:
		return fmt.Sprintf("%s(%s)", wf.Kind, strings.Join(wf.SessionIDs, ","))
	case ir.WaitingForExternalEvent:
		return fmt.Sprintf("%s(%s)", wf.Kind, wf.ExternalEventID)
	default:
		return string(wf.Kind)
	}
}

func runHistory(opts *StoreOptions, flowID string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, err := openStore(f, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.History(context.Background(), flowID)
	if err != nil {
		return storeFailure(f, flowID, err)
	}

	if f.IsJSON() {
		return f.Success(HistoryResult{FlowID: flowID, Entries: entries})
	}

	w := f.Writer
	if len(entries) == 0 {
		fmt.Fprintf(w, "No history for flow: %s\n", flowID)
		return nil
	}
	fmt.Fprintf(w, "History for Flow: %s\n", flowID)
	for _, e := range entries {
		fmt.Fprintf(w, "  [%d] %-6s rev=%d %s\n", e.Seq, e.Op, e.Revision, e.Fingerprint)
	}
	return nil
}

func runDelete(opts *StoreOptions, flowID string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, err := openStore(f, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	deleted, err := st.Delete(context.Background(), flowID)
	if err != nil {
		_ = f.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "delete failed", err)
	}
	if !deleted {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no checkpoint for flow %s", flowID), nil)
	}

	if f.IsJSON() {
		return f.Success(DeleteResult{FlowID: flowID, Deleted: true})
	}
	fmt.Fprintf(f.Writer, "✓ Deleted checkpoint for flow %s\n", flowID)
	return nil
}

// checkpointErrorDetails exposes a checkpoint error's code and context.
func checkpointErrorDetails(err error) map[string]string {
	var ce *checkpoint.Error
	if !errors.As(err, &ce) {
		return nil
	}
	details := map[string]string{
		"kind": string(ce.Kind),
		"code": string(ce.Code),
	}
	if ce.FlowID != "" {
		details["flow_id"] = ce.FlowID
	}
	if ce.Key != "" {
		details["key"] = ce.Key
	}
	for k, v := range ce.Details {
		details[k] = v
	}
	return details
}
