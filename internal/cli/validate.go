package cli

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/corda/corda-runtime-os-sub032/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub032/internal/flowtype"
	"github.com/corda/corda-runtime-os-sub032/internal/harness"
	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Flows []string // flow-type declarations to check initiating flags against
}

// ValidationResult holds validation results for one checkpoint record.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	FlowID      string   `json:"flow_id"`
	Fingerprint string   `json:"fingerprint"`
	Canonical   bool     `json:"canonical"`
	Stable      bool     `json:"stable"`
	StackSize   int      `json:"stack_size"`
	Sessions    int      `json:"sessions"`
	RetryCount  int      `json:"retry_count"`
	Warnings    []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <checkpoint.json>",
		Short: "Validate a serialized checkpoint record",
		Long: `Decode a checkpoint record and materialize it the way the pipeline
loads it from the store.

A record is invalid if it cannot be resumed: missing flow state or start
context, or duplicate session ids. Valid records are also checked for
canonical encoding and for a stable round trip, and, with --flows, for
initiating flags that disagree with the flow-type declarations.

Exit codes:
  0 - Record is valid
  1 - Record is invalid
  2 - Command error (unreadable file, bad declarations, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Flows, "flows", nil, "CUE flow-type declarations (file or directory)")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("cannot read checkpoint: %v", err), nil)
	}

	var registry *flowtype.Registry
	if len(opts.Flows) > 0 {
		registry, err = harness.LoadFlows(opts.Flows)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeFlowTypes, err.Error(), nil)
		}
		f.VerboseLog("Loaded %d flow type(s)", registry.Len())
	}

	raw, err := ir.UnmarshalCheckpoint(data)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeInvalidRecord, err.Error(), nil)
	}

	result, err := validateRecord(raw, data, registry)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeInvalidRecord, err.Error(), checkpointErrorDetails(err))
	}

	if f.IsJSON() {
		return f.Success(result)
	}

	w := f.Writer
	fmt.Fprintf(w, "✓ Checkpoint valid: %s\n", result.FlowID)
	fmt.Fprintf(w, "  fingerprint: %s\n", result.Fingerprint)
	fmt.Fprintf(w, "  stack: %d frame(s), sessions: %d\n", result.StackSize, result.Sessions)
	if result.RetryCount >= 0 {
		fmt.Fprintf(w, "  retrying: attempt %d\n", result.RetryCount)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	return nil
}

// validateRecord materializes raw and checks it against its encoded form.
// registry may be nil.
func validateRecord(raw *ir.Checkpoint, data []byte, registry *flowtype.Registry) (*ValidationResult, error) {
	var resolver flowtype.Resolver
	if registry != nil {
		resolver = registry
	}
	cp := checkpoint.New(resolver)
	if err := cp.InitFromPersisted(raw); err != nil {
		return nil, err
	}

	fp, err := ir.Fingerprint(raw)
	if err != nil {
		return nil, err
	}
	canonical, err := ir.MarshalCanonical(raw)
	if err != nil {
		return nil, err
	}

	out, err := cp.ToSerializable()
	if err != nil {
		return nil, err
	}
	out.PipelineState = raw.PipelineState
	roundTrip, err := ir.Fingerprint(out)
	if err != nil {
		return nil, err
	}

	pipe := checkpoint.NewPipelineState(checkpoint.RetryConfig{}, raw.PipelineState)
	result := &ValidationResult{
		Valid:       true,
		FlowID:      raw.FlowID,
		Fingerprint: fp,
		Canonical:   bytes.Equal(bytes.TrimSpace(data), canonical),
		Stable:      roundTrip == fp,
		StackSize:   len(out.FlowState.StackItems),
		Sessions:    len(out.FlowState.Sessions),
		RetryCount:  pipe.RetryCount(),
	}
	if !result.Canonical {
		result.Warnings = append(result.Warnings, "record is not canonically encoded")
	}
	if !result.Stable {
		result.Warnings = append(result.Warnings, "record changes when re-serialized")
	}
	result.Warnings = append(result.Warnings, denormalizedIdentifiers(out.FlowState)...)
	if registry != nil {
		result.Warnings = append(result.Warnings, initiatingMismatches(out.FlowState.StackItems, registry)...)
	}
	return result, nil
}

// denormalizedIdentifiers lists session ids and context keys that are not
// in NFC. Identifiers are compared byte-for-byte, so two spellings of the
// same text are two different sessions or keys.
func denormalizedIdentifiers(state *ir.FlowState) []string {
	var warnings []string
	for _, s := range state.Sessions {
		if !norm.NFC.IsNormalString(s.SessionID) {
			warnings = append(warnings, fmt.Sprintf("session %q is not NFC normalized", s.SessionID))
		}
	}
	for i, item := range state.StackItems {
		for _, props := range []map[string]string{item.PlatformProperties, item.UserProperties} {
			for _, k := range slices.Sorted(maps.Keys(props)) {
				if !norm.NFC.IsNormalString(k) {
					warnings = append(warnings, fmt.Sprintf("stack[%d]: context key %q is not NFC normalized", i, k))
				}
			}
		}
	}
	return warnings
}

// initiatingMismatches lists frames whose initiating flag disagrees with
// the flow-type declarations.
func initiatingMismatches(items []ir.StackItem, registry *flowtype.Registry) []string {
	var warnings []string
	for i, item := range items {
		fact, ok := registry.Resolve(item.FlowName)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("stack[%d]: flow type %s is not declared", i, item.FlowName))
			continue
		}
		if fact.Initiating != item.IsInitiatingFlow {
			warnings = append(warnings, fmt.Sprintf("stack[%d]: %s is_initiating_flow=%t, declarations say %t",
				i, item.FlowName, item.IsInitiatingFlow, fact.Initiating))
		}
	}
	return warnings
}
