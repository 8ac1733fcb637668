package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corda/corda-runtime-os-sub032/internal/flowtype"
)

// FlowTypesResult holds the resolved facts of a declaration set.
type FlowTypesResult struct {
	Valid  bool                       `json:"valid"`
	Files  int                        `json:"files"`
	Facts  []flowtype.Fact            `json:"facts,omitempty"`
	Errors []flowtype.ValidationError `json:"errors,omitempty"`
}

// NewFlowTypesCommand creates the flowtypes command.
func NewFlowTypesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowtypes <file-or-dir>",
		Short: "Resolve flow-type declarations",
		Long: `Load CUE flow-type declarations and show which flows are initiating.

A flow is initiating when it, or the nearest ancestor on its extends
chain, carries an initiatedBy annotation. Unknown parents, duplicate
names, bad annotations and inheritance cycles are reported together.

Examples:
  flowstate flowtypes ./flows
  flowstate flowtypes ./flows/payments.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlowTypes(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runFlowTypes(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	loaded, err := loadDeclarations(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeFlowTypes, err.Error(), nil)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, path)

	result := FlowTypesResult{Files: loaded.FileCount}
	if errs := flowtype.Validate(loaded.Declarations); len(errs) > 0 {
		result.Errors = errs
		return outputFlowTypeErrors(f, result)
	}

	registry, err := loaded.Registry()
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeFlowTypes, err.Error(), nil)
	}
	result.Valid = true
	result.Facts = registry.Facts()

	if f.IsJSON() {
		return f.Success(result)
	}

	w := f.Writer
	if len(result.Facts) == 0 {
		fmt.Fprintln(w, "No flow types declared.")
		return nil
	}
	for _, fact := range result.Facts {
		if !fact.Initiating {
			fmt.Fprintf(w, "  %s\n", fact.Name)
			continue
		}
		inherited := ""
		if fact.DeclaredOn != fact.Name {
			inherited = fmt.Sprintf(" via %s", fact.DeclaredOn)
		}
		fmt.Fprintf(w, "* %s initiating %s v%d%s\n", fact.Name, fact.Protocol, fact.Version, inherited)
	}
	fmt.Fprintf(w, "\n✓ %d flow type(s) resolved\n", len(result.Facts))
	return nil
}

// loadDeclarations reads a single CUE file or every CUE file in a directory.
func loadDeclarations(path string) (*flowtype.LoadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("flow types not found: %w", err)
	}
	if info.IsDir() {
		return flowtype.LoadDir(path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return flowtype.CompileString(string(src), path)
}

func outputFlowTypeErrors(f *OutputFormatter, result FlowTypesResult) error {
	if f.IsJSON() {
		_ = writeJSON(f.Writer, CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeFlowTypes,
				Message: fmt.Sprintf("%d declaration error(s)", len(result.Errors)),
			},
		})
	} else {
		fmt.Fprintf(f.Writer, "✗ Flow-type declarations invalid (%d error(s)):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(f.Writer, "  [%s] %s: %s\n", e.Code, e.Field, e.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d declaration error(s)", len(result.Errors)))
}
