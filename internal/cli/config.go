package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corda/corda-runtime-os-sub032/internal/pipeline"
)

// ConfigResult is the effective pipeline configuration.
type ConfigResult struct {
	Source              string `json:"source"`
	MaxRetryDelayMillis int64  `json:"max_retry_delay_millis"`
	MaxRetries          int    `json:"max_retries"`
	MaxFlowSleepMillis  int64  `json:"max_flow_sleep_millis"`
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [pipeline.yaml]",
		Short: "Check a pipeline configuration file",
		Long: `Load a pipeline configuration file and show the effective values.
Keys absent from the file keep their defaults; without a file the
defaults are shown.

Examples:
  flowstate config
  flowstate config ./pipeline.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runConfig(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runConfig(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg := pipeline.DefaultConfig()
	source := "defaults"
	if path != "" {
		loaded, err := pipeline.LoadConfig(path)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeInvalidConfig, err.Error(), nil)
		}
		cfg = loaded
		source = path
	}

	result := ConfigResult{
		Source:              source,
		MaxRetryDelayMillis: cfg.Retry.MaxRetryDelay.Milliseconds(),
		MaxRetries:          cfg.Retry.MaxRetries,
		MaxFlowSleepMillis:  cfg.Sleep.MaxFlowSleep.Milliseconds(),
	}

	if f.IsJSON() {
		return f.Success(result)
	}

	w := f.Writer
	fmt.Fprintf(w, "✓ Configuration valid (%s)\n", source)
	fmt.Fprintf(w, "  retry.max_retry_delay: %s\n", cfg.Retry.MaxRetryDelay)
	fmt.Fprintf(w, "  retry.max_retries:     %d\n", cfg.Retry.MaxRetries)
	fmt.Fprintf(w, "  sleep.max_flow_sleep:  %s\n", cfg.Sleep.MaxFlowSleep)
	return nil
}
