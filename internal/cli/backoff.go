package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corda/corda-runtime-os-sub032/internal/checkpoint"
	"github.com/corda/corda-runtime-os-sub032/internal/pipeline"
)

// BackoffOptions holds flags for the backoff command.
type BackoffOptions struct {
	*RootOptions
	MaxRetryDelay time.Duration
	Count         int
	Config        string
}

// BackoffStep is the delay scheduled after one consecutive failure.
type BackoffStep struct {
	RetryCount  int   `json:"retry_count"`
	DelayMillis int64 `json:"delay_millis"`
	Capped      bool  `json:"capped"`
}

// BackoffResult is the retry schedule for a configuration.
type BackoffResult struct {
	MaxRetryDelayMillis int64         `json:"max_retry_delay_millis"`
	MaxRetries          int           `json:"max_retries"`
	Steps               []BackoffStep `json:"steps"`
}

// NewBackoffCommand creates the backoff command.
func NewBackoffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackoffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backoff",
		Short: "Show the transient-failure retry schedule",
		Long: `Show the delay scheduled after each consecutive transient failure.

The delay after the n-th failure is 1s * 2^(n-1), capped at the maximum
retry delay. Failures beyond max_retries fail the flow instead.

Examples:
  flowstate backoff
  flowstate backoff --max-retry-delay 10s --count 8
  flowstate backoff --config ./pipeline.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackoff(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.MaxRetryDelay, "max-retry-delay", 0, "backoff cap (default from config, 60s)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "number of failures to show (default max_retries)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "pipeline YAML config")

	return cmd
}

func runBackoff(opts *BackoffOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg := pipeline.DefaultConfig()
	if opts.Config != "" {
		loaded, err := pipeline.LoadConfig(opts.Config)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidConfig, err.Error(), nil)
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("max-retry-delay") {
		cfg.Retry.MaxRetryDelay = opts.MaxRetryDelay
	}
	if err := cfg.Validate(); err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidConfig, err.Error(), nil)
	}

	count := opts.Count
	if count <= 0 {
		count = cfg.Retry.MaxRetries
	}

	result := BackoffResult{
		MaxRetryDelayMillis: cfg.Retry.MaxRetryDelay.Milliseconds(),
		MaxRetries:          cfg.Retry.MaxRetries,
		Steps:               backoffSchedule(count, cfg.Retry.MaxRetryDelay),
	}

	if f.IsJSON() {
		return f.Success(result)
	}

	w := f.Writer
	fmt.Fprintf(w, "Retry schedule (cap %s, max retries %d):\n", cfg.Retry.MaxRetryDelay, cfg.Retry.MaxRetries)
	for _, s := range result.Steps {
		note := ""
		if s.Capped {
			note = " (capped)"
		}
		if s.RetryCount > cfg.Retry.MaxRetries {
			note += " (exhausted)"
		}
		fmt.Fprintf(w, "  %2d  %s%s\n", s.RetryCount, time.Duration(s.DelayMillis)*time.Millisecond, note)
	}
	return nil
}

// backoffSchedule lists the delays after failures 1..count.
func backoffSchedule(count int, limit time.Duration) []BackoffStep {
	steps := make([]BackoffStep, 0, count)
	for n := 1; n <= count; n++ {
		d := checkpoint.BackoffDelay(n, limit)
		steps = append(steps, BackoffStep{
			RetryCount:  n,
			DelayMillis: d.Milliseconds(),
			Capped:      d == limit && checkpoint.BackoffDelay(n, 0) > limit,
		})
	}
	return steps
}
