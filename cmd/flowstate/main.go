// flowstate inspects and exercises durable flow checkpoints.
//
// Usage:
//
//	flowstate [--format text|json] [--verbose] <command> [flags]
//
// Examples:
//
//	flowstate list --db ./flows.db
//	flowstate inspect --db ./flows.db flow-1
//	flowstate validate checkpoint.json --flows ./flows
//	flowstate scenario ./scenarios --update
package main

import (
	"fmt"
	"os"

	"github.com/corda/corda-runtime-os-sub032/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
