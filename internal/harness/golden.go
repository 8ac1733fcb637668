package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

// Snapshot captures the observable outcome of a scenario execution.
// It is serialized with ir.MarshalCanonical for deterministic comparison.
type Snapshot struct {
	ScenarioName string       `json:"scenario_name"`
	FlowID       string       `json:"flow_id"`
	Trace        []TraceEvent `json:"trace"`
	Final        *FinalState  `json:"final,omitempty"`
	Errors       []string     `json:"errors,omitempty"`
}

// SnapshotOf builds the snapshot of a scenario result.
func SnapshotOf(scenarioName string, result *Result) Snapshot {
	return Snapshot{
		ScenarioName: scenarioName,
		FlowID:       result.FlowID,
		Trace:        result.Trace,
		Final:        result.Final,
		Errors:       result.Errors,
	}
}

// MarshalSnapshot returns the canonical JSON form of a scenario result.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(SnapshotOf(scenarioName, result))
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's snapshot against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
