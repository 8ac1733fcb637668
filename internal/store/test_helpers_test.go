package store

import (
	"path/filepath"
	"testing"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
	"github.com/corda/corda-runtime-os-sub032/internal/testutil"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCheckpoint creates a persisted record with one open session
// and one frame.
func createTestCheckpoint(flowID string) *ir.Checkpoint {
	return testutil.PersistedCheckpoint(flowID,
		[]ir.SessionState{testutil.Session("s1", ir.SessionConfirmed)},
		[]ir.StackItem{{FlowName: "com.example.TestFlow", SessionIDs: []string{"s1"}}},
	)
}
