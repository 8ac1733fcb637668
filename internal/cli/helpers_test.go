package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
	"github.com/corda/corda-runtime-os-sub032/internal/store"
	"github.com/corda/corda-runtime-os-sub032/internal/testutil"
)

// execute runs the root command with args and returns stdout and the
// command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeData decodes a JSON CLIResponse and its data payload into data.
func decodeData(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return CLIResponse{Status: resp.Status, Error: resp.Error}
}

// paymentCheckpoint is a single-frame flow with one confirmed session.
func paymentCheckpoint(flowID string) *ir.Checkpoint {
	return testutil.PersistedCheckpoint(flowID,
		[]ir.SessionState{testutil.Session("s1", ir.SessionConfirmed)},
		[]ir.StackItem{{
			FlowName:           "PaymentFlow",
			IsInitiatingFlow:   true,
			SessionIDs:         []string{"s1"},
			PlatformProperties: map[string]string{"corda.account": "acc-1"},
			UserProperties:     map[string]string{"invoice": "inv-7"},
		}},
	)
}

// seedStore creates a database holding the given checkpoints and returns
// its path.
func seedStore(t *testing.T, cps ...*ir.Checkpoint) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flows.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	for _, cp := range cps {
		_, err := st.Save(context.Background(), cp)
		require.NoError(t, err)
	}
	return path
}

// writeRecord writes cp as canonical JSON and returns the file path.
func writeRecord(t *testing.T, cp *ir.Checkpoint) string {
	t.Helper()
	data, err := ir.MarshalCanonical(cp)
	require.NoError(t, err)
	return writeFile(t, "checkpoint.json", data)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}
