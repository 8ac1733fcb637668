package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub032/internal/flowtype"
	"github.com/corda/corda-runtime-os-sub032/internal/ir"
	"github.com/corda/corda-runtime-os-sub032/internal/testutil"
)

// staticResolver is a map-backed flowtype.Resolver.
type staticResolver map[string]flowtype.Fact

func (r staticResolver) Resolve(name string) (flowtype.Fact, bool) {
	f, ok := r[name]
	return f, ok
}

// newActive returns a fresh, initialized checkpoint whose start context
// carries the given seed properties.
func newActive(t *testing.T, platform, user map[string]string) *Checkpoint {
	t.Helper()
	c := New(nil)
	err := c.InitFromNew("flow-1", testutil.StartContext("com.example.Flow", platform, user), ir.Wakeup())
	require.NoError(t, err)
	return c
}

// newStack returns an empty stack seeded with the given start properties.
func newStack(resolver flowtype.Resolver, platform, user map[string]string) *FlowStack {
	if resolver == nil {
		resolver = flowtype.Empty()
	}
	sc := testutil.StartContext("com.example.Flow", platform, user)
	return newFlowStack("flow-1", resolver, &sc, nil)
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.True(t, HasCode(err, code), "expected %s, got %v", code, err)
}
