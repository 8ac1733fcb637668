package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

func TestFixedFlowIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedFlowIDGenerator("test-flow-123")

	assert.Equal(t, "test-flow-123", gen.Generate())
	assert.Equal(t, "test-flow-123", gen.Generate())
}

func TestFixedFlowIDGenerator_EmptyIDDefault(t *testing.T) {
	gen := NewFixedFlowIDGenerator("")
	assert.Equal(t, "test-flow-default", gen.Generate())
}

func TestStartContext_NeverNilMaps(t *testing.T) {
	sc := StartContext("com.example.Flow", nil, nil)
	assert.NotNil(t, sc.ContextPlatformProperties)
	assert.NotNil(t, sc.ContextUserProperties)
	assert.Equal(t, "com.example.Flow", sc.FlowClassName)
	assert.Equal(t, ir.InitiatorRPC, sc.InitiatorType)
}

func TestPersistedCheckpoint_HasMandatoryParts(t *testing.T) {
	raw := PersistedCheckpoint("flow-1", nil, nil)
	assert.Equal(t, "flow-1", raw.FlowID)
	assert.NotNil(t, raw.FlowStartContext)
	assert.NotNil(t, raw.FlowState)
	assert.Nil(t, raw.FlowState.Sessions)
}
