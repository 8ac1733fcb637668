package flowtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_ResolvesThroughParentChain(t *testing.T) {
	reg, err := NewRegistry(
		Declaration{Name: "PaymentFlow", InitiatedBy: &Annotation{Protocol: "payment", Version: 2}},
		Declaration{Name: "RetryingPaymentFlow", Extends: "PaymentFlow"},
		Declaration{Name: "AuditedRetryingPaymentFlow", Extends: "RetryingPaymentFlow"},
		Declaration{Name: "LookupFlow"},
		Declaration{Name: "CachedLookupFlow", Extends: "LookupFlow"},
	)
	require.NoError(t, err)
	assert.Equal(t, 5, reg.Len())

	f, ok := reg.Resolve("AuditedRetryingPaymentFlow")
	require.True(t, ok)
	assert.True(t, f.Initiating)
	assert.Equal(t, "payment", f.Protocol)
	assert.Equal(t, 2, f.Version)
	assert.Equal(t, "PaymentFlow", f.DeclaredOn)

	f, ok = reg.Resolve("CachedLookupFlow")
	require.True(t, ok)
	assert.False(t, f.Initiating)
	assert.Empty(t, f.DeclaredOn)
}

func TestNewRegistry_NearestAnnotationWins(t *testing.T) {
	reg, err := NewRegistry(
		Declaration{Name: "Base", InitiatedBy: &Annotation{Protocol: "base", Version: 1}},
		Declaration{Name: "Override", Extends: "Base", InitiatedBy: &Annotation{Protocol: "override", Version: 3}},
	)
	require.NoError(t, err)

	f, _ := reg.Resolve("Override")
	assert.Equal(t, "override", f.Protocol)
	assert.Equal(t, "Override", f.DeclaredOn)
}

func TestNewRegistry_Errors(t *testing.T) {
	tests := []struct {
		name  string
		decls []Declaration
		code  string
	}{
		{"empty name", []Declaration{{Name: ""}}, ErrEmptyName},
		{"duplicate", []Declaration{{Name: "A"}, {Name: "A"}}, ErrDuplicateName},
		{"unknown parent", []Declaration{{Name: "A", Extends: "Missing"}}, ErrUnknownParent},
		{"cycle", []Declaration{{Name: "A", Extends: "B"}, {Name: "B", Extends: "A"}}, ErrInheritCycle},
		{"version zero", []Declaration{{Name: "A", InitiatedBy: &Annotation{Protocol: "p", Version: 0}}}, ErrInvalidVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewRegistry(tt.decls...)
			require.Error(t, err)
			assert.Nil(t, reg)

			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.code, ve.Code)
		})
	}
}

func TestRegistry_UnknownAndNil(t *testing.T) {
	_, ok := Empty().Resolve("Anything")
	assert.False(t, ok)

	var reg *Registry
	_, ok = reg.Resolve("Anything")
	assert.False(t, ok)
}

func TestRegistry_FactsSorted(t *testing.T) {
	reg, err := NewRegistry(Declaration{Name: "C"}, Declaration{Name: "A"}, Declaration{Name: "B"})
	require.NoError(t, err)

	var names []string
	for _, f := range reg.Facts() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"A", "B", "C"}, names)
}
