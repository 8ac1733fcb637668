package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

func TestCompilePredicate(t *testing.T) {
	tests := []struct {
		name       string
		pred       Predicate
		wantSQL    string
		wantParams []any
	}{
		{
			name:    "nil matches all",
			pred:    nil,
			wantSQL: "1 = 1",
		},
		{
			name:       "equals",
			pred:       Equals{Column: "waiting_for", Value: "SessionData"},
			wantSQL:    "waiting_for = ?",
			wantParams: []any{"SessionData"},
		},
		{
			name:       "at least",
			pred:       AtLeast{Column: "retry_count", Value: 1},
			wantSQL:    "retry_count >= ?",
			wantParams: []any{int64(1)},
		},
		{
			name:    "empty and",
			pred:    And{},
			wantSQL: "1 = 1",
		},
		{
			name: "and keeps parameter order",
			pred: And{Predicates: []Predicate{
				Equals{Column: "is_killed", Value: true},
				AtLeast{Column: "suspend_count", Value: 2},
			}},
			wantSQL:    "(is_killed = ?) AND (suspend_count >= ?)",
			wantParams: []any{true, int64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := compilePredicate(tt.pred)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestCompilePredicate_RejectsUnknownColumn(t *testing.T) {
	_, _, err := compilePredicate(Equals{Column: "body; DROP TABLE checkpoints", Value: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown filter column")

	_, _, err = compilePredicate(And{Predicates: []Predicate{AtLeast{Column: "body", Value: 0}}})
	require.Error(t, err)
}

func TestFind(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	killed := createTestCheckpoint("flow-k")
	killed.FlowState.IsKilled = true

	retrying := createTestCheckpoint("flow-r")
	retrying.PipelineState = &ir.PipelineState{
		MaxFlowSleepMillis: 2000,
		Retry: &ir.RetryState{
			RetryCount:  3,
			FailedEvent: ir.FlowEvent{FlowID: "flow-r", Kind: ir.EventWakeup},
			Error:       ir.ExceptionEnvelope{ErrorType: "TRANSIENT", ErrorMessage: "ledger unavailable"},
		},
	}

	for _, cp := range []*ir.Checkpoint{createTestCheckpoint("flow-a"), killed, retrying} {
		_, err := s.Save(ctx, cp)
		require.NoError(t, err)
	}

	ids := func(records []Record) []string {
		out := []string{}
		for _, r := range records {
			out = append(out, r.FlowID)
		}
		return out
	}

	all, err := s.Find(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"flow-a", "flow-k", "flow-r"}, ids(all))

	onlyKilled, err := s.Find(ctx, Equals{Column: "is_killed", Value: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"flow-k"}, ids(onlyKilled))

	onlyRetrying, err := s.Find(ctx, AtLeast{Column: "retry_count", Value: 1})
	require.NoError(t, err)
	require.Len(t, onlyRetrying, 1)
	assert.Equal(t, 3, onlyRetrying[0].RetryCount)

	none, err := s.Find(ctx, And{Predicates: []Predicate{
		Equals{Column: "is_killed", Value: true},
		AtLeast{Column: "retry_count", Value: 1},
	}})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = s.Find(ctx, Equals{Column: "body", Value: "x"})
	require.Error(t, err)
}
