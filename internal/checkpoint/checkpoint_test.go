package checkpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
	"github.com/corda/corda-runtime-os-sub032/internal/testutil"
)

func TestCheckpoint_InitFromNewDefaults(t *testing.T) {
	c := newActive(t, nil, nil)
	assert.Equal(t, PhaseActive, c.Phase())

	id, err := c.FlowID()
	require.NoError(t, err)
	assert.Equal(t, "flow-1", id)

	count, err := c.SuspendCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	killed, err := c.IsKilled()
	require.NoError(t, err)
	assert.False(t, killed)

	fiber, err := c.Fiber()
	require.NoError(t, err)
	assert.NotNil(t, fiber)
	assert.Empty(t, fiber)

	wf, err := c.WaitingFor()
	require.NoError(t, err)
	assert.Equal(t, ir.Wakeup(), wf)

	stack, err := c.Stack()
	require.NoError(t, err)
	assert.Zero(t, stack.Size())

	sessions, err := c.Sessions()
	require.NoError(t, err)
	assert.Zero(t, sessions.Len())
}

func TestCheckpoint_InitTwiceFails(t *testing.T) {
	c := newActive(t, nil, nil)

	err := c.InitFromNew("flow-2", testutil.StartContext("F", nil, nil), ir.Wakeup())
	requireCode(t, err, ErrCodeAlreadyInitialized)

	err = c.InitFromPersisted(testutil.PersistedCheckpoint("flow-2", nil, nil))
	requireCode(t, err, ErrCodeAlreadyInitialized)

	id, _ := c.FlowID()
	assert.Equal(t, "flow-1", id)
}

func TestCheckpoint_AccessBeforeInitFails(t *testing.T) {
	c := New(nil)
	assert.Equal(t, PhaseUninitialized, c.Phase())

	_, err := c.FlowID()
	requireCode(t, err, ErrCodeNotInitialized)
	_, err = c.ToSerializable()
	requireCode(t, err, ErrCodeNotInitialized)
}

func TestCheckpoint_InitFromPersistedMissingFields(t *testing.T) {
	noState := testutil.PersistedCheckpoint("flow-1", nil, nil)
	noState.FlowState = nil
	noStart := testutil.PersistedCheckpoint("flow-1", nil, nil)
	noStart.FlowStartContext = nil

	for name, raw := range map[string]*ir.Checkpoint{
		"nil record":       nil,
		"no flow state":    noState,
		"no start context": noStart,
	} {
		t.Run(name, func(t *testing.T) {
			err := New(nil).InitFromPersisted(raw)
			requireCode(t, err, ErrCodeMissingField)
			assert.True(t, IsFatal(err))
		})
	}
}

func TestCheckpoint_InitFromPersistedDefaultsAbsentLists(t *testing.T) {
	raw := testutil.PersistedCheckpoint("flow-1", nil, []ir.StackItem{{FlowName: "Outer"}})
	raw.FlowState.Fiber = nil

	c := New(nil)
	require.NoError(t, c.InitFromPersisted(raw))

	out, err := c.ToSerializable()
	require.NoError(t, err)
	assert.NotNil(t, out.FlowState.Sessions)
	assert.NotNil(t, out.FlowState.Fiber)
	require.Len(t, out.FlowState.StackItems, 1)
	assert.NotNil(t, out.FlowState.StackItems[0].SessionIDs)
}

func TestCheckpoint_DuplicateSessionsReportsEveryID(t *testing.T) {
	raw := testutil.PersistedCheckpoint("flow-dup", []ir.SessionState{
		testutil.Session("s2", ir.SessionConfirmed),
		testutil.Session("s1", ir.SessionConfirmed),
		testutil.Session("s3", ir.SessionConfirmed),
		testutil.Session("s2", ir.SessionClosed),
		testutil.Session("s1", ir.SessionCreated),
	}, nil)

	err := New(nil).InitFromPersisted(raw)
	requireCode(t, err, ErrCodeDuplicateSession)
	assert.True(t, IsFatal(err))

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "flow-dup", ce.FlowID)
	assert.Equal(t, "s1,s2", ce.Details["duplicate_session_ids"])
	assert.Contains(t, err.Error(), "s1")
	assert.Contains(t, err.Error(), "s2")
	assert.NotContains(t, err.Error(), "s3")
}

func TestCheckpoint_RoundTripSortsSessions(t *testing.T) {
	raw := testutil.PersistedCheckpoint("flow-1", []ir.SessionState{
		testutil.Session("s-c", ir.SessionConfirmed),
		testutil.Session("s-a", ir.SessionCreated),
		testutil.Session("s-b", ir.SessionClosing),
	}, []ir.StackItem{
		{FlowName: "Outer", IsInitiatingFlow: true, SessionIDs: []string{"s-c", "s-a"}},
		{FlowName: "Inner", SessionIDs: []string{"s-b"}, UserProperties: map[string]string{"k": "v"}},
	})

	c := New(nil)
	require.NoError(t, c.InitFromPersisted(raw))
	out, err := c.ToSerializable()
	require.NoError(t, err)

	ids := make([]string, 0, len(out.FlowState.Sessions))
	for _, s := range out.FlowState.Sessions {
		ids = append(ids, s.SessionID)
	}
	assert.Equal(t, []string{"s-a", "s-b", "s-c"}, ids)
	assert.Equal(t, raw.FlowState.StackItems[0].SessionIDs, out.FlowState.StackItems[0].SessionIDs)
	assert.Equal(t, "v", out.FlowState.StackItems[1].UserProperties["k"])

	// A second round trip is byte-identical.
	first, err := ir.MarshalCanonical(out)
	require.NoError(t, err)
	again := New(nil)
	require.NoError(t, again.InitFromPersisted(out))
	out2, err := again.ToSerializable()
	require.NoError(t, err)
	second, err := ir.MarshalCanonical(out2)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestCheckpoint_InitFromPersistedDropsPipelineState(t *testing.T) {
	raw := testutil.PersistedCheckpoint("flow-1", nil, nil)
	raw.PipelineState = &ir.PipelineState{MaxFlowSleepMillis: 5, Retry: &ir.RetryState{RetryCount: 1}}

	c := New(nil)
	require.NoError(t, c.InitFromPersisted(raw))
	out, err := c.ToSerializable()
	require.NoError(t, err)
	assert.Nil(t, out.PipelineState)
}

func TestCheckpoint_SuspendRecordsState(t *testing.T) {
	c := newActive(t, nil, nil)

	require.NoError(t, c.Suspend("receive@12", ir.SessionData("s1", "s2"), []byte{1, 2, 3}))
	require.NoError(t, c.Suspend("receive@14", ir.SessionData("s1"), []byte{4}))

	on, _ := c.SuspendedOn()
	assert.Equal(t, "receive@14", on)
	count, _ := c.SuspendCount()
	assert.Equal(t, int64(2), count)
	fiber, _ := c.Fiber()
	assert.Equal(t, []byte{4}, fiber)
	wf, _ := c.WaitingFor()
	assert.Equal(t, ir.SessionData("s1"), wf)
}

func TestCheckpoint_MarkDeleted(t *testing.T) {
	c := newActive(t, nil, nil)
	c.MarkDeleted()
	assert.Equal(t, PhaseDeleted, c.Phase())

	out, err := c.ToSerializable()
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = c.FlowID()
	requireCode(t, err, ErrCodeAccessedAfterDeletion)
	_, err = c.Stack()
	requireCode(t, err, ErrCodeAccessedAfterDeletion)
	_, err = c.Context()
	requireCode(t, err, ErrCodeAccessedAfterDeletion)
	_, err = c.IsKilled()
	requireCode(t, err, ErrCodeAccessedAfterDeletion)
	requireCode(t, c.Rollback(), ErrCodeAccessedAfterDeletion)
	requireCode(t, c.SetMetadata("k", "v"), ErrCodeAccessedAfterDeletion)

	// Idempotent and irreversible.
	c.MarkDeleted()
	requireCode(t, c.InitFromNew("flow-2", testutil.StartContext("F", nil, nil), ir.Wakeup()), ErrCodeAlreadyInitialized)
}

func TestCheckpoint_RollbackRestoresStateButNotPipeline(t *testing.T) {
	raw := testutil.PersistedCheckpoint("flow-1", []ir.SessionState{
		testutil.Session("s1", ir.SessionConfirmed),
	}, []ir.StackItem{{FlowName: "Outer", SessionIDs: []string{"s1"}}})
	c := New(nil)
	require.NoError(t, c.InitFromPersisted(raw))
	before, err := c.ToSerializable()
	require.NoError(t, err)

	pipeline := NewPipelineState(testRetryConfig, nil)

	// Mutate everything the checkpoint owns.
	stack, _ := c.Stack()
	sessions, _ := c.Sessions()
	ctx, _ := c.Context()
	_, err = stack.Push("Inner")
	require.NoError(t, err)
	require.NoError(t, ctx.Put("k", "v"))
	sessions.Put(testutil.Session("s2", ir.SessionCreated))
	sessions.Remove("s1")
	require.NoError(t, c.Suspend("x", ir.Wakeup(), []byte{9}))
	require.NoError(t, c.MarkKilled())
	require.NoError(t, c.SetMetadata("note", "dirty"))

	event := ir.FlowEvent{FlowID: "flow-1", Kind: ir.EventWakeup}
	pipeline.RecordFailure(event, errors.New("boom"), time.UnixMilli(0))

	require.NoError(t, c.Rollback())
	after, err := c.ToSerializable()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Handles taken before the rollback observe the restored state.
	assert.Equal(t, 1, stack.Size())
	assert.Equal(t, []string{"s1"}, sessions.IDs())
	_, ok := ctx.Get("k")
	assert.False(t, ok)

	assert.True(t, pipeline.IsRetrying())
	assert.Equal(t, 1, pipeline.RetryCount())
}

func TestCheckpoint_RollbackWithoutChangesIsNoop(t *testing.T) {
	c := newActive(t, map[string]string{"corda.p": "1"}, nil)
	before, _ := c.ToSerializable()

	require.NoError(t, c.Rollback())
	after, _ := c.ToSerializable()
	assert.Equal(t, before, after)
}

func TestCheckpoint_LiveContextSeededFromStartContext(t *testing.T) {
	c := newActive(t, map[string]string{"corda.account": "acc-1"}, map[string]string{"customer": "bob"})
	stack, _ := c.Stack()
	ctx, _ := c.Context()

	_, ok := ctx.Get("corda.account")
	assert.False(t, ok, "no frame pushed yet")

	_, err := stack.Push("com.example.Flow")
	require.NoError(t, err)
	v, ok := ctx.Get("corda.account")
	require.True(t, ok)
	assert.Equal(t, "acc-1", v)
	v, _ = ctx.Get("customer")
	assert.Equal(t, "bob", v)
}

func TestCheckpoint_SessionExpiryMetadata(t *testing.T) {
	c := newActive(t, nil, nil)
	sessions, _ := c.Sessions()

	expiry := func() (string, bool) {
		v, ok, err := c.Metadata(SessionExpiryKey)
		require.NoError(t, err)
		return v, ok
	}

	_, ok := expiry()
	assert.False(t, ok)

	s1 := testutil.Session("s1", ir.SessionConfirmed)
	s1.ExpiresAtMillis = 5000
	s2 := testutil.Session("s2", ir.SessionCreated)
	s2.ExpiresAtMillis = 3000
	sessions.Put(s1)
	sessions.Put(s2)

	v, ok := expiry()
	require.True(t, ok)
	assert.Equal(t, "3000", v)

	// Closed sessions no longer count.
	s2.Status = ir.SessionClosed
	sessions.Put(s2)
	v, _ = expiry()
	assert.Equal(t, "5000", v)

	assert.True(t, sessions.Remove("s1"))
	_, ok = expiry()
	assert.False(t, ok)
	assert.False(t, sessions.Remove("s1"))
}

func TestCheckpoint_SessionExpiryRecomputedOnLoad(t *testing.T) {
	open := testutil.Session("s1", ir.SessionConfirmed)
	open.ExpiresAtMillis = 42
	raw := testutil.PersistedCheckpoint("flow-1", []ir.SessionState{open}, nil)
	raw.Metadata = map[string]string{SessionExpiryKey: "1", "other": "kept"}

	c := New(nil)
	require.NoError(t, c.InitFromPersisted(raw))

	v, _, _ := c.Metadata(SessionExpiryKey)
	assert.Equal(t, "42", v)
	v, _, _ = c.Metadata("other")
	assert.Equal(t, "kept", v)
}

func TestSessionRegistry_GetReturnsCopy(t *testing.T) {
	c := newActive(t, nil, nil)
	sessions, _ := c.Sessions()
	s := testutil.Session("s1", ir.SessionCreated)
	s.Properties = map[string]string{"k": "v"}
	sessions.Put(s)

	got, ok := sessions.Get("s1")
	require.True(t, ok)
	got.Properties["k"] = "mutated"

	again, _ := sessions.Get("s1")
	assert.Equal(t, "v", again.Properties["k"])

	_, ok = sessions.Get("missing")
	assert.False(t, ok)
}
