package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveContext_PutThenGet(t *testing.T) {
	s := newStack(nil, nil, nil)
	_, err := s.Push("Flow")
	require.NoError(t, err)
	ctx := NewLiveContext(s)

	require.NoError(t, ctx.Put("user-key", "v1"))
	v, ok := ctx.Get("user-key")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, ctx.Put("user-key", "v2"))
	v, _ = ctx.Get("user-key")
	assert.Equal(t, "v2", v)
}

func TestLiveContext_PutRejectsReservedPrefixInAnyCase(t *testing.T) {
	s := newStack(nil, nil, nil)
	_, err := s.Push("Flow")
	require.NoError(t, err)
	ctx := NewLiveContext(s)

	for _, key := range []string{"corda.x", "CORDA.x", "Corda.Account", "cOrDa."} {
		t.Run(key, func(t *testing.T) {
			err := ctx.Put(key, "v")
			requireCode(t, err, ErrCodeReservedKey)
			assert.True(t, IsValidation(err))
			_, ok := ctx.Get(key)
			assert.False(t, ok)
		})
	}

	// Near misses are ordinary user keys.
	require.NoError(t, ctx.Put("corda", "v"))
	require.NoError(t, ctx.Put("xcorda.y", "v"))
}

func TestLiveContext_PutRejectsPlatformCollisionInAnyFrame(t *testing.T) {
	s := newStack(nil, map[string]string{"tenant": "t1"}, nil)
	_, err := s.Push("Outer")
	require.NoError(t, err)
	_, err = s.Push("Inner")
	require.NoError(t, err)
	ctx := NewLiveContext(s)

	err = ctx.Put("tenant", "other")
	requireCode(t, err, ErrCodePlatformKeyCollision)

	v, _ := ctx.Get("tenant")
	assert.Equal(t, "t1", v)
}

func TestLiveContext_EmptyStackCheckedBeforeKeyRules(t *testing.T) {
	ctx := NewLiveContext(newStack(nil, nil, nil))

	err := ctx.Put("corda.reserved", "v")
	requireCode(t, err, ErrCodeNoActiveFrame)
	assert.True(t, IsFatal(err))

	err = ctx.PutPlatform("k", "v")
	requireCode(t, err, ErrCodeNoActiveFrame)
}

func TestLiveContext_PutPlatformWriteOncePerFrame(t *testing.T) {
	s := newStack(nil, nil, nil)
	_, err := s.Push("Outer")
	require.NoError(t, err)
	ctx := NewLiveContext(s)

	require.NoError(t, ctx.PutPlatform("corda.account", "a1"))
	err = ctx.PutPlatform("corda.account", "a2")
	requireCode(t, err, ErrCodePlatformKeyExists)

	// A nested frame may shadow its parent's platform key.
	_, err = s.Push("Inner")
	require.NoError(t, err)
	require.NoError(t, ctx.PutPlatform("corda.account", "a2"))

	v, _ := ctx.Get("corda.account")
	assert.Equal(t, "a2", v)

	s.Pop()
	v, _ = ctx.Get("corda.account")
	assert.Equal(t, "a1", v)
}

func TestLiveContext_GetPrefersPlatformWithinFrame(t *testing.T) {
	s := newStack(nil, nil, nil)
	f, err := s.Push("Flow")
	require.NoError(t, err)
	f.Context.user["k"] = "user"
	f.Context.platform["k"] = "platform"

	v, ok := NewLiveContext(s).Get("k")
	require.True(t, ok)
	assert.Equal(t, "platform", v)
}

func TestLiveContext_NearestFrameWinsAndFlattenAgrees(t *testing.T) {
	s := newStack(nil, nil, map[string]string{"a": "outer", "b": "outer"})
	_, err := s.Push("Outer")
	require.NoError(t, err)
	_, err = s.Push("Middle")
	require.NoError(t, err)
	ctx := NewLiveContext(s)
	require.NoError(t, ctx.Put("a", "middle"))
	_, err = s.Push("Inner")
	require.NoError(t, err)
	require.NoError(t, ctx.Put("c", "inner"))

	flat := ctx.FlattenUserProperties()
	assert.Equal(t, map[string]string{"a": "middle", "b": "outer", "c": "inner"}, flat)

	for k, want := range flat {
		got, ok := ctx.Get(k)
		require.True(t, ok, k)
		assert.Equal(t, want, got, k)
	}
}

func TestLiveContext_FlattenPlatformProperties(t *testing.T) {
	s := newStack(nil, map[string]string{"corda.a": "1", "corda.b": "1"}, nil)
	_, err := s.Push("Outer")
	require.NoError(t, err)
	_, err = s.Push("Inner")
	require.NoError(t, err)
	ctx := NewLiveContext(s)
	require.NoError(t, ctx.PutPlatform("corda.b", "2"))

	assert.Equal(t, map[string]string{"corda.a": "1", "corda.b": "2"}, ctx.FlattenPlatformProperties())
	assert.Empty(t, ctx.FlattenUserProperties())
}

func TestLiveContext_FlattenReturnsCopy(t *testing.T) {
	s := newStack(nil, nil, map[string]string{"k": "v"})
	_, err := s.Push("Flow")
	require.NoError(t, err)
	ctx := NewLiveContext(s)

	flat := ctx.FlattenUserProperties()
	flat["k"] = "mutated"

	v, _ := ctx.Get("k")
	assert.Equal(t, "v", v)
}

func TestSnapshotContext_WriteOnce(t *testing.T) {
	snap := NewSnapshotContext(map[string]string{"corda.p": "1"}, map[string]string{"u": "1"})
	assert.Equal(t, PlatformWriteOnce, snap.Policy())

	err := snap.PutPlatform("corda.p", "2")
	requireCode(t, err, ErrCodePlatformKeyExists)
	require.NoError(t, snap.PutPlatform("corda.q", "1"))

	require.NoError(t, snap.Put("u", "2"))
	v, _ := snap.Get("u")
	assert.Equal(t, "2", v)
}

func TestSnapshotContext_Overwrite(t *testing.T) {
	snap := NewMutableSnapshotContext(map[string]string{"corda.p": "1"}, nil)
	assert.Equal(t, PlatformOverwrite, snap.Policy())

	require.NoError(t, snap.PutPlatform("corda.p", "2"))
	v, _ := snap.Get("corda.p")
	assert.Equal(t, "2", v)
}

func TestSnapshotContext_UserKeyRules(t *testing.T) {
	snap := NewMutableSnapshotContext(map[string]string{"shared": "p"}, nil)

	requireCode(t, snap.Put("shared", "u"), ErrCodePlatformKeyCollision)
	requireCode(t, snap.Put("CORDA.flow", "u"), ErrCodeReservedKey)
}

func TestSnapshotOf_IsDetached(t *testing.T) {
	s := newStack(nil, map[string]string{"corda.p": "1"}, map[string]string{"u": "1"})
	_, err := s.Push("Flow")
	require.NoError(t, err)
	live := NewLiveContext(s)

	snap := SnapshotOf(live, PlatformWriteOnce)
	require.NoError(t, live.Put("u", "2"))
	require.NoError(t, snap.Put("u", "3"))

	v, _ := snap.Get("u")
	assert.Equal(t, "3", v)
	v, _ = live.Get("u")
	assert.Equal(t, "2", v)
	assert.Equal(t, map[string]string{"corda.p": "1"}, snap.FlattenPlatformProperties())
}
