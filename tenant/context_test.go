package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenantA = "11111111-1111-1111-1111-111111111111"
	tenantB = "22222222-2222-2222-2222-222222222222"
)

func TestPushAndCurrent(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, Current(ctx))
	assert.Equal(t, 0, Depth(ctx))

	ctx, err := Push(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, tenantA, Current(ctx))
	assert.Equal(t, 1, Depth(ctx))

	ctx, err = Push(ctx, tenantB)
	require.NoError(t, err)
	assert.Equal(t, tenantB, Current(ctx))
	assert.Equal(t, 2, Depth(ctx))
}

func TestPushRejectsBlank(t *testing.T) {
	for _, id := range []string{"", "   ", "\t\n"} {
		ctx, err := Push(context.Background(), id)
		assert.ErrorIs(t, err, ErrBlankTenant)
		assert.Equal(t, 0, Depth(ctx), "blank push must not grow the stack")
	}
}

func TestRequireFailsClosed(t *testing.T) {
	_, err := Require(context.Background())
	assert.ErrorIs(t, err, ErrMissingTenantContext)

	ctx, err := Push(context.Background(), tenantA)
	require.NoError(t, err)
	got, err := Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, tenantA, got)
}

func TestPopRestoresPrevious(t *testing.T) {
	ctx, err := Push(context.Background(), tenantA)
	require.NoError(t, err)
	ctx, err = Push(ctx, tenantB)
	require.NoError(t, err)

	ctx = Pop(ctx)
	assert.Equal(t, tenantA, Current(ctx))
	ctx = Pop(ctx)
	assert.Empty(t, Current(ctx))
	assert.Equal(t, 0, Depth(ctx))
}

func TestPopIdempotentOnEmpty(t *testing.T) {
	ctx := Pop(context.Background())
	assert.Equal(t, 0, Depth(ctx))
	ctx = Pop(ctx)
	assert.Equal(t, 0, Depth(ctx))
	assert.Empty(t, Current(ctx))
}

func TestParentContextUnaffectedByChildPush(t *testing.T) {
	parent, err := Push(context.Background(), tenantA)
	require.NoError(t, err)

	child, err := Push(parent, tenantB)
	require.NoError(t, err)

	// Pushing on the child never mutates the parent's view; this is the
	// property that makes pooled-worker leakage structurally impossible.
	assert.Equal(t, tenantA, Current(parent))
	assert.Equal(t, 1, Depth(parent))
	assert.Equal(t, tenantB, Current(child))
}

func TestCheckLeak(t *testing.T) {
	assert.Equal(t, 0, CheckLeak(context.Background()))

	ctx, err := Push(context.Background(), tenantA)
	require.NoError(t, err)
	assert.Equal(t, 1, CheckLeak(ctx))

	ctx = Pop(ctx)
	assert.Equal(t, 0, CheckLeak(ctx))
}
