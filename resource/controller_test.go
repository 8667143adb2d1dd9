package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_RebuildSlots(t *testing.T) {
	c := NewController(Config{MaxConcurrentRebuilds: 2})
	ctx := context.Background()

	require.NoError(t, c.AcquireRebuild(ctx))
	require.NoError(t, c.AcquireRebuild(ctx))
	assert.False(t, c.TryAcquireRebuild())

	c.ReleaseRebuild()
	assert.True(t, c.TryAcquireRebuild())

	c.ReleaseRebuild()
	c.ReleaseRebuild()
}

func TestController_DefaultSingleRebuild(t *testing.T) {
	c := NewController(Config{})

	assert.True(t, c.TryAcquireRebuild())
	assert.False(t, c.TryAcquireRebuild())
	c.ReleaseRebuild()
}

func TestController_AcquireRebuildHonorsContext(t *testing.T) {
	c := NewController(Config{MaxConcurrentRebuilds: 1})
	require.NoError(t, c.AcquireRebuild(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.AcquireRebuild(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	c.ReleaseRebuild()
}

func TestController_MemoryTracking(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 1024})
	ctx := context.Background()

	require.NoError(t, c.AcquireMemory(ctx, 512))
	assert.Equal(t, int64(512), c.MemoryUsage())

	// Over the limit blocks; a canceled context unblocks it.
	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.AcquireMemory(ctx2, 1024)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	c.ReleaseMemory(512)
	assert.Zero(t, c.MemoryUsage())
}

func TestController_NilIsUnlimited(t *testing.T) {
	var c *Controller

	require.NoError(t, c.AcquireRebuild(context.Background()))
	assert.True(t, c.TryAcquireRebuild())
	c.ReleaseRebuild()

	require.NoError(t, c.AcquireMemory(context.Background(), 1<<30))
	c.ReleaseMemory(1 << 30)
	assert.Zero(t, c.MemoryUsage())
	assert.Nil(t, c.SnapshotIOLimiter())
}

func TestController_SnapshotIOLimiter(t *testing.T) {
	c := NewController(Config{SnapshotIOBytesPerSec: 1 << 20})
	require.NotNil(t, c.SnapshotIOLimiter())

	unlimited := NewController(Config{})
	assert.Nil(t, unlimited.SnapshotIOLimiter())
}
