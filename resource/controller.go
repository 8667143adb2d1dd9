// Package resource bounds the background work the search service performs.
//
// Index rebuilds are CPU and memory heavy and snapshot publishing is IO
// heavy; the controller keeps both from starving the serving path.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxConcurrentRebuilds bounds concurrent index rebuilds.
	// If 0, defaults to 1.
	MaxConcurrentRebuilds int64

	// MemoryLimitBytes is the hard limit for memory reserved by rebuilds.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// SnapshotIOBytesPerSec caps snapshot publish and restore throughput.
	// If 0, unlimited.
	SnapshotIOBytesPerSec int64
}

// Controller manages rebuild concurrency, rebuild memory and snapshot IO.
type Controller struct {
	cfg Config

	rebuildSem *semaphore.Weighted

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentRebuilds <= 0 {
		cfg.MaxConcurrentRebuilds = 1
	}

	c := &Controller{
		cfg:        cfg,
		rebuildSem: semaphore.NewWeighted(cfg.MaxConcurrentRebuilds),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.SnapshotIOBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.SnapshotIOBytesPerSec), int(cfg.SnapshotIOBytesPerSec))
	}

	return c
}

// AcquireRebuild reserves a rebuild slot, blocking while all slots are
// busy.
func (c *Controller) AcquireRebuild(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rebuildSem.Acquire(ctx, 1)
}

// TryAcquireRebuild reserves a rebuild slot without blocking.
func (c *Controller) TryAcquireRebuild() bool {
	if c == nil {
		return true
	}
	return c.rebuildSem.TryAcquire(1)
}

// ReleaseRebuild releases a rebuild slot.
func (c *Controller) ReleaseRebuild() {
	if c == nil {
		return
	}
	c.rebuildSem.Release(1)
}

// AcquireMemory reserves memory for an in-flight rebuild. With a hard
// limit configured this blocks until enough is free or ctx is canceled.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}
	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the currently reserved rebuild memory in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// SnapshotIOLimiter returns the shared snapshot IO limiter, or nil when
// unlimited.
func (c *Controller) SnapshotIOLimiter() *rate.Limiter {
	if c == nil {
		return nil
	}
	return c.ioLimiter
}
