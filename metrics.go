package annex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordIngest is called after each embedding ingest.
	// deduplicated reports whether the ingest hit an existing row.
	RecordIngest(duration time.Duration, deduplicated bool, err error)

	// RecordSearch is called after each search.
	// k is the number of neighbors requested.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordRebuild is called after each index rebuild.
	// rows is the number of rows indexed.
	RecordRebuild(rows uint32, duration time.Duration, err error)

	// RecordDelete is called after each media delete.
	RecordDelete(duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot publish or restore.
	RecordSnapshot(op string, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(time.Duration, bool, error)     {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordRebuild(uint32, time.Duration, error)  {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)           {}
func (NoopMetricsCollector) RecordSnapshot(string, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestCount        atomic.Int64
	IngestDeduplicated atomic.Int64
	IngestErrors       atomic.Int64
	IngestTotalNanos   atomic.Int64
	SearchCount        atomic.Int64
	SearchErrors       atomic.Int64
	SearchTotalNanos   atomic.Int64
	RebuildCount       atomic.Int64
	RebuildErrors      atomic.Int64
	RebuildRows        atomic.Int64
	DeleteCount        atomic.Int64
	DeleteErrors       atomic.Int64
	SnapshotCount      atomic.Int64
	SnapshotErrors     atomic.Int64
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(duration time.Duration, deduplicated bool, err error) {
	b.IngestCount.Add(1)
	b.IngestTotalNanos.Add(duration.Nanoseconds())
	if deduplicated {
		b.IngestDeduplicated.Add(1)
	}
	if err != nil {
		b.IngestErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(rows uint32, duration time.Duration, err error) {
	b.RebuildCount.Add(1)
	b.RebuildRows.Add(int64(rows))
	if err != nil {
		b.RebuildErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(op string, duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// Stats is a snapshot of BasicMetricsCollector state.
type Stats struct {
	IngestCount        int64
	IngestDeduplicated int64
	IngestErrors       int64
	IngestAvgNanos     int64
	SearchCount        int64
	SearchErrors       int64
	SearchAvgNanos     int64
	RebuildCount       int64
	RebuildErrors      int64
	RebuildRows        int64
	DeleteCount        int64
	DeleteErrors       int64
	SnapshotCount      int64
	SnapshotErrors     int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() Stats {
	return Stats{
		IngestCount:        b.IngestCount.Load(),
		IngestDeduplicated: b.IngestDeduplicated.Load(),
		IngestErrors:       b.IngestErrors.Load(),
		IngestAvgNanos:     avgNanos(b.IngestTotalNanos.Load(), b.IngestCount.Load()),
		SearchCount:        b.SearchCount.Load(),
		SearchErrors:       b.SearchErrors.Load(),
		SearchAvgNanos:     avgNanos(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		RebuildCount:       b.RebuildCount.Load(),
		RebuildErrors:      b.RebuildErrors.Load(),
		RebuildRows:        b.RebuildRows.Load(),
		DeleteCount:        b.DeleteCount.Load(),
		DeleteErrors:       b.DeleteErrors.Load(),
		SnapshotCount:      b.SnapshotCount.Load(),
		SnapshotErrors:     b.SnapshotErrors.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}
