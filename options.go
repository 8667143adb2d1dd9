package annex

import (
	"log/slog"

	"github.com/bitharbor/annex/resource"
	"github.com/bitharbor/annex/snapshot"
)

const (
	// DefaultEpsilon is the canonicalization rounding tolerance.
	DefaultEpsilon = 1e-6

	// DefaultRefineCandidates is how many graph candidates the search
	// over-fetches before exact re-scoring.
	DefaultRefineCandidates = 32
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	epsilon          float64
	rebuildBatchSize int
	refineCandidates int
	mediaStore       MediaStore
	publisher        *snapshot.Publisher
	resources        *resource.Controller
}

// Option configures Service construction.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithEpsilon sets the canonicalization rounding tolerance. Embeddings
// whose difference is below epsilon collapse to the same canonical form
// and hash. Zero disables rounding.
func WithEpsilon(epsilon float64) Option {
	return func(o *options) {
		o.epsilon = epsilon
	}
}

// WithRebuildBatchSize sets how many ingests may accumulate before the
// index is rebuilt. 1 keeps the index synchronized on every ingest;
// larger values trade a stale window for ingest throughput. The stale
// window never reaches a reader: a search against a stale index forces
// the rebuild first.
func WithRebuildBatchSize(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.rebuildBatchSize = n
	}
}

// WithRefineCandidates sets how many graph candidates the search
// over-fetches before exact re-scoring. Values below k are raised to k at
// query time.
func WithRefineCandidates(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = DefaultRefineCandidates
		}
		o.refineCandidates = n
	}
}

// WithMediaStore configures a catalog backend for hydrating search
// matches with media records.
func WithMediaStore(ms MediaStore) Option {
	return func(o *options) {
		o.mediaStore = ms
	}
}

// WithSnapshotPublisher configures snapshot publishing and restore
// against a blob store.
func WithSnapshotPublisher(p *snapshot.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithResourceController bounds rebuild concurrency, rebuild memory and
// snapshot IO.
func WithResourceController(c *resource.Controller) Option {
	return func(o *options) {
		o.resources = c
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		epsilon:          DefaultEpsilon,
		rebuildBatchSize: 1,
		refineCandidates: DefaultRefineCandidates,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
