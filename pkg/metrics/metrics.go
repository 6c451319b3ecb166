// Package metrics exposes the log engine's Prometheus counters and
// gauges: segment/compaction throughput and commit-handle health
// (observability, wired from pkg/storage, pkg/compactor, pkg/commit).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EntriesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlog_entries_appended_total",
		Help: "Total number of entries appended to the log",
	})

	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raftlog_append_latency_seconds",
		Help:    "Histogram of single-entry append latency",
		Buckets: prometheus.DefBuckets,
	})

	SegmentCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftlog_segment_count",
		Help: "Current number of segments in the catalog",
	})

	SealedSegmentCleanRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftlog_segment_clean_ratio",
			Help: "Fraction of entries marked clean in each sealed segment",
		},
		[]string{"segment_id"},
	)

	CompactionsRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftlog_compactions_total",
			Help: "Total number of compaction passes run",
		},
		[]string{"kind"}, // minor, major
	)

	CompactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "raftlog_compaction_duration_seconds",
			Help: "Duration of a compaction rewrite pass",
		},
		[]string{"kind"},
	)

	CompactionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftlog_compaction_failures_total",
			Help: "Total number of compaction passes that failed",
		},
		[]string{"kind", "reason"},
	)

	CommitsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftlog_commits_open",
		Help: "Number of Commit handles currently unterminated",
	})

	CommitsLeaked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlog_commits_leaked_total",
		Help: "Total number of Commit handles garbage collected while still open",
	})

	IOErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftlog_io_errors_total",
			Help: "Total number of I/O errors encountered by the storage layer",
		},
		[]string{"op"}, // append, get, truncate, seal, compact
	)
)
