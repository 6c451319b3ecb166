package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/downfa11-org/raftlog/util"
)

func init() {
	prometheus.MustRegister(
		EntriesAppended, AppendLatency, SegmentCount, SealedSegmentCleanRatio,
		CompactionsRun, CompactionDuration, CompactionFailures,
		CommitsOpen, CommitsLeaked, IOErrors,
	)
}

// StartExporter serves /metrics on port in the background and returns
// immediately; the caller does not wait on it.
func StartExporter(port int) {
	logger := util.Named("metrics")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		logger.Info("prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server stopped: %v", err)
		}
	}()
}

// ObserveAppend records one successful append's latency and increments
// the append counter.
func ObserveAppend(elapsedSeconds float64) {
	EntriesAppended.Inc()
	AppendLatency.Observe(elapsedSeconds)
}
