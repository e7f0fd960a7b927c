// Package metrics instruments the index engine with Prometheus counters and
// gauges: per-operation throughput and latency, optimistic-lock restarts,
// node splits, and staging-buffer drain activity, optionally served over
// HTTP for long benchmark runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments the engine updates as it runs a
// workload. One Metrics is shared across every front end in a process.
type Metrics struct {
	opsTotal        *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	restartsTotal   *prometheus.CounterVec
	splitsTotal     *prometheus.CounterVec
	leavesInstalled prometheus.Counter
	buffersDrained  *prometheus.CounterVec
	treeHeight      prometheus.Gauge
}

// New creates and registers the engine's metrics against the default
// Prometheus registry.
func New() *Metrics {
	return &Metrics{
		opsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olctree_ops_total",
				Help: "Total number of Insert/Lookup calls completed.",
			},
			[]string{"op", "algorithm"},
		),
		opDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "olctree_op_duration_seconds",
				Help:    "Per-call latency of Insert/Lookup.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "algorithm"},
		),
		restartsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olctree_optimistic_restarts_total",
				Help: "Total number of optimistic-lock restarts across all traversals.",
			},
			[]string{"op"},
		),
		splitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olctree_node_splits_total",
				Help: "Total number of leaf/inner node splits performed.",
			},
			[]string{"node_kind"},
		),
		leavesInstalled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "olctree_leaves_installed_total",
				Help: "Total number of pre-filled leaves installed into the tree.",
			},
		),
		buffersDrained: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "olctree_staging_buffers_drained_total",
				Help: "Total number of staging-buffer generations drained into the tree.",
			},
			[]string{"algorithm"},
		),
		treeHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "olctree_tree_height",
				Help: "Last-observed height of the tree, root to leaf.",
			},
		),
	}
}

// RecordOp records one completed Insert/Lookup call for algorithm
// ("baseline", "bulkleaf", "ring") and its latency.
func (m *Metrics) RecordOp(op, algorithm string, d time.Duration) {
	m.opsTotal.WithLabelValues(op, algorithm).Inc()
	m.opDuration.WithLabelValues(op, algorithm).Observe(d.Seconds())
}

// EngineSnapshot carries a front end's cumulative internal counters, taken
// once at the end of a run.
type EngineSnapshot struct {
	LookupRestarts  uint64
	InsertRestarts  uint64
	InstallRestarts uint64
	LeafSplits      uint64
	InnerSplits     uint64
	LeavesInstalled uint64
	BuffersDrained  uint64
	TreeHeight      int
}

// PublishEngineStats pushes a run's cumulative engine counters into the
// registry. Call it once per completed run; the snapshot values are totals,
// not deltas, so repeated publication of the same engine double-counts.
func (m *Metrics) PublishEngineStats(algorithm string, s EngineSnapshot) {
	m.restartsTotal.WithLabelValues("lookup").Add(float64(s.LookupRestarts))
	m.restartsTotal.WithLabelValues("insert").Add(float64(s.InsertRestarts))
	m.restartsTotal.WithLabelValues("install").Add(float64(s.InstallRestarts))
	m.splitsTotal.WithLabelValues("leaf").Add(float64(s.LeafSplits))
	m.splitsTotal.WithLabelValues("inner").Add(float64(s.InnerSplits))
	m.leavesInstalled.Add(float64(s.LeavesInstalled))
	m.buffersDrained.WithLabelValues(algorithm).Add(float64(s.BuffersDrained))
	m.treeHeight.Set(float64(s.TreeHeight))
}

// Serve starts an HTTP server exposing /metrics on addr in the background;
// the caller is responsible for shutting it down (or simply letting the
// process exit, for a one-shot benchmark run).
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
