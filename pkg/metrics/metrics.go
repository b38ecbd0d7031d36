package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_reconciliation_cycles_total",
			Help: "Total number of reconciliation passes",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ballast_reconciliation_duration_seconds",
			Help:    "Reconciliation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_reconciliation_errors_total",
			Help: "Total per-resource errors during reconciliation by kind",
		},
		[]string{"kind"},
	)

	// Workload metrics
	WorkloadsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_workloads_total",
			Help: "Total number of declared workloads",
		},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ballast_instances_total",
			Help: "Total number of instances by state",
		},
		[]string{"state"},
	)

	// Rollout metrics
	RolloutsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ballast_rollouts_total",
			Help: "Total number of rollouts by state",
		},
		[]string{"state"},
	)

	RolloutsStalled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_rollouts_stalled",
			Help: "Number of rollouts currently reporting the stalled condition",
		},
	)

	InstancesReplacedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_instances_replaced_total",
			Help: "Total number of instances terminated after fatal liveness failure",
		},
	)

	// Probe metrics
	ProbeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_probe_failures_total",
			Help: "Total number of failed probes by workload and track",
		},
		[]string{"workload", "track"},
	)

	// Volume metrics
	PoolsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ballast_volume_pools_total",
			Help: "Total number of volume pools by phase",
		},
		[]string{"phase"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationErrors)
	prometheus.MustRegister(WorkloadsTotal)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(RolloutsTotal)
	prometheus.MustRegister(RolloutsStalled)
	prometheus.MustRegister(InstancesReplacedTotal)
	prometheus.MustRegister(ProbeFailuresTotal)
	prometheus.MustRegister(PoolsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
