// Package metrics exposes the Prometheus instrumentation for the
// autonomic loop. All metric names are prefixed aegis_.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all registered collectors. Use Get to obtain the
// process-wide instance.
type Metrics struct {
	ItemsEmitted   *prometheus.CounterVec
	ItemsDeduped   *prometheus.CounterVec
	ItemsClaimed   *prometheus.CounterVec
	ItemsCompleted *prometheus.CounterVec
	ItemsFailed    *prometheus.CounterVec
	ItemsDeferred  *prometheus.CounterVec
	LeasesReclaimed prometheus.Counter
	QueueDepth      *prometheus.GaugeVec

	HandlerDuration *prometheus.HistogramVec
	HandlerPanics   *prometheus.CounterVec

	CollectorDuration *prometheus.HistogramVec
	CollectorFailures *prometheus.CounterVec

	IssuesDetected       *prometheus.CounterVec
	InterventionsPlanned *prometheus.CounterVec
	InterventionsSkipped *prometheus.CounterVec

	PermissionChecks *prometheus.CounterVec
	GrantCacheHits   prometheus.Counter
	GrantCacheMisses prometheus.Counter

	ConsensusVotes     *prometheus.CounterVec
	ConsensusDecisions *prometheus.CounterVec
	ConsensusLatency   prometheus.Histogram

	ActionsExecuted *prometheus.CounterVec

	FeedbackAdjustments *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics set, registering collectors on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		ItemsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_queue_items_emitted_total",
			Help: "Work items inserted into the queue",
		}, []string{"sub_loop"}),
		ItemsDeduped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_queue_items_deduped_total",
			Help: "Emit calls suppressed by dedup key within the cooldown window",
		}, []string{"sub_loop"}),
		ItemsClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_queue_items_claimed_total",
			Help: "Work items leased by workers",
		}, []string{"sub_loop"}),
		ItemsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_queue_items_completed_total",
			Help: "Work items completed successfully",
		}, []string{"sub_loop"}),
		ItemsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_queue_items_failed_total",
			Help: "Work item failures, split by whether the item will retry",
		}, []string{"sub_loop", "terminal"}),
		ItemsDeferred: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_queue_items_deferred_total",
			Help: "Items re-queued with scheduled_for pushed forward",
		}, []string{"sub_loop", "reason"}),
		LeasesReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_queue_leases_reclaimed_total",
			Help: "Expired leases returned to queued by the maintenance sweep",
		}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_queue_depth",
			Help: "Queued items ready or waiting, by sub-loop",
		}, []string{"sub_loop"}),

		HandlerDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_handler_duration_seconds",
			Help:    "Handler execution time",
			Buckets: prometheus.DefBuckets,
		}, []string{"sub_loop", "handler"}),
		HandlerPanics: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_handler_panics_total",
			Help: "Panics recovered at the dispatch boundary",
		}, []string{"sub_loop", "handler"}),

		CollectorDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_collector_duration_seconds",
			Help:    "Signal collector pull time",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"collector"}),
		CollectorFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_collector_failures_total",
			Help: "Collector pulls that returned an error",
		}, []string{"collector"}),

		IssuesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_issues_detected_total",
			Help: "Issues produced by the analyze rule battery",
		}, []string{"type", "severity"}),
		InterventionsPlanned: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_interventions_planned_total",
			Help: "Interventions emitted as proactive work items",
		}, []string{"type"}),
		InterventionsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_interventions_skipped_total",
			Help: "Interventions dropped by the per-cycle cap",
		}, []string{"reason"}),

		PermissionChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_permission_checks_total",
			Help: "Permission model decisions",
		}, []string{"decision"}),
		GrantCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_grant_cache_hits_total",
			Help: "Grant lookups served from the redis cache",
		}),
		GrantCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_grant_cache_misses_total",
			Help: "Grant lookups that fell through to the database",
		}),

		ConsensusVotes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_consensus_votes_total",
			Help: "Individual validator votes, including timeout escalations",
		}, []string{"decision"}),
		ConsensusDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_consensus_decisions_total",
			Help: "Aggregate consensus outcomes",
		}, []string{"decision"}),
		ConsensusLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_consensus_latency_seconds",
			Help:    "Aggregate gate latency (max vote latency per decision)",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),

		ActionsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_actions_executed_total",
			Help: "Effector executions by action and result",
		}, []string{"action", "result"}),

		FeedbackAdjustments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_feedback_adjustments_total",
			Help: "Behavior parameter adjustments by rule",
		}, []string{"rule"}),
	}
}
