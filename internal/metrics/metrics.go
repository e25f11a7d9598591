package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges for every nexus subsystem. Rejection paths in the
// sequencer count through the same vector as acceptances so that
// security-relevant refusals are always observable.

var (
	// Ingest tracker
	IngestEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "ingest",
		Name:      "events_total",
		Help:      "Total chain events ingested, by block kind",
	}, []string{"kind"})

	IngestDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "ingest",
		Name:      "duplicate_events_total",
		Help:      "Total re-delivered events ignored by block hash",
	})

	IngestStaleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "ingest",
		Name:      "stale_events_total",
		Help:      "Total events dropped at or below the hard height (settled history)",
	})

	IngestMalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "ingest",
		Name:      "malformed_events_total",
		Help:      "Total events dropped for inconsistent parent linkage",
	})

	IngestErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "ingest",
		Name:      "errors_total",
		Help:      "Total ingest failures (persistence errors)",
	})

	IngestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "ingest",
		Name:      "event_duration_seconds",
		Help:      "Event ingestion duration (DB transaction included)",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	SoftHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "ingest",
		Name:      "soft_height",
		Help:      "Latest tracked soft-finality height",
	})

	HardHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "ingest",
		Name:      "hard_height",
		Help:      "Latest tracked hard-finality height",
	})

	IngestLagBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "ingest",
		Name:      "lag_blocks",
		Help:      "Blocks between the remote tip and the tracked hard height",
	})

	// Poller
	PollTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "poller",
		Name:      "ticks_total",
		Help:      "Total poll cycles against the upstream chain",
	})

	PollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "poller",
		Name:      "errors_total",
		Help:      "Total poll cycles aborted by upstream errors",
	})

	RemoteTipHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "poller",
		Name:      "remote_tip_height",
		Help:      "Latest height reported by the upstream chain",
	})

	// Verifiable state store
	StateLeaves = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "state",
		Name:      "leaves",
		Help:      "Hard-finalized transactions in the accumulator",
	})

	StateRootRecomputationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "state",
		Name:      "root_recomputations_total",
		Help:      "Total accumulator root recomputations",
	})

	StateRootRecomputeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "state",
		Name:      "root_recompute_duration_seconds",
		Help:      "Accumulator root recomputation duration",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	ProofQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "state",
		Name:      "proof_queries_total",
		Help:      "Total inclusion proof queries, by result",
	}, []string{"result"})

	// Sequencer
	SequencerOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "sequencer",
		Name:      "outcomes_total",
		Help:      "Total validation outcomes, by kind",
	}, []string{"outcome"})

	// Safety monitor
	DriftBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "safety",
		Name:      "drift_blocks",
		Help:      "Last observed drift (remote height minus local hard height)",
	})

	SafetyModeActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "safety",
		Name:      "mode_active",
		Help:      "1 while the node is in safety mode, 0 otherwise",
	})

	SafetyTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "safety",
		Name:      "transitions_total",
		Help:      "Total safety state transitions, by direction",
	}, []string{"direction"})

	HeartbeatFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "safety",
		Name:      "heartbeat_failures_total",
		Help:      "Heartbeats where the remote height query failed (drift unknown)",
	})

	DriftSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "safety",
		Name:      "drift_samples_total",
		Help:      "Total drift samples recorded",
	})

	// Upstream chain client
	ChainRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "chain",
		Name:      "requests_total",
		Help:      "Total upstream chain API requests, by method and result",
	}, []string{"method", "result"})

	ChainRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "chain",
		Name:      "request_duration_seconds",
		Help:      "Upstream chain API request duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})

	ChainBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexus",
		Subsystem: "chain",
		Name:      "breaker_state",
		Help:      "Circuit breaker state for the upstream client (0 closed, 1 open, 2 half-open)",
	})

	// Multi-protocol gateway
	GatewayHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "gateway",
		Name:      "health_checks_total",
		Help:      "Total adapter health checks, by service and status",
	}, []string{"service", "status"})

	GatewaySimulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "gateway",
		Name:      "simulations_total",
		Help:      "Total adapter simulations, by service and result",
	}, []string{"service", "result"})

	// Alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts delivered, by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by the cooldown window",
	}, []string{"channel", "type"})

	// API server
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total API requests, by route and status code",
	}, []string{"route", "code"})

	APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "API request duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"route"})
)
