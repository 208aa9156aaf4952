package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hazard"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Fire feed pipeline.
	MessagesConsumed        prometheus.Counter
	DetectionsLoaded        prometheus.Counter
	TransformErrors         prometheus.Counter
	PipelineRunning         prometheus.Gauge
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
	DuplicateDetections     prometheus.Counter

	// Region lookup for detections without a state.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge

	// Community reports.
	ReportsSubmitted *prometheus.CounterVec // labels: severity
	ReportsRejected  prometheus.Counter

	// Weather cache.
	WeatherLookups *prometheus.CounterVec // labels: outcome={cached,fresh,stale,error}

	// Risk fusion.
	OracleCalls    *prometheus.CounterVec // labels: outcome={success,error,timeout}
	OracleDuration prometheus.Histogram
	FusionCache    *prometheus.CounterVec // labels: result={hit,miss,error}
	Assessments    *prometheus.CounterVec // labels: source={oracle,heuristic}

	// Crisis controller and alerts.
	CrisisEvaluations  prometheus.Counter
	CrisisTransitions  *prometheus.CounterVec // labels: from, to
	PartitionsByLevel  *prometheus.GaugeVec   // labels: level
	AlertsOpen         prometheus.Gauge
	AlertEvents        *prometheus.CounterVec // labels: kind
	AlertPublishErrors prometheus.Counter

	// Scheduled jobs.
	JobRuns *prometheus.CounterVec // labels: job, outcome={success,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as many
// as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_messages_consumed_total",
			Help:      "Total messages read from the fire feed topic.",
		}),
		DetectionsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fire_detections_loaded_total",
			Help:      "Total fire detections stored.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_transform_errors_total",
			Help:      "Total malformed feed entries skipped.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_pipeline_running",
			Help:      "1 when the feed pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_batch_processing_duration_seconds",
			Help:      "Duration of a complete extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		DuplicateDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fire_detections_duplicate_total",
			Help:      "Redelivered fire detections ignored by ID.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Region lookups by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Region lookup cache results.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when region lookup is enabled, 0 otherwise.",
		}),
		ReportsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_submitted_total",
			Help:      "Accepted community reports by severity.",
		}, []string{"severity"}),
		ReportsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_rejected_total",
			Help:      "Community reports rejected by validation.",
		}),
		WeatherLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_lookups_total",
			Help:      "Weather lookups by outcome.",
		}, []string{"outcome"}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Scoring oracle calls by outcome.",
		}, []string{"outcome"}),
		OracleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_duration_seconds",
			Help:      "Scoring oracle latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 4, 5},
		}),
		FusionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fusion_cache_total",
			Help:      "Risk assessment cache lookups by result.",
		}, []string{"result"}),
		Assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_assessments_total",
			Help:      "Computed risk assessments by score source.",
		}, []string{"source"}),
		CrisisEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crisis_evaluations_total",
			Help:      "Partition crisis evaluations.",
		}),
		CrisisTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crisis_transitions_total",
			Help:      "Crisis state transitions.",
		}, []string{"from", "to"}),
		PartitionsByLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partitions",
			Help:      "Tracked partitions by crisis level.",
		}, []string{"level"}),
		AlertsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts_open",
			Help:      "Currently open alerts.",
		}),
		AlertEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_events_total",
			Help:      "Alert lifecycle events by kind.",
		}, []string{"kind"}),
		AlertPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_publish_errors_total",
			Help:      "Alert events that could not be published.",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by outcome.",
		}, []string{"job", "outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.DetectionsLoaded,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.DuplicateDetections,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.ReportsSubmitted,
		m.ReportsRejected,
		m.WeatherLookups,
		m.OracleCalls,
		m.OracleDuration,
		m.FusionCache,
		m.Assessments,
		m.CrisisEvaluations,
		m.CrisisTransitions,
		m.PartitionsByLevel,
		m.AlertsOpen,
		m.AlertEvents,
		m.AlertPublishErrors,
		m.JobRuns,
	}
}
