package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Analysis pipeline metrics
	analysisRunsTotal         *prometheus.CounterVec
	analysisStageDuration     *prometheus.HistogramVec
	snapshotsProcessedTotal   prometheus.Counter
	observationsTotal         prometheus.Counter
	addressesCurrent          *prometheus.GaugeVec
	clustersCurrent           prometheus.Gauge
	clusteredStakeSOL         prometheus.Gauge
	clusterAddressesHistogram prometheus.Histogram

	// Solana RPC metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Workflow metrics
	workflowDuration        *prometheus.HistogramVec
	workflowExecutionsTotal *prometheus.CounterVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used. Pass a
// *prometheus.Registry to be able to write the collectors to a textfile.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if g, ok := registry.(prometheus.Gatherer); ok {
		gatherer = g
	}

	factory := promauto.With(registry)

	return &Metrics{
		gatherer: gatherer,

		analysisRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sybil_analysis_runs_total",
				Help: "Total number of analysis runs by status",
			},
			[]string{"status"},
		),
		analysisStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sybil_analysis_stage_duration_seconds",
				Help:    "Duration of each analysis pipeline stage in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		snapshotsProcessedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sybil_snapshots_processed_total",
				Help: "Total number of gossip snapshots folded into address histories",
			},
		),
		observationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sybil_observations_total",
				Help: "Total number of (identity, address) observations processed",
			},
		),
		addressesCurrent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sybil_addresses",
				Help: "Number of addresses in the last analysis by kind (observed, flagged, candidate)",
			},
			[]string{"kind"},
		),
		clustersCurrent: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sybil_clusters",
				Help: "Number of suspected operator clusters in the last analysis",
			},
		),
		clusteredStakeSOL: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sybil_clustered_stake_sol",
				Help: "Total activated stake (SOL) held by clustered identities in the last analysis",
			},
		),
		clusterAddressesHistogram: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sybil_cluster_addresses",
				Help:    "Number of addresses per cluster",
				Buckets: []float64{1, 2, 3, 5, 10, 25, 50},
			},
		),

		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_activity_duration_seconds",
				Help:    "Duration of workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"activity", "status"},
		),
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_activity_executions_total",
				Help: "Total number of workflow activity executions",
			},
			[]string{"activity", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Analysis pipeline metric helpers

// RecordAnalysisRun records the outcome of one analysis run.
func (m *Metrics) RecordAnalysisRun(status string) {
	m.analysisRunsTotal.WithLabelValues(status).Inc()
}

// RecordStageDuration records the duration of one pipeline stage.
func (m *Metrics) RecordStageDuration(stage string, duration float64) {
	m.analysisStageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordSnapshotsProcessed records snapshots and observations folded into histories.
func (m *Metrics) RecordSnapshotsProcessed(snapshots, observations int) {
	m.snapshotsProcessedTotal.Add(float64(snapshots))
	m.observationsTotal.Add(float64(observations))
}

// SetAddressCounts records the address funnel of the last analysis.
func (m *Metrics) SetAddressCounts(observed, flagged, candidates int) {
	m.addressesCurrent.WithLabelValues("observed").Set(float64(observed))
	m.addressesCurrent.WithLabelValues("flagged").Set(float64(flagged))
	m.addressesCurrent.WithLabelValues("candidate").Set(float64(candidates))
}

// SetClusters records the cluster count and the stake they hold.
func (m *Metrics) SetClusters(count int, stakeSOL float64) {
	m.clustersCurrent.Set(float64(count))
	m.clusteredStakeSOL.Set(stakeSOL)
}

// ObserveClusterAddresses records the size of one cluster.
func (m *Metrics) ObserveClusterAddresses(addresses int) {
	m.clusterAddressesHistogram.Observe(float64(addresses))
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Workflow metric helpers

// RecordActivity records an activity execution with duration.
func (m *Metrics) RecordActivity(activity, status string, duration float64) {
	m.workflowDuration.WithLabelValues(activity, status).Observe(duration)
	m.workflowExecutionsTotal.WithLabelValues(activity, status).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// WriteTextfile writes every collector of the backing registry to path in the
// Prometheus text format, for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.gatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
