package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "greenthread_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestReadings prometheus.Counter

	sensorViolations *prometheus.CounterVec

	queryTotal   *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec

	aiRequests *prometheus.CounterVec
	aiLatency  *prometheus.HistogramVec

	auditBlocks *prometheus.CounterVec

	authRequests *prometheus.CounterVec
)

// Init registers service metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhook_requests_total",
				Help: "Total webhook ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhook_errors_total",
				Help: "Total webhook ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "webhook_latency_seconds",
				Help:    "Webhook ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestReadings = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_ingested_total",
				Help: "Total sensor readings stored",
			},
		)

		sensorViolations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sensor_violations_total",
				Help: "Ingested readings outside their compliance threshold by sensor type",
			},
			[]string{"sensor"},
		)

		queryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dashboard_queries_total",
				Help: "Total dashboard queries by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dashboard_query_latency_seconds",
				Help:    "Dashboard query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)

		aiRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ai_requests_total",
				Help: "Total AI explanation requests by outcome",
			},
			[]string{"outcome"},
		)
		aiLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ai_stream_seconds",
				Help:    "AI explanation stream duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"outcome"},
		)

		auditBlocks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "audit_blocks_appended_total",
				Help: "Total audit ledger blocks appended by type",
			},
			[]string{"type"},
		)

		authRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "auth_requests_total",
				Help: "Total auth flow requests by action and result",
			},
			[]string{"action", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ingestReadings,
			sensorViolations,
			queryTotal,
			queryLatency,
			aiRequests,
			aiLatency,
			auditBlocks,
			authRequests,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records webhook duration, result and stored rows.
func ObserveIngest(result string, count int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if ingestReadings != nil && count > 0 {
		ingestReadings.Add(float64(count))
	}
}

// IncIngestError increments the webhook error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncSensorViolation counts one reading outside its threshold.
func IncSensorViolation(sensor string) {
	if sensor == "" {
		sensor = "unknown"
	}
	if sensorViolations != nil {
		sensorViolations.WithLabelValues(sensor).Inc()
	}
}

// ObserveQuery records a dashboard query.
func ObserveQuery(endpoint, result string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if queryTotal != nil {
		queryTotal.WithLabelValues(endpoint, result).Inc()
	}
	if queryLatency != nil {
		queryLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	}
}

// ObserveAIRequest records an AI explanation outcome.
func ObserveAIRequest(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if aiRequests != nil {
		aiRequests.WithLabelValues(outcome).Inc()
	}
	if aiLatency != nil {
		aiLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// IncAuditBlock counts an appended ledger block.
func IncAuditBlock(blockType string) {
	if blockType == "" {
		blockType = "unknown"
	}
	if auditBlocks != nil {
		auditBlocks.WithLabelValues(blockType).Inc()
	}
}

// IncAuthRequest counts an auth flow call.
func IncAuthRequest(action, result string) {
	if action == "" {
		action = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if authRequests != nil {
		authRequests.WithLabelValues(action, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	IngestResultUnauthorized = "unauthorized"
	IngestResultInvalid      = "invalid"
)
