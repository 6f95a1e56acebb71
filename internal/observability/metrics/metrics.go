package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	metricPrefix = "billing_"

	resultSuccess = "success"
	resultError   = "error"
	resultInvalid = "invalid"
	resultNoData  = "no_data"
)

var (
	registerOnce sync.Once

	reportTotal   *prometheus.CounterVec
	reportLatency *prometheus.HistogramVec

	verifyChunks *prometheus.CounterVec

	sourceFailures *prometheus.CounterVec
	flaggedColumns *prometheus.CounterVec

	shutoffExcluded prometheus.Counter
)

// Init registers engine metrics and DB-backed gauges.
func Init(db *sql.DB, logger logrus.FieldLogger) {
	registerOnce.Do(func() {
		reportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_total",
				Help: "Total report runs by report and result",
			},
			[]string{"report", "result"},
		)
		reportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_latency_seconds",
				Help:    "Report latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"report", "result"},
		)

		verifyChunks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_verify_chunks_total",
				Help: "Settlement verification chunks by result",
			},
			[]string{"result"},
		)

		sourceFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "source_failures_total",
				Help: "Source fetches that failed and were treated as empty",
			},
			[]string{"source"},
		)
		flaggedColumns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "unrecognized_columns_total",
				Help: "Unrecognized columns seen at source adapters",
			},
			[]string{"source", "column"},
		)

		shutoffExcluded = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "shutoff_excluded_total",
				Help: "Customers excluded from debt lists by shutoff reconciliation",
			},
		)

		prometheus.MustRegister(
			reportTotal,
			reportLatency,
			verifyChunks,
			sourceFailures,
			flaggedColumns,
			shutoffExcluded,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveReport records report latency and result.
func ObserveReport(report, result string, duration time.Duration) {
	if report == "" {
		report = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportTotal != nil {
		reportTotal.WithLabelValues(report, result).Inc()
	}
	if reportLatency != nil {
		reportLatency.WithLabelValues(report, result).Observe(duration.Seconds())
	}
}

// IncVerifyChunk counts a verification chunk outcome.
func IncVerifyChunk(result string) {
	if result == "" {
		result = resultSuccess
	}
	if verifyChunks != nil {
		verifyChunks.WithLabelValues(result).Inc()
	}
}

// IncSourceFailure counts a failed source fetch.
func IncSourceFailure(source string) {
	if source == "" {
		source = "unknown"
	}
	if sourceFailures != nil {
		sourceFailures.WithLabelValues(source).Inc()
	}
}

// IncFlaggedColumn counts an unrecognized column at an adapter boundary.
func IncFlaggedColumn(source, column string) {
	if source == "" {
		source = "unknown"
	}
	if flaggedColumns != nil {
		flaggedColumns.WithLabelValues(source, column).Inc()
	}
}

// AddShutoffExcluded adds shutoff exclusions.
func AddShutoffExcluded(count int) {
	if count <= 0 {
		return
	}
	if shutoffExcluded != nil {
		shutoffExcluded.Add(float64(count))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultInvalid = resultInvalid
	ResultNoData  = resultNoData
)
