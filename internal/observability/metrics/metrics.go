package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "presence_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	runsTotal    *prometheus.CounterVec
	runLatency   *prometheus.HistogramVec
	runTrigger   *prometheus.CounterVec
	bucketTotal  prometheus.Counter
	onlineTotal  prometheus.Counter
	droppedTotal prometheus.Counter

	contractViolations *prometheus.CounterVec

	preprocessRows *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers the presence metrics and, with a db, the stored-row gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		runsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total engine runs by result",
			},
			[]string{"result"},
		)
		runLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "run_latency_seconds",
				Help:    "Engine run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		runTrigger = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "run_triggers_total",
				Help: "Total run triggers by origin",
			},
			[]string{"trigger"},
		)
		bucketTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "buckets_total",
				Help: "Total bucket aggregates produced",
			},
		)
		onlineTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "online_seconds_total",
				Help: "Total online seconds computed",
			},
		)
		droppedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "dropped_events_total",
				Help: "Events outside the configured dates or hours",
			},
		)
		contractViolations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "contract_violations_total",
				Help: "Runs aborted by a contract or invariant violation, by rule",
			},
			[]string{"rule"},
		)
		preprocessRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "preprocess_rows_total",
				Help: "Raw rows seen by the preprocessor, by outcome",
			},
			[]string{"outcome"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			runsTotal,
			runLatency,
			runTrigger,
			bucketTotal,
			onlineTotal,
			droppedTotal,
			contractViolations,
			preprocessRows,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveRun records run latency and result.
func ObserveRun(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if runsTotal != nil {
		runsTotal.WithLabelValues(result).Inc()
	}
	if runLatency != nil {
		runLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncRunTrigger counts a run request by origin (cli, http, schedule, watch).
func IncRunTrigger(trigger string) {
	if trigger == "" {
		trigger = "unknown"
	}
	if runTrigger != nil {
		runTrigger.WithLabelValues(trigger).Inc()
	}
}

// AddReport adds a successful run's counters.
func AddReport(buckets int, onlineSeconds float64, dropped int) {
	if bucketTotal != nil && buckets > 0 {
		bucketTotal.Add(float64(buckets))
	}
	if onlineTotal != nil && onlineSeconds > 0 {
		onlineTotal.Add(onlineSeconds)
	}
	if droppedTotal != nil && dropped > 0 {
		droppedTotal.Add(float64(dropped))
	}
}

// IncContractViolation counts an aborted run by the failed rule.
func IncContractViolation(rule string) {
	if rule == "" {
		rule = "unknown"
	}
	if contractViolations != nil {
		contractViolations.WithLabelValues(rule).Inc()
	}
}

// AddPreprocessRows adds preprocessor row counts for an outcome
// (kept, error, late, duplicate).
func AddPreprocessRows(outcome string, count int) {
	if count <= 0 {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	if preprocessRows != nil {
		preprocessRows.WithLabelValues(outcome).Add(float64(count))
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
