package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skystack/sky-rca/internal/models"
)

const (
	// OutcomeSuccess labels completed analysis runs.
	OutcomeSuccess = "success"
	// OutcomeError labels failed runs (collector or pipeline issues).
	OutcomeError = "error"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sky_rca",
			Name:      "runs_total",
			Help:      "Total number of analysis runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sky_rca",
			Name:      "run_seconds",
			Help:      "End-to-end analysis run latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sky_rca",
			Name:      "anomalies_total",
			Help:      "Detected anomalies, partitioned by priority tier.",
		},
		[]string{"priority"},
	)

	rootCausesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sky_rca",
			Name:      "root_causes_total",
			Help:      "Root-cause candidates surviving the correlation cutoff.",
		},
	)
)

// Register attaches sky-rca collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		anomaliesTotal,
		rootCausesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records one run's duration and outcome label.
func ObserveRun(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	runsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveAnomalies counts a detection pass's anomalies per priority bucket.
func ObserveAnomalies(set models.AnomalySet) {
	anomaliesTotal.WithLabelValues(string(models.PriorityHigh)).Add(float64(len(set.High)))
	anomaliesTotal.WithLabelValues(string(models.PriorityMedium)).Add(float64(len(set.Medium)))
	anomaliesTotal.WithLabelValues(string(models.PriorityLow)).Add(float64(len(set.Low)))
}

// ObserveRootCauses counts surviving candidates of one analysis pass.
func ObserveRootCauses(count int) {
	if count > 0 {
		rootCausesTotal.Add(float64(count))
	}
}
