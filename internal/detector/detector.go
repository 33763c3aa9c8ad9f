package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skystack/sky-rca/internal/graph"
	"github.com/skystack/sky-rca/internal/models"
)

// metricClass is the threshold rule family a metric name maps onto.
type metricClass int

const (
	classGeneric metricClass = iota
	classLatency
	classErrorRate
	classSuccessRatio
	classThroughput
)

// Detector decides, per service and metric, whether the observed series is
// anomalous and assigns a priority tier. One Detector may serve many passes;
// it holds no per-pass state.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a Detector, rejecting malformed configuration up front.
func New(cfg Config, logger *slog.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, logger: logger}, nil
}

// Detect evaluates every service in the snapshot. Services are independent and
// evaluated in parallel; results are merged back in snapshot order so bucket
// contents are reproducible.
func (d *Detector) Detect(ctx context.Context, snap models.Snapshot, g *graph.Model) models.DetectionReport {
	report := models.DetectionReport{
		DetectionTimestamp: detectionTime(snap),
		MetricsSummary:     models.MetricsSummary{TotalServices: len(snap.Services)},
	}
	if len(snap.Services) == 0 {
		return report
	}

	results := make([][]models.Anomaly, len(snap.Services))
	eg, ctx := errgroup.WithContext(ctx)
	workers := d.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	eg.SetLimit(workers)

	for i, svc := range snap.Services {
		i, svc := i, svc
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = d.evaluateService(svc, g)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		d.logger.Warn("detection pass interrupted", slog.Any("error", err))
	}

	servicesHit := make(map[string]struct{})
	for _, anomalies := range results {
		for _, a := range anomalies {
			servicesHit[a.Service] = struct{}{}
			switch a.Priority {
			case models.PriorityHigh:
				report.Anomalies.High = append(report.Anomalies.High, a)
			case models.PriorityMedium:
				report.Anomalies.Medium = append(report.Anomalies.Medium, a)
			default:
				report.Anomalies.Low = append(report.Anomalies.Low, a)
			}
		}
	}
	report.MetricsSummary.ServicesWithAnomalies = len(servicesHit)
	return report
}

func (d *Detector) evaluateService(svc models.ServiceSnapshot, g *graph.Model) []models.Anomaly {
	id := svc.Service.ID
	if id == "" {
		id = svc.Service.Name
	}
	if id == "" {
		d.logger.Warn("service snapshot without identity skipped")
		return nil
	}
	if g != nil && g.NodeCount() > 0 && !g.Has(id) {
		d.logger.Warn("service missing from topology", slog.String("service", id))
	}

	anomalies := make([]models.Anomaly, 0, 4)

	names := make([]string, 0, len(svc.Metrics))
	for name := range svc.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		series := svc.Metrics[name]
		if series.Name == "" {
			series.Name = name
		}
		if a := d.evaluateSeries(id, series); a != nil {
			anomalies = append(anomalies, *a)
		}
	}

	anomalies = append(anomalies, d.evaluateTraces(id, svc.Traces)...)
	return anomalies
}

// evaluateSeries applies the configured rules to one metric series and emits at
// most one anomaly combining their strength into a priority tier.
func (d *Detector) evaluateSeries(serviceID string, series models.MetricSeries) *models.Anomaly {
	if series.Empty() {
		// Absence of data is not evidence of anomaly.
		return nil
	}
	values := series.Values()
	for _, v := range values {
		if !finite(v) {
			d.logger.Warn("malformed metric series skipped",
				slog.String("service", serviceID), slog.String("metric", series.Name))
			return nil
		}
	}

	class := classify(series.Name)
	thresholdHit, kind, observed, threshold := false, models.KindMetricDeviation, 0.0, 0.0
	if d.cfg.hasAlgorithm(AlgorithmThreshold) {
		thresholdHit, kind, observed, threshold = d.thresholdRule(class, values)
	}

	z, zComputed := 0.0, false
	if d.cfg.hasAlgorithm(AlgorithmZScore) && len(values) >= 2 {
		z = zScore(values)
		zComputed = true
	}
	zHit := zComputed && math.Abs(z) >= d.cfg.DeviationBound
	marginal := zComputed && !zHit && math.Abs(z) >= 0.8*d.cfg.DeviationBound

	a := models.Anomaly{
		Service:    serviceID,
		Metric:     series.Name,
		ObservedAt: series.Samples[len(series.Samples)-1].Timestamp,
	}

	switch {
	case thresholdHit && zHit:
		a.Priority = models.PriorityHigh
		a.Kind = kind
		a.Value = observed
		a.Threshold = threshold
		a.Deviation = math.Abs(z)
	case thresholdHit:
		a.Priority = models.PriorityMedium
		a.Kind = kind
		a.Value = observed
		a.Threshold = threshold
		a.Deviation = deviationRatio(observed, threshold)
		if zComputed {
			a.Deviation = math.Abs(z)
		}
	case zHit:
		a.Priority = models.PriorityMedium
		a.Kind = kindFor(class)
		a.Value = values[len(values)-1]
		a.Threshold = d.cfg.DeviationBound
		a.Deviation = math.Abs(z)
	case marginal:
		a.Priority = models.PriorityLow
		a.Kind = kindFor(class)
		a.Value = values[len(values)-1]
		a.Threshold = d.cfg.DeviationBound
		a.Deviation = math.Abs(z)
	default:
		return nil
	}

	if thresholdHit {
		a.Description = describe(a)
	} else {
		a.Description = describeDeviation(a)
	}
	return &a
}

// thresholdRule applies the absolute rule appropriate to the metric class and
// returns whether it fired, the anomaly kind, the observed value, and the
// threshold it was compared against.
func (d *Detector) thresholdRule(class metricClass, values []float64) (bool, models.AnomalyKind, float64, float64) {
	switch class {
	case classLatency:
		avg := mean(values)
		return avg > d.cfg.ResponseTimeThreshold, models.KindLatencySpike, avg, d.cfg.ResponseTimeThreshold
	case classErrorRate:
		avg := mean(values)
		return avg > d.cfg.ErrorRateThreshold, models.KindErrorRateSpike, avg, d.cfg.ErrorRateThreshold
	case classSuccessRatio:
		errRate := 100 - mean(values)
		return errRate > d.cfg.ErrorRateThreshold, models.KindErrorRateSpike, errRate, d.cfg.ErrorRateThreshold
	case classThroughput:
		if len(values) < 4 {
			return false, models.KindThroughputDrop, 0, 0
		}
		baseline := mean(values[:len(values)/2])
		recent := mean(values[len(values)/2:])
		floor := (1 - d.cfg.ThroughputDropThreshold/100) * baseline
		return baseline > 0 && recent < floor, models.KindThroughputDrop, recent, floor
	default:
		return false, models.KindMetricDeviation, 0, 0
	}
}

// evaluateTraces derives a latency series and an error proportion from the
// service's trace records. Malformed traces are skipped and logged, never
// aborting the pass.
func (d *Detector) evaluateTraces(serviceID string, traces []models.TraceSample) []models.Anomaly {
	if len(traces) == 0 {
		return nil
	}

	durations := models.MetricSeries{Name: "trace_duration"}
	errorCount := 0
	var lastError time.Time
	kept := 0
	for _, trace := range traces {
		if trace.Duration < 0 {
			d.logger.Warn("trace with negative duration skipped",
				slog.String("service", serviceID), slog.String("trace", trace.TraceID))
			continue
		}
		kept++
		durations.Samples = append(durations.Samples, models.MetricSample{
			Timestamp: trace.Start,
			Value:     float64(trace.Duration) / float64(time.Millisecond),
		})
		if trace.IsError {
			errorCount++
			if trace.Start.After(lastError) {
				lastError = trace.Start
			}
		}
	}
	if kept == 0 {
		return nil
	}

	var anomalies []models.Anomaly
	if a := d.evaluateSeries(serviceID, durations); a != nil {
		anomalies = append(anomalies, *a)
	}

	if d.cfg.hasAlgorithm(AlgorithmThreshold) {
		pct := float64(errorCount) / float64(kept) * 100
		if pct > d.cfg.ErrorRateThreshold {
			priority := models.PriorityMedium
			if pct >= 2*d.cfg.ErrorRateThreshold {
				priority = models.PriorityHigh
			}
			a := models.Anomaly{
				Service:    serviceID,
				Metric:     "trace_error_rate",
				Kind:       models.KindErrorRateSpike,
				Value:      pct,
				Threshold:  d.cfg.ErrorRateThreshold,
				Deviation:  deviationRatio(pct, d.cfg.ErrorRateThreshold),
				Priority:   priority,
				ObservedAt: lastError,
			}
			a.Description = describe(a)
			anomalies = append(anomalies, a)
		}
	}
	return anomalies
}

// classify maps a metric name onto its threshold rule family. Order matters:
// "error_rate" must not match the throughput "rate" suffix.
func classify(name string) metricClass {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "resp_time"), strings.Contains(lower, "latency"), strings.Contains(lower, "duration"):
		return classLatency
	case strings.Contains(lower, "error"):
		return classErrorRate
	case strings.Contains(lower, "sla"), strings.Contains(lower, "success"):
		return classSuccessRatio
	case strings.Contains(lower, "cpm"), strings.Contains(lower, "throughput"), strings.Contains(lower, "qps"), strings.Contains(lower, "rate"):
		return classThroughput
	default:
		return classGeneric
	}
}

// kindFor maps a metric class onto the anomaly kind its anomalies carry.
// The kind depends on the metric alone, not on which rule fired, so an
// anomaly keeps its identity when thresholds are reconfigured.
func kindFor(class metricClass) models.AnomalyKind {
	switch class {
	case classLatency:
		return models.KindLatencySpike
	case classErrorRate, classSuccessRatio:
		return models.KindErrorRateSpike
	case classThroughput:
		return models.KindThroughputDrop
	default:
		return models.KindMetricDeviation
	}
}

func describe(a models.Anomaly) string {
	switch a.Kind {
	case models.KindLatencySpike:
		return fmt.Sprintf("service %s latency %.2fms exceeds %.2fms", a.Service, a.Value, a.Threshold)
	case models.KindErrorRateSpike:
		return fmt.Sprintf("service %s error rate %.2f%% exceeds %.2f%%", a.Service, a.Value, a.Threshold)
	case models.KindThroughputDrop:
		return fmt.Sprintf("service %s throughput %.2f dropped below %.2f", a.Service, a.Value, a.Threshold)
	default:
		return describeDeviation(a)
	}
}

func describeDeviation(a models.Anomaly) string {
	return fmt.Sprintf("service %s metric %s deviates %.2f sigma from its window mean", a.Service, a.Metric, a.Deviation)
}

func deviationRatio(observed, threshold float64) float64 {
	if threshold == 0 {
		return 0
	}
	return math.Abs(observed / threshold)
}

func detectionTime(snap models.Snapshot) time.Time {
	if !snap.Timestamp.IsZero() {
		return snap.Timestamp
	}
	return time.Now().UTC()
}
