package models

import "time"

// AnomalyKind is the closed set of anomaly classifications. Scoring logic
// switches on these values, so free-form strings are deliberately not allowed.
type AnomalyKind string

const (
	KindLatencySpike    AnomalyKind = "latency_spike"
	KindErrorRateSpike  AnomalyKind = "error_rate_spike"
	KindThroughputDrop  AnomalyKind = "throughput_drop"
	KindMetricDeviation AnomalyKind = "metric_deviation"
)

// Priority is the coarse severity tier assigned to a detected anomaly.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight returns the scoring weight for a priority tier.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// Anomaly is one detected abnormal behaviour of a (service, metric) pair.
// Immutable once emitted by the detector.
type Anomaly struct {
	Service     string      `json:"service"`
	Metric      string      `json:"metric"`
	Kind        AnomalyKind `json:"kind"`
	Value       float64     `json:"value"`
	Deviation   float64     `json:"deviation"`
	Threshold   float64     `json:"threshold"`
	Priority    Priority    `json:"priority"`
	Description string      `json:"description"`
	ObservedAt  time.Time   `json:"observed_at"`
}

// AnomalySet groups anomalies by priority, preserving detection order within
// each bucket. Top-N previews rely on that ordering staying stable.
type AnomalySet struct {
	High   []Anomaly `json:"high_priority"`
	Medium []Anomaly `json:"medium_priority"`
	Low    []Anomaly `json:"low_priority"`
}

// Total counts anomalies across all buckets.
func (s AnomalySet) Total() int {
	return len(s.High) + len(s.Medium) + len(s.Low)
}

// All flattens the set in priority order (high, medium, low), keeping the
// per-bucket detection order.
func (s AnomalySet) All() []Anomaly {
	out := make([]Anomaly, 0, s.Total())
	out = append(out, s.High...)
	out = append(out, s.Medium...)
	out = append(out, s.Low...)
	return out
}

// ByService groups the flattened set by owning service id.
func (s AnomalySet) ByService() map[string][]Anomaly {
	grouped := make(map[string][]Anomaly)
	for _, a := range s.All() {
		grouped[a.Service] = append(grouped[a.Service], a)
	}
	return grouped
}

// MetricsSummary summarises detection coverage.
type MetricsSummary struct {
	TotalServices         int `json:"total_services"`
	ServicesWithAnomalies int `json:"services_with_anomalies"`
}

// DetectionReport is the full detector output for one snapshot.
type DetectionReport struct {
	DetectionTimestamp time.Time      `json:"detection_timestamp"`
	MetricsSummary     MetricsSummary `json:"metrics_summary"`
	Anomalies          AnomalySet     `json:"anomalies"`
}
