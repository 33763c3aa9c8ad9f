package models

import "time"

// Snapshot is one consistent point-in-time capture of topology plus per-service
// signals, produced by a SnapshotSource and consumed by a single analysis pass.
type Snapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Topology  Topology          `json:"topology"`
	Services  []ServiceSnapshot `json:"services"`
}

// Topology describes the observed call graph.
type Topology struct {
	Nodes []ServiceNode `json:"nodes"`
	Calls []CallEdge    `json:"calls"`
}

// ServiceNode identifies one service in the topology. IsReal distinguishes
// instrumented services from synthetic placeholders such as USER nodes.
type ServiceNode struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsReal bool   `json:"isReal"`
}

// CallEdge is a directed caller→callee relationship.
type CallEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// ServiceSnapshot bundles the signals collected for one service.
type ServiceSnapshot struct {
	Service   ServiceRef              `json:"service"`
	Metrics   map[string]MetricSeries `json:"metrics"`
	Traces    []TraceSample           `json:"traces"`
	Instances []string                `json:"instances,omitempty"`
}

// ServiceRef names a service inside a snapshot.
type ServiceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MetricSeries is a time-ordered sequence of samples for one named metric.
// A series may be empty: the service exists but produced no samples this
// window, which is not the same as a series of zeros.
type MetricSeries struct {
	Name    string         `json:"name"`
	Samples []MetricSample `json:"samples"`
}

// MetricSample is one numeric observation.
type MetricSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TraceSample is a condensed trace record used for latency and error checks.
type TraceSample struct {
	TraceID  string        `json:"trace_id,omitempty"`
	Duration time.Duration `json:"duration"`
	Start    time.Time     `json:"start"`
	IsError  bool          `json:"isError"`
}

// Empty reports whether the series carries no samples.
func (s MetricSeries) Empty() bool { return len(s.Samples) == 0 }

// Values returns the raw sample values in order.
func (s MetricSeries) Values() []float64 {
	out := make([]float64, len(s.Samples))
	for i, sample := range s.Samples {
		out[i] = sample.Value
	}
	return out
}
