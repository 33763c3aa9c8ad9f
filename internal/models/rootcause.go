package models

import "time"

// ImpactSeverity labels how badly a candidate's downstream neighbourhood is hit.
type ImpactSeverity string

const (
	ImpactLow    ImpactSeverity = "low"
	ImpactMedium ImpactSeverity = "medium"
	ImpactHigh   ImpactSeverity = "high"
)

// AffectedService describes one downstream service carrying anomalies that are
// reachable from a root-cause candidate.
type AffectedService struct {
	Service      string  `json:"service"`
	AnomalyCount int     `json:"anomaly_count"`
	AvgSeverity  float64 `json:"avg_severity"`
}

// ImpactAnalysis summarises forward blast radius for a candidate.
type ImpactAnalysis struct {
	AffectedServices []AffectedService `json:"affected_services"`
	ImpactSeverity   ImpactSeverity    `json:"impact_severity"`
}

// RootCauseCandidate is one ranked origin hypothesis.
type RootCauseCandidate struct {
	RootService        string         `json:"root_service"`
	RootCauseScore     float64        `json:"root_cause_score"`
	Confidence         float64        `json:"confidence"`
	CriticalityScore   float64        `json:"criticality_score"`
	Anomalies          []Anomaly      `json:"anomalies"`
	ImpactAnalysis     ImpactAnalysis `json:"impact_analysis"`
	UpstreamServices   []string       `json:"upstream_services"`
	DownstreamServices []string       `json:"downstream_services"`
	Recommendation     string         `json:"recommendation"`
}

// GraphStats reports the analysed graph's shape.
type GraphStats struct {
	Nodes        int `json:"nodes"`
	Edges        int `json:"edges"`
	DroppedEdges int `json:"dropped_edges,omitempty"`
}

// AnalysisReport is the analyzer output: candidates sorted descending by
// root-cause score.
type AnalysisReport struct {
	AnalysisTimestamp time.Time            `json:"analysis_timestamp"`
	ServiceGraphStats GraphStats           `json:"service_graph_stats"`
	RootCauses        []RootCauseCandidate `json:"root_causes"`
	Diagnostics       []string             `json:"diagnostics,omitempty"`
}
