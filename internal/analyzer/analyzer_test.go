package analyzer

import (
	"reflect"
	"testing"
	"time"

	"github.com/skystack/sky-rca/internal/graph"
	"github.com/skystack/sky-rca/internal/models"
)

var analysisBase = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	return a
}

func chainGraph(ids ...string) *graph.Model {
	topo := models.Topology{}
	for _, id := range ids {
		topo.Nodes = append(topo.Nodes, models.ServiceNode{ID: id, Name: id, IsReal: true})
	}
	for i := 0; i+1 < len(ids); i++ {
		topo.Calls = append(topo.Calls, models.CallEdge{Source: ids[i], Target: ids[i+1]})
	}
	return graph.Build(topo)
}

func anomaly(service string, priority models.Priority, at time.Time) models.Anomaly {
	return models.Anomaly{
		Service:    service,
		Metric:     "service_resp_time",
		Kind:       models.KindLatencySpike,
		Priority:   priority,
		ObservedAt: at,
	}
}

func detectionWith(anomalies ...models.Anomaly) models.DetectionReport {
	report := models.DetectionReport{DetectionTimestamp: analysisBase}
	for _, a := range anomalies {
		switch a.Priority {
		case models.PriorityHigh:
			report.Anomalies.High = append(report.Anomalies.High, a)
		case models.PriorityMedium:
			report.Anomalies.Medium = append(report.Anomalies.Medium, a)
		default:
			report.Anomalies.Low = append(report.Anomalies.Low, a)
		}
	}
	return report
}

func TestAnalyzeHealthySystem(t *testing.T) {
	a := newTestAnalyzer(t)
	g := chainGraph("frontend", "checkout")

	report := a.Analyze(g, models.DetectionReport{DetectionTimestamp: analysisBase})
	if len(report.RootCauses) != 0 {
		t.Fatalf("healthy system must yield no root causes, got %d", len(report.RootCauses))
	}
	if len(report.Diagnostics) != 0 {
		t.Fatalf("healthy system must yield no diagnostics, got %v", report.Diagnostics)
	}
	if !report.AnalysisTimestamp.Equal(analysisBase) {
		t.Fatalf("analysis timestamp must mirror detection, got %v", report.AnalysisTimestamp)
	}
}

func TestAnalyzeEmptyGraph(t *testing.T) {
	a := newTestAnalyzer(t)
	g := graph.Build(models.Topology{})

	report := a.Analyze(g, detectionWith(anomaly("checkout", models.PriorityHigh, analysisBase)))
	if len(report.RootCauses) != 0 {
		t.Fatalf("empty graph must yield no root causes, got %d", len(report.RootCauses))
	}
	if len(report.Diagnostics) == 0 {
		t.Fatal("empty graph must record a diagnostic")
	}
}

func TestAnalyzeUnknownServiceDiagnostic(t *testing.T) {
	a := newTestAnalyzer(t)
	g := chainGraph("frontend", "checkout")

	report := a.Analyze(g, detectionWith(anomaly("ghost", models.PriorityHigh, analysisBase)))
	if len(report.RootCauses) != 0 {
		t.Fatalf("unmapped service must not produce a candidate, got %+v", report.RootCauses)
	}
	if len(report.Diagnostics) == 0 {
		t.Fatal("unmapped anomalous service must record a diagnostic")
	}
}

// With a -> b -> c and only c anomalous, c is the only candidate.
func TestSymptomaticLeafRanksAlone(t *testing.T) {
	a := newTestAnalyzer(t)
	g := chainGraph("a", "b", "c")

	report := a.Analyze(g, detectionWith(anomaly("c", models.PriorityHigh, analysisBase)))
	if len(report.RootCauses) != 1 {
		t.Fatalf("expected exactly one candidate, got %d", len(report.RootCauses))
	}
	if report.RootCauses[0].RootService != "c" {
		t.Fatalf("expected c as root cause, got %s", report.RootCauses[0].RootService)
	}
}

// With a -> b -> c, a corroborated upstream b (anomalous shortly before c)
// absorbs blame for c's symptoms and outranks it.
func TestCorroboratedUpstreamOutranksDownstream(t *testing.T) {
	a := newTestAnalyzer(t)
	g := chainGraph("a", "b", "c")

	report := a.Analyze(g, detectionWith(
		anomaly("c", models.PriorityHigh, analysisBase),
		anomaly("b", models.PriorityMedium, analysisBase.Add(-time.Minute)),
	))
	if len(report.RootCauses) != 2 {
		t.Fatalf("expected both candidates to survive, got %d", len(report.RootCauses))
	}
	if report.RootCauses[0].RootService != "b" {
		t.Fatalf("corroborated upstream must rank first, got %s", report.RootCauses[0].RootService)
	}
	if report.RootCauses[0].RootCauseScore <= report.RootCauses[1].RootCauseScore {
		t.Fatalf("scores must be strictly ordered, got %+v", report.RootCauses)
	}

	// b's failure reaches the anomalous c downstream.
	impact := report.RootCauses[0].ImpactAnalysis
	if len(impact.AffectedServices) != 1 || impact.AffectedServices[0].Service != "c" {
		t.Fatalf("expected c in b's impact set, got %+v", impact.AffectedServices)
	}
	if impact.ImpactSeverity != models.ImpactHigh {
		t.Fatalf("high-priority downstream symptom must yield high impact, got %s", impact.ImpactSeverity)
	}
}

// An upstream service with no anomalies of its own never becomes a candidate,
// however suspicious its position.
func TestSilentUpstreamNeverBlamed(t *testing.T) {
	a := newTestAnalyzer(t)
	g := chainGraph("a", "b", "c")

	report := a.Analyze(g, detectionWith(anomaly("c", models.PriorityHigh, analysisBase)))
	for _, rc := range report.RootCauses {
		if rc.RootService == "a" || rc.RootService == "b" {
			t.Fatalf("silent service blamed: %+v", rc)
		}
	}
}

// Anomalies outside the correlation window contribute no propagated blame.
func TestUncorrelatedUpstreamGainsNothing(t *testing.T) {
	a := newTestAnalyzer(t)
	g := chainGraph("a", "b", "c")

	report := a.Analyze(g, detectionWith(
		anomaly("c", models.PriorityHigh, analysisBase),
		anomaly("b", models.PriorityMedium, analysisBase.Add(-time.Hour)),
	))
	var b, c *models.RootCauseCandidate
	for i := range report.RootCauses {
		switch report.RootCauses[i].RootService {
		case "b":
			b = &report.RootCauses[i]
		case "c":
			c = &report.RootCauses[i]
		}
	}
	if c == nil {
		t.Fatalf("c must remain a candidate, got %+v", report.RootCauses)
	}
	if b != nil && b.RootCauseScore >= c.RootCauseScore {
		t.Fatalf("uncorrelated upstream must not outrank the symptom: b=%f c=%f", b.RootCauseScore, c.RootCauseScore)
	}
}

// Identical low-priority symptoms: the service with the larger fan-in carries
// the higher criticality weight and ranks first.
func TestCriticalityBreaksSymmetry(t *testing.T) {
	a := newTestAnalyzer(t)

	topo := models.Topology{
		Nodes: []models.ServiceNode{
			{ID: "hub", Name: "hub", IsReal: true},
			{ID: "leaf", Name: "leaf", IsReal: true},
			{ID: "solo", Name: "solo", IsReal: true},
		},
	}
	for i := 0; i < 10; i++ {
		caller := models.ServiceNode{ID: "caller-" + string(rune('a'+i)), Name: "caller", IsReal: true}
		topo.Nodes = append(topo.Nodes, caller)
		topo.Calls = append(topo.Calls, models.CallEdge{Source: caller.ID, Target: "hub"})
	}
	topo.Calls = append(topo.Calls, models.CallEdge{Source: "solo", Target: "leaf"})
	g := graph.Build(topo)

	report := a.Analyze(g, detectionWith(
		anomaly("hub", models.PriorityLow, analysisBase),
		anomaly("leaf", models.PriorityLow, analysisBase.Add(12*time.Hour)),
	))
	if len(report.RootCauses) != 2 {
		t.Fatalf("expected both candidates, got %d", len(report.RootCauses))
	}
	if report.RootCauses[0].RootService != "hub" {
		t.Fatalf("well-connected service must rank first, got %s", report.RootCauses[0].RootService)
	}
	if report.RootCauses[0].CriticalityScore <= report.RootCauses[1].CriticalityScore {
		t.Fatalf("hub must carry higher criticality, got %+v", report.RootCauses)
	}
}

func TestScoresSortedNonIncreasing(t *testing.T) {
	a := newTestAnalyzer(t)
	g := chainGraph("a", "b", "c", "d")

	report := a.Analyze(g, detectionWith(
		anomaly("b", models.PriorityMedium, analysisBase.Add(-time.Minute)),
		anomaly("c", models.PriorityHigh, analysisBase),
		anomaly("d", models.PriorityLow, analysisBase.Add(time.Minute)),
	))
	for i := 1; i < len(report.RootCauses); i++ {
		if report.RootCauses[i].RootCauseScore > report.RootCauses[i-1].RootCauseScore {
			t.Fatalf("scores not sorted at %d: %+v", i, report.RootCauses)
		}
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := newTestAnalyzer(t)
	g := chainGraph("a", "b", "c", "d")

	detection := detectionWith(
		anomaly("b", models.PriorityMedium, analysisBase.Add(-time.Minute)),
		anomaly("c", models.PriorityHigh, analysisBase),
		anomaly("d", models.PriorityLow, analysisBase.Add(time.Minute)),
	)

	first := a.Analyze(g, detection)
	for i := 0; i < 10; i++ {
		if again := a.Analyze(g, detection); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d diverged:\nfirst=%+v\nagain=%+v", i, first, again)
		}
	}
}

func TestAnalyzeSurvivesCycles(t *testing.T) {
	a := newTestAnalyzer(t)
	topo := models.Topology{
		Nodes: []models.ServiceNode{
			{ID: "x", Name: "x", IsReal: true},
			{ID: "y", Name: "y", IsReal: true},
		},
		Calls: []models.CallEdge{
			{Source: "x", Target: "y"},
			{Source: "y", Target: "x"},
		},
	}
	g := graph.Build(topo)

	report := a.Analyze(g, detectionWith(
		anomaly("x", models.PriorityHigh, analysisBase),
		anomaly("y", models.PriorityHigh, analysisBase),
	))
	if len(report.RootCauses) != 2 {
		t.Fatalf("cyclic graph must still yield both candidates, got %d", len(report.RootCauses))
	}
}

func TestConfidenceWithinBounds(t *testing.T) {
	a := newTestAnalyzer(t)
	g := chainGraph("a", "b", "c")

	report := a.Analyze(g, detectionWith(
		anomaly("c", models.PriorityHigh, analysisBase),
		anomaly("b", models.PriorityMedium, analysisBase.Add(-time.Minute)),
	))
	for _, rc := range report.RootCauses {
		if rc.Confidence < 0 || rc.Confidence > 1 {
			t.Fatalf("confidence out of range for %s: %f", rc.RootService, rc.Confidence)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max depth", func(c *Config) { c.MaxDepth = 0 }},
		{"negative correlation threshold", func(c *Config) { c.CorrelationThreshold = -0.1 }},
		{"correlation threshold above one", func(c *Config) { c.CorrelationThreshold = 1.5 }},
		{"zero correlation window", func(c *Config) { c.TimeCorrelationWindow = 0 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if _, err := New(cfg, nil); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	if _, err := New(DefaultConfig(), nil); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
}
