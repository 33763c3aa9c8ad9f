package analyzer

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/skystack/sky-rca/internal/graph"
	"github.com/skystack/sky-rca/internal/models"
)

// upstream contributions decay by half per hop, so a direct caller weighs
// twice a caller two hops away.
const hopDecay = 0.5

// Analyzer turns a flat anomaly set into a ranked list of likely originating
// services by propagating causal likelihood through the call graph.
type Analyzer struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs an Analyzer, rejecting malformed configuration up front.
func New(cfg Config, logger *slog.Logger) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("analyzer config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, logger: logger}, nil
}

// corroboration tracks correlated-signal strength backing a candidate.
type corroboration struct {
	strong int
	weak   int
}

// Analyze ranks root-cause candidates for one detection pass. It only reads
// the graph and the anomaly set; identical inputs yield identical output.
func (a *Analyzer) Analyze(g *graph.Model, detection models.DetectionReport) models.AnalysisReport {
	report := models.AnalysisReport{
		AnalysisTimestamp: detection.DetectionTimestamp,
		ServiceGraphStats: g.Stats(),
	}

	grouped := detection.Anomalies.ByService()
	if len(grouped) == 0 {
		// System healthy: zero findings is a valid outcome, not an error.
		return report
	}

	if g.NodeCount() == 0 {
		report.Diagnostics = append(report.Diagnostics, "service graph is empty, no topology to analyze")
		return report
	}

	candidates := make([]string, 0, len(grouped))
	for service := range grouped {
		if !g.Has(service) {
			report.Diagnostics = append(report.Diagnostics,
				fmt.Sprintf("anomalous service %s not present in topology", service))
			continue
		}
		candidates = append(candidates, service)
	}
	sort.Strings(report.Diagnostics)
	sort.Strings(candidates)
	if len(candidates) == 0 {
		report.Diagnostics = append(report.Diagnostics, "no anomalous service maps onto a known node")
		return report
	}

	density := make(map[string]float64, len(candidates))
	for _, s := range candidates {
		for _, anomaly := range grouped[s] {
			density[s] += anomaly.Priority.Weight()
		}
	}

	criticality := a.criticalityScores(g)
	propagated, support := a.propagate(g, candidates, grouped, density)

	scores := make(map[string]float64, len(candidates))
	top := 0.0
	for _, s := range candidates {
		scores[s] = density[s]*(1+criticality[s]) + propagated[s]
		if scores[s] > top {
			top = scores[s]
		}
	}
	cutoff := a.cfg.CorrelationThreshold * top

	results := make([]models.RootCauseCandidate, 0, len(candidates))
	for _, s := range candidates {
		if scores[s] < cutoff {
			a.logger.Debug("candidate below correlation cutoff",
				slog.String("service", s), slog.Float64("score", scores[s]))
			continue
		}
		anomalies := grouped[s]
		impact := a.analyzeImpact(g, s, grouped)
		results = append(results, models.RootCauseCandidate{
			RootService:        s,
			RootCauseScore:     scores[s],
			Confidence:         a.confidence(scores[s], len(anomalies), support[s]),
			CriticalityScore:   criticality[s],
			Anomalies:          anomalies,
			ImpactAnalysis:     impact,
			UpstreamServices:   g.Upstream(s),
			DownstreamServices: g.Downstream(s),
			Recommendation:     recommend(s, anomalies, impact),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RootCauseScore != results[j].RootCauseScore {
			return results[i].RootCauseScore > results[j].RootCauseScore
		}
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		if results[i].CriticalityScore != results[j].CriticalityScore {
			return results[i].CriticalityScore > results[j].CriticalityScore
		}
		return results[i].RootService < results[j].RootService
	})

	report.RootCauses = results
	return report
}

// criticalityScores derives a graph-position weight in [0,1] per node from
// fan-in and fan-out normalized against the graph maximum. A service with many
// callers is structurally more impactful if it fails.
func (a *Analyzer) criticalityScores(g *graph.Model) map[string]float64 {
	maxIn, maxOut := 0, 0
	for _, id := range g.Services() {
		if fi := g.FanIn(id); fi > maxIn {
			maxIn = fi
		}
		if fo := g.FanOut(id); fo > maxOut {
			maxOut = fo
		}
	}
	scores := make(map[string]float64, g.NodeCount())
	for _, id := range g.Services() {
		score := 0.0
		if maxIn > 0 {
			score += 0.6 * float64(g.FanIn(id)) / float64(maxIn)
		}
		if maxOut > 0 {
			score += 0.4 * float64(g.FanOut(id)) / float64(maxOut)
		}
		scores[id] = score
	}
	return scores
}

// propagate attributes blame upstream: for each anomalous service s, every
// anomalous upstream service u within MaxDepth whose anomalies fall inside the
// correlation window of s's anomalies gains a hop-decayed share of s's local
// density. Blame flows toward upstream callers only when corroborated by their
// own symptoms.
func (a *Analyzer) propagate(g *graph.Model, candidates []string, grouped map[string][]models.Anomaly, density map[string]float64) (map[string]float64, map[string]corroboration) {
	propagated := make(map[string]float64, len(candidates))
	support := make(map[string]corroboration, len(candidates))
	window := a.cfg.TimeCorrelationWindow.Std()

	for _, s := range candidates {
		hops := g.ReachableUpstream(s, a.cfg.MaxDepth)
		upstream := make([]string, 0, len(hops))
		for u := range hops {
			upstream = append(upstream, u)
		}
		sort.Strings(upstream)

		for _, u := range upstream {
			if _, anomalous := grouped[u]; !anomalous {
				continue
			}
			gap, ok := closestGap(grouped[u], grouped[s])
			if !ok || gap > window {
				continue
			}
			closeness := 1 - float64(gap)/float64(window)
			propagated[u] += math.Pow(hopDecay, float64(hops[u])) * density[s] * closeness

			su, ss := support[u], support[s]
			if gap <= window/2 {
				su.strong++
				ss.strong++
			} else {
				su.weak++
				ss.weak++
			}
			support[u], support[s] = su, ss
		}
	}
	return propagated, support
}

// closestGap returns the smallest time offset between any two anomalies of the
// two sets. Anomalies without an observation time cannot be correlated.
func closestGap(left, right []models.Anomaly) (time.Duration, bool) {
	best, found := time.Duration(0), false
	for _, l := range left {
		if l.ObservedAt.IsZero() {
			continue
		}
		for _, r := range right {
			if r.ObservedAt.IsZero() {
				continue
			}
			gap := l.ObservedAt.Sub(r.ObservedAt)
			if gap < 0 {
				gap = -gap
			}
			if !found || gap < best {
				best, found = gap, true
			}
		}
	}
	return best, found
}

// confidence estimates how well-corroborated a score is. Isolated
// single-anomaly candidates with no correlated signals land low.
func (a *Analyzer) confidence(score float64, anomalyCount int, sup corroboration) float64 {
	strongShare := 0.0
	if total := sup.strong + sup.weak; total > 0 {
		strongShare = float64(sup.strong) / float64(total)
	}
	c := 0.4*math.Min(score/10, 1) +
		0.35*strongShare +
		0.25*math.Min(float64(anomalyCount)/4, 1)
	return clamp01(c)
}

// analyzeImpact reports which transitively reachable downstream services carry
// anomalies themselves and how severe the worst of them is.
func (a *Analyzer) analyzeImpact(g *graph.Model, s string, grouped map[string][]models.Anomaly) models.ImpactAnalysis {
	impact := models.ImpactAnalysis{
		AffectedServices: []models.AffectedService{},
		ImpactSeverity:   models.ImpactLow,
	}

	reached := g.ReachableDownstream(s, a.cfg.MaxDepth)
	downstream := make([]string, 0, len(reached))
	for d := range reached {
		downstream = append(downstream, d)
	}
	sort.Strings(downstream)

	worst := 0.0
	for _, d := range downstream {
		anomalies, ok := grouped[d]
		if !ok {
			continue
		}
		total := 0.0
		for _, anomaly := range anomalies {
			total += anomaly.Priority.Weight()
		}
		avg := total / float64(len(anomalies))
		if avg > worst {
			worst = avg
		}
		impact.AffectedServices = append(impact.AffectedServices, models.AffectedService{
			Service:      d,
			AnomalyCount: len(anomalies),
			AvgSeverity:  avg,
		})
	}

	switch {
	case worst >= 2.5:
		impact.ImpactSeverity = models.ImpactHigh
	case worst >= 1.5:
		impact.ImpactSeverity = models.ImpactMedium
	}
	return impact
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
