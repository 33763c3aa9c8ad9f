package analyzer

import (
	"fmt"
	"strings"

	"github.com/skystack/sky-rca/internal/models"
)

// recommend generates a remediation string from the anomaly kinds a candidate
// owns and its blast radius.
func recommend(service string, anomalies []models.Anomaly, impact models.ImpactAnalysis) string {
	kinds := make(map[models.AnomalyKind]struct{}, len(anomalies))
	for _, a := range anomalies {
		kinds[a.Kind] = struct{}{}
	}

	var lines []string
	if _, ok := kinds[models.KindErrorRateSpike]; ok {
		lines = append(lines, fmt.Sprintf("Inspect error logs of %s to find what is driving the error rate up", service))
	}
	if _, ok := kinds[models.KindLatencySpike]; ok {
		lines = append(lines, fmt.Sprintf("Profile %s for performance bottlenecks; it may need code optimisation or more resources", service))
	}
	if _, ok := kinds[models.KindThroughputDrop]; ok {
		lines = append(lines, fmt.Sprintf("Check load balancing and capacity allocation for %s", service))
	}
	if _, ok := kinds[models.KindMetricDeviation]; ok {
		lines = append(lines, fmt.Sprintf("Compare recent deployments and configuration changes of %s against its metric baseline", service))
	}

	if affected := len(impact.AffectedServices); affected > 0 {
		lines = append(lines, fmt.Sprintf("Prioritise %s: it impacts %d downstream service(s)", service, affected))
	}
	if impact.ImpactSeverity == models.ImpactHigh {
		lines = append(lines, "Immediate action recommended, downstream impact severity is high")
	}

	if len(lines) == 0 {
		return fmt.Sprintf("Investigate %s further, anomaly evidence is inconclusive", service)
	}
	return strings.Join(lines, " | ")
}
