package detector

import "math"

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)))
}

// zScore normalises the latest sample against the series' own statistics.
// Returns 0 when the series is flat (zero standard deviation).
func zScore(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	std := stdDev(values, m)
	if std == 0 {
		return 0
	}
	return (values[len(values)-1] - m) / std
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
