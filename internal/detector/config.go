package detector

import (
	"fmt"
	"strings"
	"time"

	"github.com/skystack/sky-rca/internal/utils"
)

// Recognised detection algorithms.
const (
	AlgorithmThreshold = "threshold"
	AlgorithmZScore    = "zscore"
)

// Config holds the detection thresholds for one pass. A pass reads the config
// but never mutates it, so reconfiguration between passes needs no discipline.
type Config struct {
	// ResponseTimeThreshold is the absolute latency ceiling in milliseconds.
	ResponseTimeThreshold float64 `yaml:"responseTimeThreshold"`
	// ErrorRateThreshold is the error proportion ceiling in percent.
	ErrorRateThreshold float64 `yaml:"errorRateThreshold"`
	// ThroughputDropThreshold is the tolerated drop vs baseline in percent.
	ThroughputDropThreshold float64 `yaml:"throughputDropThreshold"`
	// DeviationBound is the z-score magnitude treated as a statistical violation.
	DeviationBound float64 `yaml:"deviationBound"`
	// TimeWindow is how much history one snapshot covers.
	TimeWindow utils.Duration `yaml:"timeWindow"`
	// Algorithms selects which detection techniques run.
	Algorithms []string `yaml:"algorithms"`
	// Workers bounds the parallel per-service fan-out.
	Workers int `yaml:"workers"`
}

// DefaultConfig mirrors the thresholds the collector side assumes.
func DefaultConfig() Config {
	return Config{
		ResponseTimeThreshold:   1000,
		ErrorRateThreshold:      5.0,
		ThroughputDropThreshold: 30.0,
		DeviationBound:          2.0,
		TimeWindow:              utils.Duration(60 * time.Minute),
		Algorithms:              []string{AlgorithmThreshold, AlgorithmZScore},
		Workers:                 4,
	}
}

// Validate rejects malformed configuration before any computation starts.
// Silently running with a wrong threshold would corrupt every downstream score.
func (c Config) Validate() error {
	if c.ResponseTimeThreshold <= 0 {
		return fmt.Errorf("responseTimeThreshold must be positive, got %v", c.ResponseTimeThreshold)
	}
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 100 {
		return fmt.Errorf("errorRateThreshold must be in (0, 100], got %v", c.ErrorRateThreshold)
	}
	if c.ThroughputDropThreshold <= 0 || c.ThroughputDropThreshold >= 100 {
		return fmt.Errorf("throughputDropThreshold must be in (0, 100), got %v", c.ThroughputDropThreshold)
	}
	if c.DeviationBound <= 0 {
		return fmt.Errorf("deviationBound must be positive, got %v", c.DeviationBound)
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("timeWindow must be positive, got %v", c.TimeWindow)
	}
	if len(c.Algorithms) == 0 {
		return fmt.Errorf("at least one detection algorithm is required")
	}
	for _, algo := range c.Algorithms {
		switch strings.ToLower(algo) {
		case AlgorithmThreshold, AlgorithmZScore:
		default:
			return fmt.Errorf("unknown detection algorithm %q", algo)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

func (c Config) hasAlgorithm(name string) bool {
	for _, algo := range c.Algorithms {
		if strings.EqualFold(algo, name) {
			return true
		}
	}
	return false
}
