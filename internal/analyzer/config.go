package analyzer

import (
	"fmt"
	"time"

	"github.com/skystack/sky-rca/internal/utils"
)

// Config controls causal propagation and candidate filtering for one pass.
type Config struct {
	// MaxDepth bounds upstream and downstream graph walks in hops.
	MaxDepth int `yaml:"maxDepth"`
	// CorrelationThreshold is the fraction of the top candidate score below
	// which candidates are dropped.
	CorrelationThreshold float64 `yaml:"correlationThreshold"`
	// TimeCorrelationWindow is the maximum offset between two anomalies on
	// connected services for them to be treated as causally linkable.
	TimeCorrelationWindow utils.Duration `yaml:"timeCorrelationWindow"`
}

// DefaultConfig matches the analysis depth the collector side assumes.
func DefaultConfig() Config {
	return Config{
		MaxDepth:              3,
		CorrelationThreshold:  0.3,
		TimeCorrelationWindow: utils.Duration(5 * time.Minute),
	}
}

// Validate fails fast on out-of-range settings.
func (c Config) Validate() error {
	if c.MaxDepth < 1 {
		return fmt.Errorf("maxDepth must be at least 1, got %d", c.MaxDepth)
	}
	if c.CorrelationThreshold < 0 || c.CorrelationThreshold > 1 {
		return fmt.Errorf("correlationThreshold must be in [0, 1], got %v", c.CorrelationThreshold)
	}
	if c.TimeCorrelationWindow <= 0 {
		return fmt.Errorf("timeCorrelationWindow must be positive, got %v", c.TimeCorrelationWindow)
	}
	return nil
}
