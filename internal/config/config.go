package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skystack/sky-rca/internal/analyzer"
	"github.com/skystack/sky-rca/internal/detector"
	"github.com/skystack/sky-rca/internal/utils"
)

// Config captures everything required to run the analysis pipeline.
type Config struct {
	SkyWalking SkyWalkingConfig `yaml:"skywalking"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Detection  detector.Config  `yaml:"detection"`
	Analysis   analyzer.Config  `yaml:"analysis"`
	Output     OutputConfig     `yaml:"output"`
	Logging    LoggingConfig    `yaml:"logging"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
}

// SkyWalkingConfig configures the snapshot collector.
type SkyWalkingConfig struct {
	BaseURL string         `yaml:"baseURL"`
	Timeout utils.Duration `yaml:"timeout"`
}

// OllamaConfig configures the optional narrative annotator.
type OllamaConfig struct {
	BaseURL string         `yaml:"baseURL"`
	Model   string         `yaml:"model"`
	APIKey  string         `yaml:"apiKey"`
	Timeout utils.Duration `yaml:"timeout"`
}

// OutputConfig controls where reports land.
type OutputConfig struct {
	ResultsDir string `yaml:"resultsDir"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RuntimeConfig controls scheduling and observability of the process.
type RuntimeConfig struct {
	// Interval between runs; zero or negative means run once and exit.
	Interval utils.Duration `yaml:"interval"`
	// MetricsAddress serves Prometheus metrics in interval mode when set.
	MetricsAddress string `yaml:"metricsAddress"`
	// AINarrative toggles the narrative annotator per run.
	AINarrative bool `yaml:"aiNarrative"`
}

// Load initialises Config from a YAML file and optional environment overrides,
// then validates it. Malformed thresholds are rejected before any computation
// starts.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SKY_RCA_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configuration that would corrupt downstream scores.
func (c *Config) Validate() error {
	if err := c.Detection.Validate(); err != nil {
		return err
	}
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		SkyWalking: SkyWalkingConfig{
			BaseURL: "http://localhost:12800",
			Timeout: utils.Duration(30 * time.Second),
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434/v1/chat/completions",
			Model:   "llama3.1",
			Timeout: utils.Duration(120 * time.Second),
		},
		Detection: detector.DefaultConfig(),
		Analysis:  analyzer.DefaultConfig(),
		Output:    OutputConfig{ResultsDir: "./results"},
		Logging:   LoggingConfig{Level: "info", JSON: false},
		Runtime: RuntimeConfig{
			MetricsAddress: ":2112",
			AINarrative:    false,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SKY_RCA_SKYWALKING_URL"); v != "" {
		cfg.SkyWalking.BaseURL = v
	}
	if v := os.Getenv("SKY_RCA_SKYWALKING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SkyWalking.Timeout = utils.Duration(d)
		}
	}
	if v := os.Getenv("SKY_RCA_OLLAMA_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("SKY_RCA_OLLAMA_MODEL"); v != "" {
		cfg.Ollama.Model = v
	}
	if v := os.Getenv("SKY_RCA_OLLAMA_API_KEY"); v != "" {
		cfg.Ollama.APIKey = v
	}
	if v := os.Getenv("SKY_RCA_RESULTS_DIR"); v != "" {
		cfg.Output.ResultsDir = v
	}
	if v := os.Getenv("SKY_RCA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SKY_RCA_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SKY_RCA_METRICS_ADDRESS"); v != "" {
		cfg.Runtime.MetricsAddress = v
	}
	if v := os.Getenv("SKY_RCA_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runtime.Interval = utils.Duration(d)
		}
	}
	if v := os.Getenv("SKY_RCA_AI_NARRATIVE"); v != "" {
		cfg.Runtime.AINarrative = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SKY_RCA_RESPONSE_TIME_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.ResponseTimeThreshold = f
		}
	}
	if v := os.Getenv("SKY_RCA_ERROR_RATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.ErrorRateThreshold = f
		}
	}
	if v := os.Getenv("SKY_RCA_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.MaxDepth = n
		}
	}
}
