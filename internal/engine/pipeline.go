package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skystack/sky-rca/internal/analyzer"
	"github.com/skystack/sky-rca/internal/detector"
	"github.com/skystack/sky-rca/internal/graph"
	"github.com/skystack/sky-rca/internal/metrics"
	"github.com/skystack/sky-rca/internal/models"
)

// ErrNoData signals an empty snapshot: there is nothing to analyze. Callers
// decide whether that is fatal; the core treats it as a user-visible outcome.
var ErrNoData = errors.New("no data to analyze")

// SnapshotSource produces the input snapshot for one pass.
type SnapshotSource interface {
	CollectSnapshot(ctx context.Context, window time.Duration) (models.Snapshot, error)
}

// NarrativeAnnotator turns core output into prose. It only reads the reports
// and never feeds back into scoring.
type NarrativeAnnotator interface {
	AnnotateAnomalies(ctx context.Context, report models.DetectionReport) (string, error)
	AnnotateRootCauses(ctx context.Context, report models.AnalysisReport) (string, error)
}

// ResultSink persists reports verbatim. Each method returns where the report
// landed (a file path for the file sink).
type ResultSink interface {
	ExportDetection(report models.DetectionReport) (string, error)
	ExportAnalysis(report models.AnalysisReport) (string, error)
	ExportNarrative(name, text string) (string, error)
}

// Options are per-run settings. Narrative replaces the original process-wide
// AI toggle with explicit per-run configuration.
type Options struct {
	SnapshotWindow time.Duration
	Narrative      bool
}

// RunResult bundles everything one pass produced.
type RunResult struct {
	RunID         string
	Healthy       bool
	GraphWarnings []string
	Detection     models.DetectionReport
	Analysis      models.AnalysisReport
	Narratives    map[string]string
	Exported      []string
}

// Pipeline wires the core components to their external collaborators. The
// core must work correctly with the annotator and sinks absent or failing.
type Pipeline struct {
	logger    *slog.Logger
	source    SnapshotSource
	detector  *detector.Detector
	analyzer  *analyzer.Analyzer
	annotator NarrativeAnnotator
	sinks     []ResultSink
}

// NewPipeline constructs the analysis pipeline. Source, detector, and analyzer
// are required; annotator and sinks are optional collaborators.
func NewPipeline(
	logger *slog.Logger,
	source SnapshotSource,
	det *detector.Detector,
	an *analyzer.Analyzer,
	annotator NarrativeAnnotator,
	sinks ...ResultSink,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:    logger,
		source:    source,
		detector:  det,
		analyzer:  an,
		annotator: annotator,
		sinks:     sinks,
	}
}

// Run executes one full pass: collect, build graph, detect, analyze, then hand
// the results to the optional collaborators.
func (p *Pipeline) Run(ctx context.Context, opts Options) (RunResult, error) {
	result := RunResult{RunID: uuid.NewString()}
	if p.source == nil {
		return result, fmt.Errorf("snapshot source not configured")
	}
	if p.detector == nil || p.analyzer == nil {
		return result, fmt.Errorf("detector and analyzer must be configured")
	}

	start := time.Now()
	snapshot, err := p.source.CollectSnapshot(ctx, opts.SnapshotWindow)
	if err != nil {
		metrics.ObserveRun(time.Since(start), metrics.OutcomeError)
		return result, fmt.Errorf("collect snapshot: %w", err)
	}
	if len(snapshot.Services) == 0 && len(snapshot.Topology.Nodes) == 0 {
		metrics.ObserveRun(time.Since(start), metrics.OutcomeError)
		return result, ErrNoData
	}

	g := graph.Build(snapshot.Topology)
	result.GraphWarnings = g.Warnings()
	for _, warn := range result.GraphWarnings {
		p.logger.Warn("topology inconsistency", slog.String("detail", warn))
	}

	result.Detection = p.detector.Detect(ctx, snapshot, g)
	metrics.ObserveAnomalies(result.Detection.Anomalies)
	p.logger.Info("detection pass complete",
		slog.String("run_id", result.RunID),
		slog.Int("services", result.Detection.MetricsSummary.TotalServices),
		slog.Int("anomalies", result.Detection.Anomalies.Total()))

	result.Analysis = p.analyzer.Analyze(g, result.Detection)
	metrics.ObserveRootCauses(len(result.Analysis.RootCauses))
	result.Healthy = result.Detection.Anomalies.Total() == 0
	if result.Healthy {
		p.logger.Info("system healthy, zero findings", slog.String("run_id", result.RunID))
	}

	result.Narratives = p.annotate(ctx, opts, result)
	result.Exported = p.export(result)

	metrics.ObserveRun(time.Since(start), metrics.OutcomeSuccess)
	return result, nil
}

func (p *Pipeline) annotate(ctx context.Context, opts Options, result RunResult) map[string]string {
	if !opts.Narrative || p.annotator == nil {
		return nil
	}
	narratives := make(map[string]string, 2)
	if text, err := p.annotator.AnnotateAnomalies(ctx, result.Detection); err != nil {
		p.logger.Warn("anomaly narrative failed", slog.Any("error", err))
	} else if text != "" {
		narratives["anomalies"] = text
	}
	if text, err := p.annotator.AnnotateRootCauses(ctx, result.Analysis); err != nil {
		p.logger.Warn("root-cause narrative failed", slog.Any("error", err))
	} else if text != "" {
		narratives["root_causes"] = text
	}
	if len(narratives) == 0 {
		return nil
	}
	return narratives
}

func (p *Pipeline) export(result RunResult) []string {
	var exported []string
	for _, sink := range p.sinks {
		if sink == nil {
			continue
		}
		if path, err := sink.ExportDetection(result.Detection); err != nil {
			p.logger.Warn("detection export failed", slog.Any("error", err))
		} else if path != "" {
			exported = append(exported, path)
		}
		if path, err := sink.ExportAnalysis(result.Analysis); err != nil {
			p.logger.Warn("analysis export failed", slog.Any("error", err))
		} else if path != "" {
			exported = append(exported, path)
		}
		for _, name := range []string{"anomalies", "root_causes"} {
			text, ok := result.Narratives[name]
			if !ok {
				continue
			}
			if path, err := sink.ExportNarrative(name, text); err != nil {
				p.logger.Warn("narrative export failed", slog.String("name", name), slog.Any("error", err))
			} else if path != "" {
				exported = append(exported, path)
			}
		}
	}
	return exported
}
