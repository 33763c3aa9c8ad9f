package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skystack/sky-rca/internal/models"
)

// FileExporter persists reports as timestamped files under a results directory.
type FileExporter struct {
	resultsDir string
	logger     *slog.Logger
	// now is swappable so tests get stable filenames.
	now func() time.Time
}

// NewFileExporter constructs an exporter, creating the results directory if needed.
func NewFileExporter(resultsDir string, logger *slog.Logger) (*FileExporter, error) {
	if resultsDir == "" {
		resultsDir = "./results"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &FileExporter{resultsDir: resultsDir, logger: logger, now: time.Now}, nil
}

// ExportDetection writes the detection report as indented JSON.
func (e *FileExporter) ExportDetection(report models.DetectionReport) (string, error) {
	return e.writeJSON("anomalies", report)
}

// ExportAnalysis writes the analysis report as indented JSON.
func (e *FileExporter) ExportAnalysis(report models.AnalysisReport) (string, error) {
	return e.writeJSON("root_causes", report)
}

// ExportNarrative writes annotator prose as a markdown file.
func (e *FileExporter) ExportNarrative(name, text string) (string, error) {
	if text == "" {
		return "", nil
	}
	now := e.now()
	path := filepath.Join(e.resultsDir, filename("narrative_"+name, "md", now))
	content := fmt.Sprintf("# %s\n\nGenerated at %s\n\n%s\n",
		name, now.UTC().Format(time.RFC3339), text)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write narrative: %w", err)
	}
	e.logger.Info("narrative exported", slog.String("path", path))
	return path, nil
}

func (e *FileExporter) writeJSON(prefix string, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s report: %w", prefix, err)
	}
	path := filepath.Join(e.resultsDir, filename(prefix, "json", e.now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s report: %w", prefix, err)
	}
	e.logger.Info("report exported", slog.String("path", path))
	return path, nil
}

func filename(prefix, extension string, t time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, t.Format("20060102_150405"), extension)
}
