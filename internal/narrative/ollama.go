package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skystack/sky-rca/internal/models"
)

const (
	anomalySystemPrompt = "You are an expert in microservice incident analysis. " +
		"Given anomaly detection output, assess severity and urgency, point out the most " +
		"concerning services, and keep the summary short and actionable."

	rootCauseSystemPrompt = "You are an expert in microservice root-cause analysis. " +
		"Given ranked root-cause candidates with scores, confidence, and impact, explain " +
		"the most likely origin of the incident and recommend next steps."
)

// OllamaAnnotator produces prose summaries of core output via an
// OpenAI-compatible chat-completions endpoint, such as a local Ollama server.
// It reads the reports and returns text; it never feeds back into scoring.
type OllamaAnnotator struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaAnnotator constructs an annotator for the configured endpoint.
func NewOllamaAnnotator(baseURL, model, apiKey string, timeout time.Duration, logger *slog.Logger) *OllamaAnnotator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaAnnotator{
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// AnnotateAnomalies summarises a detection report.
func (a *OllamaAnnotator) AnnotateAnomalies(ctx context.Context, report models.DetectionReport) (string, error) {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode detection report: %w", err)
	}
	prompt := fmt.Sprintf("Anomaly detection result (%d anomalies across %d services):\n%s",
		report.Anomalies.Total(), report.MetricsSummary.TotalServices, payload)
	return a.complete(ctx, anomalySystemPrompt, prompt)
}

// AnnotateRootCauses summarises an analysis report.
func (a *OllamaAnnotator) AnnotateRootCauses(ctx context.Context, report models.AnalysisReport) (string, error) {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode analysis report: %w", err)
	}
	prompt := fmt.Sprintf("Root cause analysis result (%d candidates):\n%s",
		len(report.RootCauses), payload)
	return a.complete(ctx, rootCauseSystemPrompt, prompt)
}

func (a *OllamaAnnotator) complete(ctx context.Context, system, prompt string) (string, error) {
	if a.baseURL == "" {
		return "", fmt.Errorf("annotator endpoint not configured")
	}

	body, err := json.Marshal(map[string]any{
		"model": a.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": prompt},
		},
		// Low temperature keeps repeated analyses consistent.
		"temperature": 0.3,
		"max_tokens":  800,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("annotator returned %s", resp.Status)
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(response.Choices) > 0 {
		return response.Choices[0].Message.Content, nil
	}
	// Native Ollama generate responses carry the text in a flat field.
	if response.Response != "" {
		return response.Response, nil
	}
	return "", fmt.Errorf("annotator returned no content")
}
