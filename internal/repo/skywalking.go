package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/skystack/sky-rca/internal/models"
	"github.com/skystack/sky-rca/internal/utils"
)

// Metric names collected per service each cycle.
var collectedMetrics = []string{"service_cpm", "service_sla", "service_resp_time"}

const graphqlTimeLayout = "2006-01-02 1504"

// SkyWalkingClient collects one snapshot of topology, metrics, and traces from
// a SkyWalking OAP server over its GraphQL endpoint.
type SkyWalkingClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSkyWalkingClient constructs a client targeting the configured OAP instance.
func NewSkyWalkingClient(baseURL string, timeout time.Duration, logger *slog.Logger) *SkyWalkingClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SkyWalkingClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// HealthCheck verifies the OAP endpoint answers a trivial query.
func (c *SkyWalkingClient) HealthCheck(ctx context.Context) error {
	_, err := c.fetchServices(ctx, time.Now().Add(-time.Hour), time.Now())
	return err
}

// CollectSnapshot gathers the full input for one analysis pass. Per-service
// fetch failures are logged and leave that service's signals empty; only a
// failure to enumerate services aborts collection.
func (c *SkyWalkingClient) CollectSnapshot(ctx context.Context, window time.Duration) (models.Snapshot, error) {
	if c.baseURL == "" {
		return models.Snapshot{}, fmt.Errorf("skywalking base URL not configured")
	}
	if window <= 0 {
		window = time.Hour
	}
	end := time.Now()
	start := end.Add(-window)

	snapshot := models.Snapshot{Timestamp: end.UTC()}

	services, err := c.fetchServices(ctx, start, end)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("fetch services: %w", err)
	}

	topology, err := c.fetchTopology(ctx, start, end)
	if err != nil {
		c.logger.Warn("topology fetch failed", slog.Any("error", err))
	} else {
		snapshot.Topology = topology
	}

	for _, svc := range services {
		entry := models.ServiceSnapshot{
			Service: svc,
			Metrics: make(map[string]models.MetricSeries, len(collectedMetrics)),
		}
		for _, metric := range collectedMetrics {
			series, err := c.fetchMetricSeries(ctx, svc.Name, metric, start, end)
			if err != nil {
				c.logger.Warn("metric fetch failed",
					slog.String("service", svc.Name), slog.String("metric", metric), slog.Any("error", err))
				continue
			}
			entry.Metrics[metric] = series
		}
		traces, err := c.fetchTraces(ctx, svc.Name, start, end)
		if err != nil {
			c.logger.Warn("trace fetch failed", slog.String("service", svc.Name), slog.Any("error", err))
		} else {
			entry.Traces = traces
		}
		snapshot.Services = append(snapshot.Services, entry)
	}

	return snapshot, nil
}

func (c *SkyWalkingClient) fetchServices(ctx context.Context, start, end time.Time) ([]models.ServiceRef, error) {
	const query = `query queryServices($duration: Duration!) {
		services: getAllServices(duration: $duration) { key: id label: name }
	}`

	var response struct {
		Services []struct {
			Key   string `json:"key"`
			Label string `json:"label"`
		} `json:"services"`
	}
	if err := c.postGraphQL(ctx, query, map[string]any{"duration": duration(start, end)}, &response); err != nil {
		return nil, err
	}

	refs := make([]models.ServiceRef, 0, len(response.Services))
	for _, svc := range response.Services {
		if svc.Label == "" {
			continue
		}
		refs = append(refs, models.ServiceRef{ID: svc.Key, Name: svc.Label})
	}
	return refs, nil
}

func (c *SkyWalkingClient) fetchTopology(ctx context.Context, start, end time.Time) (models.Topology, error) {
	const query = `query queryTopology($duration: Duration!) {
		topology: getGlobalTopology(duration: $duration) {
			nodes { id name isReal }
			calls { source target }
		}
	}`

	var response struct {
		Topology struct {
			Nodes []struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				IsReal bool   `json:"isReal"`
			} `json:"nodes"`
			Calls []struct {
				Source string `json:"source"`
				Target string `json:"target"`
			} `json:"calls"`
		} `json:"topology"`
	}
	if err := c.postGraphQL(ctx, query, map[string]any{"duration": duration(start, end)}, &response); err != nil {
		return models.Topology{}, err
	}

	topo := models.Topology{}
	for _, node := range response.Topology.Nodes {
		name := node.Name
		if name == "" {
			name = node.ID
		}
		topo.Nodes = append(topo.Nodes, models.ServiceNode{ID: name, Name: name, IsReal: node.IsReal})
	}
	// Calls reference node ids; map them back onto names so graph ids line up
	// with the per-service snapshot identities.
	id2name := make(map[string]string, len(response.Topology.Nodes))
	for _, node := range response.Topology.Nodes {
		if node.Name != "" {
			id2name[node.ID] = node.Name
		}
	}
	for _, call := range response.Topology.Calls {
		source, target := call.Source, call.Target
		if name, ok := id2name[source]; ok {
			source = name
		}
		if name, ok := id2name[target]; ok {
			target = name
		}
		topo.Calls = append(topo.Calls, models.CallEdge{Source: source, Target: target})
	}
	return topo, nil
}

func (c *SkyWalkingClient) fetchMetricSeries(ctx context.Context, service, metric string, start, end time.Time) (models.MetricSeries, error) {
	const query = `query queryMetrics($metric: MetricsCondition!, $duration: Duration!) {
		readMetricsValues(condition: $metric, duration: $duration) {
			values { values { value } }
		}
	}`

	variables := map[string]any{
		"metric": map[string]any{
			"name":   metric,
			"entity": map[string]any{"scope": "Service", "serviceName": service, "normal": true},
		},
		"duration": duration(start, end),
	}

	var response struct {
		ReadMetricsValues struct {
			Values struct {
				Values []struct {
					Value *float64 `json:"value"`
				} `json:"values"`
			} `json:"values"`
		} `json:"readMetricsValues"`
	}
	if err := c.postGraphQL(ctx, query, variables, &response); err != nil {
		return models.MetricSeries{}, err
	}

	series := models.MetricSeries{Name: metric}
	raw := response.ReadMetricsValues.Values.Values
	step := time.Minute
	for i, v := range raw {
		if v.Value == nil {
			continue
		}
		series.Samples = append(series.Samples, models.MetricSample{
			Timestamp: start.Add(time.Duration(i) * step),
			Value:     *v.Value,
		})
	}
	return series, nil
}

func (c *SkyWalkingClient) fetchTraces(ctx context.Context, service string, start, end time.Time) ([]models.TraceSample, error) {
	const query = `query queryTraces($condition: TraceQueryCondition!) {
		traces: queryBasicTraces(condition: $condition) {
			traces { key: segmentId duration start isError }
		}
	}`

	variables := map[string]any{
		"condition": map[string]any{
			"serviceName":   service,
			"queryDuration": duration(start, end),
			"traceState":    "ALL",
			"queryOrder":    "BY_START_TIME",
			"paging":        map[string]any{"pageNum": 1, "pageSize": 100},
		},
	}

	var response struct {
		Traces struct {
			Traces []struct {
				Key      string `json:"key"`
				Duration int64  `json:"duration"`
				Start    string `json:"start"`
				IsError  bool   `json:"isError"`
			} `json:"traces"`
		} `json:"traces"`
	}
	if err := c.postGraphQL(ctx, query, variables, &response); err != nil {
		return nil, err
	}

	samples := make([]models.TraceSample, 0, len(response.Traces.Traces))
	for _, trace := range response.Traces.Traces {
		sample := models.TraceSample{
			TraceID:  trace.Key,
			Duration: time.Duration(trace.Duration) * time.Millisecond,
			IsError:  trace.IsError,
		}
		if ms, err := strconv.ParseInt(trace.Start, 10, 64); err == nil {
			sample.Start = time.UnixMilli(ms).UTC()
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (c *SkyWalkingClient) postGraphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("skywalking base URL not configured")
	}
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return utils.NewAppError("skywalking.query", "unexpected status "+resp.Status, nil)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return utils.NewAppError("skywalking.query", envelope.Errors[0].Message, nil)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func duration(start, end time.Time) map[string]string {
	return map[string]string{
		"start": start.Format(graphqlTimeLayout),
		"end":   end.Format(graphqlTimeLayout),
		"step":  "MINUTE",
	}
}
