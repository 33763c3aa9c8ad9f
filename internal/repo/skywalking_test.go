package repo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeOAP answers the GraphQL queries the client issues, keyed on the
// operation name embedded in the query text.
func fakeOAP(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graphql" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("malformed request body: %v", err)
		}

		switch {
		case strings.Contains(payload.Query, "getAllServices"):
			io.WriteString(w, `{"data":{"services":[
				{"key":"c3ZjMQ==","label":"frontend"},
				{"key":"c3ZjMg==","label":"checkout"}
			]}}`)
		case strings.Contains(payload.Query, "getGlobalTopology"):
			io.WriteString(w, `{"data":{"topology":{
				"nodes":[
					{"id":"c3ZjMQ==","name":"frontend","isReal":true},
					{"id":"c3ZjMg==","name":"checkout","isReal":true}
				],
				"calls":[{"source":"c3ZjMQ==","target":"c3ZjMg=="}]
			}}}`)
		case strings.Contains(payload.Query, "readMetricsValues"):
			io.WriteString(w, `{"data":{"readMetricsValues":{"values":{"values":[
				{"value":120},{"value":null},{"value":140}
			]}}}}`)
		case strings.Contains(payload.Query, "queryBasicTraces"):
			io.WriteString(w, `{"data":{"traces":{"traces":[
				{"key":"seg-1","duration":250,"start":"1714564800000","isError":true}
			]}}}`)
		default:
			t.Errorf("unexpected query: %s", payload.Query)
			io.WriteString(w, `{"data":{}}`)
		}
	}))
}

func TestCollectSnapshot(t *testing.T) {
	server := fakeOAP(t)
	defer server.Close()

	client := NewSkyWalkingClient(server.URL, 5*time.Second, nil)
	snapshot, err := client.CollectSnapshot(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if len(snapshot.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(snapshot.Services))
	}
	if snapshot.Services[0].Service.Name != "frontend" || snapshot.Services[1].Service.Name != "checkout" {
		t.Fatalf("unexpected service order: %+v", snapshot.Services)
	}

	// Topology edges must be expressed in service names, not raw node ids.
	if len(snapshot.Topology.Calls) != 1 {
		t.Fatalf("expected 1 call edge, got %+v", snapshot.Topology.Calls)
	}
	edge := snapshot.Topology.Calls[0]
	if edge.Source != "frontend" || edge.Target != "checkout" {
		t.Fatalf("edge not mapped to names: %+v", edge)
	}

	svc := snapshot.Services[0]
	series, ok := svc.Metrics["service_resp_time"]
	if !ok {
		t.Fatalf("expected resp_time series, got %v", svc.Metrics)
	}
	// Null values are dropped, not zero-filled.
	if got := series.Values(); len(got) != 2 || got[0] != 120 || got[1] != 140 {
		t.Fatalf("unexpected sample values: %v", got)
	}

	if len(svc.Traces) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(svc.Traces))
	}
	trace := svc.Traces[0]
	if trace.TraceID != "seg-1" || !trace.IsError {
		t.Fatalf("unexpected trace: %+v", trace)
	}
	if trace.Duration != 250*time.Millisecond {
		t.Fatalf("duration not converted from milliseconds: %v", trace.Duration)
	}
	if trace.Start.IsZero() {
		t.Fatal("epoch-millisecond start not parsed")
	}
}

func TestCollectSnapshotServicesFailureAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oap down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewSkyWalkingClient(server.URL, 5*time.Second, nil)
	if _, err := client.CollectSnapshot(context.Background(), time.Hour); err == nil {
		t.Fatal("service enumeration failure must abort collection")
	}
}

func TestCollectSnapshotToleratesMetricFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		query := string(body)
		switch {
		case strings.Contains(query, "getAllServices"):
			io.WriteString(w, `{"data":{"services":[{"key":"a","label":"frontend"}]}}`)
		case strings.Contains(query, "getGlobalTopology"):
			io.WriteString(w, `{"data":{"topology":{"nodes":[],"calls":[]}}}`)
		default:
			io.WriteString(w, `{"errors":[{"message":"metric backend unavailable"}]}`)
		}
	}))
	defer server.Close()

	client := NewSkyWalkingClient(server.URL, 5*time.Second, nil)
	snapshot, err := client.CollectSnapshot(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("per-service failures must not abort: %v", err)
	}
	if len(snapshot.Services) != 1 {
		t.Fatalf("expected the service to survive with empty signals, got %+v", snapshot.Services)
	}
	if len(snapshot.Services[0].Metrics) != 0 || len(snapshot.Services[0].Traces) != 0 {
		t.Fatalf("failed fetches must leave signals empty, got %+v", snapshot.Services[0])
	}
}

func TestGraphQLErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors":[{"message":"no such query"}]}`)
	}))
	defer server.Close()

	client := NewSkyWalkingClient(server.URL, 5*time.Second, nil)
	err := client.HealthCheck(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no such query") {
		t.Fatalf("expected graphql error to surface, got %v", err)
	}
}

func TestCollectSnapshotRequiresBaseURL(t *testing.T) {
	client := NewSkyWalkingClient("", time.Second, nil)
	if _, err := client.CollectSnapshot(context.Background(), time.Hour); err == nil {
		t.Fatal("missing base URL must be rejected")
	}
}
