package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brunobiangulo/gotopics"
	"github.com/brunobiangulo/gotopics/internal/fakes"
	"github.com/brunobiangulo/gotopics/metrics"
)

var feedback = []string{
	"battery drains in a few hours",
	"battery dies before lunch",
	"the battery barely lasts a day",
	"battery percentage drops suddenly",
	"price is too expensive",
	"the price went up again",
	"expensive price for students",
	"subscription price is high",
}

func newTestServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	cfg := gotopics.DefaultConfig()
	cfg.Cluster.MinClusterSize = 2
	cfg.Embed.RetryDelay = 0
	eng, err := gotopics.NewWithServices(cfg, gotopics.Services{
		Embedder:   &fakes.Embedder{Vocab: []string{"battery", "price"}},
		Sentiment:  &fakes.Sentiment{Negative: []string{"expensive", "dies", "drains"}},
		Summarizer: &fakes.Summarizer{},
		Metrics:    metrics.NewCollector("test"),
	})
	if err != nil {
		t.Fatalf("NewWithServices: %v", err)
	}
	srv := httptest.NewServer(newServer(eng, apiKey, ""))
	t.Cleanup(func() {
		srv.Close()
		eng.Close()
	})
	return srv
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestAnalyzeJSON(t *testing.T) {
	srv := newTestServer(t, "")

	var recs []gotopics.Record
	for i, text := range feedback {
		recs = append(recs, gotopics.Record{ID: i + 1, Text: text})
	}
	body, _ := json.Marshal(map[string]any{"records": recs})

	resp, err := http.Post(srv.URL+"/analyze", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, b)
	}
	var out struct {
		RunID string               `json:"run_id"`
		Rows  []gotopics.OutputRow `json:"rows"`
		Saved bool                 `json:"saved"`
	}
	decode(t, resp, &out)
	if out.RunID == "" || len(out.Rows) != 2 {
		t.Errorf("response = %+v, want a run id and 2 rows", out)
	}
	var total int
	for _, r := range out.Rows {
		total += r.ResponseCount
	}
	if total != len(feedback) {
		t.Errorf("response counts sum to %d, want %d", total, len(feedback))
	}
}

func TestAnalyzeUpload(t *testing.T) {
	srv := newTestServer(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "feedback.csv")
	io.WriteString(fw, "Comments\n"+strings.Join(feedback, "\n")+"\n")
	mw.WriteField("save", "true")
	mw.Close()

	resp, err := http.Post(srv.URL+"/analyze", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, b)
	}
	var out struct {
		Rows  []gotopics.OutputRow `json:"rows"`
		Saved bool                 `json:"saved"`
	}
	decode(t, resp, &out)
	if len(out.Rows) == 0 {
		t.Error("no rows returned")
	}
	if out.Saved {
		t.Error("saved = true without a store")
	}
}

func TestAnalyzeBadRequests(t *testing.T) {
	srv := newTestServer(t, "")

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"not json", "application/json", "{", http.StatusBadRequest},
		{"no records", "application/json", `{"records":[]}`, http.StatusBadRequest},
		{"duplicate ids", "application/json", `{"records":[{"id":1,"text":"a"},{"id":1,"text":"b"}]}`, http.StatusBadRequest},
		{"bad min size", "application/json", `{"records":[{"id":1,"text":"a"}],"min_cluster_size":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/analyze", tt.contentType, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRunsWithoutStore(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/runs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("GET /runs status = %d, want 501", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/runs?limit=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestAuthAndHealth(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/runs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/runs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("authenticated status = %d, want 501", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `test_http_requests_total{method="GET",route="GET /health",status="200"} 1`) {
		t.Errorf("metrics output missing health request:\n%s", body)
	}
}
