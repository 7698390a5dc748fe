//go:build integration

package gotopics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

const (
	ollamaURL   = "http://localhost:11434"
	chatModel   = "qwen3:8b"
	embedModel  = "qwen3-embedding"
	testTimeout = 10 * time.Minute
)

func ollamaAvailable() bool {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(ollamaURL + "/api/tags")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// warmModel sends a tiny request to force Ollama to load a model into memory.
func warmModel(model string) error {
	body := fmt.Sprintf(`{"model":%q,"messages":[{"role":"user","content":"hi"}],"stream":false,"options":{"num_predict":1}}`, model)
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(ollamaURL+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func TestIntegrationOllama(t *testing.T) {
	if !ollamaAvailable() {
		t.Skip("ollama not available")
	}
	if err := warmModel(chatModel); err != nil {
		t.Skipf("warming chat model: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Chat = LLMConfig{Provider: "ollama", Model: chatModel, BaseURL: ollamaURL}
	cfg.Embedding = LLMConfig{Provider: "ollama", Model: embedModel, BaseURL: ollamaURL}
	cfg.SentimentBackend = "chat"
	cfg.Cluster.MinClusterSize = 3
	cfg.Summarize.GenerateNames = true

	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	defer eng.Close()

	texts := []string{
		"The battery drains in a few hours.",
		"Battery life is terrible since the update.",
		"My phone battery dies before lunch.",
		"Charging takes forever and the battery barely lasts.",
		"The subscription is far too expensive.",
		"Prices went up again, not worth the money.",
		"Too expensive compared to other apps.",
		"I can't justify the monthly price anymore.",
		"Delivery was two weeks late.",
		"Shipping took forever and the box was damaged.",
		"My order arrived late again.",
		"The courier lost my package.",
	}
	records := make([]Record, len(texts))
	for i, text := range texts {
		records[i] = Record{ID: i + 1, Text: text}
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	res, err := eng.Run(ctx, records)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	t.Logf("%d topics, %d rows, messages: %v", len(res.Topics), len(res.Rows), res.Report.Messages())

	var total int
	for _, row := range res.Rows {
		t.Logf("%s / %s [%s] %d: %s", row.GeneralTopic, row.Subtopic, row.Sentiment, row.ResponseCount, row.Summary)
		total += row.ResponseCount
	}
	if total+len(res.Noise) != len(records) {
		t.Errorf("rows cover %d records plus %d noise, want %d", total, len(res.Noise), len(records))
	}
	if len(res.Rows) == 0 {
		t.Error("no rows produced")
	}
}
