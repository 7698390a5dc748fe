package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"ollama", "*llm.ollamaProvider"},
		{"lmstudio", "*llm.presetProvider"},
		{"openrouter", "*llm.presetProvider"},
		{"gemini", "*llm.presetProvider"},
		{"huggingface", "*llm.HuggingFace"},
		{"hf", "*llm.HuggingFace"},
		{"custom", "*llm.openAICompatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			if got := fmt.Sprintf("%T", p); got != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, got, tt.wantType)
			}
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"", "llm provider not specified"},
		{"doesnotexist", "unknown llm provider: doesnotexist"},
	}
	for _, tt := range tests {
		_, err := NewProvider(Config{Provider: tt.provider})
		if err == nil || err.Error() != tt.want {
			t.Errorf("NewProvider(%q) error = %v, want %q", tt.provider, err, tt.want)
		}
	}
}

func TestNewClassifier(t *testing.T) {
	if _, err := NewClassifier(Config{Provider: "huggingface", Model: "m"}); err != nil {
		t.Fatalf("NewClassifier(huggingface): %v", err)
	}
	if _, err := NewClassifier(Config{Provider: "ollama"}); err == nil {
		t.Fatal("expected error for provider without classification endpoint")
	}
}

func baseConfig(t *testing.T, p Provider) Config {
	t.Helper()
	v := reflect.ValueOf(p).Elem()
	if b := v.FieldByName("base"); b.IsValid() {
		v = b
	}
	v = v.FieldByName("cfg")
	return Config{
		BaseURL: v.FieldByName("BaseURL").String(),
		Model:   v.FieldByName("Model").String(),
		APIKey:  v.FieldByName("APIKey").String(),
	}
}

// TestDefaultBaseURLs verifies that an empty BaseURL is replaced by the
// backend's default and an explicit one is preserved.
func TestDefaultBaseURLs(t *testing.T) {
	tests := []struct {
		provider string
		wantURL  string
	}{
		{"ollama", "http://localhost:11434"},
		{"lmstudio", "http://localhost:1234"},
		{"openrouter", "https://openrouter.ai/api"},
		{"huggingface", "https://router.huggingface.co"},
		{"custom", ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "m"})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", tt.provider, err)
			}
			if got := baseConfig(t, p).BaseURL; got != tt.wantURL {
				t.Errorf("default BaseURL for %q = %q, want %q", tt.provider, got, tt.wantURL)
			}

			custom := "http://my-server:9999"
			p, _ = NewProvider(Config{Provider: tt.provider, Model: "m", BaseURL: custom})
			if got := baseConfig(t, p).BaseURL; got != custom {
				t.Errorf("explicit BaseURL for %q = %q, want %q", tt.provider, got, custom)
			}
		})
	}
}

func TestPresetDefaultModel(t *testing.T) {
	p, _ := NewProvider(Config{Provider: "groq"})
	if got := baseConfig(t, p).Model; got != "llama-3.3-70b-versatile" {
		t.Errorf("groq default model = %q", got)
	}
	p, _ = NewProvider(Config{Provider: "groq", Model: "gemma2-9b-it", APIKey: "sk-1"})
	cfg := baseConfig(t, p)
	if cfg.Model != "gemma2-9b-it" || cfg.APIKey != "sk-1" {
		t.Errorf("config not passed through: %+v", cfg)
	}
}

// ---------------------------------------------------------------------------
// HTTP behaviour
// ---------------------------------------------------------------------------

func TestEmbedReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"data":[{"index":1,"embedding":[2,2]},{"index":0,"embedding":[1,1]}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m"})
	got, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got[0][0] != 1 || got[1][0] != 2 {
		t.Errorf("embeddings not reordered: %v", got)
	}
}

func TestEmbedMissingIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"index":0,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL})
	_, err := p.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestChatSendsAuthAndModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-x" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "default-model" {
			t.Errorf("model = %q, want config default", req.Model)
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "default-model", APIKey: "sk-x"})
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello" || resp.TotalTokens != 7 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, MaxRetries: 3})
	_, err := p.Chat(context.Background(), ChatRequest{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want StatusError 400", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestHuggingFaceClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"flat", `[{"label":"Negative","score":0.2},{"label":"Positive","score":0.7}]`},
		{"nested", `[[{"label":"Negative","score":0.2},{"label":"Positive","score":0.7}]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasPrefix(r.URL.Path, "/hf-inference/models/") {
					t.Errorf("path = %s", r.URL.Path)
				}
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			hf := NewHuggingFace(Config{BaseURL: srv.URL, Model: "org/sentiment"})
			scores, err := hf.Classify(context.Background(), "great")
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if scores[0].Label != "Positive" {
				t.Errorf("top label = %q, want Positive", scores[0].Label)
			}
		})
	}
}

func TestHuggingFaceEmbedMeanPools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/pipeline/feature-extraction") {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `[[[1,0],[3,2]]]`)
	}))
	defer srv.Close()

	hf := NewHuggingFace(Config{BaseURL: srv.URL, Model: "m"})
	got, err := hf.Embed(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 1 || got[0][0] != 2 || got[0][1] != 1 {
		t.Errorf("pooled = %v, want [[2 1]]", got)
	}
}

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

type failingProvider struct{ calls atomic.Int32 }

func (f *failingProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	f.calls.Add(1)
	return nil, errors.New("down")
}

func (f *failingProvider) Embed(context.Context, []string) ([][]float32, error) {
	f.calls.Add(1)
	return nil, errors.New("down")
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	inner := &failingProvider{}
	p := WithBreaker("test", inner, BreakerConfig{
		Enabled:          true,
		MinRequests:      2,
		FailureThreshold: 0.5,
		Timeout:          time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := p.Embed(context.Background(), []string{"a"}); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := p.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("backend calls = %d, want 2", inner.calls.Load())
	}
}

func TestBreakerDisabledPassesThrough(t *testing.T) {
	inner := &failingProvider{}
	if p := WithBreaker("off", inner, BreakerConfig{}); p != Provider(inner) {
		t.Error("disabled breaker should return the provider unchanged")
	}
}

func TestOllamaNativeChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || req.Options.NumPredict != 24 || req.Model != "qwen3:8b" {
			t.Errorf("request = %+v", req)
		}
		io.WriteString(w, `{"model":"qwen3:8b","message":{"role":"assistant","content":"Battery life"},"done_reason":"stop","prompt_eval_count":10,"eval_count":3}`)
	}))
	defer srv.Close()

	p := NewOllama(Config{BaseURL: srv.URL + "/", Model: "qwen3:8b"})
	resp, err := p.Chat(context.Background(), ChatRequest{MaxTokens: 24})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Battery life" || resp.TotalTokens != 13 || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOllamaEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"embeddings":[[0.1,0.2]]}`)
	}))
	defer srv.Close()

	p := NewOllama(Config{BaseURL: srv.URL, Model: "e"})
	if _, err := p.Embed(context.Background(), []string{"a", "b"}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestRetriesTemporaryStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, MaxRetries: 1})
	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" || calls.Load() != 2 {
		t.Errorf("content = %q after %d calls", resp.Content, calls.Load())
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		se      *StatusError
		want    time.Duration
	}{
		{"network", 0, nil, 2 * time.Second},
		{"server error", 2, &StatusError{Code: 503}, 8 * time.Second},
		{"rate limit", 1, &StatusError{Code: 429}, 10 * time.Second},
		{"retry after", 0, &StatusError{Code: 429, RetryAfter: 30 * time.Second}, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempt, tt.se); got != tt.want {
			t.Errorf("%s: retryDelay = %v, want %v", tt.name, got, tt.want)
		}
	}
}
