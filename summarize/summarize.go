// Package summarize writes short natural-language summaries of feedback
// groups and, optionally, readable names for them.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/gotopics/embed"
	"github.com/brunobiangulo/gotopics/llm"
)

// Unavailable replaces a summary that could not be generated.
const Unavailable = "Summary unavailable"

// Request describes one group to summarize.
type Request struct {
	// Key identifies the group in logs and errors.
	Key      string
	Keywords []string
	// Texts are ordered most representative first.
	Texts []string
	// Sentiment maps label names to counts.
	Sentiment map[string]int
}

// Summarizer produces a summary for one group.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// Config configures the LLM summarizer.
type Config struct {
	Model       string        `json:"model" yaml:"model"`
	MaxChars    int           `json:"max_chars" yaml:"max_chars" validate:"gte=0"`
	Temperature float64       `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	// GenerateNames asks the model for readable topic and subtopic names.
	GenerateNames bool `json:"generate_names" yaml:"generate_names"`
}

// DefaultConfig returns the summarizer defaults.
func DefaultConfig() Config {
	return Config{
		MaxChars:    6000,
		Temperature: 0.3,
		MaxTokens:   300,
		Timeout:     2 * time.Minute,
	}
}

// LLM summarizes with a chat model.
type LLM struct {
	chat llm.Provider
	cfg  Config
}

// NewLLM creates a chat-backed summarizer.
func NewLLM(chat llm.Provider, cfg Config) *LLM {
	def := DefaultConfig()
	if cfg.MaxChars == 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	return &LLM{chat: chat, cfg: cfg}
}

const systemPrompt = "You are a helpful assistant that analyzes customer feedback."

const summaryPrompt = `You are analyzing user feedback data.

The following keywords represent a cluster of related feedback:
%s

Here are example feedback statements from this cluster:
%s

Sentiment distribution for this cluster:
%s

Write a short, cohesive paragraph summarizing the main topic or theme of these keywords, feedback statements and sentiment.
The summary should:
- Be factual and objective
- Not start with "Here's a summary of the cluster" or similar
- Capture the key issue or focus of discussion across feedback statements
- Avoid repetition or quoting text directly
- Be roughly 3-5 sentences in length
- Use plain and neutral language`

// Summarize implements Summarizer.
func (l *LLM) Summarize(ctx context.Context, req Request) (string, error) {
	texts := Select(req.Texts, l.cfg.MaxChars)
	prompt := fmt.Sprintf(summaryPrompt,
		strings.Join(req.Keywords, ", "),
		bullets(texts),
		formatSentiment(req.Sentiment),
	)
	out, err := l.complete(ctx, prompt, l.cfg.MaxTokens)
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", req.Key, err)
	}
	return out, nil
}

func (l *LLM) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	resp, err := l.chat.Chat(ctx, llm.ChatRequest{
		Model: l.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: l.cfg.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", llm.ErrEmptyResponse
	}
	return out, nil
}

// Select keeps texts in order, skipping blanks and duplicates, until the
// character budget is spent. A first text longer than the budget is
// truncated rather than dropped. The result is lossy by construction.
func Select(texts []string, maxChars int) []string {
	seen := make(map[string]bool, len(texts))
	var (
		out  []string
		used int
	)
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if maxChars > 0 && used+len(t) > maxChars {
			if len(out) == 0 {
				out = append(out, embed.Truncate(t, maxChars))
			}
			break
		}
		out = append(out, t)
		used += len(t)
	}
	return out
}

func bullets(texts []string) string {
	var b strings.Builder
	for _, t := range texts {
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

var sentimentOrder = []string{"Very Negative", "Negative", "Neutral", "Positive", "Very Positive"}

func formatSentiment(dist map[string]int) string {
	if len(dist) == 0 {
		return "not available"
	}
	var parts []string
	for _, name := range sentimentOrder {
		if n := dist[name]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", name, n))
		}
	}
	return strings.Join(parts, ", ")
}

// All runs s over every request with at most concurrency calls in flight.
// Failed requests get Unavailable and their indices are returned in
// ascending order; a failure never aborts the batch. onDone, when set, is called
// after each request finishes; calls are serialized.
func All(ctx context.Context, s Summarizer, reqs []Request, concurrency int, onDone func(done, total int)) ([]string, []int) {
	if concurrency <= 0 {
		concurrency = 4
	}
	out := make([]string, len(reqs))
	failed := make([]bool, len(reqs))

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		sem  = make(chan struct{}, concurrency)
		done int
	)
	finish := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		if onDone != nil {
			onDone(done, len(reqs))
		}
	}

	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer finish()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[i], failed[i] = Unavailable, true
				return
			}

			text, err := s.Summarize(ctx, req)
			if err != nil || strings.TrimSpace(text) == "" {
				slog.Warn("summarize: summary failed", "key", req.Key, "error", err)
				out[i], failed[i] = Unavailable, true
				return
			}
			out[i] = strings.TrimSpace(text)
		}()
	}
	wg.Wait()

	var idx []int
	for i, f := range failed {
		if f {
			idx = append(idx, i)
		}
	}
	if len(idx) > 0 {
		slog.Warn("summarize: some summaries failed", "failed", len(idx), "total", len(reqs))
	}
	return out, idx
}
