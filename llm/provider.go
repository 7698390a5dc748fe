package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider is the interface for model backends that can generate text and
// embed it.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Classifier is implemented by backends that expose a text-classification
// endpoint (for example a hosted sentiment model).
type Classifier interface {
	// Classify returns the label scores for one text, highest first.
	Classify(ctx context.Context, text string) ([]LabelScore, error)
}

// LabelScore is one label/probability pair from a classification model.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openai, openrouter, groq, gemini, huggingface, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`

	// MaxRetries bounds transport-level retries on 429/5xx and network
	// errors. Zero disables them.
	MaxRetries int           `json:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "huggingface", "hf":
		return NewHuggingFace(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	}
	if p, ok := presets[cfg.Provider]; ok {
		return newPreset(cfg, p), nil
	}
	return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
}

// NewClassifier creates a classification backend. Only providers with a
// hosted text-classification endpoint qualify.
func NewClassifier(cfg Config) (Classifier, error) {
	switch cfg.Provider {
	case "huggingface", "hf":
		return NewHuggingFace(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("provider %s has no classification endpoint", cfg.Provider)
	}
}
