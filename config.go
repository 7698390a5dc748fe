package gotopics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/gotopics/cluster"
	"github.com/brunobiangulo/gotopics/embed"
	"github.com/brunobiangulo/gotopics/hierarchy"
	"github.com/brunobiangulo/gotopics/label"
	"github.com/brunobiangulo/gotopics/llm"
	"github.com/brunobiangulo/gotopics/reduce"
	"github.com/brunobiangulo/gotopics/summarize"
)

// Config holds all configuration for the engine.
type Config struct {
	// Store enables the SQLite run history.
	Store bool `json:"store" yaml:"store"`

	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.gotopics/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set: "home" (default) uses ~/.gotopics/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir" validate:"omitempty,oneof=home local cwd"`

	// Model services
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`
	Sentiment LLMConfig `json:"sentiment" yaml:"sentiment"`

	// SentimentBackend selects how records are classified: "model" uses a
	// hosted classification model (Sentiment), "chat" prompts Chat.
	SentimentBackend string `json:"sentiment_backend" yaml:"sentiment_backend" validate:"oneof=model chat"`

	// Breaker wraps every remote service in a circuit breaker.
	Breaker llm.BreakerConfig `json:"breaker" yaml:"breaker"`

	// Pipeline stages
	Embed     embed.Config     `json:"embed" yaml:"embed"`
	Reduce    reduce.Config    `json:"reduce" yaml:"reduce"`
	Cluster   cluster.Config   `json:"cluster" yaml:"cluster"`
	Label     label.Config     `json:"label" yaml:"label"`
	Hierarchy hierarchy.Config `json:"hierarchy" yaml:"hierarchy"`
	Summarize summarize.Config `json:"summarize" yaml:"summarize"`

	// GuideThreshold is the similarity a record needs to a seed topic
	// before it is pulled toward it.
	GuideThreshold float64 `json:"guide_threshold" yaml:"guide_threshold" validate:"gte=-1,lte=1"`

	SentimentConcurrency int `json:"sentiment_concurrency" yaml:"sentiment_concurrency" validate:"gte=1,lte=64"`
	SummaryConcurrency   int `json:"summary_concurrency" yaml:"summary_concurrency" validate:"gte=1,lte=64"`
}

// LLMConfig configures a single model endpoint.
type LLMConfig struct {
	Provider   string        `json:"provider" yaml:"provider"` // huggingface, ollama, lmstudio, openai, openrouter, groq, gemini, custom
	Model      string        `json:"model" yaml:"model"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

func (c LLMConfig) llm() llm.Config {
	return llm.Config{
		Provider:   c.Provider,
		Model:      c.Model,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		MaxRetries: c.MaxRetries,
		Timeout:    c.Timeout,
	}
}

// DefaultConfig returns a Config using hosted Hugging Face models.
// The run store is off by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "gotopics",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider:   "huggingface",
			Model:      "google/gemma-3-4b-it",
			MaxRetries: 3,
		},
		Embedding: LLMConfig{
			Provider: "huggingface",
			Model:    "sentence-transformers/all-roberta-large-v1",
			// The embedder retries whole batches itself.
			MaxRetries: 0,
		},
		Sentiment: LLMConfig{
			Provider:   "huggingface",
			Model:      "tabularisai/multilingual-sentiment-analysis",
			MaxRetries: 2,
		},
		SentimentBackend:     "model",
		Breaker:              llm.DefaultBreakerConfig(),
		Embed:                embed.DefaultConfig(),
		Reduce:               reduce.DefaultConfig(),
		Cluster:              cluster.DefaultConfig(),
		Label:                label.DefaultConfig(),
		Hierarchy:            hierarchy.DefaultConfig(),
		Summarize:            summarize.DefaultConfig(),
		GuideThreshold:       cluster.DefaultGuideThreshold,
		SentimentConcurrency: 8,
		SummaryConcurrency:   4,
	}
}

// LoadConfig reads a YAML or JSON file (by extension) over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from GOTOPICS_* environment variables, then fills
// missing API keys from the providers' well-known variables.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("GOTOPICS_DB_PATH"); v != "" {
		cfg.DBPath = v
		cfg.Store = true
	}
	if v := os.Getenv("GOTOPICS_STORE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: GOTOPICS_STORE: %v", ErrInvalidConfig, err)
		}
		cfg.Store = b
	}
	if v := os.Getenv("GOTOPICS_SENTIMENT_BACKEND"); v != "" {
		cfg.SentimentBackend = v
	}
	for prefix, c := range map[string]*LLMConfig{
		"GOTOPICS_CHAT_":      &cfg.Chat,
		"GOTOPICS_EMBED_":     &cfg.Embedding,
		"GOTOPICS_SENTIMENT_": &cfg.Sentiment,
	} {
		if v := os.Getenv(prefix + "PROVIDER"); v != "" {
			c.Provider = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			c.Model = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			c.BaseURL = v
		}
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			c.APIKey = v
		}
	}
	for name, dst := range map[string]*int{
		"GOTOPICS_MIN_CLUSTER_SIZE":      &cfg.Cluster.MinClusterSize,
		"GOTOPICS_SENTIMENT_CONCURRENCY": &cfg.SentimentConcurrency,
		"GOTOPICS_SUMMARY_CONCURRENCY":   &cfg.SummaryConcurrency,
	} {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
			}
			*dst = n
		}
	}
	if v := os.Getenv("GOTOPICS_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: GOTOPICS_SEED: %v", ErrInvalidConfig, err)
		}
		cfg.Reduce.Seed = n
	}

	for _, c := range []*LLMConfig{&cfg.Chat, &cfg.Embedding, &cfg.Sentiment} {
		if c.APIKey != "" {
			continue
		}
		switch c.Provider {
		case "huggingface", "hf":
			c.APIKey = os.Getenv("HF_API_KEY")
		case "openai":
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			c.APIKey = os.Getenv("GROQ_API_KEY")
		case "openrouter":
			c.APIKey = os.Getenv("OPENROUTER_API_KEY")
		case "gemini":
			c.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "gotopics"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".gotopics", name+".db")
	}
}
