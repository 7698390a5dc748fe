// Package gotopics discovers topics and subtopics in a batch of free-text
// feedback, attaches a sentiment and a short summary to every subtopic, and
// returns the result as a flat table.
package gotopics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/gotopics/embed"
	"github.com/brunobiangulo/gotopics/label"
	"github.com/brunobiangulo/gotopics/llm"
	"github.com/brunobiangulo/gotopics/metrics"
	"github.com/brunobiangulo/gotopics/sentiment"
	"github.com/brunobiangulo/gotopics/store"
	"github.com/brunobiangulo/gotopics/summarize"
)

// Engine is the main entry point for topic discovery.
type Engine interface {
	// Run processes one batch of records. It blocks until the run is
	// complete or ctx is done.
	Run(ctx context.Context, records []Record, opts ...RunOption) (*Result, error)

	// Save persists a result's rows and report in the run store.
	Save(ctx context.Context, res *Result, source string) error

	// Runs lists stored runs, newest first.
	Runs(ctx context.Context, limit int) ([]store.Run, error)

	// GetRun returns a stored run with its rows.
	GetRun(ctx context.Context, id string) (*store.Run, error)

	// DeleteRun removes a stored run.
	DeleteRun(ctx context.Context, id string) error

	// Metrics returns the engine's metrics collector.
	Metrics() *metrics.Collector

	// Close releases the store.
	Close() error
}

// Services are the model capabilities a run depends on. Embedder,
// Sentiment and Summarizer are required; Namer, Store and Metrics are
// optional.
type Services struct {
	Embedder   embed.Service
	Sentiment  sentiment.Classifier
	Summarizer summarize.Summarizer
	Namer      summarize.Namer
	Store      *store.Store
	Metrics    *metrics.Collector
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	seeds          []string
	progress       func(stage string, fraction float64)
	minClusterSize int
	seed           int64
	seedSet        bool
}

// WithSeeds biases discovery toward the given topic phrases.
func WithSeeds(seeds []string) RunOption {
	return func(o *runOptions) { o.seeds = seeds }
}

// WithProgress receives the stage name and the cumulative fraction of the
// run completed, from 0 to 1.
func WithProgress(fn func(stage string, fraction float64)) RunOption {
	return func(o *runOptions) { o.progress = fn }
}

// WithMinClusterSize overrides the smallest subtopic size for this run.
func WithMinClusterSize(n int) RunOption {
	return func(o *runOptions) { o.minClusterSize = n }
}

// WithSeed overrides the projection's random seed. Zero makes the run
// nondeterministic.
func WithSeed(seed int64) RunOption {
	return func(o *runOptions) { o.seed, o.seedSet = seed, true }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	svc       Services
	labeler   *label.Labeler
	sentiment *sentiment.Aggregator
}

// New creates an engine whose services are built from cfg.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chatLLM, err := llm.NewProvider(cfg.Chat.llm())
	if err != nil {
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}
	chatLLM = llm.WithBreaker("chat", chatLLM, cfg.Breaker)

	embedLLM, err := llm.NewProvider(cfg.Embedding.llm())
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	embedLLM = llm.WithBreaker("embedding", embedLLM, cfg.Breaker)

	var clf sentiment.Classifier
	switch cfg.SentimentBackend {
	case "chat":
		clf = sentiment.NewChatClassifier(chatLLM, cfg.Chat.Model)
	default:
		backend, err := llm.NewClassifier(cfg.Sentiment.llm())
		if err != nil {
			return nil, fmt.Errorf("creating sentiment provider: %w", err)
		}
		clf = sentiment.NewModelClassifier(llm.WithClassifierBreaker("sentiment", backend, cfg.Breaker))
	}

	sumCfg := cfg.Summarize
	if sumCfg.Model == "" {
		sumCfg.Model = cfg.Chat.Model
	}
	summarizer := summarize.NewLLM(chatLLM, sumCfg)

	svc := Services{
		Embedder:   embedLLM,
		Sentiment:  clf,
		Summarizer: summarizer,
		Metrics:    metrics.NewCollector("gotopics"),
	}
	if sumCfg.GenerateNames {
		svc.Namer = summarizer
	}
	if cfg.Store {
		s, err := store.New(cfg.resolveDBPath())
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		svc.Store = s
	}
	return NewWithServices(cfg, svc)
}

// NewWithServices creates an engine around caller-supplied services.
func NewWithServices(cfg Config, svc Services) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if svc.Embedder == nil || svc.Sentiment == nil || svc.Summarizer == nil {
		return nil, fmt.Errorf("%w: embedder, sentiment and summarizer services are required", ErrInvalidConfig)
	}
	e := &engine{
		cfg:       cfg,
		svc:       svc,
		labeler:   label.New(cfg.Label),
		sentiment: sentiment.NewAggregator(svc.Sentiment, cfg.SentimentConcurrency),
	}
	slog.Debug("gotopics: engine ready",
		"sentiment_backend", cfg.SentimentBackend,
		"store", svc.Store != nil,
		"names", svc.Namer != nil)
	return e, nil
}

// Metrics returns the engine's collector, which may be nil.
func (e *engine) Metrics() *metrics.Collector {
	return e.svc.Metrics
}

// Close cleanly shuts down the engine.
func (e *engine) Close() error {
	if e.svc.Store != nil {
		return e.svc.Store.Close()
	}
	return nil
}
