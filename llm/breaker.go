package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker placed in front of a backend.
type BreakerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// MinRequests is the number of calls in the window before the failure
	// ratio is evaluated.
	MinRequests      uint32        `json:"min_requests" yaml:"min_requests"`
	FailureThreshold float64       `json:"failure_threshold" yaml:"failure_threshold" validate:"gte=0,lte=1"`
	Interval         time.Duration `json:"interval" yaml:"interval"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultBreakerConfig trips after 80% of at least 5 calls fail and stays
// open for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		MinRequests:      5,
		FailureThreshold: 0.8,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
	}
}

// ErrBreakerOpen is returned without contacting the backend while the
// breaker is open.
var ErrBreakerOpen = errors.New("llm: backend circuit open")

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm: circuit breaker state changed", "backend", name, "from", from.String(), "to", to.String())
		},
		// Caller cancellation says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, errors.Join(ErrBreakerOpen, err)
		}
		return zero, err
	}
	return out.(T), nil
}

type breakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps p so that repeated failures fail fast. A disabled config
// returns p unchanged.
func WithBreaker(name string, p Provider, cfg BreakerConfig) Provider {
	if !cfg.Enabled {
		return p
	}
	return &breakerProvider{next: p, cb: newBreaker(name, cfg)}
}

func (b *breakerProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return execute(b.cb, func() (*ChatResponse, error) { return b.next.Chat(ctx, req) })
}

func (b *breakerProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return execute(b.cb, func() ([][]float32, error) { return b.next.Embed(ctx, texts) })
}

type breakerClassifier struct {
	next Classifier
	cb   *gobreaker.CircuitBreaker
}

// WithClassifierBreaker is WithBreaker for classification backends.
func WithClassifierBreaker(name string, c Classifier, cfg BreakerConfig) Classifier {
	if !cfg.Enabled {
		return c
	}
	return &breakerClassifier{next: c, cb: newBreaker(name, cfg)}
}

func (b *breakerClassifier) Classify(ctx context.Context, text string) ([]LabelScore, error) {
	return execute(b.cb, func() ([]LabelScore, error) { return b.next.Classify(ctx, text) })
}
