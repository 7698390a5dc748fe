// Package embed turns feedback texts into fixed-length, L2-normalized
// vectors by batching calls to an embedding service.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// Service is the embedding capability. llm.Provider satisfies it.
type Service interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrMismatch is returned when the service answers with the wrong number
// of vectors or vectors of inconsistent length.
var ErrMismatch = errors.New("embed: service returned mismatched vectors")

// Config controls batching and input preparation.
type Config struct {
	BatchSize  int           `json:"batch_size" yaml:"batch_size" validate:"gte=0"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
	// Dim is the expected dimensionality. Zero accepts whatever the service
	// returns first.
	Dim int `json:"dim" yaml:"dim" validate:"gte=0"`
	// MaxChars truncates long texts on a word boundary.
	MaxChars int `json:"max_chars" yaml:"max_chars" validate:"gte=0"`
}

// DefaultConfig returns the batching defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:  32,
		RetryDelay: 2 * time.Second,
		MaxChars:   24000,
	}
}

// Embedder batches texts to a Service.
type Embedder struct {
	svc Service
	cfg Config
}

// New creates an Embedder. Zero config fields take defaults.
func New(svc Service, cfg Config) *Embedder {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	return &Embedder{svc: svc, cfg: cfg}
}

// Embed returns one normalized vector per text, in input order. Blank
// texts are not sent with their batch; they share the service's embedding
// of "" or, when the service rejects it, a zero vector. Embed never fails
// because of blank input: if no dimension is known the zero vector has
// length 1.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	dim := e.cfg.Dim

	var idx []int
	var batch []string
	var blanks []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			blanks = append(blanks, i)
			continue
		}
		idx = append(idx, i)
		batch = append(batch, Truncate(t, e.cfg.MaxChars))
	}

	for start := 0; start < len(batch); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.cfg.BatchSize, len(batch))

		vecs, err := e.embedBatch(ctx, batch[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: %d vectors for %d texts", ErrMismatch, len(vecs), end-start)
		}
		for j, v := range vecs {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) != dim || dim == 0 {
				return nil, fmt.Errorf("%w: vector of length %d, want %d", ErrMismatch, len(v), dim)
			}
			out[idx[start+j]] = normalize(v)
		}
		slog.Debug("embed: batch done", "done", end, "total", len(batch))
	}

	if len(blanks) > 0 {
		fill, err := e.blankVector(ctx, dim)
		if err != nil {
			return nil, err
		}
		for _, i := range blanks {
			out[i] = append([]float32(nil), fill...)
		}
	}
	return out, nil
}

// embedBatch calls the service, retrying once after RetryDelay.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.svc.Embed(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	slog.Warn("embed: batch failed, retrying once", "size", len(texts), "delay", e.cfg.RetryDelay, "error", err)

	t := time.NewTimer(e.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.svc.Embed(ctx, texts)
}

func (e *Embedder) blankVector(ctx context.Context, dim int) ([]float32, error) {
	vecs, err := e.svc.Embed(ctx, []string{""})
	if err == nil && len(vecs) == 1 && len(vecs[0]) > 0 && (dim == 0 || len(vecs[0]) == dim) {
		return normalize(vecs[0]), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	slog.Debug("embed: service rejected empty text, using zero vector", "error", err)
	return make([]float32, max(dim, 1)), nil
}

// Truncate cuts text to at most limit bytes at the last space before the
// limit, never splitting a UTF-8 sequence.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := strings.LastIndex(text[:limit], " ")
	if cut <= 0 {
		cut = limit
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
	}
	return text[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// normalize returns v scaled to unit length. A zero vector is returned as
// a copy.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, 0 when either is zero.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Centroid returns the normalized mean of the selected vectors.
func Centroid(vectors [][]float32, members []int) []float32 {
	if len(members) == 0 {
		return nil
	}
	c := make([]float32, len(vectors[members[0]]))
	for _, m := range members {
		for j, x := range vectors[m] {
			c[j] += x
		}
	}
	return normalize(c)
}
