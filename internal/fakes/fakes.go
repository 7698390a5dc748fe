// Package fakes provides deterministic in-memory stand-ins for the model
// services, shared by tests across the module.
package fakes

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/brunobiangulo/gotopics/llm"
	"github.com/brunobiangulo/gotopics/sentiment"
	"github.com/brunobiangulo/gotopics/summarize"
)

// ErrDown is the error returned by injected failures.
var ErrDown = errors.New("fakes: service unavailable")

// Embedder maps each vocabulary word to its own axis, so texts sharing a
// vocabulary word land on the same direction. Texts with no vocabulary word
// are hashed onto the remaining axes.
type Embedder struct {
	Vocab []string
	Dim   int
	// FailCalls makes the first n calls fail.
	FailCalls int
	// RejectEmpty makes the service error on an empty string.
	RejectEmpty bool

	mu    sync.Mutex
	calls int
	seen  []string
}

// Embed implements embed.Service.
func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.seen = append(e.seen, texts...)
	e.mu.Unlock()

	if call <= e.FailCalls {
		return nil, ErrDown
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == "" && e.RejectEmpty {
			return nil, fmt.Errorf("empty input: %w", ErrDown)
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

// Calls reports how many times Embed was invoked.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Seen returns every text passed to Embed.
func (e *Embedder) Seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

func (e *Embedder) dim() int {
	if e.Dim > len(e.Vocab) {
		return e.Dim
	}
	return len(e.Vocab) + 8
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.dim())
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var hit bool
	for _, w := range words {
		for j, vw := range e.Vocab {
			if strings.HasPrefix(w, vw) {
				v[j] = 1
				hit = true
			}
		}
	}
	if hit {
		return v
	}
	free := len(v) - len(e.Vocab)
	h := fnv.New32a()
	h.Write([]byte(text))
	v[len(e.Vocab)+int(h.Sum32()%uint32(free))] = 1
	return v
}

// Sentiment classifies by keyword. Texts containing a Fail substring
// return ErrDown.
type Sentiment struct {
	Negative []string
	Positive []string
	Fail     []string

	mu    sync.Mutex
	calls int
}

// Classify implements sentiment.Classifier.
func (s *Sentiment) Classify(_ context.Context, text string) (sentiment.Label, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	lower := strings.ToLower(text)
	for _, f := range s.Fail {
		if strings.Contains(lower, f) {
			return sentiment.Neutral, ErrDown
		}
	}
	for _, w := range s.Negative {
		if strings.Contains(lower, w) {
			return sentiment.Negative, nil
		}
	}
	for _, w := range s.Positive {
		if strings.Contains(lower, w) {
			return sentiment.Positive, nil
		}
	}
	return sentiment.Neutral, nil
}

// Calls reports how many texts reached the classifier.
func (s *Sentiment) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Summarizer echoes its inputs. Requests whose keywords contain a FailOn
// word fail.
type Summarizer struct {
	FailOn []string

	mu    sync.Mutex
	calls int
}

// Summarize implements summarize.Summarizer.
func (s *Summarizer) Summarize(_ context.Context, req summarize.Request) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	keywords := strings.Join(req.Keywords, ", ")
	for _, f := range s.FailOn {
		if strings.Contains(keywords, f) {
			return "", ErrDown
		}
	}
	return fmt.Sprintf("%d responses about %s.", len(req.Texts), keywords), nil
}

// Calls reports how many requests reached the summarizer.
func (s *Summarizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Chat is an llm.Provider whose Chat answers with Reply (or the result of
// Fn when set) and whose Embed delegates to an Embedder.
type Chat struct {
	Reply string
	Fn    func(req llm.ChatRequest) (string, error)
	Embedder

	mu       sync.Mutex
	requests []llm.ChatRequest
}

// Chat implements llm.Provider.
func (c *Chat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.Fn != nil {
		out, err := c.Fn(req)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: out}, nil
	}
	return &llm.ChatResponse{Content: c.Reply}, nil
}

// Requests returns the chat requests received so far.
func (c *Chat) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.ChatRequest(nil), c.requests...)
}
