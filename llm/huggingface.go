package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// HuggingFace talks to the Hugging Face inference router. Chat uses
// the router's OpenAI-compatible surface; classification and embeddings use
// the hf-inference task endpoints for the configured model.
//
// API key: set via config or the HF_API_KEY env var.
type HuggingFace struct {
	base openAICompatClient
}

// NewHuggingFace creates a provider for Hugging Face. The returned value
// implements both Provider and Classifier.
func NewHuggingFace(cfg Config) *HuggingFace {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://router.huggingface.co"
	}
	return &HuggingFace{base: newOpenAICompatClient(cfg)}
}

func (p *HuggingFace) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *HuggingFace) modelURL(suffix string) string {
	return strings.TrimRight(p.base.cfg.BaseURL, "/") + "/hf-inference/models/" +
		url.PathEscape(p.base.cfg.Model) + suffix
}

type hfInputs struct {
	Inputs any `json:"inputs"`
}

// Classify runs the text-classification pipeline. The endpoint answers
// either a flat list of label scores or a list nested per input.
func (p *HuggingFace) Classify(ctx context.Context, text string) ([]LabelScore, error) {
	body, err := postJSON(ctx, p.base.client, p.base.cfg, p.modelURL(""), hfInputs{Inputs: text})
	if err != nil {
		return nil, fmt.Errorf("hf classify: %w", err)
	}

	var scores []LabelScore
	if err := json.Unmarshal(body, &scores); err != nil {
		var nested [][]LabelScore
		if err2 := json.Unmarshal(body, &nested); err2 != nil {
			return nil, fmt.Errorf("decoding classification response: %w", err)
		}
		if len(nested) > 0 {
			scores = nested[0]
		}
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("hf classify: %w", ErrEmptyResponse)
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	return scores, nil
}

// Embed runs the feature-extraction pipeline. Sentence-transformer models
// return one vector per input; plain encoders return per-token vectors,
// which are mean-pooled here.
func (p *HuggingFace) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := postJSON(ctx, p.base.client, p.base.cfg,
		p.modelURL("/pipeline/feature-extraction"), hfInputs{Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("hf embed: %w", err)
	}

	var pooled [][]float64
	if err := json.Unmarshal(body, &pooled); err == nil {
		out := make([][]float32, len(pooled))
		for i, v := range pooled {
			out[i] = toFloat32(v)
		}
		return out, nil
	}

	var tokens [][][]float64
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("decoding feature-extraction response: %w", err)
	}
	out := make([][]float32, len(tokens))
	for i, toks := range tokens {
		out[i] = meanPool(toks)
	}
	return out, nil
}

func meanPool(tokens [][]float64) []float32 {
	if len(tokens) == 0 {
		return nil
	}
	sum := make([]float64, len(tokens[0]))
	for _, t := range tokens {
		for j := range sum {
			if j < len(t) {
				sum[j] += t[j]
			}
		}
	}
	out := make([]float32, len(sum))
	for j, v := range sum {
		out[j] = float32(v / float64(len(tokens)))
	}
	return out
}
