package llm

import "context"

// preset describes a hosted or local backend that speaks the
// OpenAI-compatible API and differs only in its defaults.
type preset struct {
	baseURL string
	prefix  string
	model   string
}

var presets = map[string]preset{
	// LM Studio serves whatever model is loaded.
	"lmstudio": {baseURL: "http://localhost:1234", prefix: "/v1"},
	// text-embedding-3-small is 1536 dim.
	"openai":     {baseURL: "https://api.openai.com", prefix: "/v1", model: "text-embedding-3-small"},
	"openrouter": {baseURL: "https://openrouter.ai/api", prefix: "/v1"},
	"groq":       {baseURL: "https://api.groq.com/openai", prefix: "/v1", model: "llama-3.3-70b-versatile"},
	// Gemini's compatibility layer has no /v1 segment.
	"gemini": {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", model: "gemini-2.5-flash"},
}

// presetProvider implements Provider for any backend in presets.
type presetProvider struct {
	name string
	base openAICompatClient
}

func newPreset(cfg Config, p preset) *presetProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = p.model
	}
	return &presetProvider{name: cfg.Provider, base: newOpenAICompatClientPrefix(cfg, p.prefix)}
}

func (p *presetProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *presetProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
