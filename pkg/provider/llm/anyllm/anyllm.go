// Package anyllm implements [llm.Provider] on top of
// github.com/mozilla-ai/any-llm-go, which puts Gemini, OpenAI, Anthropic,
// Ollama and several other hosted or local model APIs behind one interface.
//
//	p, err := anyllm.New(anyllm.Config{Backend: "gemini", Model: "gemini-2.5-flash", APIKey: key})
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/babelcall/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

type backendFactory func(opts ...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps backend names to any-llm constructors. local marks servers
// addressed by BaseURL that take no API key.
var backends = map[string]struct {
	create backendFactory
	local  bool
}{
	"gemini":    {create: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) }},
	"openai":    {create: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) }},
	"anthropic": {create: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) }},
	"deepseek":  {create: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) }},
	"mistral":   {create: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) }},
	"groq":      {create: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) }},
	"ollama":    {create: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) }, local: true},
	"llamacpp":  {create: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) }, local: true},
	"llamafile": {create: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) }, local: true},
}

// Backends returns the sorted backend names accepted by [New].
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Config selects and authenticates a backend.
type Config struct {
	// Backend is one of [Backends], case-insensitive.
	Backend string
	Model   string

	// APIKey is ignored by local backends. When empty, hosted backends read
	// their usual environment variable (GEMINI_API_KEY, OPENAI_API_KEY, ...).
	APIKey string

	// BaseURL overrides the endpoint, or addresses a local server.
	BaseURL string
}

// Provider implements [llm.Provider].
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New builds a Provider for cfg.Backend.
func New(cfg Config) (*Provider, error) {
	name := strings.ToLower(cfg.Backend)
	if name == "" {
		return nil, errors.New("anyllm: backend must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", cfg.Backend, strings.Join(Backends(), ", "))
	}

	var opts []anyllmlib.Option
	if cfg.APIKey != "" && !b.local {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	backend, err := b.create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: backend, name: name, model: cfg.Model}, nil
}

// Name returns the lower-cased backend name.
func (p *Provider) Name() string { return p.name }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}
