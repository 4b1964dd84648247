package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/babelcall/pkg/provider/llm"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration block.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is one kind's name to constructor table.
type factories[P any] struct {
	kind string
	m    map[string]Factory[P]
}

func newFactories[P any](kind string) factories[P] {
	return factories[P]{kind: kind, m: make(map[string]Factory[P])}
}

func (f factories[P]) create(entry ProviderEntry) (P, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to constructors for the text model, speech
// synthesis and speech recognition backends. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	tts factories[tts.Provider]
	stt factories[stt.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactories[llm.Provider]("llm"),
		tts: newFactories[tts.Provider]("tts"),
		stt: newFactories[stt.Provider]("stt"),
	}
}

// RegisterLLM registers a text model factory under name, replacing any
// earlier registration.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterTTS registers a speech synthesis factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterSTT registers a speech recognition factory under name.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// Registered returns the sorted names registered for kind ("llm", "tts" or
// "stt").
func (r *Registry) Registered(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.llm.kind:
		return slices.Sorted(maps.Keys(r.llm.m))
	case r.tts.kind:
		return slices.Sorted(maps.Keys(r.tts.m))
	case r.stt.kind:
		return slices.Sorted(maps.Keys(r.stt.m))
	}
	return nil
}

// CreateLLM builds the text model named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateTTS builds the speech synthesizer named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateSTT builds the speech recognizer named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}
