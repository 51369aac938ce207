package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type EmbedderFactory func(ctx context.Context, model string) (TextEmbedder, error)

// Registry resolves chat and embedding backends by name ("openai", "ollama", ...).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
	embedders map[string]EmbedderFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ProviderFactory),
		embedders: make(map[string]EmbedderFactory),
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = f
}

func (r *Registry) RegisterEmbedder(name string, f EmbedderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[normalize(name)] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

func (r *Registry) GetEmbedder(ctx context.Context, name string, model string) (TextEmbedder, error) {
	r.mu.RLock()
	f, ok := r.embedders[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s", name)
	}
	return f(ctx, model)
}

// Names lists registered chat providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
