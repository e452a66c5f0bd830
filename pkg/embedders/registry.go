package embedders

import (
	"fmt"
	"sync"

	"github.com/inkwell-ai/fleet/pkg/embedder"
)

// Registry holds a single named embedder instance at a time. The settings
// store's retrieval config names exactly one active embedding model, so
// unlike a general-purpose provider registry this only ever tracks the
// current one; Set closes the previously active embedder when it replaces it.
type Registry struct {
	mu       sync.RWMutex
	name     string
	embedder embedder.Embedder
}

// NewRegistry creates an empty embedder registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set installs the active embedder, closing and replacing any previous one.
func (r *Registry) Set(name string, e embedder.Embedder) error {
	if name == "" {
		return fmt.Errorf("embedder name cannot be empty")
	}
	if e == nil {
		return fmt.Errorf("embedder cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.embedder != nil {
		_ = r.embedder.Close()
	}
	r.name = name
	r.embedder = e
	return nil
}

// Get returns the active embedder, if any.
func (r *Registry) Get() (embedder.Embedder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embedder, r.embedder != nil
}

// Name returns the active embedder's registered name.
func (r *Registry) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// Close releases the active embedder's resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.embedder == nil {
		return nil
	}
	err := r.embedder.Close()
	r.embedder = nil
	r.name = ""
	return err
}

// FromModelName builds an embedder for a known model name using sensible
// per-provider defaults. It routes on provider alone: "ollama" or "" builds
// an Ollama embedder, "openai" an OpenAI one, and any other value is an
// error; the model name and API key do not affect the choice.
func FromModelName(provider, model, host, apiKey string, dimension int) (embedder.Embedder, error) {
	switch provider {
	case "ollama", "":
		cfg := OllamaConfig{Host: host, Model: model, Dimension: dimension}
		return NewOllamaEmbedder(cfg), nil
	case "openai":
		cfg := OpenAIConfig{APIKey: apiKey, Host: host, Model: model, Dimension: dimension}
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %q", provider)
	}
}
