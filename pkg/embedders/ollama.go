// Package embedders provides concrete embedder.Embedder implementations.
package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/inkwell-ai/fleet/pkg/httpclient"
)

// ollamaEmbedMu serializes concurrent Ollama embedding requests.
// Ollama's llama runner crashes with SIGABRT when receiving concurrent
// embedding requests against the same model.
var ollamaEmbedMu sync.Mutex

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
}

// SetDefaults fills unset fields with the package defaults.
func (c *OllamaConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = OllamaNomicEmbedText
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// OllamaEmbedder implements embedder.Embedder against Ollama's
// /api/embeddings endpoint.
type OllamaEmbedder struct {
	cfg    OllamaConfig
	client *httpclient.Client
	http   *http.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder for the given configuration.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	cfg.SetDefaults()
	return &OllamaEmbedder{
		cfg:    cfg,
		client: httpclient.New(httpclient.WithMaxRetries(cfg.MaxRetries)),
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed converts text to a vector embedding via Ollama.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	// Serialize all Ollama embedding requests to prevent crashes; see
	// https://github.com/ollama/ollama/issues - "decode: cannot decode
	// batches with this context".
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	slog.Debug("ollama embedding request", "model", e.cfg.Model, "text_length", len(text))

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ollama embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(b))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode ollama embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}

	return out.Embedding, nil
}

// EmbedBatch embeds each text sequentially (Ollama has no batch endpoint).
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimension returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimension() int { return e.cfg.Dimension }

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string { return e.cfg.Model }

// Close releases resources. Ollama's HTTP client holds none beyond
// connection pooling, which the transport manages itself.
func (e *OllamaEmbedder) Close() error { return nil }

// Well-known Ollama embedding model names.
var (
	OllamaNomicEmbedText   = "nomic-embed-text"
	OllamaNomicEmbedTextV2 = "nomic-embed-text-v2"
	OllamaAllMiniLML6V2    = "all-minilm:l6-v2"
	OllamaBGESmallEnV15    = "bge-small-en-v1.5"
)
