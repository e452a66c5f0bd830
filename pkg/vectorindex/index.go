// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/inkwell-ai/fleet/pkg/utils"
)

const collectionName = "fleet"

// Index is an ordered store of (unit vector, metadata) pairs, indexed
// 0..n-1. It is backed by chromem-go for vector storage and
// similarity search, but keeps its own authoritative ordered metadata
// slice so the two persisted artifacts — the chromem vector file and the
// JSON metadata sidecar — stay independently inspectable, matching the
// spec's two-artifact persistence model (chromem's own export format has
// no document-enumeration API to recover one from the other).
type Index struct {
	mu sync.RWMutex

	db         *chromem.DB
	collection *chromem.Collection

	metas []Metadata

	vectorPath   string
	metadataPath string
	compress     bool
	mode         SimilarityMode
}

// Config configures a new Index.
type Config struct {
	VectorPath   string
	MetadataPath string
	Compress     bool
	Mode         SimilarityMode
}

func identityEmbeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("vectorindex: embedding function invoked but vectors are always precomputed")
}

// New creates an empty, in-memory-only index (no persistence configured).
func New(mode SimilarityMode) (*Index, error) {
	return newIndex(chromem.NewDB(), Config{Mode: mode})
}

// LoadOrCreate loads the index from its two artifacts if both are present,
// or creates a fresh empty index otherwise.
func LoadOrCreate(cfg Config) (*Index, error) {
	if cfg.VectorPath == "" {
		return nil, fmt.Errorf("vectorindex: VectorPath is required for persistence")
	}
	if cfg.MetadataPath == "" {
		return nil, fmt.Errorf("vectorindex: MetadataPath is required for persistence")
	}

	if dir := filepath.Dir(cfg.VectorPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector index directory: %w", err)
		}
	}

	_, vectorErr := os.Stat(cfg.VectorPath)
	_, metaErr := os.Stat(cfg.MetadataPath)

	var db *chromem.DB
	if vectorErr == nil && metaErr == nil {
		loaded, err := chromem.NewPersistentDB(cfg.VectorPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to load vector file %q: %w", cfg.VectorPath, err)
		}
		db = loaded
	} else {
		db = chromem.NewDB()
	}

	idx, err := newIndex(db, cfg)
	if err != nil {
		return nil, err
	}

	if vectorErr == nil && metaErr == nil {
		data, err := os.ReadFile(cfg.MetadataPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata sidecar %q: %w", cfg.MetadataPath, err)
		}
		if err := json.Unmarshal(data, &idx.metas); err != nil {
			return nil, fmt.Errorf("malformed metadata sidecar %q: %w", cfg.MetadataPath, err)
		}
	}

	return idx, nil
}

func newIndex(db *chromem.DB, cfg Config) (*Index, error) {
	col, err := db.GetOrCreateCollection(collectionName, nil, identityEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector collection: %w", err)
	}
	return &Index{
		db:           db,
		collection:   col,
		vectorPath:   cfg.VectorPath,
		metadataPath: cfg.MetadataPath,
		compress:     cfg.Compress,
		mode:         cfg.Mode,
	}, nil
}

// normalize returns a unit-length copy of v.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Add appends vectors and their metadata to the index, optionally
// persisting afterward when save is set.
func (idx *Index) Add(ctx context.Context, vectors [][]float32, metas []Metadata, save bool) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("vectorindex: got %d vectors but %d metadata entries", len(vectors), len(metas))
	}
	if len(vectors) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := len(idx.metas)
	docs := make([]chromem.Document, len(vectors))
	for i, v := range vectors {
		ordinal := start + i
		strMeta := map[string]string{
			"content":  metas[i].Content,
			"filename": metas[i].Filename,
			"type":     metas[i].Type,
		}
		for k, v := range metas[i].Extra {
			strMeta[k] = v
		}
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(ordinal),
			Content:   metas[i].Content,
			Metadata:  strMeta,
			Embedding: normalize(v),
		}
	}

	if err := idx.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents to vector index: %w", err)
	}
	idx.metas = append(idx.metas, metas...)

	if save {
		if err := idx.persistLocked(); err != nil {
			return fmt.Errorf("failed to persist vector index after add: %w", err)
		}
	}
	return nil
}

// Search returns the top-k most similar candidates to query, in
// descending-similarity order.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]Candidate, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.metas) == 0 || k <= 0 {
		return nil, nil
	}

	n := min(k, len(idx.metas))
	results, err := idx.collection.QueryEmbedding(ctx, normalize(query), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		ordinal, err := strconv.Atoi(r.ID)
		if err != nil || ordinal < 0 || ordinal >= len(idx.metas) {
			continue
		}
		out = append(out, Candidate{
			Index:      ordinal,
			Similarity: idx.scoreFor(r.Similarity),
			Metadata:   idx.metas[ordinal],
		})
	}
	return out, nil
}

// scoreFor converts chromem's native cosine similarity into the
// configured similarity mode.
func (idx *Index) scoreFor(cosine float32) float32 {
	if idx.mode != SimilarityL2 {
		return cosine
	}
	distance := 1 - cosine
	if distance < 0 {
		distance = 0
	}
	return float32(1 / (1 + float64(distance)))
}

// Count returns the number of stored entries.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.metas)
}

// Clear removes every stored entry and deletes persisted artifacts.
func (idx *Index) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("failed to clear vector collection: %w", err)
	}
	col, err := idx.db.GetOrCreateCollection(collectionName, nil, identityEmbeddingFunc)
	if err != nil {
		return fmt.Errorf("failed to recreate vector collection: %w", err)
	}
	idx.collection = col
	idx.metas = nil

	if idx.vectorPath == "" {
		return nil
	}
	for _, p := range []string{idx.vectorPath, idx.metadataPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %q: %w", p, err)
		}
	}
	return nil
}

// Save persists both artifacts. The pair is atomic from the caller's
// perspective: metadata and vectors are both written under the write
// lock, so no reader ever observes one without the other.
func (idx *Index) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.persistLocked()
}

func (idx *Index) persistLocked() error {
	if idx.vectorPath == "" {
		return nil
	}

	metaBytes, err := json.Marshal(idx.metas)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata sidecar: %w", err)
	}
	if err := utils.AtomicWriteFile(idx.metadataPath, metaBytes, 0644); err != nil {
		return fmt.Errorf("failed to write metadata sidecar: %w", err)
	}

	tmpVectorPath := idx.vectorPath + ".tmp"
	//nolint:staticcheck // chromem's replacement export API isn't available in this version
	if err := idx.db.Export(tmpVectorPath, idx.compress, ""); err != nil {
		return fmt.Errorf("failed to export vector file: %w", err)
	}
	if err := os.Rename(tmpVectorPath, idx.vectorPath); err != nil {
		return fmt.Errorf("failed to finalize vector file: %w", err)
	}

	return nil
}
