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
	"fmt"
	"log/slog"
	"time"

	"github.com/inkwell-ai/fleet/pkg/embedder"
	"github.com/inkwell-ai/fleet/pkg/settings"
)

const previewLength = 280

// Document is one retrieved document, as returned to a task executor and
// (in truncated form) to transport.
type Document struct {
	Content  string  `json:"content"`
	Preview  string  `json:"preview"`
	Score    float32 `json:"score"`
	Filename string  `json:"filename"`
	Type     string  `json:"type"`
	Index    int     `json:"index"`
}

// Result is what retrieve_for_task returns.
type Result struct {
	Documents      []Document
	ThresholdUsed  float64
	RetrievalTime  time.Duration
	ThresholdStats ThresholdStats
	Query          string
}

// EventSink receives the three retrieval events the retriever emits.
// Implementations must not block; the retriever calls these synchronously.
type EventSink interface {
	ToolCallStart(agentID, taskQuery string)
	ToolThresholdAttempt(agentID string, attempt ThresholdAttempt)
	ToolCallComplete(agentID string, result Result)
}

type noopEventSink struct{}

func (noopEventSink) ToolCallStart(string, string)                  {}
func (noopEventSink) ToolThresholdAttempt(string, ThresholdAttempt) {}
func (noopEventSink) ToolCallComplete(string, Result)               {}

// Retriever wraps an Index with the embedding step and event emission
// around each task's retrieval call.
type Retriever struct {
	index    *Index
	embedder embedder.Embedder
	cfg      settings.RetrievalConfig
	events   EventSink
}

// NewRetriever builds a Retriever. events may be nil, in which case events
// are dropped.
func NewRetriever(idx *Index, emb embedder.Embedder, cfg settings.RetrievalConfig, events EventSink) *Retriever {
	if events == nil {
		events = noopEventSink{}
	}
	return &Retriever{index: idx, embedder: emb, cfg: cfg, events: events}
}

// RetrieveForTask performs the full retrieval flow: short-circuit if
// disabled, compose the search text, embed it, run the dynamic-threshold
// descent, and emit progress events.
func (r *Retriever) RetrieveForTask(ctx context.Context, agentID, taskQuery, agentContext string, hitTarget, topK int) (Result, error) {
	if !r.cfg.Enabled {
		return Result{Query: taskQuery}, nil
	}

	if hitTarget <= 0 {
		hitTarget = r.cfg.HitTarget
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	searchText := taskQuery
	if agentContext != "" {
		searchText = agentContext + "\n\n" + taskQuery
	}

	r.events.ToolCallStart(agentID, taskQuery)
	start := time.Now()

	vec, err := r.embedder.Embed(ctx, searchText)
	if err != nil {
		return Result{}, fmt.Errorf("retriever: failed to embed search text: %w", err)
	}

	candidates, stats, err := r.index.SearchDynamic(ctx, vec, topK, hitTarget, r.cfg.Step, 1.0)
	if err != nil {
		return Result{}, fmt.Errorf("retriever: dynamic search failed: %w", err)
	}
	for _, attempt := range stats.Progression {
		r.events.ToolThresholdAttempt(agentID, attempt)
	}

	docs := make([]Document, len(candidates))
	for i, c := range candidates {
		docs[i] = Document{
			Content:  c.Metadata.Content,
			Preview:  preview(c.Metadata.Content),
			Score:    c.Similarity,
			Filename: c.Metadata.Filename,
			Type:     c.Metadata.Type,
			Index:    c.Index,
		}
	}

	result := Result{
		Documents:      docs,
		ThresholdUsed:  stats.FinalThreshold,
		RetrievalTime:  time.Since(start),
		ThresholdStats: stats,
		Query:          taskQuery,
	}
	r.events.ToolCallComplete(agentID, result)
	return result, nil
}

// IngestTaskOutput appends a validated task's output text to the index.
// Any failure is logged, never propagated,
// so that a retrieval problem never fails an otherwise-successful task.
func (r *Retriever) IngestTaskOutput(ctx context.Context, agentName, taskName, goal, output string, taskID int, timestamp time.Time) {
	if !r.cfg.Enabled || !r.cfg.StoreTaskOutputs {
		return
	}

	vec, err := r.embedder.Embed(ctx, output)
	if err != nil {
		slog.Warn("task output ingestion: embed failed", "agent", agentName, "task", taskName, "error", err)
		return
	}

	meta := Metadata{
		Content:  output,
		Filename: fmt.Sprintf("%s_%d.txt", agentName, taskID),
		Type:     "task_output",
		Extra: map[string]string{
			"agent_name": agentName,
			"task_name":  taskName,
			"goal":       goal,
			"timestamp":  timestamp.Format(time.RFC3339),
		},
	}

	if err := r.index.Add(ctx, [][]float32{vec}, []Metadata{meta}, true); err != nil {
		slog.Warn("task output ingestion: index add failed", "agent", agentName, "task", taskName, "error", err)
	}
}

func preview(content string) string {
	if len(content) <= previewLength {
		return content
	}
	return content[:previewLength] + "..."
}
