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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/inkwell-ai/fleet/pkg/agentstore"
	"github.com/inkwell-ai/fleet/pkg/embedders"
	"github.com/inkwell-ai/fleet/pkg/executor"
	"github.com/inkwell-ai/fleet/pkg/llmclient"
	"github.com/inkwell-ai/fleet/pkg/settings"
	"github.com/inkwell-ai/fleet/pkg/utils"
	"github.com/inkwell-ai/fleet/pkg/vectorindex"
)

// RunCmd builds the fleet core from the on-disk settings document and runs
// one demo agent end to end, serving a liveness mux alongside it.
type RunCmd struct {
	Name        string  `help:"Agent name." default:"demo-journalist"`
	Context     string  `help:"Agent's working context / beat." default:"Covers general local news for a small city desk."`
	Temperature float64 `help:"Sampling temperature." default:"0.7"`
	Auto        bool    `help:"Auto-restart with a fresh goal after completion."`
	Port        int     `help:"Port for the liveness/introspection mux." default:"8080"`
}

func (c *RunCmd) Run(ctx context.Context, cli *CLI) error {
	fleetDir, err := utils.EnsureFleetDir(cli.DataDir)
	if err != nil {
		return err
	}

	settingsStore := settings.NewStore(filepath.Join(fleetDir, "settings.yaml"))
	if err := settingsStore.Load(); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	agentStore := agentstore.NewStore(filepath.Join(fleetDir, "agents.json"))
	if err := agentStore.Load(); err != nil {
		return fmt.Errorf("failed to load agent store: %w", err)
	}

	llmEvents := &slogLLMEvents{}
	llm := llmclient.New(llmEvents)

	retriever, closeRetriever, err := buildRetriever(settingsStore)
	if err != nil {
		return fmt.Errorf("failed to build retriever: %w", err)
	}
	if closeRetriever != nil {
		defer closeRetriever()
	}

	events := &slogEventSink{}
	ex := executor.New(executor.Config{
		Agents:    agentStore,
		LLM:       llm,
		Retriever: retriever,
		Settings:  settingsStore,
		Events:    events,
	})

	mux := newMux(agentStore)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", c.Port), Handler: mux}
	go func() {
		slog.Info("fleetd liveness mux listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("liveness mux stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	agent, err := ex.Create(c.Name, c.Context, c.Temperature, c.Auto)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	slog.Info("agent created", "id", agent.ID, "name", agent.Name)

	if err := ex.Start(ctx, agent.ID); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	return waitForTerminal(ctx, agentStore, agent.ID)
}

// waitForTerminal polls the agent record until it reaches a terminal
// status or ctx is cancelled. The executor has no completion channel of
// its own; the demo
// entrypoint is free to observe state however suits it.
func waitForTerminal(ctx context.Context, agents *agentstore.Store, id string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a, err := agents.GetSerializable(id)
			if err != nil {
				return err
			}
			switch a.Status {
			case agentstore.StatusCompleted, agentstore.StatusFailed, agentstore.StatusStopped, agentstore.StatusTasklistError:
				slog.Info("agent reached terminal status", "id", id, "status", a.Status)
				return nil
			case agentstore.StatusHalted:
				slog.Info("agent halted; fleetd demo loop does not auto-continue", "id", id)
				return nil
			}
		}
	}
}

// buildRetriever constructs the vector index and retriever when retrieval
// is enabled in settings, or returns a nil retriever otherwise.
func buildRetriever(store *settings.Store) (*vectorindex.Retriever, func(), error) {
	cfg := store.GetRetrievalConfig()
	if !cfg.Enabled {
		return nil, nil, nil
	}

	idx, err := vectorindex.LoadOrCreate(vectorindex.Config{
		VectorPath:   cfg.IndexPath,
		MetadataPath: cfg.MetadataPath,
		Mode:         vectorindex.SimilarityInnerProduct,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load vector index: %w", err)
	}

	emb, err := embedders.FromModelName("", cfg.EmbeddingModel, "", "", cfg.Dimension)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build embedder %q: %w", cfg.EmbeddingModel, err)
	}

	retriever := vectorindex.NewRetriever(idx, emb, cfg, &slogRetrieverEvents{})
	return retriever, func() { _ = emb.Close() }, nil
}
