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

package executor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/inkwell-ai/fleet/pkg/agentstore"
	"github.com/inkwell-ai/fleet/pkg/llmclient"
	"github.com/inkwell-ai/fleet/pkg/settings"
	"github.com/inkwell-ai/fleet/pkg/utils"
	"github.com/inkwell-ai/fleet/pkg/vectorindex"
)

const defaultConcurrency = 8

// Executor runs one worker goroutine per started agent, bounding the
// number of concurrent blocking LLM calls across all of them to a single
// semaphore-backed pool.
type Executor struct {
	agents    *agentstore.Store
	llm       *llmclient.Client
	retriever *vectorindex.Retriever
	settings  *settings.Store
	events    EventSink
	pool      *semaphore.Weighted
	tokens    *utils.TokenCounter

	mu      sync.Mutex
	handles map[string]*workerHandle
}

// Config bundles the collaborators an Executor is built from.
type Config struct {
	Agents      *agentstore.Store
	LLM         *llmclient.Client
	Retriever   *vectorindex.Retriever // may be nil when retrieval is disabled entirely
	Settings    *settings.Store
	Events      EventSink
	Concurrency int64 // <= 0 uses defaultConcurrency
}

// New builds an Executor from its collaborators.
func New(cfg Config) *Executor {
	events := cfg.Events
	if events == nil {
		events = noopEventSink{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var tokens *utils.TokenCounter
	if cfg.Settings != nil {
		if tc, err := utils.NewTokenCounter(cfg.Settings.GetLLMConfig().Model); err == nil {
			tokens = tc
		}
	}

	return &Executor{
		agents:    cfg.Agents,
		llm:       cfg.LLM,
		retriever: cfg.Retriever,
		settings:  cfg.Settings,
		events:    events,
		pool:      semaphore.NewWeighted(concurrency),
		tokens:    tokens,
		handles:   make(map[string]*workerHandle),
	}
}

// Create registers a new, not-yet-started agent.
func (e *Executor) Create(name, agentContext string, temperature float64, auto bool) (agentstore.Agent, error) {
	return e.agents.Create(name, agentContext, temperature, auto)
}

// Start launches the worker for a created (or halted/stopped/failed,
// redone) agent. ctx bounds the entire worker lifetime; cancelling it is
// equivalent to Stop.
func (e *Executor) Start(ctx context.Context, id string) error {
	a, err := e.agents.Get(id)
	if err != nil {
		return err
	}
	if a.Status == agentstore.StatusRunning {
		return fmt.Errorf("executor: agent %s is already running", id)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	h := newWorkerHandle(cancel)

	if err := e.agents.SetWorker(id, h); err != nil {
		cancel()
		return err
	}
	e.mu.Lock()
	e.handles[id] = h
	e.mu.Unlock()

	if err := e.agents.UpdateStatus(id, agentstore.StatusRunning, func(ag *agentstore.Agent) { ag.Cancelled = false }); err != nil {
		e.detachWorker(id)
		cancel()
		return err
	}
	e.events.Emit(Event{Type: EventAgentStarted, AgentID: id, Data: map[string]any{"name": a.Name}})

	go e.runWorker(workerCtx, id, h)
	return nil
}

// SetHalt sets or clears the agent's halt flag. The worker
// observes it at the next boundary; it does not interrupt work in flight.
func (e *Executor) SetHalt(id string, halt bool) error {
	return e.agents.Update(id, func(ag *agentstore.Agent) { ag.Halt = halt })
}

// Continue resumes a halted agent, or a stopped agent via
// continue-from-failed (reset the first failed task), relaunching a
// worker if the prior one already gave up.
func (e *Executor) Continue(ctx context.Context, id string) error {
	e.mu.Lock()
	h, live := e.handles[id]
	e.mu.Unlock()

	if live {
		h.resume()
		return nil
	}

	a, err := e.agents.Get(id)
	if err != nil {
		return err
	}
	switch a.Status {
	case agentstore.StatusHalted:
		// nothing further to reset; runWorker resumes at the first
		// TaskCreated task it finds.
	case agentstore.StatusStopped:
		if err := e.resetFirstFailedTask(id); err != nil {
			return err
		}
	default:
		return fmt.Errorf("executor: agent %s is not halted or stopped", id)
	}
	return e.Start(ctx, id)
}

// resetFirstFailedTask implements continue-from-failed: the first task
// (ascending id) with status failed or cancelled is reset to created.
func (e *Executor) resetFirstFailedTask(id string) error {
	return e.agents.Update(id, func(ag *agentstore.Agent) {
		if ag.Tasklist == nil {
			return
		}
		var first *agentstore.Task
		for i := range ag.Tasklist.Tasks {
			t := &ag.Tasklist.Tasks[i]
			if (t.Status == agentstore.TaskFailed || t.Status == agentstore.TaskCancelled) && (first == nil || t.ID < first.ID) {
				first = t
			}
		}
		if first == nil {
			return
		}
		first.Status = agentstore.TaskCreated
		first.Output = nil
		first.Validation = nil
		first.CompletedAt = nil
	})
}

// Stop cancels the running worker's context and forces the agent to
// stopped immediately, regardless of where the worker currently is
//.
func (e *Executor) Stop(id string) error {
	e.mu.Lock()
	h, live := e.handles[id]
	e.mu.Unlock()

	if err := e.agents.UpdateStatus(id, agentstore.StatusStopped, func(ag *agentstore.Agent) { ag.Cancelled = true }); err != nil {
		return err
	}
	if live {
		h.Cancel()
	}
	e.events.Emit(Event{Type: EventAgentStopped, AgentID: id})
	return nil
}

// RedoTask resets one task to created and restarts the worker. The worker
// runs every task in created status, in ascending id order, so any later
// task that has not run yet also runs after the reset one; tasks in other
// states are left untouched.
func (e *Executor) RedoTask(ctx context.Context, id string, taskID int) error {
	a, err := e.agents.Get(id)
	if err != nil {
		return err
	}
	if a.Status == agentstore.StatusRunning {
		return fmt.Errorf("executor: agent %s is running; stop or halt before redo", id)
	}
	if err := e.agents.Update(id, func(ag *agentstore.Agent) {
		if ag.Tasklist == nil {
			return
		}
		if t := ag.Tasklist.TaskByID(taskID); t != nil {
			t.Status = agentstore.TaskCreated
			t.Output = nil
			t.Validation = nil
			t.CompletedAt = nil
		}
	}); err != nil {
		return err
	}
	return e.Start(ctx, id)
}

// RedoTasklist clears the agent's tasklist entirely and restarts plan
// generation.
func (e *Executor) RedoTasklist(ctx context.Context, id string) error {
	a, err := e.agents.Get(id)
	if err != nil {
		return err
	}
	if a.Status == agentstore.StatusRunning {
		return fmt.Errorf("executor: agent %s is running; stop or halt before redo", id)
	}
	if err := e.agents.Update(id, func(ag *agentstore.Agent) {
		ag.Tasklist = nil
		ag.Goal = ""
		ag.Phase = 0
		ag.Phase0Response = nil
	}); err != nil {
		return err
	}
	return e.Start(ctx, id)
}

func (e *Executor) detachWorker(id string) {
	e.mu.Lock()
	delete(e.handles, id)
	e.mu.Unlock()
	_ = e.agents.SetWorker(id, nil)
}

// callLLM bounds the call to the configured concurrency pool and treats
// ctx cancellation as errAborted so worker control flow can distinguish a
// deliberate Stop from a genuine transport failure.
func (e *Executor) callLLM(ctx context.Context, cfg settings.LLMConfig, req llmclient.Request, progress llmclient.ProgressCallback) (llmclient.Result, error) {
	if ctx.Err() != nil {
		return llmclient.Result{}, errAborted
	}
	if err := e.pool.Acquire(ctx, 1); err != nil {
		return llmclient.Result{}, errAborted
	}
	defer e.pool.Release(1)

	checker := func() bool { return ctx.Err() != nil }
	result, err := e.llm.Call(ctx, cfg, req, progress, checker)
	if err != nil && ctx.Err() != nil {
		return result, errAborted
	}
	return result, err
}
