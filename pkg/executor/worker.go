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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/inkwell-ai/fleet/pkg/agentstore"
	"github.com/inkwell-ai/fleet/pkg/llmclient"
	"github.com/inkwell-ai/fleet/pkg/logger"
	"github.com/inkwell-ai/fleet/pkg/settings"
)

const (
	autoRestartDelay      = 2 * time.Second
	continueWaitCeiling   = 5 * time.Minute
	validationTemperature = 0.3
)

// outcome is the result of one pass through runTasks/generatePlan: what the
// caller (runWorker) should do with the agent's lifecycle next.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeHalted
	outcomeStopped
	outcomeFailed
	outcomeAborted // ctx already cancelled by an external Stop; store already updated
)

// errAborted signals that the worker observed cancellation and the caller
// (Stop) has already recorded the terminal state; runWorker must not make
// any further store writes.
var errAborted = errors.New("executor: worker aborted by cancellation")

// runWorker is the per-agent lifecycle loop: plan generation, task
// execution, halt/auto-restart.
func (e *Executor) runWorker(ctx context.Context, id string, h *workerHandle) {
	defer e.detachWorker(id)
	// A worker ended by cancellation of the caller's ctx (rather than by
	// Stop, which has already recorded stopped) is recorded as stopped here.
	defer func() {
		if ctx.Err() == nil {
			return
		}
		if a, err := e.agents.Get(id); err == nil && (a.Status == agentstore.StatusRunning || a.Status == agentstore.StatusHalted) {
			_ = e.agents.UpdateStatus(id, agentstore.StatusStopped, func(ag *agentstore.Agent) { ag.Cancelled = true })
			e.events.Emit(Event{Type: EventAgentStopped, AgentID: id})
		}
	}()

	for {
		a, err := e.agents.Get(id)
		if err != nil {
			logger.AgentLogger(id, 0).Error("worker: agent vanished from store", "error", err)
			return
		}

		if a.Tasklist == nil {
			switch e.generatePlan(ctx, id, h) {
			case outcomeAborted:
				return
			case outcomeFailed:
				return
			}
			a, err = e.agents.Get(id)
			if err != nil {
				logger.AgentLogger(id, 0).Error("worker: agent vanished from store after plan", "error", err)
				return
			}
			if a.Halt {
				if !e.enterHalt(ctx, id, h) {
					return
				}
			}
		}

		result := e.runTasks(ctx, id, h)
		switch result {
		case outcomeHalted, outcomeStopped, outcomeFailed, outcomeAborted:
			return
		case outcomeCompleted:
			if err := e.agents.UpdateStatus(id, agentstore.StatusCompleted, nil); err != nil {
				logger.AgentLogger(id, 0).Error("worker: failed to mark agent completed", "error", err)
				return
			}
			e.events.Emit(Event{Type: EventAgentCompleted, AgentID: id})

			a, err = e.agents.Get(id)
			if err != nil || !a.Auto {
				return
			}

			select {
			case <-time.After(autoRestartDelay):
			case <-ctx.Done():
				return
			}

			if err := e.agents.Update(id, func(ag *agentstore.Agent) {
				ag.Tasklist = nil
				ag.Goal = ""
				ag.Phase = 0
				ag.Phase0Response = nil
			}); err != nil {
				return
			}
			if err := e.agents.UpdateStatus(id, agentstore.StatusRunning, nil); err != nil {
				return
			}
			e.events.Emit(Event{Type: EventAgentAutoRestart, AgentID: id})
		}
	}
}

// enterHalt transitions the agent to halted and blocks this goroutine
// waiting for Continue, up to the 5-minute ceiling. Returns false if
// the wait times out or ctx is cancelled, meaning the worker gives up and
// the goroutine should exit; a later Continue call relaunches a fresh one.
func (e *Executor) enterHalt(ctx context.Context, id string, h *workerHandle) bool {
	resumeCh := h.armResume()
	if err := e.agents.UpdateStatus(id, agentstore.StatusHalted, nil); err != nil {
		return false
	}
	e.events.Emit(Event{Type: EventAgentHalted, AgentID: id})

	if !awaitContinue(ctx, resumeCh, continueWaitCeiling) {
		return false
	}
	if err := e.agents.UpdateStatus(id, agentstore.StatusRunning, nil); err != nil {
		return false
	}
	e.events.Emit(Event{Type: EventAgentContinued, AgentID: id})
	return true
}

// generatePlan runs phase 0: compose the planning prompt, stream the LLM
// response, extract and validate the tasklist.
func (e *Executor) generatePlan(ctx context.Context, id string, h *workerHandle) outcome {
	a, err := e.agents.Get(id)
	if err != nil {
		return outcomeFailed
	}

	hiddenContext, _ := e.settings.GetPrompt(settings.PromptHiddenContext)
	template, err := e.settings.GetPrompt(settings.PromptPhase0Planning)
	if err != nil {
		return outcomeFailed
	}
	prompt := hiddenContext + "\n\n" + settings.FormatPrompt(template, map[string]string{
		"agent_name":    a.Name,
		"agent_context": a.Context,
	})

	llmCfg := e.settings.GetLLMConfig()
	var raw strings.Builder
	result, err := e.callLLM(ctx, llmCfg, llmclient.Request{Prompt: prompt, Temperature: &a.Temperature, Stream: true},
		func(fragment string) { raw.WriteString(fragment) })
	if err != nil {
		if errors.Is(err, errAborted) {
			return outcomeAborted
		}
		return e.failPlan(id, raw.String()+errSuffix(err))
	}

	tl, err := ExtractTasklist(result.Text)
	if err != nil {
		return e.failPlan(id, result.Text)
	}

	if err := e.agents.Update(id, func(ag *agentstore.Agent) {
		ag.Tasklist = tl
		ag.Goal = tl.Goal
		raw := result.Text
		ag.Phase0Response = &raw
	}); err != nil {
		logger.AgentLogger(id, 0).Error("worker: failed to persist generated tasklist", "error", err)
		return outcomeFailed
	}
	e.events.Emit(Event{Type: EventWorkflowStatus, AgentID: id, Data: map[string]any{"status": "tasklist_generated", "goal": tl.Goal}})
	return outcomeCompleted
}

func (e *Executor) failPlan(id, raw string) outcome {
	_ = e.agents.Update(id, func(ag *agentstore.Agent) { ag.Phase0Response = &raw })
	_ = e.agents.UpdateStatus(id, agentstore.StatusTasklistError, nil)
	e.events.Emit(Event{Type: EventAgentFailed, AgentID: id, Data: map[string]any{"reason": "tasklist_error"}})
	return outcomeFailed
}

func errSuffix(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf(" [error: %v]", err)
}

// runTasks executes every task still in TaskCreated status, in ascending
// id order. This uniformly covers a fresh run, a resume after halt, and a
// redo (the caller resets exactly the tasks it wants re-executed to
// TaskCreated before the worker is (re)started).
func (e *Executor) runTasks(ctx context.Context, id string, h *workerHandle) outcome {
	for {
		a, err := e.agents.Get(id)
		if err != nil {
			return outcomeFailed
		}
		if a.Tasklist == nil {
			return outcomeCompleted
		}

		tasks := append([]agentstore.Task(nil), a.Tasklist.Tasks...)
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

		idx := -1
		for i, t := range tasks {
			if t.Status == agentstore.TaskCreated {
				idx = i
				break
			}
		}
		if idx == -1 {
			return outcomeCompleted
		}

		if ctx.Err() != nil {
			return outcomeAborted
		}

		result := e.runOneTask(ctx, id, tasks, idx, h)
		switch result {
		case outcomeStopped, outcomeFailed, outcomeAborted:
			return result
		}

		isLast := idx == len(tasks)-1
		a, err = e.agents.Get(id)
		if err != nil {
			return outcomeFailed
		}
		if !isLast && a.Halt {
			if !e.enterHalt(ctx, id, h) {
				return outcomeHalted
			}
		}
	}
}

// runOneTask executes and validates a single task.
func (e *Executor) runOneTask(ctx context.Context, id string, tasks []agentstore.Task, idx int, h *workerHandle) outcome {
	task := tasks[idx]
	a, err := e.agents.Get(id)
	if err != nil {
		return outcomeFailed
	}

	if err := e.agents.Update(id, func(ag *agentstore.Agent) {
		t := ag.Tasklist.TaskByID(task.ID)
		t.Status = agentstore.TaskRunning
	}); err != nil {
		return outcomeFailed
	}
	e.events.Emit(Event{Type: EventTaskRunning, AgentID: id, Data: map[string]any{"task_id": task.ID}})

	isFirst := idx == 0
	additionalContext := e.composeAdditionalContext(ctx, id, a, task)
	prompt := e.composeTaskPrompt(a, tasks, task, isFirst, additionalContext)

	llmCfg := e.settings.GetLLMConfig()
	genResult, err := e.callLLM(ctx, llmCfg, llmclient.Request{Prompt: prompt, Temperature: &a.Temperature, Stream: true},
		func(fragment string) {
			e.events.Emit(Event{Type: EventTaskChunk, AgentID: id, Data: map[string]any{"task_id": task.ID, "chunk": fragment}})
		})

	if err != nil {
		return e.handleTaskGenerationError(ctx, id, task.ID, err)
	}

	validation := e.validateTask(ctx, a, task, genResult.Text)
	return e.recordTaskResult(id, task.ID, genResult.Text, validation, a)
}

func (e *Executor) handleTaskGenerationError(ctx context.Context, id string, taskID int, err error) outcome {
	cancelled := errors.Is(err, errAborted) || llmclient.IsCancelled(err) || ctx.Err() != nil
	status := agentstore.TaskFailed
	if cancelled {
		status = agentstore.TaskCancelled
	}
	if updErr := e.agents.Update(id, func(ag *agentstore.Agent) {
		t := ag.Tasklist.TaskByID(taskID)
		t.Status = status
	}); updErr != nil {
		logger.AgentLogger(id, taskID).Error("worker: failed to record task failure status", "error", updErr)
	}
	e.events.Emit(Event{Type: EventTaskFailed, AgentID: id, Data: map[string]any{"task_id": taskID, "error": err.Error()}})

	if cancelled {
		if ctx.Err() != nil && !errors.Is(err, errAborted) {
			_ = e.agents.UpdateStatus(id, agentstore.StatusStopped, func(ag *agentstore.Agent) { ag.Cancelled = true })
			e.events.Emit(Event{Type: EventAgentStopped, AgentID: id})
		}
		return outcomeStopped
	}

	// A transport/timeout failure mid-stream: abort to stopped so the user
	// may resume via continue-from-failed.
	_ = e.agents.UpdateStatus(id, agentstore.StatusStopped, nil)
	e.events.Emit(Event{Type: EventAgentStopped, AgentID: id})
	return outcomeStopped
}

func (e *Executor) validateTask(ctx context.Context, a *agentstore.Agent, task agentstore.Task, output string) agentstore.Validation {
	template, err := e.settings.GetPrompt(settings.PromptTaskValidation)
	if err != nil {
		return agentstore.Validation{IsValid: false, Score: 0, Reason: "Validation format error"}
	}
	prompt := settings.FormatPrompt(template, map[string]string{
		"task_name":        task.Name,
		"task_description": task.Description,
		"expected_output":  task.ExpectedOutput,
		"actual_output":    output,
	})

	llmCfg := e.settings.GetLLMConfig()
	temp := validationTemperature
	result, err := e.callLLM(ctx, llmCfg, llmclient.Request{Prompt: prompt, Temperature: &temp, Stream: false}, nil)
	if err != nil {
		return agentstore.Validation{IsValid: false, Score: 0, Reason: fmt.Sprintf("validator call failed: %v", err)}
	}
	return ExtractValidation(result.Text)
}

func (e *Executor) recordTaskResult(id string, taskID int, output string, validation agentstore.Validation, a *agentstore.Agent) outcome {
	status := agentstore.TaskFailed
	if validation.IsValid {
		status = agentstore.TaskCompleted
	}
	now := time.Now()

	if err := e.agents.Update(id, func(ag *agentstore.Agent) {
		t := ag.Tasklist.TaskByID(taskID)
		t.Output = &output
		v := validation
		t.Validation = &v
		t.Status = status
		t.CompletedAt = &now
	}); err != nil {
		return outcomeFailed
	}

	evt := EventTaskFailed
	if status == agentstore.TaskCompleted {
		evt = EventTaskCompleted
	}
	e.events.Emit(Event{Type: evt, AgentID: id, Data: map[string]any{
		"task_id": taskID, "output": output, "is_valid": validation.IsValid, "score": validation.Score, "reason": validation.Reason,
	}})
	e.events.Emit(Event{Type: EventTaskValidation, AgentID: id, Data: map[string]any{
		"task_id": taskID, "is_valid": validation.IsValid, "score": validation.Score, "reason": validation.Reason,
	}})

	if validation.IsValid && e.retriever != nil {
		task := a.Tasklist.TaskByID(taskID)
		taskName := ""
		if task != nil {
			taskName = task.Name
		}
		goal := a.Goal
		go e.retriever.IngestTaskOutput(context.Background(), a.Name, taskName, goal, output, taskID, now)
	}

	return outcomeCompleted
}

// composeTaskPrompt builds the first-task or sequential-task prompt
//.
func (e *Executor) composeTaskPrompt(a *agentstore.Agent, tasks []agentstore.Task, task agentstore.Task, isFirst bool, additionalContext string) string {
	if isFirst {
		template, _ := e.settings.GetPrompt(settings.PromptTaskExecutionFirst)
		return settings.FormatPrompt(template, map[string]string{
			"agent_name":      a.Name,
			"goal":            a.Goal,
			"task_name":       task.Name,
			"task_description": task.Description,
			"expected_output": task.ExpectedOutput,
			"context":         additionalContext,
		})
	}

	template, _ := e.settings.GetPrompt(settings.PromptTaskExecutionSequential)
	return settings.FormatPrompt(template, map[string]string{
		"agent_name":             a.Name,
		"goal":                   a.Goal,
		"task_id":                strconv.Itoa(task.ID),
		"task_name":              task.Name,
		"task_description":       task.Description,
		"expected_output":        task.ExpectedOutput,
		"previous_tasks_context": previousTasksContext(tasks, task.ID),
		"additional_context":     additionalContext,
	})
}

// previousTasksContext concatenates prior completed tasks' outputs with
// separator lines.
func previousTasksContext(tasks []agentstore.Task, beforeID int) string {
	var sb strings.Builder
	for _, t := range tasks {
		if t.ID >= beforeID || t.Status != agentstore.TaskCompleted || t.Output == nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(fmt.Sprintf("Task %q: %s", t.Name, *t.Output))
	}
	return sb.String()
}

// composeAdditionalContext calls the retriever, if enabled, and formats the
// returned documents into the context/additional_context slot.
func (e *Executor) composeAdditionalContext(ctx context.Context, agentID string, a *agentstore.Agent, task agentstore.Task) string {
	if e.retriever == nil {
		return ""
	}
	retrievalCfg := e.settings.GetRetrievalConfig()
	if !retrievalCfg.Enabled {
		return ""
	}

	result, err := e.retriever.RetrieveForTask(ctx, agentID, task.Description, a.Context, 0, 0)
	if err != nil || len(result.Documents) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, d := range result.Documents {
		if sb.Len() > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(fmt.Sprintf("[%s] %s", d.Filename, d.Content))
	}

	text := sb.String()
	if e.tokens != nil && retrievalCfg.MaxContextLength > 0 {
		text = e.tokens.TruncateToFit(text, retrievalCfg.MaxContextLength)
	}
	return text
}
