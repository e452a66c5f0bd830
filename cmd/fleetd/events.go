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
	"log/slog"

	"github.com/inkwell-ai/fleet/pkg/executor"
	"github.com/inkwell-ai/fleet/pkg/llmclient"
	"github.com/inkwell-ai/fleet/pkg/vectorindex"
)

// slogEventSink logs every workflow/task/agent lifecycle event the
// executor publishes. fleetd has no transport layer of its own, so
// slog is the external interface this demo entrypoint offers.
type slogEventSink struct{}

func (slogEventSink) Emit(e executor.Event) {
	slog.Info(string(e.Type), "agent_id", e.AgentID, "data", e.Data)
}

// slogLLMEvents logs the LLM client's request/response action events.
type slogLLMEvents struct{}

func (slogLLMEvents) LLMRequest(e llmclient.RequestEvent) {
	slog.Debug("llm_request", "endpoint", e.Endpoint, "model", e.Model, "temperature", e.Temperature)
}

func (slogLLMEvents) LLMResponse(e llmclient.ResponseEvent) {
	if !e.Success {
		slog.Warn("llm_response", "success", false, "error", e.Error)
		return
	}
	slog.Debug("llm_response", "success", true, "response_length", e.ResponseLength, "generation_time", e.GenerationTime)
}

// slogRetrieverEvents logs the retriever's tool-call and threshold-descent
// events.
type slogRetrieverEvents struct{}

func (slogRetrieverEvents) ToolCallStart(agentID, taskQuery string) {
	slog.Debug("tool_call_start", "agent_id", agentID, "task_query", taskQuery)
}

func (slogRetrieverEvents) ToolThresholdAttempt(agentID string, attempt vectorindex.ThresholdAttempt) {
	slog.Debug("tool_threshold_attempt", "agent_id", agentID, "threshold", attempt.Threshold, "hits", attempt.HitCount)
}

func (slogRetrieverEvents) ToolCallComplete(agentID string, result vectorindex.Result) {
	slog.Debug("tool_call_complete", "agent_id", agentID, "documents", len(result.Documents), "threshold_used", result.ThresholdUsed)
}
