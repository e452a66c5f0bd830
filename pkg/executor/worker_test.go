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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/fleet/pkg/agentstore"
	"github.com/inkwell-ai/fleet/pkg/llmclient"
	"github.com/inkwell-ai/fleet/pkg/settings"
)

// recordingSink collects every event emitted during a test, safe for
// concurrent use since the worker goroutine and the test goroutine both
// touch it.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingSink) hasType(t EventType) bool {
	for _, e := range r.snapshot() {
		if e.Type == t {
			return true
		}
	}
	return false
}

type chatRequest struct {
	Messages []struct {
		Content string `json:"content"`
	} `json:"messages"`
}

func requestPrompt(t *testing.T, r *http.Request) string {
	t.Helper()
	var body chatRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	require.NotEmpty(t, body.Messages)
	return body.Messages[0].Content
}

func chatResponseBody(text string) string {
	escaped, _ := json.Marshal(text)
	return fmt.Sprintf(`{"choices":[{"message":{"content":%s}}]}`, escaped)
}

// sseResponseBody renders text as a one-fragment server-sent-event stream,
// the shape the client reads for requests that set stream=true (plan
// generation and task execution).
func sseResponseBody(text string) string {
	escaped, _ := json.Marshal(text)
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%s}}]}\ndata: [DONE]\n", escaped)
}

// newTestExecutor wires an Executor against a real settings.Store and
// agentstore.Store rooted under a temp directory, and a real
// llmclient.Client pointed at srv.
func newTestExecutor(t *testing.T, srv *httptest.Server) (*Executor, *agentstore.Store, *recordingSink) {
	t.Helper()
	dir := t.TempDir()

	st := settings.NewStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, st.Load())
	cfg := st.GetLLMConfig()
	cfg.URL = srv.URL
	cfg.TimeoutSeconds = 5
	require.NoError(t, st.UpdateLLMConfig(cfg))

	agents := agentstore.NewStore(filepath.Join(dir, "agents.json"))
	require.NoError(t, agents.Load())

	sink := &recordingSink{}
	ex := New(Config{
		Agents:   agents,
		LLM:      llmclient.New(nil),
		Settings: st,
		Events:   sink,
	})
	return ex, agents, sink
}

func waitForStatus(t *testing.T, agents *agentstore.Store, id string, want agentstore.Status, timeout time.Duration) agentstore.Agent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		a, err := agents.GetSerializable(id)
		require.NoError(t, err)
		if a.Status == want {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	a, err := agents.GetSerializable(id)
	require.NoError(t, err)
	t.Fatalf("timed out waiting for status %q, last seen %q", want, a.Status)
	return a
}

const planResponse = `{"goal":"cover the harbor story","tasks":[` +
	`{"id":1,"name":"gather","description":"collect sources","expected_output":"a source list"},` +
	`{"id":2,"name":"write","description":"draft the story","expected_output":"a draft article"}]}`

func TestWorker_HappyPath_CompletesAllTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prompt := requestPrompt(t, r)
		switch {
		case strings.Contains(prompt, "Produce a JSON object with a non-empty"):
			fmt.Fprint(w, sseResponseBody(planResponse))
		case strings.Contains(prompt, "Judge whether the actual output satisfies"):
			fmt.Fprint(w, chatResponseBody(`{"is_valid":true,"score":90,"reason":"meets the bar"}`))
		default:
			fmt.Fprint(w, sseResponseBody("task output text"))
		}
	}))
	defer srv.Close()

	ex, agents, sink := newTestExecutor(t, srv)
	a, err := ex.Create("harbor-desk", "covers the harbor beat", 0.7, false)
	require.NoError(t, err)

	require.NoError(t, ex.Start(context.Background(), a.ID))
	final := waitForStatus(t, agents, a.ID, agentstore.StatusCompleted, 2*time.Second)

	require.NotNil(t, final.Tasklist)
	for _, task := range final.Tasklist.Tasks {
		assert.Equal(t, agentstore.TaskCompleted, task.Status)
		require.NotNil(t, task.Output)
		assert.Equal(t, "task output text", *task.Output)
	}
	assert.True(t, sink.hasType(EventAgentCompleted))
	assert.True(t, sink.hasType(EventTaskCompleted))
}

func TestWorker_PlanValidationFailure_EntersTasklistError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseResponseBody("not json at all"))
	}))
	defer srv.Close()

	ex, agents, sink := newTestExecutor(t, srv)
	a, err := ex.Create("broken-desk", "broken context", 0.5, false)
	require.NoError(t, err)

	require.NoError(t, ex.Start(context.Background(), a.ID))
	final := waitForStatus(t, agents, a.ID, agentstore.StatusTasklistError, 2*time.Second)

	require.NotNil(t, final.Phase0Response)
	assert.Equal(t, "not json at all", *final.Phase0Response)
	assert.True(t, sink.hasType(EventAgentFailed))
}

func TestWorker_ValidatorRejectsFirstTask_StillCompletesOnSecond(t *testing.T) {
	var validationCalls int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prompt := requestPrompt(t, r)
		switch {
		case strings.Contains(prompt, "Produce a JSON object with a non-empty"):
			fmt.Fprint(w, sseResponseBody(planResponse))
		case strings.Contains(prompt, "Judge whether the actual output satisfies"):
			mu.Lock()
			validationCalls++
			n := validationCalls
			mu.Unlock()
			if n == 1 {
				fmt.Fprint(w, chatResponseBody(`{"is_valid":false,"score":10,"reason":"missing sources"}`))
			} else {
				fmt.Fprint(w, chatResponseBody(`{"is_valid":true,"score":95,"reason":"solid draft"}`))
			}
		default:
			fmt.Fprint(w, sseResponseBody("task output text"))
		}
	}))
	defer srv.Close()

	ex, agents, _ := newTestExecutor(t, srv)
	a, err := ex.Create("harbor-desk", "covers the harbor beat", 0.7, false)
	require.NoError(t, err)

	require.NoError(t, ex.Start(context.Background(), a.ID))
	final := waitForStatus(t, agents, a.ID, agentstore.StatusCompleted, 2*time.Second)

	require.NotNil(t, final.Tasklist)
	require.Len(t, final.Tasklist.Tasks, 2)
	assert.Equal(t, agentstore.TaskFailed, final.Tasklist.Tasks[0].Status)
	assert.Equal(t, agentstore.TaskCompleted, final.Tasklist.Tasks[1].Status)
}

func TestWorker_Stop_MidTask_ForcesStoppedStatus(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prompt := requestPrompt(t, r)
		if strings.Contains(prompt, "Produce a JSON object with a non-empty") {
			fmt.Fprint(w, sseResponseBody(planResponse))
			return
		}
		// First task execution call: block until the test releases it, so
		// Stop can observe the agent mid-flight.
		flusher, ok := w.(http.Flusher)
		if !ok {
			fmt.Fprint(w, sseResponseBody("task output text"))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()

	ex, agents, sink := newTestExecutor(t, srv)
	a, err := ex.Create("harbor-desk", "covers the harbor beat", 0.7, false)
	require.NoError(t, err)

	require.NoError(t, ex.Start(context.Background(), a.ID))

	// Wait until the plan is generated and the first task starts running.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !sink.hasType(EventTaskRunning) {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, sink.hasType(EventTaskRunning))

	require.NoError(t, ex.Stop(a.ID))
	close(release)

	waitForStatus(t, agents, a.ID, agentstore.StatusStopped, 2*time.Second)
	// Cancelled is a transient field that GetSerializable strips, so read the
	// live record.
	final, err := agents.Get(a.ID)
	require.NoError(t, err)
	assert.True(t, final.Cancelled)
}

func TestExecutor_RedoTask_ResetsExactlyThatTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prompt := requestPrompt(t, r)
		switch {
		case strings.Contains(prompt, "Produce a JSON object with a non-empty"):
			fmt.Fprint(w, sseResponseBody(planResponse))
		case strings.Contains(prompt, "Judge whether the actual output satisfies"):
			fmt.Fprint(w, chatResponseBody(`{"is_valid":true,"score":90,"reason":"fine"}`))
		default:
			fmt.Fprint(w, sseResponseBody("rewritten output"))
		}
	}))
	defer srv.Close()

	ex, agents, _ := newTestExecutor(t, srv)
	a, err := ex.Create("harbor-desk", "covers the harbor beat", 0.7, false)
	require.NoError(t, err)
	require.NoError(t, ex.Start(context.Background(), a.ID))
	waitForStatus(t, agents, a.ID, agentstore.StatusCompleted, 2*time.Second)

	require.NoError(t, ex.RedoTask(context.Background(), a.ID, 1))
	final := waitForStatus(t, agents, a.ID, agentstore.StatusCompleted, 2*time.Second)

	require.NotNil(t, final.Tasklist)
	task1 := final.Tasklist.TaskByID(1)
	require.NotNil(t, task1)
	require.NotNil(t, task1.Output)
	assert.Equal(t, "rewritten output", *task1.Output)
}

func TestExtractJSONCandidate_FencedAndBraceSlice(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONCandidate("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSONCandidate("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSONCandidate(`noise before {"a":1} noise after`))
	assert.Equal(t, "no braces here", extractJSONCandidate("no braces here"))
}

func TestExtractValidation_DefaultsOnMissingFields(t *testing.T) {
	v := ExtractValidation(`{"is_valid":true}`)
	assert.True(t, v.IsValid)
	assert.Equal(t, 0, v.Score)
	assert.Equal(t, "Validation format error", v.Reason)

	v2 := ExtractValidation("garbage")
	assert.False(t, v2.IsValid)
	assert.Contains(t, v2.Reason, "parse error")
}

func TestExtractTasklist_RejectsDuplicateIDs(t *testing.T) {
	_, err := ExtractTasklist(`{"goal":"g","tasks":[{"id":1,"name":"a","description":"d","expected_output":"e"},` +
		`{"id":1,"name":"b","description":"d","expected_output":"e"}]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task id")
}
