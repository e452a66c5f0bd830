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

// Package agentstore holds the durable mapping from agent id to agent
// record, with crash-safe, atomic persistence of the whole
// document.
package agentstore

import "time"

// Status is an agent's lifecycle state.
type Status string

const (
	StatusCreated       Status = "created"
	StatusRunning       Status = "running"
	StatusHalted        Status = "halted"
	StatusStopped       Status = "stopped"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusTasklistError Status = "tasklist_error"
)

// TaskStatus is one task's execution state.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Validation is a task's validation outcome.
type Validation struct {
	IsValid bool   `json:"is_valid"`
	Score   int    `json:"score"`
	Reason  string `json:"reason"`
}

// ToolCall records one retrieval invocation made while executing a task.
type ToolCall struct {
	Query         string    `json:"query"`
	ThresholdUsed float64   `json:"threshold_used"`
	DocumentCount int       `json:"document_count"`
	At            time.Time `json:"at"`
}

// Task is one atomic execution unit within a Tasklist.
type Task struct {
	ID             int         `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	ExpectedOutput string      `json:"expected_output"`
	Status         TaskStatus  `json:"status"`
	Output         *string     `json:"output,omitempty"`
	Validation     *Validation `json:"validation,omitempty"`
	ToolCall       *ToolCall   `json:"tool_call,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// Tasklist is the declarative plan an agent executes. Task ids are
// unique and form a total order; iteration always follows ascending id.
type Tasklist struct {
	Goal  string `json:"goal"`
	Tasks []Task `json:"tasks"`
}

// TaskByID returns a pointer to the task with the given id, or nil.
func (tl *Tasklist) TaskByID(id int) *Task {
	for i := range tl.Tasks {
		if tl.Tasks[i].ID == id {
			return &tl.Tasks[i]
		}
	}
	return nil
}

// Agent is one journalist instance.
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Context     string    `json:"context"`
	Temperature float64   `json:"temperature"`
	Auto        bool      `json:"auto"`
	Halt        bool      `json:"halt"`
	Status      Status    `json:"status"`
	Tasklist    *Tasklist `json:"tasklist,omitempty"`
	Goal        string    `json:"goal,omitempty"`
	Phase       int       `json:"phase"`
	Phase0Response *string `json:"phase_0_response,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Transient fields: purged on persistence.
	Cancelled    bool   `json:"-"`
	RedoTaskID   *int   `json:"-"`
	RedoTasklist bool   `json:"-"`
	Worker       Handle `json:"-"`
}

// Handle is the opaque per-agent worker handle the executor installs while
// an agent is running. The store never inspects it beyond calling Cancel.
type Handle interface {
	Cancel()
}

// Serializable returns a copy of agent with transient fields stripped, fit
// for external exposure.
func (a *Agent) Serializable() Agent {
	cp := *a
	cp.Cancelled = false
	cp.RedoTaskID = nil
	cp.RedoTasklist = false
	cp.Worker = nil
	return cp
}
