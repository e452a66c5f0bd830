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

package agentstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/fleet/pkg/utils"
)

// Store is a durable mapping from agent id to agent record, backed by one
// on-disk document. Every mutating operation is followed by a
// durable save; callers serialize mutations per agent.
type Store struct {
	mu     sync.Mutex
	path   string
	agents map[string]*Agent
}

// NewStore creates a store bound to path. Call Load to populate it.
func NewStore(path string) *Store {
	return &Store{path: path, agents: make(map[string]*Agent)}
}

// Load reads the agent document. A missing file is treated as an empty
// store. On load, any agent persisted as running is reclassified to
// created and its transient fields dropped (the worker that owned it is
// gone); any task marked completed whose validation says is_valid=false is
// reclassified to failed.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.agents = make(map[string]*Agent)
		return nil
	}
	if err != nil {
		return newError("load", "", "failed to read agent document", err)
	}

	var loaded map[string]*Agent
	if err := json.Unmarshal(data, &loaded); err != nil {
		return newError("load", "", "malformed agent document", err)
	}
	if loaded == nil {
		loaded = make(map[string]*Agent)
	}

	for _, a := range loaded {
		if a.Status == StatusRunning {
			a.Status = StatusCreated
		}
		a.Cancelled = false
		a.RedoTaskID = nil
		a.RedoTasklist = false
		a.Worker = nil

		if a.Tasklist != nil {
			for i := range a.Tasklist.Tasks {
				t := &a.Tasklist.Tasks[i]
				if t.Status == TaskCompleted && t.Validation != nil && !t.Validation.IsValid {
					t.Status = TaskFailed
				}
			}
		}
	}

	s.agents = loaded
	return nil
}

func (s *Store) saveLocked() error {
	// Transient fields carry json:"-" tags, so the encoder already strips
	// them; marshaling s.agents directly produces the serializable form.
	data, err := json.MarshalIndent(s.agents, "", "  ")
	if err != nil {
		return newError("save", "", "failed to marshal agent document", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return newError("save", "", "failed to create agent store directory", err)
		}
	}
	if err := utils.AtomicWriteFile(s.path, data, 0644); err != nil {
		return newError("save", "", "failed to persist agent document", err)
	}
	return nil
}

// Create adds a new agent with a fresh id and persists it.
func (s *Store) Create(name, context string, temperature float64, auto bool) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &Agent{
		ID:          uuid.NewString(),
		Name:        name,
		Context:     context,
		Temperature: temperature,
		Auto:        auto,
		Status:      StatusCreated,
		CreatedAt:   time.Now(),
	}
	s.agents[a.ID] = a
	if err := s.saveLocked(); err != nil {
		delete(s.agents, a.ID)
		return Agent{}, err
	}
	return *a, nil
}

// Get returns the full agent record, including its live worker handle.
func (s *Store) Get(id string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound("get", id)
	}
	return a, nil
}

// GetSerializable returns a copy of the agent record with transient fields
// (worker handle, cancellation flags) stripped.
func (s *Store) GetSerializable(id string) (Agent, error) {
	a, err := s.Get(id)
	if err != nil {
		return Agent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return a.Serializable(), nil
}

// List returns every agent's serializable form, ordered by id for stable
// output.
func (s *Store) List() []Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.Serializable())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of stored agents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

// Exists reports whether an agent with the given id is stored.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.agents[id]
	return ok
}

// UpdateStatus transitions an agent's status, auto-setting started_at the
// first time it becomes running and completed_at the first time it reaches
// a terminal status. mutate, if non-nil, runs before the save to
// apply any accompanying field changes.
func (s *Store) UpdateStatus(id string, status Status, mutate func(*Agent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return ErrNotFound("update_status", id)
	}

	now := time.Now()
	if status == StatusRunning && a.StartedAt == nil {
		a.StartedAt = &now
	}
	if isTerminal(status) && a.CompletedAt == nil {
		a.CompletedAt = &now
	}
	a.Status = status

	if mutate != nil {
		mutate(a)
	}
	return s.saveLocked()
}

func isTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped, StatusTasklistError:
		return true
	default:
		return false
	}
}

// Update applies an arbitrary field mutation to an agent and persists the
// result.
func (s *Store) Update(id string, mutate func(*Agent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return ErrNotFound("update", id)
	}
	mutate(a)
	return s.saveLocked()
}

// SetWorker installs the live worker handle for a running agent
//. The handle itself is never persisted.
func (s *Store) SetWorker(id string, handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return ErrNotFound("set_task", id)
	}
	a.Worker = handle
	return s.saveLocked()
}

// Delete cancels any live worker handle, removes the agent, and persists
// the result.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return ErrNotFound("delete", id)
	}
	if a.Worker != nil {
		a.Worker.Cancel()
	}
	delete(s.agents, id)
	return s.saveLocked()
}

// ClearCompleted removes every agent in a completed or failed terminal
// state.
func (s *Store) ClearCompleted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.agents {
		if a.Status == StatusCompleted || a.Status == StatusFailed {
			delete(s.agents, id)
		}
	}
	return s.saveLocked()
}
