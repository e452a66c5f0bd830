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

package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/inkwell-ai/fleet/pkg/utils"
)

// Store is the single process-wide settings record (C1), backed by one
// YAML document on disk with backup-rename atomic persistence.
type Store struct {
	mu       sync.RWMutex
	path     string
	settings *Settings

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewStore creates a store bound to path. Call Load to populate it.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the settings document; if it is missing, defaults are written
// and used instead.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		defaults := Defaults()
		if err := s.saveLocked(defaults); err != nil {
			return fmt.Errorf("failed to write default settings: %w", err)
		}
		s.settings = defaults
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings from %q: %w", s.path, err)
	}

	var loaded Settings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return newValidationError("malformed settings document: %v", err)
	}
	if loaded.Prompts == nil {
		loaded.Prompts = defaultPrompts()
	}
	loaded.LLM.SetDefaults()
	loaded.Retrieval.SetDefaults()

	s.settings = &loaded
	return nil
}

// Watch starts an fsnotify watch on the settings file; external edits
// trigger a reload. Call the returned stop function to end the watch.
func (s *Store) Watch() (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start settings watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(s.path), err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.watchDone = make(chan struct{})
	done := s.watchDone
	s.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == s.path && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					if err := s.Load(); err != nil {
						slog.Warn("settings reload after external edit failed", "error", err)
					} else {
						slog.Info("settings reloaded after external edit", "path", s.path)
					}
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("settings watcher error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

func (s *Store) saveLocked(v *Settings) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	return utils.AtomicWriteFile(s.path, data, 0644)
}

// save persists the current in-memory settings, restoring the previous
// on-disk document on failure via a backup-rename.
func (s *Store) save() error {
	return s.saveLocked(s.settings)
}

// GetLLMConfig returns a copy of the current LLM configuration.
func (s *Store) GetLLMConfig() LLMConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.LLM
}

// GetRetrievalConfig returns a copy of the current retrieval configuration.
func (s *Store) GetRetrievalConfig() RetrievalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Retrieval
}

// GetPrompt returns the named prompt template.
func (s *Store) GetPrompt(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.settings.Prompts[name]
	if !ok {
		return "", ErrPromptNotFound
	}
	return p, nil
}

// GetAllPrompts returns a copy of all prompt templates.
func (s *Store) GetAllPrompts() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.settings.Prompts))
	for k, v := range s.settings.Prompts {
		out[k] = v
	}
	return out
}

// GetLanguage returns the current language.
func (s *Store) GetLanguage() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Language
}

// UpdateLLMConfig validates and persists a full LLM configuration.
func (s *Store) UpdateLLMConfig(cfg LLMConfig) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.settings.LLM
	s.settings.LLM = cfg
	if err := s.save(); err != nil {
		s.settings.LLM = prev
		return fmt.Errorf("failed to persist llm config: %w", err)
	}
	return nil
}

// UpdateRetrievalConfig merges partial into the existing retrieval
// configuration and validates the result before persisting.
func (s *Store) UpdateRetrievalConfig(partial RetrievalConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := mergeRetrievalConfig(s.settings.Retrieval, partial)
	if err := merged.Validate(); err != nil {
		return err
	}

	prev := s.settings.Retrieval
	s.settings.Retrieval = merged
	if err := s.save(); err != nil {
		s.settings.Retrieval = prev
		return fmt.Errorf("failed to persist retrieval config: %w", err)
	}
	return nil
}

// mergeRetrievalConfig overlays non-zero-valued fields of partial onto base.
// The booleans Enabled, Dynamic and StoreTaskOutputs are always taken from
// partial, so a false value there overwrites a true one in base.
func mergeRetrievalConfig(base, partial RetrievalConfig) RetrievalConfig {
	out := base
	out.Enabled = partial.Enabled
	if partial.EmbeddingModel != "" {
		out.EmbeddingModel = partial.EmbeddingModel
	}
	if partial.Dimension != 0 {
		out.Dimension = partial.Dimension
	}
	if partial.IndexPath != "" {
		out.IndexPath = partial.IndexPath
	}
	if partial.MetadataPath != "" {
		out.MetadataPath = partial.MetadataPath
	}
	if partial.HitTarget != 0 {
		out.HitTarget = partial.HitTarget
	}
	if partial.TopK != 0 {
		out.TopK = partial.TopK
	}
	if partial.Step != 0 {
		out.Step = partial.Step
	}
	out.Dynamic = partial.Dynamic
	out.StoreTaskOutputs = partial.StoreTaskOutputs
	if partial.MaxContextLength != 0 {
		out.MaxContextLength = partial.MaxContextLength
	}
	return out
}

// UpdatePrompt validates and persists a single prompt template.
func (s *Store) UpdatePrompt(name, text string) error {
	if err := ValidatePromptText(name, text); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.settings.Prompts[name]
	s.settings.Prompts[name] = text
	if err := s.save(); err != nil {
		s.settings.Prompts[name] = prev
		return fmt.Errorf("failed to persist prompt %q: %w", name, err)
	}
	return nil
}

// UpdatePrompts validates and persists a batch of prompt templates
// atomically: if any prompt fails validation, none are applied.
func (s *Store) UpdatePrompts(updates map[string]string) error {
	for name, text := range updates {
		if err := ValidatePromptText(name, text); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := make(map[string]string, len(updates))
	for name := range updates {
		prev[name] = s.settings.Prompts[name]
	}
	for name, text := range updates {
		s.settings.Prompts[name] = text
	}
	if err := s.save(); err != nil {
		for name, text := range prev {
			s.settings.Prompts[name] = text
		}
		return fmt.Errorf("failed to persist prompts: %w", err)
	}
	return nil
}

// ResetToDefaults restores and persists the default settings document.
func (s *Store) ResetToDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.settings
	s.settings = Defaults()
	if err := s.save(); err != nil {
		s.settings = prev
		return fmt.Errorf("failed to persist default settings: %w", err)
	}
	return nil
}
