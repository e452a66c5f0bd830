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

// Package settings holds the process-wide settings record: LLM config,
// prompt templates, retrieval config, and language. It is the fleet core's
// only externally-mutable configuration surface.
package settings

// Language is the fleet's display language.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageFinnish Language = "fi"
)

// PayloadType selects the LLM request wire shape.
type PayloadType string

const (
	PayloadMessage    PayloadType = "message"
	PayloadCompletion PayloadType = "completion"
)

// Prompt names known to the core. Each has a fixed required-variable set
// enforced by update_prompt/update_prompts.
const (
	PromptHiddenContext           = "hidden_context"
	PromptPhase0Planning          = "phase_0_planning"
	PromptTaskExecutionFirst      = "task_execution_first"
	PromptTaskExecutionSequential = "task_execution_sequential"
	PromptTaskValidation          = "task_validation"
)

// LLMConfig configures the outbound LLM endpoint.
type LLMConfig struct {
	URL            string            `yaml:"url"`
	Model          string            `yaml:"model"`
	PayloadType    PayloadType       `yaml:"payload_type"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	MaxTokens      int               `yaml:"max_tokens"`
	Temperature    float64           `yaml:"temperature"`
	TopP           float64           `yaml:"top_p,omitempty"`
	TopK           int               `yaml:"top_k,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
}

// SetDefaults fills unset fields with package defaults.
func (c *LLMConfig) SetDefaults() {
	if c.PayloadType == "" {
		c.PayloadType = PayloadMessage
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 60
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Headers == nil {
		c.Headers = map[string]string{"Content-Type": "application/json"}
	}
}

// Validate checks the LLM configuration for required fields and ranges.
func (c *LLMConfig) Validate() error {
	if c.URL == "" {
		return newValidationError("url is required")
	}
	if c.Model == "" {
		return newValidationError("model is required")
	}
	if c.PayloadType != PayloadMessage && c.PayloadType != PayloadCompletion {
		return newValidationError("payload_type must be %q or %q", PayloadMessage, PayloadCompletion)
	}
	if c.TimeoutSeconds <= 0 {
		return newValidationError("timeout must be a positive integer")
	}
	if c.MaxTokens <= 0 {
		return newValidationError("max_tokens must be a positive integer")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return newValidationError("temperature must be between 0 and 2")
	}
	return nil
}

// RetrievalConfig configures the vector index and adaptive retriever.
type RetrievalConfig struct {
	Enabled          bool    `yaml:"enabled"`
	EmbeddingModel   string  `yaml:"embedding_model"`
	Dimension        int     `yaml:"dimension"`
	IndexPath        string  `yaml:"index_path"`
	MetadataPath     string  `yaml:"metadata_path"`
	HitTarget        int     `yaml:"hit_target"`
	TopK             int     `yaml:"top_k"`
	Step             float64 `yaml:"step"`
	Dynamic          bool    `yaml:"dynamic"`
	StoreTaskOutputs bool    `yaml:"store_task_outputs"`
	MaxContextLength int     `yaml:"max_context_length"`
}

// SetDefaults fills unset fields with package defaults.
func (c *RetrievalConfig) SetDefaults() {
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "nomic-embed-text"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.IndexPath == "" {
		c.IndexPath = ".fleet/vectors/index.gob"
	}
	if c.MetadataPath == "" {
		c.MetadataPath = ".fleet/vectors/metadata.json"
	}
	if c.HitTarget == 0 {
		c.HitTarget = 3
	}
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.Step == 0 {
		c.Step = 0.1
	}
	if c.MaxContextLength == 0 {
		c.MaxContextLength = 4000
	}
}

// Validate checks the retrieval configuration for required fields and
// ranges.
func (c *RetrievalConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.EmbeddingModel == "" {
		return newValidationError("embedding_model is required when retrieval is enabled")
	}
	if c.Dimension <= 0 {
		return newValidationError("dimension must be > 0")
	}
	if c.IndexPath == "" {
		return newValidationError("index_path is required")
	}
	if c.MetadataPath == "" {
		return newValidationError("metadata_path is required")
	}
	if c.HitTarget <= 0 {
		return newValidationError("hit_target must be > 0")
	}
	if c.TopK <= 0 {
		return newValidationError("top_k must be > 0")
	}
	if c.Step <= 0 || c.Step > 1 {
		return newValidationError("step must be in (0, 1]")
	}
	return nil
}

// Settings is the single process-wide configuration record.
type Settings struct {
	Language  Language          `yaml:"language"`
	LLM       LLMConfig         `yaml:"llm"`
	Prompts   map[string]string `yaml:"prompts"`
	Retrieval RetrievalConfig   `yaml:"retrieval"`
}

// Defaults returns a fresh settings document with every sub-config
// defaulted and the built-in prompt templates installed.
func Defaults() *Settings {
	s := &Settings{
		Language: LanguageEnglish,
		LLM: LLMConfig{
			URL:   "http://localhost:11434/api/generate",
			Model: "llama3.2",
		},
		Prompts: defaultPrompts(),
	}
	s.LLM.SetDefaults()
	s.Retrieval.SetDefaults()
	return s
}
