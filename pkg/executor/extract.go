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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/inkwell-ai/fleet/pkg/agentstore"
)

// extractJSONCandidate implements the three-strategy extractor used by
// both plan generation and task validation: a fenced ```json block, then a
// bare fenced block, then the substring from the first '{' to the last
// '}'. It never errors; a raw response with no recognizable JSON is
// returned unmodified so the caller's json.Unmarshal produces the error.
func extractJSONCandidate(raw string) string {
	if block, ok := stripFence(raw, "```json"); ok {
		return block
	}
	if block, ok := stripFence(raw, "```"); ok {
		return block
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func stripFence(raw, fence string) (string, bool) {
	start := strings.Index(raw, fence)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func decodeJSON(raw string, target interface{}) error {
	candidate := extractJSONCandidate(raw)
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &generic); err != nil {
		return fmt.Errorf("no valid JSON object found: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(generic)
}

type planTaskFields struct {
	ID             *int   `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	ExpectedOutput string `json:"expected_output"`
}

type planFields struct {
	Goal  string           `json:"goal"`
	Tasks []planTaskFields `json:"tasks"`
}

// ExtractTasklist parses a phase-0 planning response: the goal
// must be a non-empty string and tasks a non-empty array of objects each
// carrying an integer id, name, description, and expected_output. Any
// violation is a validation failure; the raw response is preserved by the
// caller for a tasklist_error agent.
func ExtractTasklist(raw string) (*agentstore.Tasklist, error) {
	var fields planFields
	if err := decodeJSON(raw, &fields); err != nil {
		return nil, fmt.Errorf("malformed plan response: %w", err)
	}
	if strings.TrimSpace(fields.Goal) == "" {
		return nil, fmt.Errorf("plan response missing non-empty goal")
	}
	if len(fields.Tasks) == 0 {
		return nil, fmt.Errorf("plan response has no tasks")
	}

	tl := &agentstore.Tasklist{Goal: fields.Goal, Tasks: make([]agentstore.Task, len(fields.Tasks))}
	seen := make(map[int]bool, len(fields.Tasks))
	for i, t := range fields.Tasks {
		if t.ID == nil || t.Name == "" || t.Description == "" || t.ExpectedOutput == "" {
			return nil, fmt.Errorf("task %d is missing a required field", i)
		}
		if seen[*t.ID] {
			return nil, fmt.Errorf("duplicate task id %d", *t.ID)
		}
		seen[*t.ID] = true
		tl.Tasks[i] = agentstore.Task{
			ID:             *t.ID,
			Name:           t.Name,
			Description:    t.Description,
			ExpectedOutput: t.ExpectedOutput,
			Status:         agentstore.TaskCreated,
		}
	}
	return tl, nil
}

// ExtractValidation parses a task-validation response. It never
// errors: missing keys default to false/0/"Validation format error", and a
// parse failure defaults to an invalid verdict carrying the parse error as
// the reason.
func ExtractValidation(raw string) agentstore.Validation {
	var fields struct {
		IsValid *bool   `json:"is_valid"`
		Score   *int    `json:"score"`
		Reason  *string `json:"reason"`
	}
	if err := decodeJSON(raw, &fields); err != nil {
		return agentstore.Validation{IsValid: false, Score: 0, Reason: fmt.Sprintf("parse error: %v", err)}
	}

	v := agentstore.Validation{Reason: "Validation format error"}
	if fields.IsValid != nil {
		v.IsValid = *fields.IsValid
	}
	if fields.Score != nil {
		v.Score = *fields.Score
	}
	if fields.Reason != nil {
		v.Reason = *fields.Reason
	}
	return v
}
