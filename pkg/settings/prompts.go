package settings

import (
	"fmt"
	"strings"
)

// requiredPromptVars enumerates the template variables each known prompt
// must reference. hidden_context has no required variables.
var requiredPromptVars = map[string][]string{
	PromptHiddenContext: {},
	PromptPhase0Planning: {
		"agent_name", "agent_context",
	},
	PromptTaskExecutionFirst: {
		"agent_name", "goal", "task_name", "task_description", "expected_output", "context",
	},
	PromptTaskExecutionSequential: {
		"agent_name", "goal", "task_id", "task_name", "task_description", "expected_output",
		"previous_tasks_context", "additional_context",
	},
	PromptTaskValidation: {
		"task_name", "task_description", "expected_output", "actual_output",
	},
}

// KnownPromptNames returns the fixed set of prompt names the core manages.
func KnownPromptNames() []string {
	return []string{
		PromptHiddenContext,
		PromptPhase0Planning,
		PromptTaskExecutionFirst,
		PromptTaskExecutionSequential,
		PromptTaskValidation,
	}
}

func placeholder(name string) string {
	return "{" + name + "}"
}

// ValidatePromptText rejects text missing a required placeholder for the
// named prompt. Unknown prompt names are rejected outright.
func ValidatePromptText(name, text string) error {
	required, ok := requiredPromptVars[name]
	if !ok {
		return newValidationError("unknown prompt name %q", name)
	}
	var missing []string
	for _, v := range required {
		if !strings.Contains(text, placeholder(v)) {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return newValidationError("prompt %q is missing required variable(s): %s", name, strings.Join(missing, ", "))
	}
	return nil
}

// FormatPrompt substitutes {var} placeholders in a prompt template. Unknown
// placeholders are left verbatim; extra vars not referenced by the template
// are silently ignored.
func FormatPrompt(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, placeholder(k), v)
	}
	return out
}

func defaultPrompts() map[string]string {
	return map[string]string{
		PromptHiddenContext: "You are part of an autonomous AI-journalist fleet. Work methodically, " +
			"cite what you rely on, and keep output focused on the task's expected_output criterion.",

		PromptPhase0Planning: fmt.Sprintf(
			"You are %s, an AI journalist. Your context: %s\n\n"+
				"Produce a JSON object with a non-empty \"goal\" string and a non-empty "+
				"\"tasks\" array. Each task has integer \"id\", \"name\", \"description\", "+
				"and \"expected_output\". Return JSON only.",
			placeholder("agent_name"), placeholder("agent_context")),

		PromptTaskExecutionFirst: fmt.Sprintf(
			"Agent: %s\nGoal: %s\n\nTask: %s\n%s\nExpected output: %s\n\n"+
				"Additional context:\n%s\n\nProduce the task output now.",
			placeholder("agent_name"), placeholder("goal"), placeholder("task_name"),
			placeholder("task_description"), placeholder("expected_output"), placeholder("context")),

		PromptTaskExecutionSequential: fmt.Sprintf(
			"Agent: %s\nGoal: %s\n\nPrevious tasks:\n%s\n\n"+
				"Task %s: %s\n%s\nExpected output: %s\n\nAdditional context:\n%s\n\n"+
				"Produce the task output now.",
			placeholder("agent_name"), placeholder("goal"), placeholder("previous_tasks_context"),
			placeholder("task_id"), placeholder("task_name"), placeholder("task_description"),
			placeholder("expected_output"), placeholder("additional_context")),

		PromptTaskValidation: fmt.Sprintf(
			"Task: %s\n%s\nExpected output: %s\n\nActual output:\n%s\n\n"+
				"Judge whether the actual output satisfies the expected output criterion. "+
				"Return a JSON object with \"is_valid\" (bool), \"score\" (0-100), and \"reason\" (string). "+
				"Return JSON only.",
			placeholder("task_name"), placeholder("task_description"), placeholder("expected_output"),
			placeholder("actual_output")),
	}
}
