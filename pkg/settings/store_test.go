package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadWritesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	s := NewStore(path)
	require.NoError(t, s.Load())

	assert.Equal(t, LanguageEnglish, s.GetLanguage())
	assert.Equal(t, PayloadMessage, s.GetLLMConfig().PayloadType)

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, s.GetLLMConfig(), reloaded.GetLLMConfig())
}

func TestStore_UpdateLLMConfig(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, s.Load())

	cfg := LLMConfig{
		URL:            "http://example.com/generate",
		Model:          "test-model",
		PayloadType:    PayloadCompletion,
		TimeoutSeconds: 30,
		MaxTokens:      512,
		Temperature:    0.7,
	}
	require.NoError(t, s.UpdateLLMConfig(cfg))

	got := s.GetLLMConfig()
	assert.Equal(t, cfg.URL, got.URL)
	assert.Equal(t, cfg.Model, got.Model)
	assert.Equal(t, cfg.PayloadType, got.PayloadType)
}

func TestStore_UpdateLLMConfig_RejectsBadPayloadType(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, s.Load())

	err := s.UpdateLLMConfig(LLMConfig{
		URL: "http://example.com", Model: "m", PayloadType: "bogus",
		TimeoutSeconds: 10, MaxTokens: 10,
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestStore_UpdateLLMConfig_RejectsBadTemperature(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, s.Load())

	err := s.UpdateLLMConfig(LLMConfig{
		URL: "http://example.com", Model: "m", PayloadType: PayloadMessage,
		TimeoutSeconds: 10, MaxTokens: 10, Temperature: 3.0,
	})
	require.Error(t, err)
}

func TestStore_UpdateRetrievalConfig_PartialMerge(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, s.Load())

	require.NoError(t, s.UpdateRetrievalConfig(RetrievalConfig{
		Enabled:        true,
		EmbeddingModel: "nomic-embed-text",
		Dimension:      768,
		IndexPath:      "idx.gob",
		MetadataPath:   "meta.json",
		HitTarget:      3,
		TopK:           10,
		Step:           0.1,
	}))

	got := s.GetRetrievalConfig()
	assert.True(t, got.Enabled)
	assert.Equal(t, 768, got.Dimension)

	// Partial update changes only HitTarget, keeps the rest.
	require.NoError(t, s.UpdateRetrievalConfig(RetrievalConfig{
		Enabled:        true,
		EmbeddingModel: got.EmbeddingModel,
		Dimension:      got.Dimension,
		IndexPath:      got.IndexPath,
		MetadataPath:   got.MetadataPath,
		HitTarget:      5,
		TopK:           got.TopK,
		Step:           got.Step,
	}))
	got2 := s.GetRetrievalConfig()
	assert.Equal(t, 5, got2.HitTarget)
	assert.Equal(t, 768, got2.Dimension)
}

func TestStore_UpdatePrompt_RequiresVariables(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, s.Load())

	err := s.UpdatePrompt(PromptPhase0Planning, "missing all placeholders")
	require.Error(t, err)

	err = s.UpdatePrompt(PromptPhase0Planning, "Name: {agent_name} Context: {agent_context}")
	require.NoError(t, err)

	p, err := s.GetPrompt(PromptPhase0Planning)
	require.NoError(t, err)
	assert.Contains(t, p, "{agent_name}")
}

func TestStore_UpdatePrompts_AllOrNothing(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, s.Load())

	before, _ := s.GetPrompt(PromptTaskValidation)

	err := s.UpdatePrompts(map[string]string{
		PromptHiddenContext: "fine",
		PromptTaskValidation: "missing everything",
	})
	require.Error(t, err)

	after, _ := s.GetPrompt(PromptTaskValidation)
	assert.Equal(t, before, after, "a failed batch update must not apply any prompt")
}

func TestStore_ResetToDefaults(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, s.Load())

	require.NoError(t, s.UpdatePrompt(PromptHiddenContext, "custom hidden context"))
	require.NoError(t, s.ResetToDefaults())

	p, err := s.GetPrompt(PromptHiddenContext)
	require.NoError(t, err)
	assert.NotEqual(t, "custom hidden context", p)
}

func TestValidatePromptText_UnknownPrompt(t *testing.T) {
	err := ValidatePromptText("not_a_real_prompt", "anything")
	require.Error(t, err)
}

func TestFormatPrompt(t *testing.T) {
	out := FormatPrompt("Hello {name}, goal is {goal}", map[string]string{
		"name": "Alpha", "goal": "G",
	})
	assert.Equal(t, "Hello Alpha, goal is G", out)
}
