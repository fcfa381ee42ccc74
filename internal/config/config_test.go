package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_MODEL", "gpt-4o")
	t.Setenv("LLM_TEMPERATURE", "")
	t.Setenv("SESSION_TTL_MINUTES", "")

	cfg := Load()

	assert.Equal(t, "gpt-4o", cfg.Ai.LLMModel)
	assert.InDelta(t, 0.2, cfg.Ai.Temperature, 1e-9)
	assert.InDelta(t, 0.5, cfg.Ai.TopP, 1e-9)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxBytes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("LLM_TOP_P", "0.9")
	t.Setenv("PROMPT_MAX_ROWS", "500")
	t.Setenv("SESSION_KEEP_HISTORY_ON_RELOAD", "true")
	t.Setenv("SESSION_TTL_MINUTES", "5")

	cfg := Load()

	assert.Equal(t, "ollama", cfg.Ai.LLMProvider)
	assert.InDelta(t, 0.9, cfg.Ai.TopP, 1e-9)
	assert.Equal(t, 500, cfg.Prompt.MaxRows)
	assert.True(t, cfg.Session.KeepHistoryOnReload)
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
}

func TestLoadRejectsNonPositiveUploadLimit(t *testing.T) {
	for _, v := range []string{"0", "-5"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("UPLOAD_MAX_BYTES", v)
			assert.Equal(t, int64(defaultUploadMaxBytes), Load().Upload.MaxBytes)
		})
	}

	t.Setenv("UPLOAD_MAX_BYTES", "2048")
	assert.Equal(t, int64(2048), Load().Upload.MaxBytes)
}
