package main_test

import (
	"os"
	"path/filepath"
	"testing"

	main "github.com/m-mizutani/steward/cmd/steward"
	"github.com/m-mizutani/gt"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	gt.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadChatConfig(t *testing.T) {
	t.Run("model overrides and tuning", func(t *testing.T) {
		path := writeConfig(t, `
models:
  coding: gemini-2.5-pro
  research: gemini-2.5-flash
quality_threshold: 0.8
plan_complexity: 5
`)
		cfg := gt.R1(main.LoadChatConfig(path)).NoError(t)

		n := gt.R1(cfg.RegistryOptionCount()).NoError(t)
		gt.Equal(t, 2, n)
		gt.Equal(t, 2, cfg.OrchestratorOptionCount())
	})

	t.Run("unknown agent kind", func(t *testing.T) {
		path := writeConfig(t, `
models:
  translator: gemini-2.5-pro
`)
		cfg := gt.R1(main.LoadChatConfig(path)).NoError(t)
		_, err := cfg.RegistryOptionCount()
		gt.Error(t, err)
	})

	t.Run("empty model", func(t *testing.T) {
		path := writeConfig(t, `
models:
  coding: ""
`)
		cfg := gt.R1(main.LoadChatConfig(path)).NoError(t)
		_, err := cfg.RegistryOptionCount()
		gt.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := main.LoadChatConfig(filepath.Join(t.TempDir(), "missing.yml"))
		gt.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "models: [broken")
		_, err := main.LoadChatConfig(path)
		gt.Error(t, err)
	})
}
