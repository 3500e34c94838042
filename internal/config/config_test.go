package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goose/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, 5, cfg.Workflow.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, cfg.Workflow.RetryInterval)
	assert.Equal(t, "Waiting", cfg.Workflow.WaitingState)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("log:\n  level: debug\nworkflow:\n  retry_interval: 250ms\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 250*time.Millisecond, cfg.Workflow.RetryInterval)
	assert.Equal(t, 5, cfg.Workflow.MaxRetries)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"level":     "log:\n  level: loud\n",
		"format":    "log:\n  format: xml\n",
		"retries":   "workflow:\n  max_retries: -1\n",
		"base path": "server:\n  base_path: v0\n",
		"waiting":   "workflow:\n  waiting_state: \"\"\n",
		"addr":      "server:\n  addr: \"\"\n",
		"token ttl": "auth:\n  token_ttl: -1h\n",
		"yaml":      "log: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = config.Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "goose.yml"), []byte("server:\n  addr: :9090\n"), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}
