package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "local", cfg.Backend.Preference)
	assert.Equal(t, 60*time.Second, cfg.Intent.Timeout)
	assert.True(t, cfg.Intent.DirectJSON)
	assert.Equal(t, 8, cfg.Orchestrator.MaxChainDepth)
	assert.Equal(t, 100*time.Millisecond, cfg.Router.MinInterval)
	assert.False(t, cfg.Orchestrator.FailUnknown)
	assert.False(t, cfg.Events.DispatchLoop)
	assert.Equal(t, 512, cfg.Events.BufferSize)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "intentcore.db", filepath.Base(cfg.DBPath()))
}

func TestParseOverlaysDefaults(t *testing.T) {
	t.Setenv("TEST_CLOUD_KEY", "sk-test")

	cfg, err := Parse([]byte(`
backend:
  preference: cloud
  cloud:
    provider: openai
    api_key: ${TEST_CLOUD_KEY}
intent:
  timeout: 5s
orchestrator:
  fail_unknown: true
events:
  dispatch_loop: true
routes:
  - from: files.scan
    to: files.tag
    pick: [path]
schedules:
  - name: tick
    spec: "@every 1m"
    intent: '{"action":"system.time"}'
`))
	require.NoError(t, err)

	assert.Equal(t, "cloud", cfg.Backend.Preference)
	assert.Equal(t, "openai", cfg.Backend.Cloud.Provider)
	assert.Equal(t, "sk-test", cfg.Backend.Cloud.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Intent.Timeout)
	assert.True(t, cfg.Orchestrator.FailUnknown)
	assert.True(t, cfg.Events.DispatchLoop)
	// untouched keys keep their defaults
	assert.Equal(t, "qwen3:4b", cfg.Backend.Local.Model)
	assert.Equal(t, 8, cfg.Orchestrator.MaxChainDepth)

	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, RouteConfig{From: "files.scan", To: "files.tag", Pick: []string{"path"}}, cfg.Routes[0])
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "@every 1m", cfg.Schedules[0].Spec)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"preference": "backend:\n  preference: edge\n",
		"route":      "routes:\n  - from: a\n",
		"buffer":     "events:\n  buffer_size: -1\n",
		"schedule":   "schedules:\n  - spec: '@hourly'\n",
		"timeout":    "intent:\n  timeout: -1s\n",
		"yaml":       "backend: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Parse([]byte("data_dir: ~/intentcore-test\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "intentcore-test"), cfg.DataDir)
}

func TestSaveAndLoadFrom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Router.MinInterval = 250 * time.Millisecond
	cfg.Routes = []RouteConfig{{From: "a", To: "b"}}

	require.NoError(t, cfg.Save())

	loaded, err := LoadFrom(cfg.Path())
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, loaded.Router.MinInterval)
	assert.Equal(t, cfg.Routes, loaded.Routes)
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	t.Setenv("INTENTCORE_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Backend, cfg.Backend)
}

func TestWatchReloads(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("routes: []\n"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(cfg *Config) { reloaded <- cfg })
	}()

	// give the watcher time to register before writing
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - from: a\n    to: b\n"), 0600))

	select {
	case cfg := <-reloaded:
		require.Len(t, cfg.Routes, 1)
		assert.Equal(t, "b", cfg.Routes[0].To)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	require.NoError(t, <-done)
}
