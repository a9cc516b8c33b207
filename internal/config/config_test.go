package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
local_db:
  path: /var/lib/clinic/clinic.db

remote:
  url: https://example.supabase.co/rest/v1
  api_key: test-key
  timeout: 45s

sync:
  batch_size: 25
  tables:
    - name: patients
      conflict_rules:
        surname: flag_for_review
        phone: prefer_remote
    - name: outpatient_visits
      conflict_rules:
        notes: prefer_recent

scheduler:
  enabled: true
  interval: "@every 10m"

network:
  probe_url: https://probe.example.com
  check_interval: 15s

server:
  host: 0.0.0.0
  port: 9000

logging:
  level: debug
  format: console
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/clinic/clinic.db", cfg.LocalDB.Path)
	assert.Equal(t, "https://example.supabase.co/rest/v1", cfg.Remote.URL)
	assert.Equal(t, "test-key", cfg.Remote.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Remote.GetTimeout())

	assert.Equal(t, 25, cfg.Sync.BatchSize)
	require.Len(t, cfg.Sync.Tables, 2)
	assert.Equal(t, []string{"patients", "outpatient_visits"}, cfg.Sync.TableNames())
	assert.Equal(t, "prefer_remote", cfg.Sync.Tables[0].ConflictRules["phone"])

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "@every 10m", cfg.Scheduler.Interval)

	assert.Equal(t, 15*time.Second, cfg.Network.GetCheckInterval())
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
remote:
  url: https://example.supabase.co/rest/v1
  api_key: test-key
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "clinic.db", cfg.LocalDB.Path)
	assert.Equal(t, 30*time.Second, cfg.Remote.GetTimeout())
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "@every 30m", cfg.Scheduler.Interval)
	assert.Equal(t, 30*time.Second, cfg.Network.GetCheckInterval())
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDurationFallbacks(t *testing.T) {
	r := RemoteConfig{Timeout: "not-a-duration"}
	assert.Equal(t, 30*time.Second, r.GetTimeout())

	n := NetworkConfig{CheckInterval: "-5s"}
	assert.Equal(t, 30*time.Second, n.GetCheckInterval())
}
