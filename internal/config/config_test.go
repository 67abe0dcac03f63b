package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

verification:
  provider: http
  probe_url: "https://probe.internal/verify"
  timeout_ms: 5000
  delay_ms: 250
  guarded_transitions: true

scheduler:
  target_batches: 4

recipients:
  dedupe_across_segments: true
  include_verified_generic: false

logging:
  level: debug
  redact_pii: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "http", cfg.Verification.Provider)
	assert.Equal(t, 5*time.Second, cfg.Verification.Timeout())
	assert.Equal(t, 250*time.Millisecond, cfg.Verification.Delay())
	assert.True(t, cfg.Verification.GuardedTransitions)
	assert.Equal(t, 4, cfg.Scheduler.TargetBatches)
	assert.Equal(t, 50, cfg.Scheduler.MaxBatchSize)
	assert.True(t, cfg.Recipients.DedupeAcrossSegments)
	assert.False(t, cfg.Recipients.IncludeGeneric())
	assert.False(t, cfg.Logging.Redact())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Verification.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Verification.Delay())
	assert.Equal(t, 6, cfg.Scheduler.TargetBatches)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.Interval())
	assert.False(t, cfg.Recipients.DedupeAcrossSegments)
	assert.True(t, cfg.Recipients.IncludeGeneric())
	assert.True(t, cfg.Logging.Redact())
	assert.Equal(t, "store", cfg.Jobs.Backend)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("SMTP_VERIFY_TIMEOUT_MS", "3000")
	t.Setenv("SMTP_VERIFY_DELAY_MS", "0")
	t.Setenv("DATABASE_URL", "postgres://localhost/engine")
	t.Setenv("ADMIN_API_TOKEN", "secret")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Verification.Timeout())
	assert.Equal(t, time.Duration(0), cfg.Verification.Delay())
	assert.Equal(t, "postgres://localhost/engine", cfg.Database.URL)
	assert.Equal(t, "secret", cfg.Auth.AdminToken)
}

func TestLoadFromEnv_RejectsBadNumbers(t *testing.T) {
	t.Setenv("SMTP_VERIFY_DELAY_MS", "soon")

	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}
