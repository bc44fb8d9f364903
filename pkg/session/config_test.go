package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile.yaml")
	data := `
connect_timeout: 4s
max_attempts: 5
backoff:
  initial: 100ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff.Initial)

	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, DefaultScanTimeout, cfg.ScanTimeout)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect_timeout: ["), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyDefaultsRepairsZeroes(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, DefaultStepTimeout, cfg.StepTimeout)
	assert.Equal(t, DefaultScanTimeout, cfg.ScanTimeout)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
}
