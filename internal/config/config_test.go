package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TILESYNC_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Client.CacheSize)
	assert.Equal(t, time.Minute, cfg.Client.HeartbeatIdle)
	assert.Equal(t, "tcp", cfg.Client.Transport)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tilesync.yaml")
	yamlData := `
client:
  address: "example.org:2597"
  username: "builder"
  cache_size: 64
  load_timeout: 5s
devserver:
  accounts:
    builder: secret
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	t.Setenv("TILESYNC_CACHE_SIZE", "128")
	t.Setenv("TILESYNC_TRANSPORT", "kcp")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "example.org:2597", cfg.Client.Address)
	assert.Equal(t, "builder", cfg.Client.Username)
	assert.Equal(t, 128, cfg.Client.CacheSize)
	assert.Equal(t, "kcp", cfg.Client.Transport)
	assert.Equal(t, 5*time.Second, cfg.Client.LoadTimeout)
	assert.Equal(t, "secret", cfg.DevServer.Accounts["builder"])
	// не заданное в файле остаётся по умолчанию
	assert.Equal(t, 10*time.Millisecond, cfg.Client.PollInterval)
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	cfg := Default()
	cfg.Client.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Client.CacheSize = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Telemetry.SampleRatio = 1.5
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
