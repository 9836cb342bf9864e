package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  address: ":9090"
  cors_origins: "http://a.test, http://b.test"
storage:
  backend: mongo
upload:
  segment_size: 4MB
  strict_index_check: false
  session_ttl: 2h
`)

	cfg, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.GetString("server.address"))
	assert.Equal(t, "mongo", cfg.GetString("storage.backend"))
	assert.Equal(t, int64(4<<20), cfg.GetSize("upload.segment_size"))
	assert.False(t, cfg.GetBool("upload.strict_index_check"))
	assert.Equal(t, 2*time.Hour, cfg.GetDuration("upload.session_ttl"))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.GetArray("server.cors_origins"))
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := New("")
	require.NoError(t, err)

	assert.Equal(t, "bolt", cfg.GetString("storage.backend"))
	assert.Equal(t, int64(5<<30), cfg.GetSize("upload.max_object_size"))
	assert.Equal(t, int64(8<<20), cfg.GetSize("upload.segment_size"))
	assert.True(t, cfg.GetBool("upload.strict_index_check"))
	assert.Equal(t, 10*time.Minute, cfg.GetDuration("upload.janitor_interval"))
	assert.Nil(t, cfg.GetArray("auth.token_sha256"))
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("CHUNKSTORE_UPLOAD_SEGMENT_SIZE", "2MB")
	t.Setenv("CHUNKSTORE_LOG_LEVEL", "debug")

	cfg, err := New("")
	require.NoError(t, err)

	assert.Equal(t, int64(2<<20), cfg.GetSize("upload.segment_size"))
	assert.Equal(t, "debug", cfg.GetString("log.level"))
}

func TestConfigMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestParseSize(t *testing.T) {
	size, err := ParseSize("5MB")
	require.NoError(t, err)
	assert.Equal(t, int64(5*1024*1024), size)

	size, err = ParseSize("1024")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), size)

	_, err = ParseSize("")
	assert.Error(t, err)

	_, err = ParseSize("lots")
	assert.Error(t, err)
}
