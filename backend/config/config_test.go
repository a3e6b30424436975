package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8082, cfg.Running.Port)
	assert.Equal(t, "annotation", cfg.Annotations.Prefix)
	assert.Equal(t, "comment", cfg.Annotations.DefaultType)
	assert.Equal(t, 50*time.Millisecond, cfg.Kafka.Dispatcher.BaseBackoff)
	assert.Equal(t, 600*time.Second, cfg.Presence.TTL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
running:
  port: 9000
annotations:
  prefix: note
kafka:
  topic: from-file
  dispatcher:
    maxBackoff: 2s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "annotationConfig.yaml"), yaml, 0o644))
	t.Setenv("ANNOTATION_KAFKA_TOPIC", "from-env")
	t.Setenv("ANNOTATION_AUTH_JWTSECRET", "s3cret")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Running.Port)
	assert.Equal(t, "note", cfg.Annotations.Prefix)
	assert.Equal(t, "from-env", cfg.Kafka.Topic)
	assert.Equal(t, 2*time.Second, cfg.Kafka.Dispatcher.MaxBackoff)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	// 未覆盖的键保持默认
	assert.Equal(t, 4, cfg.Kafka.Dispatcher.Workers)
}

func TestLoad_BadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "annotationConfig.yaml"), []byte("running: [oops"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}
