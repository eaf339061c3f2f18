package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/forumtap/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	t.Setenv(config.EnvInstance, "")
	t.Setenv(config.EnvRedisURL, "")

	t.Run("fresh initialization", func(t *testing.T) {
		dir := t.TempDir()

		path, err := Initialize(dir, false)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "forumtap.yml"), path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "default", cfg.Instance)
		assert.True(t, cfg.RedisSinkEnabled())
		assert.Equal(t, "127.0.0.1:7878", cfg.Host.Address)
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		dir := t.TempDir()
		existing := filepath.Join(dir, "forumtap.yml")
		require.NoError(t, os.WriteFile(existing, []byte("old content"), 0644))

		_, err := Initialize(dir, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project already initialized")

		data, err := os.ReadFile(existing)
		require.NoError(t, err)
		assert.Equal(t, "old content", string(data))
	})

	t.Run("force replaces existing file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "forumtap.yml"), []byte("old content"), 0644))

		path, err := Initialize(dir, true)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `version: "1.0"`)
	})

	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "dir")
		_, err := Initialize(dir, false)
		require.NoError(t, err)
	})
}

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "forumtap.yml"), []byte("x"), 0644))
	err := CheckExisting(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forumtap init --force")
}
