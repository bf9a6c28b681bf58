package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStore(t *testing.T) {
	t.Run("creates store with custom path", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")

		store, err := NewFileStore(configPath)
		require.NoError(t, err)

		assert.Equal(t, configPath, store.Path())
		assert.False(t, store.IsModified())
		assert.Equal(t, LevelStandard, store.Get().Level, "missing file yields defaults")
	})

	t.Run("creates store with default path when empty", func(t *testing.T) {
		store, err := NewFileStore("")
		require.NoError(t, err)

		homeDir, _ := os.UserHomeDir()
		assert.Equal(t, filepath.Join(homeDir, ".pagelens", "config.yaml"), store.Path())
	})

	t.Run("loads existing config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		content := []byte("level: detailed\nfeatures:\n  modalDetection: false\nthresholds:\n  maxActiveHandles: 120\n")
		require.NoError(t, os.WriteFile(configPath, content, 0644))

		store, err := NewFileStore(configPath)
		require.NoError(t, err)

		cfg := store.Get()
		assert.Equal(t, LevelDetailed, cfg.Level)
		assert.False(t, cfg.Features["modalDetection"])
		assert.Equal(t, 120, cfg.Thresholds.MaxActiveHandles)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("level: everything\n"), 0644))

		_, err := NewFileStore(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "everything")
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("level: [unterminated"), 0644))

		_, err := NewFileStore(configPath)
		require.Error(t, err)
	})
}

func TestFileStore_SaveAndReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	store, err := NewFileStore(configPath)
	require.NoError(t, err)

	store.Set(DiagnosticConfig{
		Level:      LevelFull,
		Features:   map[string]bool{FeatureAccessibilityAnalysis: false},
		Thresholds: Thresholds{MaxDiagnosticTimeMS: 15_000},
	})
	assert.True(t, store.IsModified())

	require.NoError(t, store.Save(), "save creates nested directories")
	assert.False(t, store.IsModified())

	reloaded, err := NewFileStore(configPath)
	require.NoError(t, err)

	cfg := reloaded.Get()
	assert.Equal(t, LevelFull, cfg.Level)
	assert.False(t, cfg.Features[FeatureAccessibilityAnalysis])
	assert.Equal(t, int64(15_000), cfg.Thresholds.MaxDiagnosticTimeMS)
}

func TestFileStore_LoadMissingFileResetsToDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "absent.yaml")
	store := &FileStore{path: configPath}

	require.NoError(t, store.Load())
	assert.Equal(t, LevelStandard, store.Get().Level)
}
