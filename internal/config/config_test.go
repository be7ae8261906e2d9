package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmcore/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Greater(t, cfg.FrameCount, 0)
	assert.GreaterOrEqual(t, cfg.SwapSectors, config.SectorsPerPage)
	assert.Equal(t, 8<<20, cfg.StackLimit)
}

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frame_count: 64\nswap_sectors: 64\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.FrameCount)
	assert.Equal(t, 64, cfg.SwapSectors)
	assert.Equal(t, 8<<20, cfg.StackLimit, "unset stack_limit should fall back to the default")
}

func TestLoadRejectsBadFrameCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frame_count: 0\nswap_sectors: 64\n"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUndersizedSwap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frame_count: 8\nswap_sectors: 1\n"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}
