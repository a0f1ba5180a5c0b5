package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"FrameFinder/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Search.RunTolerance)
	assert.Equal(t, 1, cfg.Ingest.WorkerCount)
	assert.Equal(t, 500, cfg.Ingest.BatchSize)
	assert.Equal(t, 128, cfg.Fingerprint.Threshold)
	assert.Equal(t, "exact", cfg.Fingerprint.QueryResize)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	yml := `
database:
  driver: memory
fingerprint:
  imageWidth: 64
  imageHeight: 48
  waveletWidth: 4
  waveletHeight: 3
search:
  runTolerance: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 64, cfg.Fingerprint.ImageWidth)
	assert.Equal(t, 3, cfg.Fingerprint.WaveletHeight)
	assert.Equal(t, 10, cfg.Search.RunTolerance)
	// 未设置的键仍然使用默认值
	assert.Equal(t, "sha1", cfg.Ingest.ContentHash)
}

func TestValidateRejectsBadSizes(t *testing.T) {
	cfg := Default()
	cfg.Fingerprint.WaveletWidth = cfg.Fingerprint.ImageWidth + 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "sqlite"
	assert.True(t, apperr.IsKind(cfg.Validate(), apperr.KindConfiguration))
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Database.Driver = "postgres"
	cfg.Search.RunTolerance = 7
	cfg.Server.Timeout = 5 * time.Second

	require.NoError(t, Save(dir, cfg))

	loaded, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "postgres", loaded.Database.Driver)
	assert.Equal(t, 7, loaded.Search.RunTolerance)
	assert.Equal(t, 5*time.Second, loaded.Server.Timeout)
}
