package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shmregion/internal/logging"
	internalshm "github.com/srediag/shmregion/internal/shm"
	"github.com/srediag/shmregion/pkg/region"
)

func TestVerifyConfig(t *testing.T) {
	assert.NoError(t, VerifyConfig(DefaultConfig()))

	for name, mutate := range map[string]func(*Config){
		"capacity":        func(c *Config) { c.Region.Capacity = 0 },
		"frames":          func(c *Config) { c.Frames.Frames = 0 },
		"frame base":      func(c *Config) { c.Frames.Base = 0x1001 },
		"limit":           func(c *Config) { c.ProcessLimit = 0 },
		"image":           func(c *Config) { c.ProcessImageSize = c.ProcessLimit },
		"audit":           func(c *Config) { c.AuditCapacity = -1 },
		"workers":         func(c *Config) { c.Workers = 0 },
		"log level":       func(c *Config) { l := logging.LevelNoPrint + 1; c.LogLevel = &l },
		"unaligned limit": func(c *Config) { c.ProcessLimit = 0x1234 },
	} {
		cfg := DefaultConfig()
		mutate(cfg)
		assert.Error(t, VerifyConfig(cfg), name)
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
region:
  capacity: 8
  release: on-zero
  rollbackOnMapFailure: true
frames:
  frames: 32
  base: 0x400000
  memMapType: heap
processImageSize: 0x2000
workers: 2
logLevel: 1
`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Region.Capacity)
	assert.Equal(t, region.ReleaseOnZero, cfg.Region.Release)
	assert.True(t, cfg.Region.RollbackOnMapFailure)
	assert.True(t, cfg.Region.ReclaimFrames, "unset keys keep their defaults")
	assert.Equal(t, 32, cfg.Frames.Frames)
	assert.Equal(t, uintptr(0x400000), cfg.Frames.Base)
	assert.Equal(t, internalshm.MemMapTypeHeap, cfg.Frames.MemMapType)
	assert.Equal(t, uintptr(0x2000), cfg.ProcessImageSize)
	assert.Equal(t, 2, cfg.Workers)
	require.NotNil(t, cfg.LogLevel)
	assert.Equal(t, logging.LevelDebug, *cfg.LogLevel)

	_, err = ParseConfig([]byte("region:\n  release: eager\n"))
	assert.Error(t, err)
	_, err = ParseConfig([]byte("workers: 0\n"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shmregion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("region:\n  capacity: 4\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Region.Capacity)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
