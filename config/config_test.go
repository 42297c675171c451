package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfigFromStr(t *testing.T) {
	rawConfig := `---
listener: localhost:4711
logger:
  level: debug
database:
  data-dir: /var/lib/homestore/series
  jobs-path: /var/lib/homestore/jobs
downsample:
  - bucket-size: 20
  - bucket-size: 400
cache:
  ttl: 30s
  max-items: 64`
	cfg, err := NewConfigFromStr([]byte(rawConfig))
	require.NoError(t, err)
	require.Equal(t, "localhost:4711", cfg.Listener)
	require.Equal(t, "/var/lib/homestore/series", cfg.Database.DataDir)
	require.Equal(t, "/var/lib/homestore/jobs", cfg.Database.JobsPath)
	require.Equal(t, 2, len(cfg.Downsample))
	require.Equal(t, 20, cfg.Downsample[0].BucketSize)
	require.Equal(t, 400, cfg.Downsample[1].BucketSize)
	require.Equal(t, 30*time.Second, cfg.Cache.TTL)
	require.Equal(t, uint64(64), cfg.Cache.MaxItems)

	level, err := cfg.Logger.ZapLevel()
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, level)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := NewConfigFromStr([]byte("listener: localhost:9999"))
	require.NoError(t, err)
	require.Equal(t, "localhost:9999", cfg.Listener)
	require.Equal(t, "./data/series", cfg.Database.DataDir)
	require.Equal(t, 3, len(cfg.Downsample))

	level, err := cfg.Logger.ZapLevel()
	require.NoError(t, err)
	require.Equal(t, zapcore.InfoLevel, level)
}
