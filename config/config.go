package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/mboers/homestore/storage"
)

type Logger struct {
	Level string `yaml:"level"`
}

// ZapLevel parses the configured level, defaulting to info.
func (l Logger) ZapLevel() (zapcore.Level, error) {
	if l.Level == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(l.Level)
}

type Database struct {
	// DataDir holds the series files, one per device.
	DataDir string `yaml:"data-dir"`
	// JobsPath is the directory of the job database.
	JobsPath string `yaml:"jobs-path"`
}

type Config struct {
	Listener   string                     `yaml:"listener"`
	Logger     Logger                     `yaml:"logger"`
	Database   Database                   `yaml:"database"`
	Downsample []storage.DownsampleConfig `yaml:"downsample"`
	Cache      storage.QueryCacheConfig   `yaml:"cache"`
}

func DefaultConfig() *Config {
	return &Config{
		Listener: "localhost:8080",
		Logger:   Logger{Level: "info"},
		Database: Database{
			DataDir:  "./data/series",
			JobsPath: "./data/jobs",
		},
		Downsample: []storage.DownsampleConfig{
			{BucketSize: 10}, {BucketSize: 100}, {BucketSize: 1000},
		},
		Cache: storage.QueryCacheConfig{
			TTL:      10 * time.Second,
			MaxItems: 1024,
		},
	}
}

// NewConfig returns the decoded config, with defaults for everything the
// file does not set.
func NewConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	if err := d.Decode(config); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}

	return config, nil
}

// NewConfigFromStr decodes the config from raw yaml bytes.
func NewConfigFromStr(raw []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("could not parse config: %w", err)
	}
	return config, nil
}

// ValidateConfigPath just makes sure, that the path provided is a file,
// that can be read
func ValidateConfigPath(path string) error {
	s, err := os.Stat(path)
	if err != nil {
		return err
	}
	if s.IsDir() {
		return fmt.Errorf("'%s' is a directory, not a normal file", path)
	}
	return nil
}
