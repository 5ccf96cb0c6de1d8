package keyspace

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type Config struct {
	// Dir is the keyspace folder; created if missing.
	Dir string `yaml:"dir"`
	// SyncWrites fsyncs the journal on every commit.
	SyncWrites bool `yaml:"sync_writes"`
	// DetectConflicts selects the key-fingerprint isolation policy; when
	// false commits never conflict and no access history is retained.
	DetectConflicts bool `yaml:"detect_conflicts"`

	Logger *zap.Logger `yaml:"-"`
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		SyncWrites:      true,
		DetectConflicts: true,
	}
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	var config Config
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	return config, nil
}

func checkConfig(config Config) error {
	if config.Dir == "" {
		return ErrEmptyDir
	}
	return nil
}
