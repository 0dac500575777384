package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/roman-kulish/temfield/internal/report"
)

// EnvPrefix prefixes the environment variables overriding the config file,
// e.g. TEMFIELD_HTTP_ADDR overrides http.addr.
const EnvPrefix = "TEMFIELD_"

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `koanf:"settings"`
	Storage   StorageConfig   `koanf:"storage"`
	HTTP      HTTPConfig      `koanf:"http"`
	Sequencer SequencerConfig `koanf:"sequencer"`
	Archive   ArchiveConfig   `koanf:"archive"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `koanf:"loglevel"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory string `koanf:"datadirectory"`
	MaxBatchSize  int    `koanf:"maxbatchsize"`
}

// HTTPConfig represents the control API listener
type HTTPConfig struct {
	Addr    string   `koanf:"addr"`
	Origins []string `koanf:"origins"`
}

// SequencerConfig tunes the sweep sequencer
type SequencerConfig struct {
	PollInterval time.Duration `koanf:"pollinterval"`
	MinDwell     time.Duration `koanf:"mindwell"`
}

// ArchiveConfig represents the optional S3 archive of exported tables
type ArchiveConfig struct {
	Enabled bool            `koanf:"enabled"`
	S3      report.S3Config `koanf:"s3"`
}

// DefaultConfig returns the configuration used for keys no source sets
func DefaultConfig() Config {
	return Config{
		Settings: Settings{LogLevel: "info"},
		Storage: StorageConfig{
			DataDirectory: "data",
			MaxBatchSize:  100,
		},
		HTTP: HTTPConfig{
			Addr:    "127.0.0.1:8080",
			Origins: []string{"*"},
		},
		Sequencer: SequencerConfig{
			PollInterval: 100 * time.Millisecond,
			MinDwell:     10 * time.Millisecond,
		},
	}
}

// LoadConfig layers the defaults, the YAML file at path and the environment.
// An empty path, or a missing file, leaves the defaults in place.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var c Config
	if err = k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if c.Archive.Enabled && c.Archive.S3.Bucket == "" {
		return nil, errors.New("archive is enabled without a bucket")
	}
	return &c, nil
}
