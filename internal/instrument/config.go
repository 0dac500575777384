package instrument

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/temfield/internal/instrument/comm"
)

// ErrConfigNotFound is returned when no configuration file exists for a node.
var ErrConfigNotFound = errors.New("instrument configuration not found")

var configExtensions = []string{".yaml", ".yml", ""}

// Description identifies an instrument and the driver that handles it
type Description struct {
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Vendor      string `yaml:"vendor"`
	SerialNr    string `yaml:"serialnr"`
	DeviceID    string `yaml:"deviceid"`
	Driver      string `yaml:"driver"`
	Class       string `yaml:"class"`
}

// InitValue holds the values a driver is initialised with
type InitValue struct {
	FStart  float64 `yaml:"fstart"`  // lowest usable frequency in Hz
	FStop   float64 `yaml:"fstop"`   // highest usable frequency in Hz
	FStep   float64 `yaml:"fstep"`   // frequency resolution in Hz, 0 if continuous
	GPIB    int     `yaml:"gpib"`    // GPIB address, informational
	Output  string  `yaml:"output"`  // switch output, "term" or "gtem"
	SwFreq  float64 `yaml:"swfreq"`  // switch LF/HF crossover in Hz
	Virtual bool    `yaml:"virtual"` // run without hardware
}

// Config is the configuration file of a single instrument
type Config struct {
	Description Description `yaml:"description"`
	InitValue   InitValue   `yaml:"init_value"`
	Transport   comm.Config `yaml:"transport"`
}

// LoadConfig reads an instrument configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instrument configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing instrument configuration '%s': %w", path, err)
	}

	if config.Description.Driver == "" {
		return nil, fmt.Errorf("instrument configuration '%s': no driver specified", path)
	}
	if !config.InitValue.Virtual && config.Transport.Addr == "" {
		return nil, fmt.Errorf("instrument configuration '%s': no transport address for a non-virtual instrument", path)
	}

	return &config, nil
}

// FindConfig resolves the configuration file of the node called name by
// looking for name.yaml, name.yml and name in each directory of searchPath,
// in order.
func FindConfig(name string, searchPath []string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
		return "", fmt.Errorf("%w: '%s'", ErrConfigNotFound, name)
	}

	for _, dir := range searchPath {
		for _, ext := range configExtensions {
			path := filepath.Join(dir, name+ext)

			stat, err := os.Stat(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return "", fmt.Errorf("checking '%s': %w", path, err)
			}
			if !stat.IsDir() {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("%w: '%s' in %v", ErrConfigNotFound, name, searchPath)
}
