// Package settings persists the operator settings of the susceptibility test
// between sessions: the frequency range, the target field, the dwell time and
// where instruments and exported tables live.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/temfield/internal/sweep"
)

const (
	// MaxLinearStepMHz is the largest accepted linear step in MHz.
	MaxLinearStepMHz = 99999.9999

	// MaxLogStepPercent is the largest accepted logarithmic step in percent.
	MaxLogStepPercent = 99.99

	appDir   = "TEMField"
	fileName = "settings.yaml"
)

// ErrInvalidSettings is returned by Validate.
var ErrInvalidSettings = errors.New("invalid settings")

// Roles are the instrument chain nodes every settings file names.
var Roles = []string{"sg", "a1", "a2", "tem", "fp"}

// Settings represents the persisted operator settings
type Settings struct {
	Frequencies   Frequencies   `yaml:"frequencies"`
	FieldStrength FieldStrength `yaml:"fieldstrength"`
	Settings      General       `yaml:"settings"`
}

// Frequencies represents the sweep range. Frequencies are in MHz, the step is
// in MHz for a linear sweep and in percent for a logarithmic one.
type Frequencies struct {
	StartFreq float64 `yaml:"start_freq"`
	StopFreq  float64 `yaml:"stop_freq"`
	StepFreq  float64 `yaml:"step_freq"`
	LogSweep  bool    `yaml:"log_sweep"`
	Endpoint  bool    `yaml:"endpoint"`
}

// FieldStrength represents the test level
type FieldStrength struct {
	CW float64 `yaml:"cw"` // V/m
	AM float64 `yaml:"am"` // %
}

// General represents the remaining settings
type General struct {
	DwellTime      float64           `yaml:"dwell_time"` // seconds
	SearchPath     []string          `yaml:"searchpath"`
	Names          map[string]string `yaml:"names"`
	EUTDescription string            `yaml:"eut-description"`
	TableSaveDir   string            `yaml:"table-save-dir"`
}

// Default returns the settings used when no file exists yet.
func Default() *Settings {
	return &Settings{
		Frequencies: Frequencies{
			StartFreq: 30,
			StopFreq:  1000,
			StepFreq:  1,
			LogSweep:  true,
			Endpoint:  true,
		},
		FieldStrength: FieldStrength{
			CW: 1,
			AM: 80,
		},
		Settings: General{
			DwellTime:  1,
			SearchPath: []string{".", "conf"},
			Names: map[string]string{
				"sg":  "sg",
				"a1":  "amp1",
				"a2":  "amp2",
				"tem": "gtem",
				"fp":  "prb",
			},
			TableSaveDir: ".",
		},
	}
}

// DefaultPath returns the per-user settings file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config directory: %w", err)
	}
	return filepath.Join(dir, appDir, fileName), nil
}

// Load reads settings from path. Keys missing from the file keep their
// default value, a missing file yields Default().
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	if err = yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}

	if s.Settings.Names == nil {
		s.Settings.Names = make(map[string]string)
	}
	for role, name := range Default().Settings.Names {
		if _, ok := s.Settings.Names[role]; !ok {
			s.Settings.Names[role] = name
		}
	}

	if err = s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the settings to path, replacing the file atomically.
func (s *Settings) Save(path string) (err error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing settings: %w", err)
	}

	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

// Validate checks the settings are within the ranges the operator can enter.
func (s *Settings) Validate() error {
	errs := s.Frequencies.validate()

	if !isFinite(s.FieldStrength.CW) || s.FieldStrength.CW < 0 {
		errs = append(errs, fmt.Errorf("cw field strength must not be negative, got %v V/m", s.FieldStrength.CW))
	}
	if !isFinite(s.FieldStrength.AM) || s.FieldStrength.AM < 0 || s.FieldStrength.AM > 100 {
		errs = append(errs, fmt.Errorf("am depth must be in [0, 100] %%, got %v", s.FieldStrength.AM))
	}

	if !isFinite(s.Settings.DwellTime) || s.Settings.DwellTime < 0 {
		errs = append(errs, fmt.Errorf("dwell time must not be negative, got %v s", s.Settings.DwellTime))
	}
	for _, role := range Roles {
		if s.Settings.Names[role] == "" {
			errs = append(errs, fmt.Errorf("no instrument named for node '%s'", role))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

func (f Frequencies) validate() []error {
	var errs []error
	if !isFinite(f.StartFreq) || f.StartFreq <= 0 {
		errs = append(errs, fmt.Errorf("start frequency must be positive, got %v MHz", f.StartFreq))
	}
	if !isFinite(f.StopFreq) || f.StopFreq <= 0 {
		errs = append(errs, fmt.Errorf("stop frequency must be positive, got %v MHz", f.StopFreq))
	}
	if f.LogSweep {
		if !isFinite(f.StepFreq) || f.StepFreq <= 0 || f.StepFreq > MaxLogStepPercent {
			errs = append(errs, fmt.Errorf("logarithmic step must be in (0, %v] %%, got %v", MaxLogStepPercent, f.StepFreq))
		}
	} else if !isFinite(f.StepFreq) || f.StepFreq < 0 || f.StepFreq > MaxLinearStepMHz {
		errs = append(errs, fmt.Errorf("linear step must be in [0, %v] MHz, got %v", MaxLinearStepMHz, f.StepFreq))
	}
	return errs
}

// CheckRange reports whether r, given in Hz, can be stored in the operator
// units. A range it rejects would make the saved settings unloadable. The
// error wraps both sweep.ErrInvalidParameter and ErrInvalidSettings.
func CheckRange(r sweep.FrequencyRange) error {
	if err := r.Validate(); err != nil {
		return err
	}

	var f Frequencies
	f.set(r)
	if errs := f.validate(); len(errs) > 0 {
		return fmt.Errorf("%w: %w: %w", sweep.ErrInvalidParameter, ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// Range converts the operator frequency settings into a sweep range in Hz.
func (s *Settings) Range() sweep.FrequencyRange {
	f := s.Frequencies

	r := sweep.FrequencyRange{
		Start:    f.StartFreq * 1e6,
		Stop:     f.StopFreq * 1e6,
		Endpoint: f.Endpoint,
	}
	if f.LogSweep {
		r.Mode = sweep.ModeLogarithmic
		r.Step = 1 + f.StepFreq*0.01
	} else {
		r.Mode = sweep.ModeLinear
		r.Step = f.StepFreq * 1e6
	}
	return r
}

// SetRange stores r, given in Hz, in operator units. It fails without
// touching the settings when CheckRange rejects r.
func (s *Settings) SetRange(r sweep.FrequencyRange) error {
	if err := CheckRange(r); err != nil {
		return err
	}
	s.Frequencies.set(r)
	return nil
}

func (f *Frequencies) set(r sweep.FrequencyRange) {
	f.StartFreq = r.Start / 1e6
	f.StopFreq = r.Stop / 1e6
	f.Endpoint = r.Endpoint
	f.LogSweep = r.Mode == sweep.ModeLogarithmic
	if f.LogSweep {
		f.StepFreq = (r.Step - 1) * 100
	} else {
		f.StepFreq = r.Step / 1e6
	}
}

// Dwell returns the dwell time per frequency.
func (s *Settings) Dwell() time.Duration {
	return time.Duration(s.Settings.DwellTime * float64(time.Second))
}

// SetDwell stores d in seconds.
func (s *Settings) SetDwell(d time.Duration) {
	s.Settings.DwellTime = d.Seconds()
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
