package sweep

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MaxPoints bounds the size of a generated plan.
	MaxPoints = 1_000_000

	// ModeLinear steps frequencies by a fixed absolute increment in Hz.
	ModeLinear Mode = "linear"

	// ModeLogarithmic steps frequencies by a fixed multiplicative factor.
	ModeLogarithmic Mode = "logarithmic"
)

// ErrInvalidParameter is returned when a FrequencyRange cannot produce a plan.
var ErrInvalidParameter = errors.New("sweep: invalid parameter")

// Mode selects the stepping rule of a sweep.
type Mode string

func (m Mode) String() string {
	return string(m)
}

// UnmarshalText accepts the mode names case-sensitively, plus the short
// forms "lin" and "log".
func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "linear", "lin":
		*m = ModeLinear
	case "logarithmic", "log":
		*m = ModeLogarithmic
	default:
		return fmt.Errorf("%w: unknown mode '%s'", ErrInvalidParameter, text)
	}
	return nil
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m), nil
}

// FrequencyRange describes a sweep. Step is an increment in Hz for
// ModeLinear and a ratio between consecutive points for ModeLogarithmic.
type FrequencyRange struct {
	Start    float64 `json:"start" yaml:"start"`       // Start frequency in Hz
	Stop     float64 `json:"stop" yaml:"stop"`         // Stop frequency in Hz
	Step     float64 `json:"step" yaml:"step"`         // Increment in Hz, or factor
	Mode     Mode    `json:"mode" yaml:"mode"`         // Stepping rule
	Endpoint bool    `json:"endpoint" yaml:"endpoint"` // Append Stop as the final point
}

// Validate reports whether the range can produce a plan.
func (r FrequencyRange) Validate() error {
	switch r.Mode {
	case ModeLinear:
		return validateLinear(r.Start, r.Stop, r.Step)
	case ModeLogarithmic:
		return validateLogarithmic(r.Start, r.Stop, r.Step)
	default:
		return fmt.Errorf("%w: unknown mode '%s'", ErrInvalidParameter, r.Mode)
	}
}

// Generate builds the plan for the range.
func Generate(r FrequencyRange) (Plan, error) {
	var freqs []float64
	var err error

	switch r.Mode {
	case ModeLinear:
		freqs, err = Linear(r.Start, r.Stop, r.Step, r.Endpoint)
	case ModeLogarithmic:
		freqs, err = Logarithmic(r.Start, r.Stop, r.Step, r.Endpoint)
	default:
		err = fmt.Errorf("%w: unknown mode '%s'", ErrInvalidParameter, r.Mode)
	}
	if err != nil {
		return Plan{}, err
	}

	return Plan{freqs: freqs}, nil
}

// Linear returns start, start+step, start+2*step, ... for every value below
// stop. A zero step yields the single point [start]. With endpoint set, stop
// is appended as the final point even when it equals the last stepped value.
// When start > stop only start is returned.
func Linear(start, stop, step float64, endpoint bool) ([]float64, error) {
	if err := validateLinear(start, stop, step); err != nil {
		return nil, err
	}
	if step == 0 || start > stop {
		return []float64{start}, nil
	}

	n := math.Floor((stop-start)/step) + 1
	if n > MaxPoints {
		return nil, fmt.Errorf("%w: %.0f points exceed the limit of %d", ErrInvalidParameter, n, MaxPoints)
	}

	freqs := make([]float64, 0, int(n)+1)
	for i := 0; ; i++ {
		f := start + float64(i)*step
		if i > 0 && f >= stop {
			break
		}
		freqs = append(freqs, f)
	}

	if endpoint {
		freqs = append(freqs, stop)
	}
	return freqs, nil
}

// Logarithmic returns start, start*factor, start*factor^2, ... for every
// value below stop. With endpoint set, stop is appended as the final point.
// When start > stop only start is returned.
func Logarithmic(start, stop, factor float64, endpoint bool) ([]float64, error) {
	if err := validateLogarithmic(start, stop, factor); err != nil {
		return nil, err
	}
	if start > stop {
		return []float64{start}, nil
	}

	n := math.Ceil(math.Log(stop/start) / math.Log(factor))
	if n > MaxPoints {
		return nil, fmt.Errorf("%w: %.0f points exceed the limit of %d", ErrInvalidParameter, n, MaxPoints)
	}

	freqs := make([]float64, 0, int(n)+2)
	for i := 0; ; i++ {
		f := start * math.Pow(factor, float64(i))
		if i > 0 && f >= stop {
			break
		}
		freqs = append(freqs, f)
	}

	if endpoint {
		freqs = append(freqs, stop)
	}
	return freqs, nil
}

func validateLinear(start, stop, step float64) error {
	if !isFinite(start) || !isFinite(stop) {
		return fmt.Errorf("%w: bounds must be finite: start=%v, stop=%v", ErrInvalidParameter, start, stop)
	}
	if !isFinite(step) || step < 0 {
		return fmt.Errorf("%w: linear step must be finite and >= 0: %v", ErrInvalidParameter, step)
	}
	return nil
}

func validateLogarithmic(start, stop, factor float64) error {
	if !isFinite(start) || !isFinite(stop) {
		return fmt.Errorf("%w: bounds must be finite: start=%v, stop=%v", ErrInvalidParameter, start, stop)
	}
	if start <= 0 || stop <= 0 {
		return fmt.Errorf("%w: logarithmic bounds must be positive: start=%v, stop=%v", ErrInvalidParameter, start, stop)
	}
	if !isFinite(factor) || factor <= 1 {
		return fmt.Errorf("%w: logarithmic factor must be > 1: %v", ErrInvalidParameter, factor)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
