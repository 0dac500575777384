package sweep

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// Plan is an ordered, immutable list of sweep frequencies in Hz. The zero
// value is an empty plan.
type Plan struct {
	freqs []float64
}

// NewPlan creates a plan from an explicit list of frequencies.
func NewPlan(freqs []float64) Plan {
	return Plan{freqs: slices.Clone(freqs)}
}

// Len returns the number of points in the plan.
func (p Plan) Len() int {
	return len(p.freqs)
}

// At returns the i-th frequency.
func (p Plan) At(i int) float64 {
	return p.freqs[i]
}

// Frequencies returns a copy of the plan points.
func (p Plan) Frequencies() []float64 {
	return slices.Clone(p.freqs)
}

// First returns the first frequency of the plan, false if the plan is empty.
func (p Plan) First() (float64, bool) {
	if len(p.freqs) == 0 {
		return 0, false
	}
	return p.freqs[0], true
}

// Last returns the last frequency of the plan, false if the plan is empty.
func (p Plan) Last() (float64, bool) {
	if len(p.freqs) == 0 {
		return 0, false
	}
	return p.freqs[len(p.freqs)-1], true
}

// Duration returns the estimated run time of the plan with the given dwell
// time per point.
func (p Plan) Duration(dwell time.Duration) time.Duration {
	return time.Duration(len(p.freqs)) * dwell
}

// Equal reports whether both plans hold the same points in the same order.
func (p Plan) Equal(o Plan) bool {
	return slices.Equal(p.freqs, o.freqs)
}

// Lines returns a human-readable line per point, e.g. "30.00 MHz".
func (p Plan) Lines() []string {
	lines := make([]string, len(p.freqs))
	for i, f := range p.freqs {
		lines[i] = FormatHz(f)
	}
	return lines
}

// Summary describes the plan the way the operator sees it, e.g.
// "12 points, ETA 00:02:00".
func (p Plan) Summary(dwell time.Duration) string {
	return fmt.Sprintf("%d points, ETA %s", len(p.freqs), FormatETA(p.Duration(dwell)))
}

// FormatHz formats a frequency with an SI prefix, e.g. 1.5e9 => "1.50 GHz".
func FormatHz(hz float64) string {
	value, prefix := humanize.ComputeSI(hz)
	return strconv.FormatFloat(value, 'f', 2, 64) + " " + prefix + "Hz"
}

// FormatETA formats a duration as hh:mm:ss, rounding to whole seconds.
// Hours are not wrapped at 24.
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
