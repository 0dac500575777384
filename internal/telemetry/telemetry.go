package telemetry

import (
	"math"
	"time"
)

// Provider returns the latest probe reading, or nil if none is available.
type Provider interface {
	Get() *Telemetry
}

// Telemetry is a field probe reading
type Telemetry struct {
	Timestamp   time.Time `json:"timestamp"`             // Timestamp of the reading
	Ex          *float64  `json:"ex,omitempty"`          // X-axis E-field in V/m
	Ey          *float64  `json:"ey,omitempty"`          // Y-axis E-field in V/m
	Ez          *float64  `json:"ez,omitempty"`          // Z-axis E-field in V/m
	Temperature *float64  `json:"temperature,omitempty"` // Probe temperature in °C
	Battery     *float64  `json:"battery,omitempty"`     // Probe battery level in %
}

// Total returns the magnitude of the E-field vector. It is false unless all
// three components are present.
func (t *Telemetry) Total() (float64, bool) {
	if t == nil || t.Ex == nil || t.Ey == nil || t.Ez == nil {
		return 0, false
	}
	return math.Sqrt(*t.Ex**t.Ex + *t.Ey**t.Ey + *t.Ez**t.Ez), true
}
