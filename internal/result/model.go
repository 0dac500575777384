package result

import (
	"time"

	"github.com/roman-kulish/temfield/internal/telemetry"
)

const (
	StatusPassed Status = "passed"
	StatusError  Status = "error"
)

// Status is the outcome of a single frequency point.
type Status string

// Session represents a single susceptibility test run.
// Each session captures the test conditions the result points were taken under.
type Session struct {
	ID             int64     `json:"ID"`               // Unique identifier for the session
	RunID          string    `json:"runID"`            // Globally unique run identifier
	StartTime      time.Time `json:"startTime"`        // When the test run began
	EUTDescription string    `json:"eutDescription"`   // Free text description of the equipment under test
	TargetField    float64   `json:"targetField"`      // Target CW field strength in V/m
	AM             float64   `json:"am"`               // AM modulation depth in %
	Config         *string   `json:"config,omitempty"` // Optional run configuration in JSON format
}

// Point represents the result of dwelling on a single frequency.
type Point struct {
	ID          int64     `json:"ID"`
	SessionID   int64     `json:"sessionID"`
	Timestamp   time.Time `json:"timestamp"`             // When the frequency was set
	Frequency   float64   `json:"frequency"`             // Frequency in Hz
	CW          float64   `json:"cw"`                    // Target field strength in V/m
	Field       *float64  `json:"field,omitempty"`       // Measured field strength in V/m, nil without a probe reading
	Status      Status    `json:"status"`                // Outcome of the point
	TelemetryID *int64    `json:"telemetryID,omitempty"` // Probe reading the point links to
}

// PointWithTelemetry extends Point with the probe reading taken at that point.
type PointWithTelemetry struct {
	Point     `json:"point"`
	Telemetry *telemetry.Telemetry `json:"telemetry,omitempty"`
}
