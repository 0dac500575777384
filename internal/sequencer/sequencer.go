// Package sequencer steps through a sweep plan one frequency at a time.
//
// The Sequencer never blocks for the dwell time. Each step schedules the next
// one on a Scheduler and returns, so the hosting loop stays free to handle a
// pause command while a point is being dwelled on. The Sequencer is not safe
// for concurrent use: all methods and all scheduled callbacks must run on the
// same control thread.
package sequencer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"
)

const (
	// DefaultPollInterval is how often a paused sequencer checks for resume.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultMinDwell is the dwell time used when a non-positive one is given.
	DefaultMinDwell = 10 * time.Millisecond
)

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateComplete
)

// ErrInvalidState is returned when a command is not allowed in the current state.
var ErrInvalidState = errors.New("sequencer: invalid state")

// State is the life cycle state of a Sequencer.
type State int

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, state := range []State{StateIdle, StateRunning, StatePaused, StateComplete} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state '%s'", text)
}

// StepFunc performs the measurement at frequency f. A returned error is
// logged, the plan advances regardless.
type StepFunc func(f float64) error

// WithLogger sets the logger for the sequencer
func WithLogger(logger *slog.Logger) func(*Sequencer) {
	return func(s *Sequencer) {
		s.logger = logger.With(slog.String("component", "sequencer"))
	}
}

// WithPollInterval sets how often a paused sequencer checks for resume.
func WithPollInterval(d time.Duration) func(*Sequencer) {
	return func(s *Sequencer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithMinDwell sets the dwell time substituted for a non-positive one, so an
// instantaneous StepFunc cannot spin the control thread.
func WithMinDwell(d time.Duration) func(*Sequencer) {
	return func(s *Sequencer) {
		if d > 0 {
			s.minDwell = d
		}
	}
}

// Sequencer drives one StepFunc call per plan frequency.
type Sequencer struct {
	scheduler   Scheduler
	onFrequency StepFunc
	onComplete  func()

	state     State
	remaining []float64
	total     int
	dwell     time.Duration
	current   float64
	visited   bool

	// generation invalidates callbacks scheduled by a previous run
	generation uint64

	pollInterval time.Duration
	minDwell     time.Duration
	logger       *slog.Logger
}

// New creates an idle Sequencer. onComplete may be nil.
func New(scheduler Scheduler, onFrequency StepFunc, onComplete func(), options ...func(*Sequencer)) *Sequencer {
	s := Sequencer{
		scheduler:    scheduler,
		onFrequency:  onFrequency,
		onComplete:   onComplete,
		pollInterval: DefaultPollInterval,
		minDwell:     DefaultMinDwell,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Start begins a run over a copy of plan, dispatching the first frequency
// immediately. Idle -> Running.
func (s *Sequencer) Start(plan []float64, dwell time.Duration) error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, s.state)
	}

	if dwell <= 0 {
		s.logger.Warn("non-positive dwell time, clamping",
			slog.Duration("dwell", dwell), slog.Duration("minDwell", s.minDwell))
		dwell = s.minDwell
	}

	s.generation++
	s.remaining = slices.Clone(plan)
	s.total = len(plan)
	s.dwell = dwell
	s.current = 0
	s.visited = false
	s.state = StateRunning

	s.logger.Info("sweep started", slog.Int("points", s.total), slog.Duration("dwell", dwell))

	s.advance(s.generation)
	return nil
}

// Pause holds the run. The frequency being dwelled on is not repeated on
// resume. Running -> Paused.
func (s *Sequencer) Pause() error {
	if s.state != StateRunning {
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidState, s.state)
	}

	s.state = StatePaused
	s.logger.Info("sweep paused", slog.Int("remaining", len(s.remaining)))
	return nil
}

// Resume continues a paused run with the next unvisited frequency at the
// next poll. Paused -> Running.
func (s *Sequencer) Resume() error {
	if s.state != StatePaused {
		return fmt.Errorf("%w: cannot resume while %s", ErrInvalidState, s.state)
	}

	s.state = StateRunning
	s.logger.Info("sweep resumed", slog.Int("remaining", len(s.remaining)))
	return nil
}

// Reset discards the run. Paused|Complete -> Idle. Resetting an idle
// sequencer is a no-op.
func (s *Sequencer) Reset() error {
	switch s.state {
	case StateIdle:
		return nil
	case StateRunning:
		return fmt.Errorf("%w: pause before reset", ErrInvalidState)
	}

	s.generation++
	s.remaining = nil
	s.total = 0
	s.current = 0
	s.visited = false
	s.state = StateIdle
	return nil
}

// State returns the current state.
func (s *Sequencer) State() State {
	return s.state
}

// Remaining returns a copy of the frequencies not yet visited.
func (s *Sequencer) Remaining() []float64 {
	return slices.Clone(s.remaining)
}

// Snapshot is a point-in-time view of a Sequencer.
type Snapshot struct {
	State     State         `json:"state"`
	Total     int           `json:"total"`
	Done      int           `json:"done"`
	Remaining int           `json:"remaining"`
	Current   *float64      `json:"current,omitempty"`
	Dwell     time.Duration `json:"dwell"`
	ETA       time.Duration `json:"eta"`
}

// Snapshot returns the current progress.
func (s *Sequencer) Snapshot() Snapshot {
	snap := Snapshot{
		State:     s.state,
		Total:     s.total,
		Done:      s.total - len(s.remaining),
		Remaining: len(s.remaining),
		Dwell:     s.dwell,
		ETA:       time.Duration(len(s.remaining)) * s.dwell,
	}
	if s.visited && s.state != StateComplete {
		current := s.current
		snap.Current = &current
	}
	return snap
}

func (s *Sequencer) advance(generation uint64) {
	if generation != s.generation || s.state == StateIdle || s.state == StateComplete {
		return // stale callback of a reset run
	}

	if s.state == StatePaused {
		s.scheduler.AfterFunc(s.pollInterval, func() { s.advance(generation) })
		return
	}

	if len(s.remaining) == 0 {
		s.state = StateComplete
		s.logger.Info("all frequencies processed", slog.Int("points", s.total))
		if s.onComplete != nil {
			s.onComplete()
		}
		return
	}

	f := s.remaining[0]
	s.remaining = s.remaining[1:]
	s.current = f
	s.visited = true

	if err := s.onFrequency(f); err != nil {
		s.logger.Warn(fmt.Sprintf("measurement failed: %s", err.Error()), slog.Float64("frequency", f))
	}

	s.scheduler.AfterFunc(s.dwell, func() { s.advance(generation) })
}
