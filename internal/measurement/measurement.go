// Package measurement performs the susceptibility test at each frequency of
// a run: it tunes the instrument chain, reads the field probe and records one
// result point per frequency.
package measurement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/temfield/internal/control"
	"github.com/roman-kulish/temfield/internal/result"
	"github.com/roman-kulish/temfield/internal/storage"
	"github.com/roman-kulish/temfield/internal/sweep"
	"github.com/roman-kulish/temfield/internal/telemetry"
)

const maxBatchSize = 100

// ErrNotStarted is returned by Measure before Init.
var ErrNotStarted = errors.New("measurement not started")

// Chain is the instrument signal path the test drives
type Chain interface {
	Init(ctx context.Context) error
	SetFreq(ctx context.Context, f float64) error
	RF(ctx context.Context, on bool) error
	Field(ctx context.Context) (*telemetry.Telemetry, error)
	Quit(ctx context.Context) error
}

// Conditions are the test conditions recorded with every session
type Conditions struct {
	EUTDescription string
	CW             float64 // target field strength in V/m
	AM             float64 // AM depth in %
}

type runConfig struct {
	Range  sweep.FrequencyRange `json:"range"`
	Points int                  `json:"points"`
	Dwell  string               `json:"dwell"`
	CW     float64              `json:"cw"`
	AM     float64              `json:"am"`
}

// WithLogger sets the logger for the test
func WithLogger(logger *slog.Logger) func(*Test) {
	return func(t *Test) {
		t.logger = logger.With(slog.String("component", "measurement"))
	}
}

// WithMaxBatchSize sets the maximum number of result points to store
// within a single database transaction.
func WithMaxBatchSize(size int) func(*Test) {
	return func(t *Test) {
		if size > 0 {
			t.maxBatchSize = size
		}
	}
}

// WithClock replaces time.Now for point timestamps
func WithClock(now func() time.Time) func(*Test) {
	return func(t *Test) {
		t.now = now
	}
}

// Test is the susceptibility test. It satisfies control.Test. Init, Measure
// and Finish are called from one goroutine; mu guards the recorded state only
// and is never held across instrument or store I/O.
type Test struct {
	chain Chain
	store storage.Store

	mu         sync.Mutex
	conditions Conditions
	session    *result.Session
	points     []result.Point
	pending    []result.Point
	latest     *telemetry.Telemetry

	maxBatchSize int
	now          func() time.Time
	logger       *slog.Logger
}

var (
	_ control.Test       = (*Test)(nil)
	_ telemetry.Provider = (*Test)(nil)
)

// New creates a Test recording into store
func New(chain Chain, store storage.Store, conditions Conditions, options ...func(*Test)) *Test {
	t := Test{
		chain:        chain,
		store:        store,
		conditions:   conditions,
		maxBatchSize: maxBatchSize,
		now:          time.Now,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&t)
	}

	return &t
}

// SetConditions replaces the conditions used by the next run
func (t *Test) SetConditions(c Conditions) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conditions = c
}

// Conditions returns the conditions of the next run
func (t *Test) Conditions() Conditions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conditions
}

// Init initialises the instruments and opens a new session
func (t *Test) Init(ctx context.Context, run control.Run) error {
	conditions := t.Conditions()

	if err := t.chain.Init(ctx); err != nil {
		return fmt.Errorf("initialising instruments: %w", err)
	}

	session := result.Session{
		RunID:          uuid.NewString(),
		StartTime:      t.now(),
		EUTDescription: conditions.EUTDescription,
		TargetField:    conditions.CW,
		AM:             conditions.AM,
	}
	config := runConfig{
		Range:  run.Range,
		Points: run.Plan.Len(),
		Dwell:  run.Dwell.String(),
		CW:     conditions.CW,
		AM:     conditions.AM,
	}

	id, err := t.store.CreateSession(ctx, &session, config)
	if err != nil {
		if qErr := t.chain.Quit(ctx); qErr != nil {
			t.logger.Warn(qErr.Error())
		}
		return fmt.Errorf("creating session: %w", err)
	}
	session.ID = id

	t.mu.Lock()
	t.session = &session
	t.points = nil
	t.pending = nil
	t.mu.Unlock()

	t.logger.Info("session created",
		slog.Int64("sessionID", id),
		slog.String("runID", session.RunID),
		slog.String("eut", session.EUTDescription))
	return nil
}

// Measure tunes the chain to f, reads the probe and records the point. A
// chain failure is recorded as an error point and returned.
func (t *Test) Measure(ctx context.Context, f float64) error {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return ErrNotStarted
	}
	point := result.Point{
		SessionID: t.session.ID,
		Timestamp: t.now(),
		Frequency: f,
		CW:        t.session.TargetField,
		Status:    result.StatusPassed,
	}
	t.mu.Unlock()

	t.logger.Info(fmt.Sprintf("set freq to %s", sweep.FormatHz(f)))

	var reading *telemetry.Telemetry
	chainErr := t.chain.SetFreq(ctx, f)
	if chainErr == nil {
		reading, chainErr = t.chain.Field(ctx)
		if reading != nil {
			t.recordTelemetry(ctx, &point, reading)
		}
	}
	if chainErr != nil {
		point.Status = result.StatusError
	}

	t.mu.Lock()
	if reading != nil {
		t.latest = reading
	}
	t.points = append(t.points, point)
	t.pending = append(t.pending, point)
	full := len(t.pending) >= t.maxBatchSize
	t.mu.Unlock()

	if full {
		if err := t.flush(ctx); err != nil {
			return errors.Join(chainErr, err)
		}
	}

	return chainErr
}

// SetRF switches the chain RF
func (t *Test) SetRF(ctx context.Context, on bool) error {
	return t.chain.RF(ctx, on)
}

// Finish stores pending points and shuts the instruments down
func (t *Test) Finish(ctx context.Context) error {
	session := t.Session()
	if session == nil {
		return nil
	}

	flushErr := t.flush(ctx)
	quitErr := t.chain.Quit(ctx)

	t.mu.Lock()
	points := len(t.points)
	t.mu.Unlock()

	t.logger.Info("session finished",
		slog.Int64("sessionID", session.ID),
		slog.Int("points", points))

	return errors.Join(flushErr, quitErr)
}

// Session returns the current or last session, nil before the first run
func (t *Test) Session() *result.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil
	}
	s := *t.session
	return &s
}

// Points returns a copy of the result table of the current or last run
func (t *Test) Points() []result.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.points)
}

// Get returns the latest probe reading, nil before the first one
func (t *Test) Get() *telemetry.Telemetry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return nil
	}
	reading := *t.latest
	return &reading
}

func (t *Test) recordTelemetry(ctx context.Context, point *result.Point, reading *telemetry.Telemetry) {
	if total, ok := reading.Total(); ok {
		point.Field = &total
	}

	id, err := t.store.StoreTelemetry(ctx, point.SessionID, reading)
	if err != nil {
		t.logger.Error(fmt.Sprintf("storing telemetry: %s", err.Error()))
		return
	}
	point.TelemetryID = &id
}

// flush stores the pending points. Points that could not be stored stay
// pending for the next flush.
func (t *Test) flush(ctx context.Context) error {
	t.mu.Lock()
	sessionID := t.session.ID
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	stored := 0
	for chunk := range slices.Chunk(pending, t.maxBatchSize) {
		if err := t.store.StorePoints(ctx, sessionID, chunk); err != nil {
			t.mu.Lock()
			t.pending = append(slices.Clone(pending[stored:]), t.pending...)
			t.mu.Unlock()
			return fmt.Errorf("storing points: %w", err)
		}
		stored += len(chunk)
	}
	return nil
}
