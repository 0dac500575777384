package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/temfield/internal/sequencer"
	"github.com/roman-kulish/temfield/internal/sweep"
)

// Run describes one sweep handed to the Test.
type Run struct {
	Range sweep.FrequencyRange
	Plan  sweep.Plan
	Dwell time.Duration
}

// Test is the measurement performed by a run.
type Test interface {
	Init(ctx context.Context, run Run) error
	Measure(ctx context.Context, f float64) error
	SetRF(ctx context.Context, on bool) error
	Finish(ctx context.Context) error
}

// Status is a point-in-time view of the Controller.
type Status struct {
	Progress sequencer.Snapshot   `json:"progress"`
	Range    sweep.FrequencyRange `json:"range"`
	Points   int                  `json:"points"`
	RF       bool                 `json:"rf"`
}

// WithLogger sets the logger for the controller and its sequencer
func WithLogger(logger *slog.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "controller"))
		c.seqOptions = append(c.seqOptions, sequencer.WithLogger(logger))
	}
}

// WithSequencerOptions passes options through to the sequencer
func WithSequencerOptions(options ...func(*sequencer.Sequencer)) func(*Controller) {
	return func(c *Controller) {
		c.seqOptions = append(c.seqOptions, options...)
	}
}

// WithCompletionHook registers fn to run on the loop after a run completes
// and the Test has been finished.
func WithCompletionHook(fn func(ctx context.Context, run Run)) func(*Controller) {
	return func(c *Controller) {
		c.hooks = append(c.hooks, fn)
	}
}

// WithRangeCheck adds a check Configure runs on a range before generating its
// plan. A rejected range leaves the configured plan unchanged.
func WithRangeCheck(check func(sweep.FrequencyRange) error) func(*Controller) {
	return func(c *Controller) {
		c.checkRange = check
	}
}

// Controller owns the sequencer and maps operator commands onto it. All state
// is confined to the Loop; the exported methods hop onto it.
type Controller struct {
	loop     *Loop
	test     Test
	seq      *sequencer.Sequencer
	handlers map[Command]func(context.Context) error

	rng   sweep.FrequencyRange
	plan  sweep.Plan
	dwell time.Duration
	rf    bool

	runCtx context.Context

	mu     sync.Mutex
	done   chan struct{}
	closed bool

	checkRange func(sweep.FrequencyRange) error
	hooks      []func(ctx context.Context, run Run)
	seqOptions []func(*sequencer.Sequencer)
	logger     *slog.Logger
}

// NewController creates an idle Controller with a plan generated from r.
func NewController(loop *Loop, test Test, r sweep.FrequencyRange, dwell time.Duration, options ...func(*Controller)) (*Controller, error) {
	plan, err := sweep.Generate(r)
	if err != nil {
		return nil, fmt.Errorf("generating plan: %w", err)
	}

	c := Controller{
		loop:   loop,
		test:   test,
		rng:    r,
		plan:   plan,
		dwell:  dwell,
		runCtx: context.Background(),
		done:   make(chan struct{}),
		closed: true,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	close(c.done)

	for _, option := range options {
		option(&c)
	}

	c.seq = sequencer.New(loop, c.measure, c.complete, c.seqOptions...)
	c.handlers = map[Command]func(context.Context) error{
		CommandStart:  c.start,
		CommandPause:  c.pause,
		CommandResume: c.resume,
		CommandToggle: c.toggle,
		CommandReset:  c.reset,
		CommandRFOn:   func(ctx context.Context) error { return c.setRF(ctx, true) },
		CommandRFOff:  func(ctx context.Context) error { return c.setRF(ctx, false) },
	}

	return &c, nil
}

// Dispatch executes cmd on the control loop.
func (c *Controller) Dispatch(ctx context.Context, cmd Command) error {
	handler, ok := c.handlers[cmd]
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrUnknownCommand, cmd)
	}

	return c.loop.Do(ctx, func(loopCtx context.Context) error {
		c.logger.Info(fmt.Sprintf("command %s", cmd), slog.String("state", c.seq.State().String()))
		if err := handler(loopCtx); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		return nil
	})
}

// Configure replaces the frequency range and dwell time. It is rejected
// while a run is in progress.
func (c *Controller) Configure(ctx context.Context, r sweep.FrequencyRange, dwell time.Duration) error {
	return c.loop.Do(ctx, func(context.Context) error {
		if state := c.seq.State(); state == sequencer.StateRunning || state == sequencer.StatePaused {
			return fmt.Errorf("%w: cannot configure while %s", sequencer.ErrInvalidState, state)
		}

		if c.checkRange != nil {
			if err := c.checkRange(r); err != nil {
				return fmt.Errorf("checking range: %w", err)
			}
		}

		plan, err := sweep.Generate(r)
		if err != nil {
			return fmt.Errorf("generating plan: %w", err)
		}

		c.rng = r
		c.plan = plan
		c.dwell = dwell

		c.logger.Info("plan configured", slog.String("summary", plan.Summary(dwell)))
		return nil
	})
}

// Status returns the current progress.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.loop.Do(ctx, func(context.Context) error {
		status = Status{
			Progress: c.seq.Snapshot(),
			Range:    c.rng,
			Points:   c.plan.Len(),
			RF:       c.rf,
		}
		return nil
	})
	return status, err
}

// Plan returns the configured plan and dwell time.
func (c *Controller) Plan(ctx context.Context) (sweep.Plan, time.Duration, error) {
	var plan sweep.Plan
	var dwell time.Duration
	err := c.loop.Do(ctx, func(context.Context) error {
		plan, dwell = c.plan, c.dwell
		return nil
	})
	return plan, dwell, err
}

// Done returns a channel closed when the current run completes or is
// aborted. While no run is under way the returned channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Controller) start(ctx context.Context) error {
	switch state := c.seq.State(); state {
	case sequencer.StateRunning, sequencer.StatePaused:
		return fmt.Errorf("%w: cannot start while %s", sequencer.ErrInvalidState, state)
	case sequencer.StateComplete:
		if err := c.seq.Reset(); err != nil {
			return err
		}
	}

	c.runCtx = ctx

	run := Run{Range: c.rng, Plan: c.plan, Dwell: c.dwell}
	if err := c.test.Init(ctx, run); err != nil {
		return fmt.Errorf("initialising test: %w", err)
	}

	if err := c.setRF(ctx, true); err != nil {
		c.finishTest(ctx)
		return err
	}

	// renewed before Start, which may complete the run
	c.renewDone()

	c.logger.Info("start test", slog.String("summary", c.plan.Summary(c.dwell)))
	if err := c.seq.Start(c.plan.Frequencies(), c.dwell); err != nil {
		if rfErr := c.setRF(ctx, false); rfErr != nil {
			c.logger.Error(rfErr.Error())
		}
		c.finishTest(ctx)
		c.closeDone()
		return err
	}
	return nil
}

func (c *Controller) finishTest(ctx context.Context) {
	if err := c.test.Finish(ctx); err != nil {
		c.logger.Error(fmt.Sprintf("finishing test: %s", err.Error()))
	}
}

func (c *Controller) pause(ctx context.Context) error {
	if err := c.seq.Pause(); err != nil {
		return err
	}
	return c.setRF(ctx, false)
}

func (c *Controller) resume(ctx context.Context) error {
	if err := c.seq.Resume(); err != nil {
		return err
	}
	return c.setRF(ctx, true)
}

func (c *Controller) toggle(ctx context.Context) error {
	switch c.seq.State() {
	case sequencer.StateRunning:
		return c.pause(ctx)
	case sequencer.StatePaused:
		return c.resume(ctx)
	default:
		return c.start(ctx)
	}
}

func (c *Controller) reset(ctx context.Context) error {
	aborted := c.seq.State() == sequencer.StatePaused
	if err := c.seq.Reset(); err != nil {
		return err
	}

	if aborted {
		c.logger.Info("run aborted", slog.Int("remaining", len(c.seq.Remaining())))
		if err := c.test.Finish(ctx); err != nil {
			return fmt.Errorf("finishing test: %w", err)
		}
		c.closeDone()
	}
	return nil
}

func (c *Controller) setRF(ctx context.Context, on bool) error {
	if err := c.test.SetRF(ctx, on); err != nil {
		return fmt.Errorf("switching RF: %w", err)
	}

	c.rf = on
	if on {
		c.logger.Info("RF On")
	} else {
		c.logger.Info("RF Off")
	}
	return nil
}

func (c *Controller) measure(f float64) error {
	c.logger.Debug(fmt.Sprintf("set freq to %s", sweep.FormatHz(f)))
	return c.test.Measure(c.runCtx, f)
}

func (c *Controller) complete() {
	ctx := c.runCtx

	if err := c.setRF(ctx, false); err != nil {
		c.logger.Error(err.Error())
	}
	if err := c.test.Finish(ctx); err != nil {
		c.logger.Error(fmt.Sprintf("finishing test: %s", err.Error()))
	}

	run := Run{Range: c.rng, Plan: c.plan, Dwell: c.dwell}
	for _, hook := range c.hooks {
		hook(ctx, run)
	}

	c.closeDone()
}

func (c *Controller) renewDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.done = make(chan struct{})
		c.closed = false
	}
}

func (c *Controller) closeDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
