package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 64

// ErrLoopStopped is returned when work is posted to a loop that is not running.
var ErrLoopStopped = errors.New("control loop stopped")

// WithQueueSize sets the capacity of the posted work queue
func WithQueueSize(size int) func(*Loop) {
	return func(l *Loop) {
		if size > 0 {
			l.queue = make(chan func(context.Context), size)
		}
	}
}

// WithLoopLogger sets the logger for the loop
func WithLoopLogger(logger *slog.Logger) func(*Loop) {
	return func(l *Loop) {
		l.logger = logger.With(slog.String("component", "loop"))
	}
}

// Loop is the control thread. Every posted func runs on a single goroutine in
// the order it was posted, so the state it touches needs no locking.
type Loop struct {
	queue   chan func(context.Context)
	done    chan struct{}
	running atomic.Bool

	logger *slog.Logger
}

// NewLoop creates a Loop. Nothing runs until Run is called.
func NewLoop(options ...func(*Loop)) *Loop {
	l := Loop{
		queue:  make(chan func(context.Context), defaultQueueSize),
		done:   make(chan struct{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&l)
	}

	return &l
}

// Run executes posted funcs until ctx is cancelled. It may be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("control loop is already running")
	}
	defer close(l.done)

	l.logger.Debug("control loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("control loop stopped")
			return nil

		case fn := <-l.queue:
			fn(ctx)
		}
	}
}

// Post queues fn for execution on the loop. It blocks while the queue is full
// and must not be called from the loop goroutine itself.
func (l *Loop) Post(fn func(context.Context)) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}

	select {
	case l.queue <- fn:
		return nil
	case <-l.done:
		return ErrLoopStopped
	}
}

// AfterFunc posts fn to the loop once d has elapsed. Loop satisfies the
// sequencer Scheduler.
func (l *Loop) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		if err := l.Post(func(context.Context) { fn() }); err != nil {
			l.logger.Debug("dropping timer callback", slog.String("reason", err.Error()))
		}
	})
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(context.Context) error) error {
	result := make(chan error, 1)

	if err := l.Post(func(loopCtx context.Context) { result <- fn(loopCtx) }); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// the func may have completed just before the loop stopped
		select {
		case err := <-result:
			return err
		default:
			return ErrLoopStopped
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
