package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/temfield/internal/sequencer"
	"github.com/roman-kulish/temfield/internal/sweep"
)

type recordingTest struct {
	mu       sync.Mutex
	inits    int
	finishes int
	measured []float64
	rf       []bool
}

func (r *recordingTest) Init(context.Context, Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits++
	return nil
}

func (r *recordingTest) Measure(_ context.Context, f float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.measured = append(r.measured, f)
	return nil
}

func (r *recordingTest) SetRF(_ context.Context, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rf = append(r.rf, on)
	return nil
}

func (r *recordingTest) Finish(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishes++
	return nil
}

func (r *recordingTest) snapshot() (measured []float64, rf []bool, inits, finishes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.measured...), append([]bool(nil), r.rf...), r.inits, r.finishes
}

type mockTest struct {
	mock.Mock
}

func (m *mockTest) Init(ctx context.Context, run Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockTest) Measure(ctx context.Context, f float64) error {
	return m.Called(ctx, f).Error(0)
}

func (m *mockTest) SetRF(ctx context.Context, on bool) error {
	return m.Called(ctx, on).Error(0)
}

func (m *mockTest) Finish(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var testRange = sweep.FrequencyRange{Start: 0, Stop: 10, Step: 2, Mode: sweep.ModeLinear, Endpoint: true}

func startLoop(t *testing.T) *Loop {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop()
	go func() { _ = loop.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete")
	}
}

func TestController_RunToCompletion(t *testing.T) {
	loop := startLoop(t)
	test := &recordingTest{}

	var hooked []Run
	c, err := NewController(loop, test, testRange, 2*time.Millisecond,
		WithCompletionHook(func(_ context.Context, run Run) { hooked = append(hooked, run) }))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Dispatch(ctx, CommandStart))
	waitDone(t, c)

	measured, rf, inits, finishes := test.snapshot()
	assert.Equal(t, []float64{0, 2, 4, 6, 8, 10}, measured)
	assert.Equal(t, []bool{true, false}, rf)
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, finishes)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, sequencer.StateComplete, status.Progress.State)
	assert.False(t, status.RF)
	assert.Equal(t, 6, status.Points)

	require.NoError(t, loop.Do(ctx, func(context.Context) error { return nil }))
	require.Len(t, hooked, 1)
	assert.Equal(t, 6, hooked[0].Plan.Len())
}

func TestController_ToggleCycle(t *testing.T) {
	loop := startLoop(t)
	test := &recordingTest{}

	c, err := NewController(loop, test, testRange, 50*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Dispatch(ctx, CommandToggle))

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, sequencer.StateRunning, status.Progress.State)
	assert.True(t, status.RF)

	require.NoError(t, c.Dispatch(ctx, CommandToggle))
	status, err = c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, sequencer.StatePaused, status.Progress.State)
	assert.False(t, status.RF)

	require.NoError(t, c.Dispatch(ctx, CommandToggle))
	waitDone(t, c)

	measured, rf, _, _ := test.snapshot()
	assert.Equal(t, []float64{0, 2, 4, 6, 8, 10}, measured)
	assert.Equal(t, []bool{true, false, true, false}, rf)

	// a finished run starts over
	require.NoError(t, c.Dispatch(ctx, CommandToggle))
	waitDone(t, c)

	measured, _, inits, finishes := test.snapshot()
	assert.Len(t, measured, 12)
	assert.Equal(t, 2, inits)
	assert.Equal(t, 2, finishes)
}

func TestController_InvalidCommands(t *testing.T) {
	loop := startLoop(t)
	c, err := NewController(loop, &recordingTest{}, testRange, time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, c.Dispatch(ctx, CommandPause), sequencer.ErrInvalidState)
	assert.ErrorIs(t, c.Dispatch(ctx, CommandResume), sequencer.ErrInvalidState)
	assert.ErrorIs(t, c.Dispatch(ctx, Command("explode")), ErrUnknownCommand)

	require.NoError(t, c.Dispatch(ctx, CommandStart))
	assert.ErrorIs(t, c.Dispatch(ctx, CommandStart), sequencer.ErrInvalidState)
	assert.ErrorIs(t, c.Dispatch(ctx, CommandReset), sequencer.ErrInvalidState)
	assert.ErrorIs(t, c.Configure(ctx, testRange, time.Second), sequencer.ErrInvalidState)
}

func TestController_ResetAbortsPausedRun(t *testing.T) {
	loop := startLoop(t)
	test := &recordingTest{}
	c, err := NewController(loop, test, testRange, time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Dispatch(ctx, CommandStart))
	require.NoError(t, c.Dispatch(ctx, CommandPause))
	require.NoError(t, c.Dispatch(ctx, CommandReset))
	waitDone(t, c)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, sequencer.StateIdle, status.Progress.State)

	measured, _, _, finishes := test.snapshot()
	assert.Equal(t, []float64{0}, measured)
	assert.Equal(t, 1, finishes)
}

func TestController_Configure(t *testing.T) {
	loop := startLoop(t)
	c, err := NewController(loop, &recordingTest{}, testRange, time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	r := sweep.FrequencyRange{Start: 30e6, Stop: 1e9, Step: 1.01, Mode: sweep.ModeLogarithmic, Endpoint: true}
	require.NoError(t, c.Configure(ctx, r, 3*time.Second))

	plan, dwell, err := c.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, dwell)
	first, _ := plan.First()
	assert.Equal(t, 30e6, first)

	err = c.Configure(ctx, sweep.FrequencyRange{Start: 0, Stop: 1e9, Step: 1.01, Mode: sweep.ModeLogarithmic}, time.Second)
	assert.ErrorIs(t, err, sweep.ErrInvalidParameter)

	_, err = NewController(loop, &recordingTest{}, sweep.FrequencyRange{Mode: "octave"}, time.Second)
	assert.ErrorIs(t, err, sweep.ErrInvalidParameter)
}

func TestController_ConfigureRangeCheck(t *testing.T) {
	loop := startLoop(t)

	limit := errors.New("step above operator limit")
	c, err := NewController(loop, &recordingTest{}, testRange, time.Second,
		WithRangeCheck(func(r sweep.FrequencyRange) error {
			if r.Step > 5 {
				return limit
			}
			return nil
		}))
	require.NoError(t, err)

	ctx := context.Background()
	err = c.Configure(ctx, sweep.FrequencyRange{Start: 0, Stop: 100, Step: 50, Mode: sweep.ModeLinear}, 2*time.Second)
	assert.ErrorIs(t, err, limit)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, testRange, status.Range, "a rejected range keeps the configured plan")
	_, dwell, err := c.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Second, dwell)

	require.NoError(t, c.Configure(ctx, sweep.FrequencyRange{Start: 0, Stop: 100, Step: 5, Mode: sweep.ModeLinear}, time.Second))
}

func TestController_InitFailureKeepsIdle(t *testing.T) {
	loop := startLoop(t)
	test := &mockTest{}
	test.On("Init", mock.Anything, mock.AnythingOfType("control.Run")).Return(errors.New("no probe")).Once()

	c, err := NewController(loop, test, testRange, time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	err = c.Dispatch(ctx, CommandStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no probe")

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, sequencer.StateIdle, status.Progress.State)
	test.AssertExpectations(t)
	test.AssertNotCalled(t, "SetRF", mock.Anything, mock.Anything)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done blocks although no run is under way")
	}
}

func TestController_FailedStartAfterRunKeepsDoneClosed(t *testing.T) {
	loop := startLoop(t)
	test := &mockTest{}
	test.On("Init", mock.Anything, mock.Anything).Return(nil).Once()
	test.On("SetRF", mock.Anything, true).Return(nil).Once()
	test.On("SetRF", mock.Anything, false).Return(nil).Once()
	test.On("Measure", mock.Anything, mock.Anything).Return(nil)
	test.On("Finish", mock.Anything).Return(nil)

	r := sweep.FrequencyRange{Start: 1, Stop: 2, Step: 1, Mode: sweep.ModeLinear, Endpoint: true}
	c, err := NewController(loop, test, r, time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Dispatch(ctx, CommandStart))
	waitDone(t, c)

	test.On("Init", mock.Anything, mock.Anything).Return(errors.New("probe offline")).Once()
	require.Error(t, c.Dispatch(ctx, CommandStart))
	waitDone(t, c)

	test.On("Init", mock.Anything, mock.Anything).Return(nil).Once()
	test.On("SetRF", mock.Anything, true).Return(errors.New("amplifier interlock")).Once()
	require.Error(t, c.Dispatch(ctx, CommandStart))
	waitDone(t, c)
	test.AssertExpectations(t)
}

func TestController_RFFailureFinishesTest(t *testing.T) {
	loop := startLoop(t)
	test := &mockTest{}
	test.On("Init", mock.Anything, mock.Anything).Return(nil).Once()
	test.On("SetRF", mock.Anything, true).Return(errors.New("amplifier interlock")).Once()
	test.On("Finish", mock.Anything).Return(nil).Once()

	c, err := NewController(loop, test, testRange, time.Second)
	require.NoError(t, err)

	err = c.Dispatch(context.Background(), CommandStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amplifier interlock")
	test.AssertExpectations(t)
	test.AssertNotCalled(t, "Measure", mock.Anything, mock.Anything)
}

func TestController_ManualRF(t *testing.T) {
	loop := startLoop(t)
	test := &recordingTest{}
	c, err := NewController(loop, test, testRange, time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Dispatch(ctx, CommandRFOn))
	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.RF)

	require.NoError(t, c.Dispatch(ctx, CommandRFOff))
	_, rf, _, _ := test.snapshot()
	assert.Equal(t, []bool{true, false}, rf)
}

func TestParseCommand(t *testing.T) {
	for _, c := range Commands() {
		parsed, err := ParseCommand(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseCommand("stop")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
