package measurement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/temfield/internal/control"
	"github.com/roman-kulish/temfield/internal/result"
	"github.com/roman-kulish/temfield/internal/sweep"
	"github.com/roman-kulish/temfield/internal/telemetry"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateSession(ctx context.Context, session *result.Session, config any) (int64, error) {
	args := m.Called(ctx, session, config)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Session(ctx context.Context, id int64) (*result.Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*result.Session), args.Error(1)
}

func (m *mockStore) Sessions(ctx context.Context) ([]*result.Session, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*result.Session), args.Error(1)
}

func (m *mockStore) StoreTelemetry(ctx context.Context, sessionID int64, t *telemetry.Telemetry) (int64, error) {
	args := m.Called(ctx, sessionID, t)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) StorePoints(ctx context.Context, sessionID int64, points []result.Point) error {
	return m.Called(ctx, sessionID, points).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

type fakeChain struct {
	inits, quits int
	freqs        []float64
	rf           []bool
	failAt       map[float64]error
	field        *telemetry.Telemetry
}

func (c *fakeChain) Init(context.Context) error {
	c.inits++
	return nil
}

func (c *fakeChain) SetFreq(_ context.Context, f float64) error {
	c.freqs = append(c.freqs, f)
	return c.failAt[f]
}

func (c *fakeChain) RF(_ context.Context, on bool) error {
	c.rf = append(c.rf, on)
	return nil
}

func (c *fakeChain) Field(context.Context) (*telemetry.Telemetry, error) {
	return c.field, nil
}

func (c *fakeChain) Quit(context.Context) error {
	c.quits++
	return nil
}

func ptr(v float64) *float64 { return &v }

func testRun(t *testing.T, freqs ...float64) control.Run {
	t.Helper()
	return control.Run{
		Range: sweep.FrequencyRange{Start: freqs[0], Stop: freqs[len(freqs)-1], Step: 1e6, Mode: sweep.ModeLinear, Endpoint: true},
		Plan:  sweep.NewPlan(freqs),
		Dwell: time.Second,
	}
}

func TestTest_RecordsPointsInBatches(t *testing.T) {
	store := &mockStore{}
	store.On("CreateSession", mock.Anything, mock.MatchedBy(func(s *result.Session) bool {
		return s.RunID != "" && s.EUTDescription == "ECU" && s.TargetField == 10 && s.AM == 80
	}), mock.AnythingOfType("measurement.runConfig")).Return(int64(7), nil).Once()
	store.On("StorePoints", mock.Anything, int64(7), mock.MatchedBy(func(p []result.Point) bool { return len(p) == 2 })).Return(nil).Twice()
	store.On("StorePoints", mock.Anything, int64(7), mock.MatchedBy(func(p []result.Point) bool { return len(p) == 1 })).Return(nil).Once()

	chain := &fakeChain{}
	test := New(chain, store, Conditions{EUTDescription: "ECU", CW: 10, AM: 80}, WithMaxBatchSize(2))

	ctx := context.Background()
	require.NoError(t, test.Init(ctx, testRun(t, 1e6, 2e6, 3e6, 4e6, 5e6)))
	for _, f := range []float64{1e6, 2e6, 3e6, 4e6, 5e6} {
		require.NoError(t, test.Measure(ctx, f))
	}
	require.NoError(t, test.Finish(ctx))

	store.AssertExpectations(t)
	assert.Equal(t, 1, chain.inits)
	assert.Equal(t, 1, chain.quits)

	points := test.Points()
	require.Len(t, points, 5)
	for _, p := range points {
		assert.Equal(t, result.StatusPassed, p.Status)
		assert.Equal(t, 10.0, p.CW)
		assert.Nil(t, p.Field)
	}

	session := test.Session()
	require.NotNil(t, session)
	assert.Equal(t, int64(7), session.ID)
}

func TestTest_ChainFailureIsAnErrorPoint(t *testing.T) {
	store := &mockStore{}
	store.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	store.On("StorePoints", mock.Anything, int64(1), mock.Anything).Return(nil)

	failure := errors.New("amplifier out of band")
	chain := &fakeChain{failAt: map[float64]error{2e6: failure}}
	test := New(chain, store, Conditions{CW: 3})

	ctx := context.Background()
	require.NoError(t, test.Init(ctx, testRun(t, 1e6, 2e6)))
	require.NoError(t, test.Measure(ctx, 1e6))
	assert.ErrorIs(t, test.Measure(ctx, 2e6), failure)
	require.NoError(t, test.Finish(ctx))

	points := test.Points()
	require.Len(t, points, 2)
	assert.Equal(t, result.StatusPassed, points[0].Status)
	assert.Equal(t, result.StatusError, points[1].Status)
}

func TestTest_StoresProbeReadings(t *testing.T) {
	reading := &telemetry.Telemetry{Timestamp: time.Now(), Ex: ptr(3), Ey: ptr(4), Ez: ptr(0)}

	store := &mockStore{}
	store.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	store.On("StoreTelemetry", mock.Anything, int64(1), reading).Return(int64(42), nil).Once()
	store.On("StorePoints", mock.Anything, int64(1), mock.MatchedBy(func(p []result.Point) bool {
		return len(p) == 1 && p[0].TelemetryID != nil && *p[0].TelemetryID == 42
	})).Return(nil).Once()

	test := New(&fakeChain{field: reading}, store, Conditions{CW: 5})

	ctx := context.Background()
	require.NoError(t, test.Init(ctx, testRun(t, 1e6)))
	require.NoError(t, test.Measure(ctx, 1e6))
	require.NoError(t, test.Finish(ctx))

	store.AssertExpectations(t)
	assert.Equal(t, reading, test.Get())

	points := test.Points()
	require.NotNil(t, points[0].Field)
	assert.InDelta(t, 5.0, *points[0].Field, 1e-12)
}

func TestTest_RunConfig(t *testing.T) {
	store := &mockStore{}
	var config any
	store.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { config = args.Get(2) }).
		Return(int64(1), nil)

	test := New(&fakeChain{}, store, Conditions{CW: 1, AM: 80})
	require.NoError(t, test.Init(context.Background(), testRun(t, 30e6, 60e6, 90e6)))

	data, err := json.Marshal(config)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"range": {"start": 30000000, "stop": 90000000, "step": 1000000, "mode": "linear", "endpoint": true},
		"points": 3,
		"dwell": "1s",
		"cw": 1,
		"am": 80
	}`, string(data))
}

func TestTest_SessionFailureQuitsChain(t *testing.T) {
	store := &mockStore{}
	store.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("disk full"))

	chain := &fakeChain{}
	test := New(chain, store, Conditions{})

	err := test.Init(context.Background(), testRun(t, 1e6))
	require.Error(t, err)
	assert.Equal(t, 1, chain.quits)
	assert.ErrorIs(t, test.Measure(context.Background(), 1e6), ErrNotStarted)
	assert.NoError(t, test.Finish(context.Background()))
}

func TestTest_SetRF(t *testing.T) {
	chain := &fakeChain{}
	test := New(chain, &mockStore{}, Conditions{})
	assert.Nil(t, test.Get())

	require.NoError(t, test.SetRF(context.Background(), true))
	require.NoError(t, test.SetRF(context.Background(), false))
	assert.Equal(t, []bool{true, false}, chain.rf)
}

type blockingChain struct {
	fakeChain
	entered chan struct{}
	release chan struct{}
}

func (c *blockingChain) SetFreq(ctx context.Context, f float64) error {
	close(c.entered)
	<-c.release
	return c.fakeChain.SetFreq(ctx, f)
}

func TestTest_ReadsDoNotWaitForInstruments(t *testing.T) {
	reading := &telemetry.Telemetry{Timestamp: time.Now(), Ex: ptr(1)}

	store := &mockStore{}
	store.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	store.On("StoreTelemetry", mock.Anything, int64(1), reading).Return(int64(5), nil)

	chain := &blockingChain{
		fakeChain: fakeChain{field: reading},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	test := New(chain, store, Conditions{CW: 1})

	ctx := context.Background()
	require.NoError(t, test.Init(ctx, testRun(t, 1e6)))

	measured := make(chan error, 1)
	go func() { measured <- test.Measure(ctx, 1e6) }()
	<-chain.entered

	reads := make(chan struct{})
	go func() {
		_ = test.Get()
		_ = test.Points()
		_ = test.Session()
		close(reads)
	}()

	select {
	case <-reads:
	case <-time.After(5 * time.Second):
		t.Fatal("reads blocked on the instrument round-trip")
	}

	close(chain.release)
	require.NoError(t, <-measured)
	assert.Equal(t, reading, test.Get())
	assert.Len(t, test.Points(), 1)
}

func TestTest_FailedFlushKeepsPoints(t *testing.T) {
	store := &mockStore{}
	store.On("CreateSession", mock.Anything, mock.Anything, mock.Anything).Return(int64(3), nil)
	store.On("StorePoints", mock.Anything, int64(3), mock.Anything).Return(errors.New("database is locked")).Once()
	store.On("StorePoints", mock.Anything, int64(3), mock.MatchedBy(func(p []result.Point) bool {
		return len(p) == 2 && p[0].Frequency == 1e6 && p[1].Frequency == 2e6
	})).Return(nil).Once()

	test := New(&fakeChain{}, store, Conditions{}, WithMaxBatchSize(2))

	ctx := context.Background()
	require.NoError(t, test.Init(ctx, testRun(t, 1e6, 2e6)))
	require.NoError(t, test.Measure(ctx, 1e6))
	assert.Error(t, test.Measure(ctx, 2e6))
	require.NoError(t, test.Finish(ctx))

	store.AssertExpectations(t)
}
