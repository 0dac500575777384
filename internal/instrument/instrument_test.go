package instrument

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/temfield/internal/instrument/comm"
)

// fakeTransport records every command and answers queries from responses
type fakeTransport struct {
	mu        sync.Mutex
	log       *[]string
	name      string
	responses map[string]string
	openErr   error
}

func (f *fakeTransport) Open(context.Context) error {
	return f.openErr
}

func (f *fakeTransport) Close() error {
	return nil
}

func (f *fakeTransport) Send(_ context.Context, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.log = append(*f.log, f.name+": "+cmd)
	return nil
}

func (f *fakeTransport) Query(_ context.Context, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.log = append(*f.log, f.name+": "+cmd)
	resp, ok := f.responses[cmd]
	if !ok {
		return "", errors.New("timeout")
	}
	return resp, nil
}

func fakeFactory(log *[]string, responses map[string]string) TransportFactory {
	return func(cfg comm.Config, _ *slog.Logger) Transport {
		return &fakeTransport{log: log, name: cfg.Addr, responses: responses}
	}
}

func newDriver(t *testing.T, name string, conf *Config, log *[]string, responses map[string]string) Driver {
	t.Helper()
	if conf.Transport.Addr == "" {
		conf.Transport.Addr = name
	}
	d, err := New(name, conf, WithTransportFactory(fakeFactory(log, responses)))
	require.NoError(t, err)
	return d
}

func TestGTEMSwitch_Routing(t *testing.T) {
	testCases := []struct {
		name     string
		output   string
		swFreq   float64
		freq     float64
		expected string
	}{
		{"default output is term, LF", "", 0, 500e6, "R1P1R2P0R3P1R4P0"},
		{"gtem output, at crossover is LF", "GTEM", 0, 1e9, "R1P1R2P1R3P1R4P0"},
		{"gtem output, HF", "gtem", 0, 1.5e9, "R1P2R2P1R3P1R4P0"},
		{"fuzzy output match", "Gtem-Cell", 0, 2e9, "R1P2R2P1R3P1R4P0"},
		{"fuzzy term match", "Termination", 0, 100e6, "R1P1R2P0R3P1R4P0"},
		{"custom crossover", "gtem", 2e9, 1.5e9, "R1P1R2P1R3P1R4P0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var log []string
			responses := map[string]string{tc.expected: "OK", "R1P4R2P0R3P1R4P0": "OK"}
			d := newDriver(t, "gtem", &Config{
				Description: Description{Driver: DriverGTEMSwitch},
				InitValue:   InitValue{Output: tc.output, SwFreq: tc.swFreq},
			}, &log, responses)

			ctx := context.Background()
			require.NoError(t, d.Init(ctx))

			f, err := d.SetFreq(ctx, tc.freq)
			require.NoError(t, err)
			assert.Equal(t, tc.freq, f)

			require.NoError(t, d.Quit(ctx))
			assert.Equal(t, []string{"gtem: " + tc.expected, "gtem: R1P4R2P0R3P1R4P0"}, log)
		})
	}
}

func TestVirtualInstruments(t *testing.T) {
	ctx := context.Background()
	var log []string

	for _, driver := range []string{DriverGTEMSwitch, DriverSignalGenerator, DriverAmplifier, DriverFieldProbe} {
		d, err := New(driver, &Config{
			Description: Description{Driver: driver},
			InitValue:   InitValue{Virtual: true},
		}, WithTransportFactory(fakeFactory(&log, nil)))
		require.NoError(t, err)

		require.NoError(t, d.Init(ctx))
		_, err = d.SetFreq(ctx, 100e6)
		require.NoError(t, err)
		if sw, ok := d.(RFSwitch); ok {
			require.NoError(t, sw.RF(ctx, true))
		}
		if probe, ok := d.(FieldProbe); ok {
			reading, err := probe.Field(ctx)
			require.NoError(t, err)
			assert.Nil(t, reading)
		}
		require.NoError(t, d.Quit(ctx))
	}

	assert.Empty(t, log, "virtual instruments never touch a transport")
}

func TestSignalGenerator(t *testing.T) {
	var log []string
	d := newDriver(t, "sg", &Config{
		Description: Description{Driver: DriverSignalGenerator},
		InitValue:   InitValue{FStart: 9e3, FStop: 6e9},
	}, &log, nil)

	ctx := context.Background()
	require.NoError(t, d.Init(ctx))
	_, err := d.SetFreq(ctx, 80e6)
	require.NoError(t, err)
	require.NoError(t, d.(*SignalGenerator).SetLevel(ctx, -10.5))
	require.NoError(t, d.(RFSwitch).RF(ctx, true))

	_, err = d.SetFreq(ctx, 7e9)
	assert.ErrorIs(t, err, ErrOutOfBand)

	require.NoError(t, d.Quit(ctx))
	assert.Equal(t, []string{
		"sg: OUTP OFF",
		"sg: FREQ 80000000",
		"sg: POW -10.5 DBM",
		"sg: OUTP ON",
		"sg: OUTP OFF",
	}, log)
}

func TestAmplifier(t *testing.T) {
	var log []string
	d := newDriver(t, "amp1", &Config{
		Description: Description{Driver: DriverAmplifier},
		InitValue:   InitValue{FStart: 80e6, FStop: 1e9},
	}, &log, nil)

	ctx := context.Background()
	require.NoError(t, d.Init(ctx))

	_, err := d.SetFreq(ctx, 500e6)
	require.NoError(t, err)
	_, err = d.SetFreq(ctx, 30e6)
	assert.ErrorIs(t, err, ErrOutOfBand)
	assert.False(t, d.(*Amplifier).InBand(2e9))

	require.NoError(t, d.(RFSwitch).RF(ctx, true))
	require.NoError(t, d.Quit(ctx))
	assert.Equal(t, []string{"amp1: STBY", "amp1: OPER", "amp1: STBY"}, log)
}

func TestProbe_Field(t *testing.T) {
	var log []string
	d := newDriver(t, "prb", &Config{Description: Description{Driver: DriverFieldProbe}}, &log, map[string]string{
		"MEAS:FIELD?": "1.5, 2.0,6.0",
		"SENS:TEMP?":  "23.4",
	})

	ctx := context.Background()
	require.NoError(t, d.Init(ctx))

	reading, err := d.(FieldProbe).Field(ctx)
	require.NoError(t, err)
	require.NotNil(t, reading)
	total, ok := reading.Total()
	assert.True(t, ok)
	assert.InDelta(t, 6.5, total, 1e-12)
	require.NotNil(t, reading.Temperature)
	assert.Equal(t, 23.4, *reading.Temperature)
	assert.Nil(t, reading.Battery, "battery query timed out")
}

func TestProbe_MalformedField(t *testing.T) {
	var log []string
	d := newDriver(t, "prb", &Config{Description: Description{Driver: DriverFieldProbe}}, &log, map[string]string{
		"MEAS:FIELD?": "1.5,2.0",
	})

	ctx := context.Background()
	require.NoError(t, d.Init(ctx))
	_, err := d.(FieldProbe).Field(ctx)
	assert.Error(t, err)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New("x", &Config{Description: Description{Driver: "nrp_usb"}})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestNotConnected(t *testing.T) {
	var log []string
	d := newDriver(t, "sg", &Config{Description: Description{Driver: DriverSignalGenerator}}, &log, nil)

	_, err := d.SetFreq(context.Background(), 1e6)
	assert.ErrorIs(t, err, comm.ErrNotConnected)
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, OutputGTEM, closestMatch("GTEM", OutputTerm, OutputGTEM))
	assert.Equal(t, OutputTerm, closestMatch("terminate", OutputTerm, OutputGTEM))
	assert.Equal(t, OutputTerm, closestMatch("xxxx", OutputTerm, OutputGTEM), "first candidate wins a tie")
	assert.Equal(t, 3, editDistance("kitten", "sitting"))
}

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadChain(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()

	writeConfig(t, first, "sg.yaml", "description:\n  driver: sg_scpi\ninit_value:\n  virtual: true\n")
	writeConfig(t, second, "sg.yaml", "description:\n  driver: amp_scpi\ninit_value:\n  virtual: true\n")
	writeConfig(t, second, "amp1.yml", "description:\n  driver: amp_scpi\n  vendor: AR\ninit_value:\n  fstart: 80e6\n  fstop: 1e9\n  virtual: true\n")
	writeConfig(t, second, "gtem", "description:\n  driver: sw_gtem\ninit_value:\n  output: gtem\n  virtual: true\n")
	writeConfig(t, second, "prb.yaml", "description:\n  driver: prb_scpi\ntransport:\n  addr: 192.168.0.30:5025\n  timeout: 2s\n")

	names := map[string]string{"sg": "sg", "a1": "amp1", "tem": "gtem", "fp": "prb"}

	var log []string
	chain, err := LoadChain(names, []string{first, second}, nil, WithTransportFactory(fakeFactory(&log, map[string]string{
		"MEAS:FIELD?": "1,1,1",
	})))
	require.NoError(t, err)

	sg, ok := chain.Driver(RoleSignalGenerator)
	require.True(t, ok)
	assert.IsType(t, &SignalGenerator{}, sg, "search path is honoured in order")

	_, ok = chain.Driver(RoleAmplifier2)
	assert.False(t, ok)

	tem, _ := chain.Driver(RoleGTEM)
	assert.Equal(t, OutputGTEM, tem.(*GTEMSwitch).Output())

	ctx := context.Background()
	require.NoError(t, chain.Init(ctx))
	require.NoError(t, chain.SetFreq(ctx, 100e6))
	assert.ErrorIs(t, chain.SetFreq(ctx, 30e6), ErrOutOfBand)
	require.NoError(t, chain.RF(ctx, true))

	reading, err := chain.Field(ctx)
	require.NoError(t, err)
	require.NotNil(t, reading)

	require.NoError(t, chain.Quit(ctx))
	assert.Contains(t, log, "192.168.0.30:5025: FREQ 100000000")

	_, err = LoadChain(map[string]string{"sg": "missing"}, []string{first}, nil)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "nodriver.yaml", "init_value:\n  virtual: true\n")
	writeConfig(t, dir, "noaddr.yaml", "description:\n  driver: sg_scpi\n")

	_, err := LoadConfig(filepath.Join(dir, "nodriver.yaml"))
	assert.Error(t, err)
	_, err = LoadConfig(filepath.Join(dir, "noaddr.yaml"))
	assert.Error(t, err)
}

func TestChain_InitFailureQuitsInitialised(t *testing.T) {
	var log []string
	sg := newDriver(t, "sg", &Config{Description: Description{Driver: DriverSignalGenerator}}, &log, nil)

	probe, err := New("prb", &Config{
		Description: Description{Driver: DriverFieldProbe},
		Transport:   comm.Config{Addr: "prb"},
	}, WithTransportFactory(func(comm.Config, *slog.Logger) Transport {
		return &fakeTransport{log: &log, name: "prb", openErr: errors.New("connection refused")}
	}))
	require.NoError(t, err)

	chain := NewChain(map[Role]Driver{RoleSignalGenerator: sg, RoleFieldProbe: probe}, nil)
	err = chain.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, []string{"sg: OUTP OFF", "sg: OUTP OFF"}, log)
}

func TestChain_AmplifierBands(t *testing.T) {
	amp := func(name string, fstart, fstop float64) Driver {
		d, err := New(name, &Config{
			Description: Description{Driver: DriverAmplifier},
			InitValue:   InitValue{FStart: fstart, FStop: fstop, Virtual: true},
		})
		require.NoError(t, err)
		return d
	}

	chain := NewChain(map[Role]Driver{
		RoleAmplifier1: amp("amp1", 80e6, 1e9),
		RoleAmplifier2: amp("amp2", 1e9, 6e9),
	}, nil)

	ctx := context.Background()
	require.NoError(t, chain.Init(ctx))

	testCases := []struct {
		name   string
		freq   float64
		inBand bool
	}{
		{"lower amplifier", 100e6, true},
		{"shared edge", 1e9, true},
		{"upper amplifier", 3e9, true},
		{"below both", 30e6, false},
		{"above both", 7e9, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := chain.SetFreq(ctx, tc.freq)
			if tc.inBand {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrOutOfBand)
			}
		})
	}
}
