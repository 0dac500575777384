// Package instrument drives the hardware of a GTEM susceptibility test: the
// signal generator, the amplifiers, the GTEM cell switch and the field probe.
//
// Every instrument is described by a YAML configuration file naming its
// driver. A virtual instrument accepts every command without hardware
// attached, which is how the test is rehearsed.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roman-kulish/temfield/internal/instrument/comm"
	"github.com/roman-kulish/temfield/internal/telemetry"
)

const (
	DriverGTEMSwitch      = "sw_gtem"
	DriverSignalGenerator = "sg_scpi"
	DriverAmplifier       = "amp_scpi"
	DriverFieldProbe      = "prb_scpi"
)

var (
	// ErrUnknownDriver is returned for a configuration naming an unsupported driver.
	ErrUnknownDriver = errors.New("unknown driver")

	// ErrOutOfBand is returned when a frequency lies outside an instrument's range.
	ErrOutOfBand = errors.New("frequency out of band")
)

// Driver is the interface every instrument implements
type Driver interface {
	// Name returns the node name of the instrument
	Name() string

	// Init connects to the instrument and puts it into a known state
	Init(ctx context.Context) error

	// SetFreq tunes the instrument to f and returns the frequency actually set
	SetFreq(ctx context.Context, f float64) (float64, error)

	// Quit puts the instrument into a safe state and disconnects
	Quit(ctx context.Context) error
}

// RFSwitch is implemented by instruments that can enable and disable RF
type RFSwitch interface {
	RF(ctx context.Context, on bool) error
}

// FieldProbe is implemented by instruments that measure the field strength
type FieldProbe interface {
	// Field returns the current reading, or nil if none is available
	Field(ctx context.Context) (*telemetry.Telemetry, error)
}

// Transport is the command channel to an instrument, satisfied by *comm.Conn
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Send(ctx context.Context, cmd string) error
	Query(ctx context.Context, cmd string) (string, error)
}

// TransportFactory creates the Transport for an instrument
type TransportFactory func(cfg comm.Config, logger *slog.Logger) Transport

func defaultTransport(cfg comm.Config, logger *slog.Logger) Transport {
	return comm.New(cfg, comm.WithLogger(logger))
}

// Option configures a driver created by New
type Option func(*device)

// WithLogger sets the logger for the instrument
func WithLogger(logger *slog.Logger) Option {
	return func(d *device) {
		d.logger = logger.With(
			slog.String("instrument", d.name),
			slog.String("driver", d.conf.Description.Driver),
		)
	}
}

// WithTransportFactory replaces the comm.Conn based transport
func WithTransportFactory(factory TransportFactory) Option {
	return func(d *device) {
		d.factory = factory
	}
}

// New creates the driver named by conf for the node called name
func New(name string, conf *Config, options ...Option) (Driver, error) {
	d := device{
		name:    name,
		conf:    conf,
		factory: defaultTransport,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&d)
	}

	switch strings.ToLower(conf.Description.Driver) {
	case DriverGTEMSwitch:
		return newGTEMSwitch(d), nil
	case DriverSignalGenerator:
		return &SignalGenerator{device: d}, nil
	case DriverAmplifier:
		return &Amplifier{device: d}, nil
	case DriverFieldProbe:
		return &Probe{device: d}, nil
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownDriver, conf.Description.Driver)
	}
}

// device carries what all drivers share. A virtual device has no transport
// and silently accepts every command.
type device struct {
	name    string
	conf    *Config
	factory TransportFactory
	tr      Transport
	logger  *slog.Logger
}

func (d *device) Name() string {
	return d.name
}

// Virtual reports whether the instrument runs without hardware
func (d *device) Virtual() bool {
	return d.conf.InitValue.Virtual
}

func (d *device) open(ctx context.Context) error {
	if d.Virtual() {
		d.logger.Info("virtual instrument, no transport")
		return nil
	}
	if d.tr != nil {
		return nil
	}

	tr := d.factory(d.conf.Transport, d.logger)
	if err := tr.Open(ctx); err != nil {
		return fmt.Errorf("opening %s: %w", d.name, err)
	}
	d.tr = tr
	return nil
}

func (d *device) close() error {
	if d.tr == nil {
		return nil
	}
	err := d.tr.Close()
	d.tr = nil
	return err
}

func (d *device) send(ctx context.Context, cmd string) error {
	if d.tr == nil {
		if d.Virtual() {
			return nil
		}
		return comm.ErrNotConnected
	}
	if err := d.tr.Send(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	return nil
}

// query returns an empty response for a virtual device
func (d *device) query(ctx context.Context, cmd string) (string, error) {
	if d.tr == nil {
		if d.Virtual() {
			return "", nil
		}
		return "", comm.ErrNotConnected
	}
	resp, err := d.tr.Query(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("%s: %w", d.name, err)
	}
	return resp, nil
}

func (d *device) inBand(f float64) error {
	iv := d.conf.InitValue
	if iv.FStop > 0 && (f < iv.FStart || f > iv.FStop) {
		return fmt.Errorf("%w: %s: %g Hz outside [%g, %g] Hz", ErrOutOfBand, d.name, f, iv.FStart, iv.FStop)
	}
	return nil
}
