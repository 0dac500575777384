package instrument

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roman-kulish/temfield/internal/telemetry"
)

const (
	RoleSignalGenerator Role = "sg"
	RoleAmplifier1      Role = "a1"
	RoleAmplifier2      Role = "a2"
	RoleGTEM            Role = "tem"
	RoleFieldProbe      Role = "fp"
)

// Role is the part a node plays in the test setup
type Role string

func (r Role) amplifier() bool {
	return r == RoleAmplifier1 || r == RoleAmplifier2
}

// Roles returns the roles in the order the chain initialises and tunes them
func Roles() []Role {
	return []Role{RoleSignalGenerator, RoleAmplifier1, RoleAmplifier2, RoleGTEM, RoleFieldProbe}
}

// Chain is the signal path of the test: generator, amplifiers, GTEM switch
// and the field probe in the cell.
type Chain struct {
	drivers map[Role]Driver
	logger  *slog.Logger
}

// NewChain creates a chain from drivers keyed by role. Roles without a
// driver are skipped.
func NewChain(drivers map[Role]Driver, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Chain{drivers: drivers, logger: logger.With(slog.String("component", "chain"))}
}

// LoadChain resolves the configuration of every named node on searchPath
// and creates its driver. names maps roles to node names.
func LoadChain(names map[string]string, searchPath []string, logger *slog.Logger, options ...Option) (*Chain, error) {
	drivers := make(map[Role]Driver, len(names))

	for _, role := range Roles() {
		name, ok := names[string(role)]
		if !ok || name == "" {
			continue
		}

		path, err := FindConfig(name, searchPath)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", role, err)
		}

		conf, err := LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", role, err)
		}

		opts := options
		if logger != nil {
			opts = append([]Option{WithLogger(logger)}, options...)
		}

		driver, err := New(name, conf, opts...)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", role, err)
		}
		drivers[role] = driver
	}

	return NewChain(drivers, logger), nil
}

// Driver returns the driver playing role
func (c *Chain) Driver(role Role) (Driver, bool) {
	d, ok := c.drivers[role]
	return d, ok
}

// Init initialises every instrument. On failure the instruments already
// initialised are quit again.
func (c *Chain) Init(ctx context.Context) error {
	var ready []Driver
	for _, role := range Roles() {
		d, ok := c.drivers[role]
		if !ok {
			continue
		}

		if err := d.Init(ctx); err != nil {
			for _, r := range ready {
				if qErr := r.Quit(ctx); qErr != nil {
					c.logger.Warn(fmt.Sprintf("quitting %s: %s", r.Name(), qErr.Error()))
				}
			}
			return fmt.Errorf("initialising %s: %w", d.Name(), err)
		}
		ready = append(ready, d)
	}

	c.logger.Info("instruments initialised", slog.Int("count", len(ready)))
	return nil
}

// SetFreq tunes every instrument to f. All instruments are tuned even if
// some fail, the failures are joined. The amplifiers are a group: f is out of
// band only when no amplifier covers it.
func (c *Chain) SetFreq(ctx context.Context, f float64) error {
	var errs, bandErrs []error
	amplified := false

	for _, role := range Roles() {
		d, ok := c.drivers[role]
		if !ok {
			continue
		}

		_, err := d.SetFreq(ctx, f)
		if !role.amplifier() {
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}

		switch {
		case err == nil:
			amplified = true
		case errors.Is(err, ErrOutOfBand):
			bandErrs = append(bandErrs, err)
		default:
			errs = append(errs, err)
		}
	}

	if !amplified {
		errs = append(errs, bandErrs...)
	}
	return errors.Join(errs...)
}

// RF switches RF on or off. It is switched on from the amplifiers towards
// the generator and off the other way round, so an amplifier never sees
// drive while in standby.
func (c *Chain) RF(ctx context.Context, on bool) error {
	roles := []Role{RoleSignalGenerator, RoleAmplifier1, RoleAmplifier2}
	if on {
		roles = []Role{RoleAmplifier1, RoleAmplifier2, RoleSignalGenerator}
	}

	var errs []error
	for _, role := range roles {
		d, ok := c.drivers[role]
		if !ok {
			continue
		}
		if sw, ok := d.(RFSwitch); ok {
			if err := sw.RF(ctx, on); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Field reads the field probe. It returns nil without a probe.
func (c *Chain) Field(ctx context.Context) (*telemetry.Telemetry, error) {
	d, ok := c.drivers[RoleFieldProbe]
	if !ok {
		return nil, nil
	}
	probe, ok := d.(FieldProbe)
	if !ok {
		return nil, fmt.Errorf("%s is not a field probe", d.Name())
	}
	return probe.Field(ctx)
}

// Quit puts every instrument into a safe state, RF first.
func (c *Chain) Quit(ctx context.Context) error {
	errs := []error{c.RF(ctx, false)}
	for _, role := range Roles() {
		if d, ok := c.drivers[role]; ok {
			errs = append(errs, d.Quit(ctx))
		}
	}
	return errors.Join(errs...)
}
