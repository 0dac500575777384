package instrument

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/temfield/internal/telemetry"
)

// Probe is a SCPI isotropic E-field probe
type Probe struct {
	device
}

func (p *Probe) Init(ctx context.Context) error {
	return p.open(ctx)
}

// SetFreq sets the frequency the probe applies its correction factors for
func (p *Probe) SetFreq(ctx context.Context, f float64) (float64, error) {
	if err := p.send(ctx, "FREQ "+strconv.FormatFloat(f, 'f', -1, 64)); err != nil {
		return f, err
	}
	return f, nil
}

// Field reads the three field components, the probe temperature and the
// battery level. Temperature and battery are optional: a probe that does not
// answer them still yields a field reading. A virtual probe has no reading.
func (p *Probe) Field(ctx context.Context) (*telemetry.Telemetry, error) {
	if p.tr == nil && p.Virtual() {
		return nil, nil
	}

	resp, err := p.query(ctx, "MEAS:FIELD?")
	if err != nil {
		return nil, err
	}

	components, err := parseFloats(resp, 3)
	if err != nil {
		return nil, fmt.Errorf("%s: parsing field: %w", p.name, err)
	}

	t := telemetry.Telemetry{
		Timestamp: time.Now(),
		Ex:        &components[0],
		Ey:        &components[1],
		Ez:        &components[2],
	}

	if temp, err := p.queryOptional(ctx, "SENS:TEMP?"); err == nil {
		t.Temperature = temp
	} else {
		p.logger.Debug(fmt.Sprintf("no probe temperature: %s", err.Error()))
	}
	if batt, err := p.queryOptional(ctx, "SYST:BATT?"); err == nil {
		t.Battery = batt
	} else {
		p.logger.Debug(fmt.Sprintf("no probe battery level: %s", err.Error()))
	}

	return &t, nil
}

func (p *Probe) Quit(_ context.Context) error {
	return p.close()
}

func (p *Probe) queryOptional(ctx context.Context, cmd string) (*float64, error) {
	resp, err := p.query(ctx, cmd)
	if err != nil {
		return nil, err
	}
	values, err := parseFloats(resp, 1)
	if err != nil {
		return nil, err
	}
	return &values[0], nil
}

func parseFloats(resp string, n int) ([]float64, error) {
	fields := strings.Split(strings.TrimSpace(resp), ",")
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d values, got '%s'", n, resp)
	}

	values := make([]float64, n)
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
