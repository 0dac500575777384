package instrument

import (
	"context"
	"fmt"
	"strconv"
)

// SignalGenerator is a SCPI signal generator
type SignalGenerator struct {
	device
}

// Init connects and switches the output off
func (g *SignalGenerator) Init(ctx context.Context) error {
	if err := g.open(ctx); err != nil {
		return err
	}
	return g.RF(ctx, false)
}

func (g *SignalGenerator) SetFreq(ctx context.Context, f float64) (float64, error) {
	if err := g.inBand(f); err != nil {
		return f, err
	}
	if err := g.send(ctx, "FREQ "+strconv.FormatFloat(f, 'f', -1, 64)); err != nil {
		return f, err
	}
	return f, nil
}

// SetLevel sets the output power in dBm
func (g *SignalGenerator) SetLevel(ctx context.Context, dBm float64) error {
	return g.send(ctx, fmt.Sprintf("POW %s DBM", strconv.FormatFloat(dBm, 'f', -1, 64)))
}

func (g *SignalGenerator) RF(ctx context.Context, on bool) error {
	cmd := "OUTP OFF"
	if on {
		cmd = "OUTP ON"
	}
	return g.send(ctx, cmd)
}

// Quit switches the output off before disconnecting
func (g *SignalGenerator) Quit(ctx context.Context) error {
	err := g.RF(ctx, false)
	if cErr := g.close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}
