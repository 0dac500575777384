package instrument

import (
	"context"
)

// Amplifier is a SCPI power amplifier. RF on puts it into operate, RF off
// into standby.
type Amplifier struct {
	device
}

func (a *Amplifier) Init(ctx context.Context) error {
	if err := a.open(ctx); err != nil {
		return err
	}
	return a.send(ctx, "STBY")
}

// SetFreq only checks f lies within the amplifier band
func (a *Amplifier) SetFreq(_ context.Context, f float64) (float64, error) {
	return f, a.inBand(f)
}

// InBand reports whether f lies within the amplifier band
func (a *Amplifier) InBand(f float64) bool {
	return a.inBand(f) == nil
}

func (a *Amplifier) RF(ctx context.Context, on bool) error {
	if on {
		return a.send(ctx, "OPER")
	}
	return a.send(ctx, "STBY")
}

func (a *Amplifier) Quit(ctx context.Context) error {
	err := a.send(ctx, "STBY")
	if cErr := a.close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}
