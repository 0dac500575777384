package app

import (
	"math"

	"github.com/roman-kulish/temfield/internal/result"
)

// FieldData is the result table of one session prepared for plotting
type FieldData struct {
	Session *result.Session
	Points  []result.Point

	FrequencyMin float64
	FrequencyMax float64
	FieldMax     float64 // largest measured field or the target, whichever is higher
	Passed       int
	Errors       int
}

func NewFieldData(session *result.Session, points []result.PointWithTelemetry) *FieldData {
	d := FieldData{
		Session:      session,
		FrequencyMin: math.Inf(1),
		FrequencyMax: math.Inf(-1),
		FieldMax:     session.TargetField,
	}

	for _, p := range points {
		d.Points = append(d.Points, p.Point)

		d.FrequencyMin = math.Min(d.FrequencyMin, p.Frequency)
		d.FrequencyMax = math.Max(d.FrequencyMax, p.Frequency)
		d.FieldMax = math.Max(d.FieldMax, p.CW)
		if p.Field != nil {
			d.FieldMax = math.Max(d.FieldMax, *p.Field)
		}

		switch p.Status {
		case result.StatusPassed:
			d.Passed++
		default:
			d.Errors++
		}
	}

	if len(d.Points) == 0 {
		d.FrequencyMin, d.FrequencyMax = 0, 0
	}
	if d.FieldMax <= 0 {
		d.FieldMax = 1
	}
	return &d
}

// Axis maps values onto a pixel range
type Axis struct {
	Min, Max float64
	Log      bool
}

// Pos returns the pixel of v between px0 (Min) and px1 (Max)
func (a Axis) Pos(v float64, px0, px1 int) int {
	lo, hi := a.Min, a.Max
	if a.Log && lo > 0 && v > 0 {
		lo, hi, v = math.Log10(lo), math.Log10(hi), math.Log10(v)
	}

	if hi == lo {
		return px0 + (px1-px0)/2
	}
	frac := (v - lo) / (hi - lo)
	return px0 + int(math.Round(frac*float64(px1-px0)))
}

// Ticks returns the values to draw grid lines at. A logarithmic axis gets
// the 1, 2 and 5 multiples of every decade, a linear one n even steps.
func (a Axis) Ticks(n int) []float64 {
	if a.Max <= a.Min {
		return []float64{a.Min}
	}

	var ticks []float64
	if a.Log && a.Min > 0 {
		for decade := math.Pow(10, math.Floor(math.Log10(a.Min))); decade <= a.Max; decade *= 10 {
			for _, m := range []float64{1, 2, 5} {
				if v := decade * m; v >= a.Min && v <= a.Max {
					ticks = append(ticks, v)
				}
			}
		}
		return ticks
	}

	step := (a.Max - a.Min) / float64(n)
	for i := 0; i <= n; i++ {
		ticks = append(ticks, a.Min+float64(i)*step)
	}
	return ticks
}
