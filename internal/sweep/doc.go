// Package sweep generates the frequency plans of a susceptibility test.
//
// A FrequencyRange is turned into a Plan once, up front, so that the number
// of points and the estimated run time are known before the run starts.
// Linear sweeps step by an absolute increment, logarithmic sweeps by a
// constant ratio. Both stop strictly below the stop frequency and optionally
// append it as the final point:
//
//	plan, err := sweep.Generate(sweep.FrequencyRange{
//		Start:    30e6,
//		Stop:     1e9,
//		Step:     1.01,
//		Mode:     sweep.ModeLogarithmic,
//		Endpoint: true,
//	})
//
// Generation is pure: the same range always yields the same points.
package sweep
