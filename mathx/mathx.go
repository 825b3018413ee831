// Package mathx provides small numeric helpers shared by the instrument
// models and the sweep engine.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for
// hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Degrees converts an angle in radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Gaussian evaluates a Gaussian bump of amplitude a centered at c with
// width parameter w (the denominator of the exponent) at x.
func Gaussian(x, a, c, w float64) float64 {
	d := x - c
	return a * math.Exp(-(d*d)/w)
}
