// Package fixedpoint holds the integer angle and statistics helpers shared by
// the attitude controller.
//
// Angles are hundredths of a degree stored in int32. Intermediate products
// (errors times milliseconds, regression sums) use int64.
package fixedpoint

import "math"

const (
	// FullTurn is 360.00 degrees.
	FullTurn = 36000
	// HalfTurn is 180.00 degrees.
	HalfTurn = 18000

	// SlopeScale pre-scales the regression numerator so a slope computed over
	// millisecond timestamps comes out in units per second.
	SlopeScale = 1000
)

// Normalize wraps a into [-18000, 18000), preserving a mod 36000.
func Normalize(a int32) int32 {
	r := a % FullTurn
	if r >= HalfTurn {
		r -= FullTurn
	} else if r < -HalfTurn {
		r += FullTurn
	}
	return r
}

// FromDegrees converts a floating-point angle to normalized hundredths.
// NaN and infinities map to 0.
func FromDegrees(deg float32) int32 {
	f := float64(deg)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	h := math.Round(math.Mod(f, 360) * 100)
	return Normalize(int32(h))
}

// ToDegrees converts hundredths to degrees.
func ToDegrees(h int32) float64 {
	return float64(h) / 100
}

func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func Clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Slope returns the least-squares slope of values over times, scaled by
// SlopeScale. Both slices are newest first and only the common prefix is used.
//
// Times are milliseconds. They are taken relative to times[0] using a signed
// 32-bit difference, so a millisecond counter rolling over mid-window still
// yields correct spacing and the sums stay small.
//
// With fewer than two samples, or when every timestamp is identical, the
// slope is undefined and 0 is returned.
func Slope(times []uint32, values []int64) int64 {
	n := len(times)
	if len(values) < n {
		n = len(values)
	}
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX int64
	for i := 0; i < n; i++ {
		x := int64(int32(times[i] - times[0]))
		y := values[i]
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	nn := int64(n)
	denom := nn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return SlopeScale * (nn*sumXY - sumX*sumY) / denom
}
