// utils/math.go
package utils

import "math"

const Epsilon = 1e-9

// FloatEquals compares two floating-point numbers for near-equality.
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// RoundToPrecision rounds a float64 to a specified number of decimal places.
// A negative precision leaves the value untouched.
func RoundToPrecision(value float64, precision int) float64 {
	if precision < 0 {
		return value
	}
	pow := math.Pow(10, float64(precision))
	return math.Round(value*pow) / pow
}

// IsValidPrice reports whether p can be used as a trigger or sample price.
func IsValidPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
