// Package analytics computes read-only rollups from already fetched
// collections. Every function is pure: the same input yields the same output.
package analytics

import "math"

// GrowthSentinel is reported when the previous period was zero and the
// current one is not.
const GrowthSentinel = 100.0

// GrowthRate returns the percentage change from previous to current, rounded
// to one decimal. A zero previous value never divides: 0 if current is also
// zero, GrowthSentinel otherwise.
func GrowthRate(previous, current float64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return GrowthSentinel
	}
	return round1((current - previous) / math.Abs(previous) * 100)
}

// Percentage returns part/whole as a percentage, 0 when whole is zero.
func Percentage(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return round1(part / whole * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
