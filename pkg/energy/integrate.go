// Package energy provides the numeric utilities behind savings evaluation:
// power-over-time integration and load trend estimation.
package energy

import (
	"math"
	"time"

	"github.com/gridhabit/gridhabit/pkg/types"
)

// Integrate computes the integral of sampled values over [start, end] in
// value-units × hours using the left-rectangle rule.
//
// The point list is seeded with prev (clamped to start) when present, then
// all samples within [start, end], then a synthetic terminal point at end
// carrying the last known value. The last value is carried forward, never
// extrapolated. With no samples and no prev the integral is zero.
func Integrate(samples []types.PowerSample, prev *types.PowerSample, start, end time.Time) float64 {
	if !end.After(start) {
		return 0
	}

	var points []types.PowerSample
	if prev != nil {
		points = append(points, types.PowerSample{Timestamp: start, Value: finite(prev.Value)})
	}
	for _, s := range samples {
		if s.Timestamp.Before(start) || s.Timestamp.After(end) {
			continue
		}
		points = append(points, types.PowerSample{Timestamp: s.Timestamp, Value: finite(s.Value)})
	}
	if len(points) == 0 {
		// No information at all: the window integrates to zero.
		points = append(points, types.PowerSample{Timestamp: start, Value: 0})
	}
	last := points[len(points)-1]
	points = append(points, types.PowerSample{Timestamp: end, Value: last.Value})

	var total float64
	for i := 0; i < len(points)-1; i++ {
		dh := points[i+1].Timestamp.Sub(points[i].Timestamp).Hours()
		if dh <= 0 {
			continue
		}
		total += dh * points[i].Value
	}
	return total
}

// Slope returns the ordinary least-squares slope of the samples in
// value-units per hour. Fewer than two samples have no trend.
func Slope(samples []types.PowerSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	t0 := samples[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(samples))
	for _, s := range samples {
		x := s.Timestamp.Sub(t0).Hours()
		y := finite(s.Value)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// finite coerces NaN and infinities to zero so the integral degrades instead
// of raising.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
