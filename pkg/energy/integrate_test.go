package energy

import (
	"math"
	"testing"
	"time"

	"github.com/gridhabit/gridhabit/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestIntegrate(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	t.Run("empty window is zero", func(t *testing.T) {
		assert.Zero(t, Integrate(nil, nil, t0, t0))
	})

	t.Run("no samples no prev is zero", func(t *testing.T) {
		assert.Zero(t, Integrate(nil, nil, t0, t0.Add(4*time.Hour)))
	})

	t.Run("constant series integrates to v times hours", func(t *testing.T) {
		samples := []types.PowerSample{
			{Timestamp: t0, Value: 1.5},
			{Timestamp: t0.Add(time.Hour), Value: 1.5},
			{Timestamp: t0.Add(2 * time.Hour), Value: 1.5},
		}
		got := Integrate(samples, nil, t0, t0.Add(4*time.Hour))
		assert.InDelta(t, 1.5*4, got, 1e-9)
	})

	t.Run("prev is clamped to start and carries into the window", func(t *testing.T) {
		prev := &types.PowerSample{Timestamp: t0.Add(-30 * time.Minute), Value: 2.0}
		samples := []types.PowerSample{
			{Timestamp: t0.Add(time.Hour), Value: 4.0},
		}
		// 1h at 2.0 then 1h at 4.0 carried to end
		got := Integrate(samples, prev, t0, t0.Add(2*time.Hour))
		assert.InDelta(t, 2.0+4.0, got, 1e-9)
	})

	t.Run("left rectangle uses the left value", func(t *testing.T) {
		samples := []types.PowerSample{
			{Timestamp: t0, Value: 1.0},
			{Timestamp: t0.Add(time.Hour), Value: 3.0},
		}
		// [t0,t0+1h) at 1.0, [t0+1h,t0+2h] at 3.0
		got := Integrate(samples, nil, t0, t0.Add(2*time.Hour))
		assert.InDelta(t, 4.0, got, 1e-9)
	})

	t.Run("samples outside the window are ignored", func(t *testing.T) {
		samples := []types.PowerSample{
			{Timestamp: t0.Add(-time.Hour), Value: 100},
			{Timestamp: t0, Value: 1.0},
			{Timestamp: t0.Add(3 * time.Hour), Value: 100},
		}
		got := Integrate(samples, nil, t0, t0.Add(2*time.Hour))
		assert.InDelta(t, 2.0, got, 1e-9)
	})

	t.Run("non-finite values coerce to zero", func(t *testing.T) {
		samples := []types.PowerSample{
			{Timestamp: t0, Value: math.NaN()},
			{Timestamp: t0.Add(time.Hour), Value: math.Inf(1)},
		}
		got := Integrate(samples, nil, t0, t0.Add(2*time.Hour))
		assert.Zero(t, got)
	})
}

func TestSlope(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	t.Run("fewer than two samples", func(t *testing.T) {
		assert.Zero(t, Slope(nil))
		assert.Zero(t, Slope([]types.PowerSample{{Timestamp: t0, Value: 5}}))
	})

	t.Run("rising line", func(t *testing.T) {
		var samples []types.PowerSample
		for i := 0; i < 10; i++ {
			samples = append(samples, types.PowerSample{
				Timestamp: t0.Add(time.Duration(i) * time.Hour),
				Value:     2.0 * float64(i),
			})
		}
		assert.InDelta(t, 2.0, Slope(samples), 1e-9)
	})

	t.Run("flat line", func(t *testing.T) {
		var samples []types.PowerSample
		for i := 0; i < 5; i++ {
			samples = append(samples, types.PowerSample{
				Timestamp: t0.Add(time.Duration(i) * time.Hour),
				Value:     7.0,
			})
		}
		assert.InDelta(t, 0.0, Slope(samples), 1e-9)
	})
}
