package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleContains(t *testing.T) {
	s := Schedule{
		Days:        []time.Weekday{time.Monday, time.Wednesday},
		StartMinute: 18 * 60,
		EndMinute:   20 * 60,
	}
	monday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	assert.False(t, s.Contains(monday.Add(17*time.Hour+59*time.Minute)))
	assert.True(t, s.Contains(monday.Add(18*time.Hour)))
	assert.True(t, s.Contains(monday.Add(19*time.Hour+30*time.Minute)))
	// both bounds are inclusive
	assert.True(t, s.Contains(monday.Add(20*time.Hour)))
	assert.False(t, s.Contains(monday.Add(20*time.Hour+time.Minute)))

	tuesday := monday.AddDate(0, 0, 1)
	assert.False(t, s.Contains(tuesday.Add(19*time.Hour)))

	assert.InDelta(t, 2.0, s.DurationHours(), 1e-9)
}

func TestContextForTime(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, ContextNight, ContextForTime(day.Add(5*time.Hour+59*time.Minute)))
	assert.Equal(t, ContextDay, ContextForTime(day.Add(6*time.Hour)))
	assert.Equal(t, ContextDay, ContextForTime(day.Add(17*time.Hour+59*time.Minute)))
	assert.Equal(t, ContextNight, ContextForTime(day.Add(18*time.Hour)))
}

func TestTriggerEqual(t *testing.T) {
	a := Trigger{Vendor: "hue", DeviceID: "lamp", Event: "on"}
	assert.True(t, a.Equal(Trigger{Vendor: "hue", DeviceID: "lamp", Event: "on"}))
	assert.False(t, a.Equal(Trigger{Vendor: "hue", DeviceID: "lamp", Event: "off"}))
	assert.False(t, a.Equal(Trigger{Vendor: "tado", DeviceID: "lamp", Event: "on"}))
}

func TestDeviceMetaProtected(t *testing.T) {
	assert.False(t, DeviceMeta{Priority: 1}.Protected())
	assert.False(t, DeviceMeta{Priority: 2}.Protected())
	assert.True(t, DeviceMeta{Priority: 3}.Protected())
	assert.True(t, DeviceMeta{Essential: true, Priority: 1}.Protected())
}

func TestSettingsNormalizeDefaults(t *testing.T) {
	s := Settings{}.Normalize()
	assert.Equal(t, 180, s.PairWindowSec)
	assert.Equal(t, 60, s.MinerOverlapSec)
	assert.Equal(t, 5, s.PromoteMinTriggers)
	assert.Equal(t, 3, s.PromoteMinPairs)
	assert.Equal(t, 0.6, s.PromoteMinConfidence)
	assert.Equal(t, 10, s.MatchLimit)
	assert.Equal(t, 7, s.EvalWindowDays)
	assert.Equal(t, 2.5, s.DiscoveryMinSavingsPct)
	assert.Equal(t, 14, s.ProbationDays)
	assert.False(t, s.Pause)
}

func TestSettingsNormalizeKeepsOverrides(t *testing.T) {
	s := Settings{PairWindowSec: 300, MatchLimit: 2, Pause: true}.Normalize()
	assert.Equal(t, 300, s.PairWindowSec)
	assert.Equal(t, 2, s.MatchLimit)
	assert.True(t, s.Pause)
}
