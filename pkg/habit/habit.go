// Package habit holds the lifecycle and statistics rules for learned habit
// patterns. The miner and the API both funnel their writes through these
// functions so counters and state transitions behave identically on every
// path.
package habit

import (
	"fmt"

	"github.com/gridhabit/gridhabit/pkg/types"
)

// DelayEMAAlpha is the smoothing factor of the trigger→action delay average.
const DelayEMAAlpha = 0.2

// Validate rejects degenerate or incomplete pattern identities. A pattern
// whose trigger equals its action can never be a habit.
func Validate(key types.PatternKey) error {
	if key.UserID == "" {
		return fmt.Errorf("pattern missing user")
	}
	for _, e := range []struct {
		name string
		t    types.Trigger
	}{{"trigger", key.Trigger}, {"action", key.Action}} {
		if e.t.Vendor == "" || e.t.DeviceID == "" || e.t.Event == "" {
			return fmt.Errorf("pattern %s missing vendor, device, or event", e.name)
		}
	}
	if key.Trigger.Equal(key.Action) {
		return fmt.Errorf("pattern trigger and action are identical (%s/%s/%s)",
			key.Trigger.Vendor, key.Trigger.DeviceID, key.Trigger.Event)
	}
	switch key.Context {
	case types.ContextGlobal, types.ContextDay, types.ContextNight:
	default:
		return fmt.Errorf("unknown context key %q", key.Context)
	}
	return nil
}

// RecordPair applies one observed trigger→action pairing: both counters
// advance, the delay average updates (seeded by the first observed delay),
// and confidence is recomputed from the counters.
func RecordPair(p *types.HabitPattern, delayS float64) {
	if p.State == "" {
		p.State = types.PatternShadow
	}
	p.TriggersTotal++
	p.PairsTotal++
	if p.PairsTotal == 1 {
		p.AvgDelayS = delayS
	} else {
		p.AvgDelayS = DelayEMAAlpha*delayS + (1-DelayEMAAlpha)*p.AvgDelayS
	}
	recompute(p)
}

// RecordTrigger applies a trigger observation that did not pair with this
// pattern's action, diluting confidence.
func RecordTrigger(p *types.HabitPattern) {
	p.TriggersTotal++
	recompute(p)
}

// recompute derives confidence from the counters. Always recomputed, never
// incrementally drifted.
func recompute(p *types.HabitPattern) {
	if p.TriggersTotal == 0 {
		p.Confidence = 0
		return
	}
	p.Confidence = float64(p.PairsTotal) / float64(p.TriggersTotal)
}

// MaybePromote advances a shadow pattern to suggested once it clears the
// policy thresholds. Returns true if the state changed.
func MaybePromote(p *types.HabitPattern, s types.Settings) bool {
	if p.State != types.PatternShadow {
		return false
	}
	if p.TriggersTotal < s.PromoteMinTriggers ||
		p.PairsTotal < s.PromoteMinPairs ||
		p.Confidence < s.PromoteMinConfidence {
		return false
	}
	p.State = types.PatternSuggested
	return true
}

// CanTransition reports whether an operator-driven state change is legal.
// Paused and retired patterns can only come back through reactivation.
func CanTransition(from, to types.PatternState) bool {
	if from == to {
		return false
	}
	switch to {
	case types.PatternSuggested:
		return from == types.PatternShadow
	case types.PatternActive:
		// promote or reactivate
		return from == types.PatternSuggested || from == types.PatternPaused || from == types.PatternRetired
	case types.PatternPaused:
		return from == types.PatternActive
	case types.PatternRetired:
		return from == types.PatternShadow || from == types.PatternSuggested ||
			from == types.PatternActive || from == types.PatternPaused
	}
	return false
}

// EventForTransition maps an operator state change to its audit log event.
func EventForTransition(to types.PatternState) types.LogEvent {
	switch to {
	case types.PatternActive:
		return types.LogPromote
	case types.PatternPaused:
		return types.LogPause
	case types.PatternRetired:
		return types.LogRetire
	default:
		return types.LogPromote
	}
}
