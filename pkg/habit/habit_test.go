package habit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridhabit/gridhabit/pkg/types"
)

func validKey() types.PatternKey {
	return types.PatternKey{
		UserID:  "u1",
		Trigger: types.Trigger{Vendor: "smartthings", DeviceID: "lamp", Event: types.EventOn},
		Action:  types.Trigger{Vendor: "tuya", DeviceID: "fan", Event: types.EventOn},
		Context: types.ContextDay,
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, Validate(validKey()))
	})

	t.Run("trigger equals action", func(t *testing.T) {
		key := validKey()
		key.Action = key.Trigger
		assert.Error(t, Validate(key))
	})

	t.Run("same device different event is allowed", func(t *testing.T) {
		key := validKey()
		key.Action = key.Trigger
		key.Action.Event = types.EventOff
		assert.NoError(t, Validate(key))
	})

	t.Run("missing fields", func(t *testing.T) {
		key := validKey()
		key.Trigger.DeviceID = ""
		assert.Error(t, Validate(key))

		key = validKey()
		key.UserID = ""
		assert.Error(t, Validate(key))
	})

	t.Run("unknown context", func(t *testing.T) {
		key := validKey()
		key.Context = "weekend"
		assert.Error(t, Validate(key))
	})
}

func TestRecordPair(t *testing.T) {
	p := types.HabitPattern{Key: validKey()}

	RecordPair(&p, 30)
	assert.Equal(t, types.PatternShadow, p.State)
	assert.Equal(t, 1, p.TriggersTotal)
	assert.Equal(t, 1, p.PairsTotal)
	// first delay seeds the average
	assert.InDelta(t, 30.0, p.AvgDelayS, 1e-9)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)

	RecordPair(&p, 60)
	assert.InDelta(t, 0.2*60+0.8*30, p.AvgDelayS, 1e-9)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)

	RecordTrigger(&p)
	assert.Equal(t, 3, p.TriggersTotal)
	assert.Equal(t, 2, p.PairsTotal)
	assert.InDelta(t, 2.0/3.0, p.Confidence, 1e-9)
}

func TestMaybePromote(t *testing.T) {
	settings := types.Settings{}.Normalize()

	t.Run("promotes at thresholds", func(t *testing.T) {
		p := types.HabitPattern{
			State:         types.PatternShadow,
			TriggersTotal: 5,
			PairsTotal:    3,
			Confidence:    0.6,
		}
		assert.True(t, MaybePromote(&p, settings))
		assert.Equal(t, types.PatternSuggested, p.State)
	})

	t.Run("too few triggers", func(t *testing.T) {
		p := types.HabitPattern{
			State:         types.PatternShadow,
			TriggersTotal: 4,
			PairsTotal:    3,
			Confidence:    0.75,
		}
		assert.False(t, MaybePromote(&p, settings))
		assert.Equal(t, types.PatternShadow, p.State)
	})

	t.Run("low confidence", func(t *testing.T) {
		p := types.HabitPattern{
			State:         types.PatternShadow,
			TriggersTotal: 10,
			PairsTotal:    5,
			Confidence:    0.5,
		}
		assert.False(t, MaybePromote(&p, settings))
	})

	t.Run("only shadow promotes", func(t *testing.T) {
		p := types.HabitPattern{
			State:         types.PatternPaused,
			TriggersTotal: 10,
			PairsTotal:    10,
			Confidence:    1.0,
		}
		assert.False(t, MaybePromote(&p, settings))
	})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(types.PatternSuggested, types.PatternActive))
	assert.True(t, CanTransition(types.PatternActive, types.PatternPaused))
	assert.True(t, CanTransition(types.PatternPaused, types.PatternActive))
	assert.True(t, CanTransition(types.PatternRetired, types.PatternActive))
	assert.True(t, CanTransition(types.PatternActive, types.PatternRetired))

	assert.False(t, CanTransition(types.PatternShadow, types.PatternActive))
	assert.False(t, CanTransition(types.PatternActive, types.PatternActive))
	assert.False(t, CanTransition(types.PatternRetired, types.PatternPaused))
	assert.False(t, CanTransition(types.PatternActive, types.PatternSuggested))
}
