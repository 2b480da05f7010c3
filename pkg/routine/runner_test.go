package routine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridhabit/gridhabit/pkg/device/devicemock"
	"github.com/gridhabit/gridhabit/pkg/executor"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

func peakSaver(t *testing.T, db *storage.Memory) types.Automation {
	t.Helper()
	a, err := db.CreateAutomation(context.Background(), types.Automation{
		UserID:  "u1",
		Name:    "evening peak saver",
		Kind:    types.KindPeakSaver,
		Enabled: true,
		Schedule: types.Schedule{
			Days:        []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			StartMinute: 18 * 60,
			EndMinute:   20 * 60,
		},
		Actions: types.ActionSet{OffPriorities: []int{1, 2}, RestoreOnExit: true},
	})
	require.NoError(t, err)
	return a
}

func lampMeta(priority int) types.DeviceMeta {
	return types.DeviceMeta{Vendor: "smartthings", DeviceID: "lamp", Name: "lamp", Priority: priority}
}

// Monday 2025-06-02 is a deterministic in-schedule weekday.
var monday = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func TestRunnerFiresOnWindowEntry(t *testing.T) {
	db := storage.NewMemory()
	a := peakSaver(t, db)
	db.AddStateSamples("u1", types.StateSample{
		Vendor: "smartthings", DeviceID: "lamp", Name: "lamp",
		Timestamp: monday, On: true, PowerW: 60,
	})

	commander := &devicemock.MockCommander{}
	commander.On("ExecuteAction", mock.Anything, "smartthings", "lamp", types.EventOff).Return(nil)
	meta := &devicemock.MockMetadata{}
	meta.On("GetEssential", mock.Anything, "smartthings", "lamp").Return(lampMeta(2), nil)

	r := NewRunner(db, db, meta, executor.New(db, commander, meta))
	r.SetNow(func() time.Time { return monday.Add(7 * time.Hour) }) // 19:00

	require.NoError(t, r.Tick(context.Background()))
	commander.AssertCalled(t, "ExecuteAction", mock.Anything, "smartthings", "lamp", types.EventOff)

	state, err := db.GetAutomationState(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, state.LastState)

	// second tick inside the same window must not fire again
	commander.Calls = nil
	require.NoError(t, r.Tick(context.Background()))
	commander.AssertNotCalled(t, "ExecuteAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunnerRestoresOnExit(t *testing.T) {
	db := storage.NewMemory()
	a := peakSaver(t, db)
	require.NoError(t, db.SetAutomationState(context.Background(), a.ID, types.AutomationState{
		LastState: types.StateActive,
		LastAt:    monday.Add(6 * time.Hour),
	}))
	db.AddStateSamples("u1", types.StateSample{
		Vendor: "smartthings", DeviceID: "lamp", Name: "lamp",
		Timestamp: monday, On: false,
	})

	commander := &devicemock.MockCommander{}
	commander.On("ExecuteAction", mock.Anything, "smartthings", "lamp", types.EventOn).Return(nil)
	meta := &devicemock.MockMetadata{}
	meta.On("GetEssential", mock.Anything, "smartthings", "lamp").Return(lampMeta(1), nil)

	r := NewRunner(db, db, meta, executor.New(db, commander, meta))
	r.SetNow(func() time.Time { return monday.Add(9 * time.Hour) }) // 21:00

	require.NoError(t, r.Tick(context.Background()))
	commander.AssertCalled(t, "ExecuteAction", mock.Anything, "smartthings", "lamp", types.EventOn)

	state, err := db.GetAutomationState(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateIdle, state.LastState)
}

func TestRunnerSkipsUntargetedTiersAndOffDevices(t *testing.T) {
	db := storage.NewMemory()
	peakSaver(t, db)
	db.AddStateSamples("u1",
		types.StateSample{Vendor: "smartthings", DeviceID: "fridge", Timestamp: monday, On: true, PowerW: 150},
		types.StateSample{Vendor: "smartthings", DeviceID: "lamp", Timestamp: monday, On: false},
	)

	commander := &devicemock.MockCommander{}
	meta := &devicemock.MockMetadata{}
	meta.On("GetEssential", mock.Anything, "smartthings", "fridge").
		Return(types.DeviceMeta{Vendor: "smartthings", DeviceID: "fridge", Name: "fridge", Priority: 3}, nil)
	meta.On("GetEssential", mock.Anything, "smartthings", "lamp").Return(lampMeta(2), nil)

	r := NewRunner(db, db, meta, executor.New(db, commander, meta))
	r.SetNow(func() time.Time { return monday.Add(7 * time.Hour) })

	require.NoError(t, r.Tick(context.Background()))
	// fridge is priority 3 (not targeted), lamp already off
	commander.AssertNotCalled(t, "ExecuteAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunnerNeverTogglesEssentialDeviceInTargetedTier(t *testing.T) {
	db := storage.NewMemory()
	peakSaver(t, db)
	db.AddStateSamples("u1",
		// a medical device mis-filed in a targeted tier must still be refused
		types.StateSample{Vendor: "smartthings", DeviceID: "oxygen", Timestamp: monday, On: true, PowerW: 300},
		types.StateSample{Vendor: "smartthings", DeviceID: "lamp", Timestamp: monday, On: true, PowerW: 60},
	)

	commander := &devicemock.MockCommander{}
	commander.On("ExecuteAction", mock.Anything, "smartthings", "lamp", types.EventOff).Return(nil)
	meta := &devicemock.MockMetadata{}
	meta.On("GetEssential", mock.Anything, "smartthings", "oxygen").
		Return(types.DeviceMeta{Vendor: "smartthings", DeviceID: "oxygen", Name: "oxygen concentrator", Essential: true, Priority: 2}, nil)
	meta.On("GetEssential", mock.Anything, "smartthings", "lamp").Return(lampMeta(2), nil)

	r := NewRunner(db, db, meta, executor.New(db, commander, meta))
	r.SetNow(func() time.Time { return monday.Add(7 * time.Hour) })

	require.NoError(t, r.Tick(context.Background()))
	commander.AssertCalled(t, "ExecuteAction", mock.Anything, "smartthings", "lamp", types.EventOff)
	commander.AssertNotCalled(t, "ExecuteAction", mock.Anything, "smartthings", "oxygen", mock.Anything)
}

func TestRunnerRespectsPauseAndDisabled(t *testing.T) {
	db := storage.NewMemory()
	a := peakSaver(t, db)
	db.AddStateSamples("u1", types.StateSample{
		Vendor: "smartthings", DeviceID: "lamp", Timestamp: monday, On: true, PowerW: 60,
	})

	commander := &devicemock.MockCommander{}
	meta := &devicemock.MockMetadata{}
	r := NewRunner(db, db, meta, executor.New(db, commander, meta))
	r.SetNow(func() time.Time { return monday.Add(7 * time.Hour) })

	require.NoError(t, db.SetSettings(context.Background(), "u1", types.Settings{Pause: true}, 1))
	require.NoError(t, r.Tick(context.Background()))
	commander.AssertNotCalled(t, "ExecuteAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, db.SetSettings(context.Background(), "u1", types.Settings{}, 2))
	a.Enabled = false
	require.NoError(t, db.UpdateAutomation(context.Background(), a))
	require.NoError(t, r.Tick(context.Background()))
	commander.AssertNotCalled(t, "ExecuteAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVariantsMutateWithinBounds(t *testing.T) {
	a := types.Automation{
		Params: map[string]any{
			"thresholds": map[string]any{"power_kw": 2.0},
			"label":      "peak",
		},
		Learning: &types.Learning{
			Enabled: true,
			Mutation: types.MutationSpec{
				Fields:  []string{"thresholds.power_kw", "thresholds.missing"},
				StepPct: 0.5,
				Bounds:  map[string][2]float64{"power_kw": {1.5, 2.2}},
			},
		},
	}
	rng := rand.New(rand.NewSource(42))
	variants := Variants(a, 8, rng)
	require.Len(t, variants, 8)
	for _, v := range variants {
		got := v.Params["thresholds"].(map[string]any)["power_kw"].(float64)
		assert.GreaterOrEqual(t, got, 1.5)
		assert.LessOrEqual(t, got, 2.2)
		assert.Equal(t, "peak", v.Params["label"])
	}
	// the source automation's params are never mutated in place
	assert.Equal(t, 2.0, a.Params["thresholds"].(map[string]any)["power_kw"])
}

func TestVariantsWithoutLearning(t *testing.T) {
	assert.Nil(t, Variants(types.Automation{}, 3, rand.New(rand.NewSource(1))))
}
