package miner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/storage/storagemock"
	"github.com/gridhabit/gridhabit/pkg/types"
)

const user = "u1"

func sample(device string, ts time.Time, on bool) types.StateSample {
	return types.StateSample{
		Vendor:    "smartthings",
		DeviceID:  device,
		Name:      device,
		Timestamp: ts,
		On:        on,
	}
}

func TestTransitions(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	t.Run("first sample is a baseline", func(t *testing.T) {
		got := Transitions([]types.StateSample{sample("a", t0, true)})
		assert.Empty(t, got)
	})

	t.Run("edges only on state change", func(t *testing.T) {
		got := Transitions([]types.StateSample{
			sample("a", t0, false),
			sample("a", t0.Add(time.Minute), true),
			sample("a", t0.Add(2*time.Minute), true), // repeat, no edge
			sample("a", t0.Add(3*time.Minute), false),
		})
		require.Len(t, got, 2)
		assert.Equal(t, types.EventOn, got[0].Event)
		assert.Equal(t, types.EventOff, got[1].Event)
	})

	t.Run("devices merge sorted by time", func(t *testing.T) {
		got := Transitions([]types.StateSample{
			// ordered by (vendor, device, ts) as the telemetry contract says
			sample("a", t0, false),
			sample("a", t0.Add(2*time.Minute), true),
			sample("b", t0, false),
			sample("b", t0.Add(time.Minute), true),
		})
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].DeviceID)
		assert.Equal(t, "a", got[1].DeviceID)
	})
}

func mineOnce(t *testing.T, mem *storage.Memory) {
	t.Helper()
	m := New(mem, mem)
	require.NoError(t, m.MineUser(context.Background(), user))
}

func TestPairingWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	t.Run("inside window creates one pattern", func(t *testing.T) {
		mem := storage.NewMemory()
		mem.AddStateSamples(user,
			sample("a", t0.Add(-time.Hour), false),
			sample("b", t0.Add(-time.Hour), false),
			sample("a", t0, true),
			sample("b", t0.Add(179*time.Second), true),
		)
		mineOnce(t, mem)

		patterns, err := mem.ListPatterns(context.Background(), user)
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		assert.Equal(t, 1, patterns[0].PairsTotal)
		assert.Equal(t, 1, patterns[0].TriggersTotal)
		assert.Equal(t, "a", patterns[0].Key.Trigger.DeviceID)
		assert.Equal(t, "b", patterns[0].Key.Action.DeviceID)
		assert.InDelta(t, 179.0, patterns[0].AvgDelayS, 1e-9)
	})

	t.Run("outside window creates nothing", func(t *testing.T) {
		mem := storage.NewMemory()
		mem.AddStateSamples(user,
			sample("a", t0.Add(-time.Hour), false),
			sample("b", t0.Add(-time.Hour), false),
			sample("a", t0, true),
			sample("b", t0.Add(181*time.Second), true),
		)
		mineOnce(t, mem)

		patterns, err := mem.ListPatterns(context.Background(), user)
		require.NoError(t, err)
		// b's own ON is also unpaired (nothing follows it)
		assert.Empty(t, patterns)
	})

	t.Run("same device never pairs with itself", func(t *testing.T) {
		mem := storage.NewMemory()
		mem.AddStateSamples(user,
			sample("a", t0.Add(-time.Hour), false),
			sample("a", t0, true),
			sample("a", t0.Add(10*time.Second), false),
		)
		mineOnce(t, mem)

		patterns, err := mem.ListPatterns(context.Background(), user)
		require.NoError(t, err)
		assert.Empty(t, patterns)
	})
}

func TestCursorAdvancesAndDoesNotRecount(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	mem := storage.NewMemory()
	mem.AddStateSamples(user,
		sample("a", t0.Add(-time.Hour), false),
		sample("b", t0.Add(-time.Hour), false),
		sample("a", t0, true),
		sample("b", t0.Add(30*time.Second), true),
	)

	mineOnce(t, mem)
	cursor, err := mem.GetMinerCursor(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*time.Second), cursor)

	// re-mining with no new data changes nothing
	mineOnce(t, mem)
	patterns, err := mem.ListPatterns(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, patterns[0].PairsTotal)
}

func TestTriggerDilutesOtherPatterns(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	mem := storage.NewMemory()
	// first cycle: a pairs with b
	mem.AddStateSamples(user,
		sample("a", t0.Add(-time.Hour), false),
		sample("b", t0.Add(-time.Hour), false),
		sample("c", t0.Add(-time.Hour), false),
		sample("a", t0, true),
		sample("b", t0.Add(30*time.Second), true),
	)
	mineOnce(t, mem)

	// second cycle: a now pairs with c instead
	mem.AddStateSamples(user,
		sample("c", t0.Add(5*time.Minute), false),
		sample("a", t0.Add(10*time.Minute), false),
		sample("a", t0.Add(20*time.Minute), true),
		sample("c", t0.Add(20*time.Minute+15*time.Second), true),
	)
	mineOnce(t, mem)

	patterns, err := mem.ListPatterns(context.Background(), user)
	require.NoError(t, err)

	byAction := map[string]types.HabitPattern{}
	for _, p := range patterns {
		if p.Key.Trigger.DeviceID == "a" && p.Key.Trigger.Event == types.EventOn {
			byAction[p.Key.Action.DeviceID] = p
		}
	}
	require.Contains(t, byAction, "b")
	require.Contains(t, byAction, "c")

	// a→b saw two a-on triggers but only one pair
	assert.Equal(t, 2, byAction["b"].TriggersTotal)
	assert.Equal(t, 1, byAction["b"].PairsTotal)
	assert.InDelta(t, 0.5, byAction["b"].Confidence, 1e-9)

	assert.Equal(t, 1, byAction["c"].TriggersTotal)
	assert.Equal(t, 1, byAction["c"].PairsTotal)
}

func TestMiningScenarioPromotes(t *testing.T) {
	// device a turns ON at minute 0,10,20,... and b follows 30 seconds later
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	mem := storage.NewMemory()
	mem.AddStateSamples(user,
		sample("a", t0.Add(-time.Hour), false),
		sample("b", t0.Add(-time.Hour), false),
	)
	for i := 0; i < 10; i++ {
		base := t0.Add(time.Duration(i) * 10 * time.Minute)
		mem.AddStateSamples(user,
			sample("a", base, true),
			sample("b", base.Add(30*time.Second), true),
			sample("a", base.Add(5*time.Minute), false),
			sample("b", base.Add(5*time.Minute+30*time.Second), false),
		)
	}
	mineOnce(t, mem)

	patterns, err := mem.ListPatterns(context.Background(), user)
	require.NoError(t, err)

	var onPattern *types.HabitPattern
	for i := range patterns {
		p := patterns[i]
		if p.Key.Trigger.DeviceID == "a" && p.Key.Trigger.Event == types.EventOn &&
			p.Key.Action.DeviceID == "b" && p.Key.Action.Event == types.EventOn {
			onPattern = &patterns[i]
		}
	}
	require.NotNil(t, onPattern)
	assert.Equal(t, 10, onPattern.TriggersTotal)
	assert.Equal(t, 10, onPattern.PairsTotal)
	assert.InDelta(t, 1.0, onPattern.Confidence, 1e-9)
	assert.Equal(t, types.PatternSuggested, onPattern.State)
	assert.InDelta(t, 30.0, onPattern.AvgDelayS, 1e-9)

	logs, err := mem.ListHabitLogs(context.Background(), onPattern.ID, 0)
	require.NoError(t, err)
	var pairLogs, promoteLogs int
	for _, l := range logs {
		switch l.Event {
		case types.LogPair:
			pairLogs++
		case types.LogPromote:
			promoteLogs++
		}
	}
	assert.Equal(t, 10, pairLogs)
	assert.Equal(t, 1, promoteLogs)
}

func TestOnTriggerHook(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	mem := storage.NewMemory()
	mem.AddStateSamples(user,
		sample("a", t0.Add(-time.Hour), false),
		sample("a", t0, true),
	)

	m := New(mem, mem)
	var seen []types.Transition
	m.OnTrigger = func(ctx context.Context, userID string, tr types.Transition) {
		assert.Equal(t, user, userID)
		seen = append(seen, tr)
	}
	require.NoError(t, m.MineUser(context.Background(), user))

	require.Len(t, seen, 1)
	assert.Equal(t, "a", seen[0].DeviceID)
	assert.Equal(t, types.EventOn, seen[0].Event)
}

func TestTickFailsWhenUserListingFails(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("ListUsers", mock.Anything).Return(nil, errors.New("backend down"))

	m := New(db, storage.NewMemory())
	err := m.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list users")
	db.AssertExpectations(t)
}

func TestMineUserKeepsCursorOnTelemetryFailure(t *testing.T) {
	mem := storage.NewMemory()
	mem.AddStateSamples(user, sample("a", time.Now(), true))

	tel := &storagemock.MockTelemetry{}
	tel.On("FetchStateChangesSince", mock.Anything, user, mock.Anything).
		Return(nil, errors.New("telemetry unavailable"))

	m := New(mem, tel)
	err := m.MineUser(context.Background(), user)
	require.Error(t, err)

	ts, err := mem.GetMinerCursor(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
}
