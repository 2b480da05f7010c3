package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridhabit/gridhabit/pkg/device/devicemock"
	"github.com/gridhabit/gridhabit/pkg/habit"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

// syncAfter runs scheduled functions immediately so no test waits on timers.
func syncAfter(d time.Duration, fn func()) func() bool {
	fn()
	return func() bool { return false }
}

func TestEngineMinesAndExecutes(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemory()

	commander := &devicemock.MockCommander{}
	commander.On("ExecuteAction", mock.Anything, "tuya", "fan", types.EventOn).Return(nil)
	meta := &devicemock.MockMetadata{}
	meta.On("GetEssential", mock.Anything, "tuya", "fan").
		Return(types.DeviceMeta{Vendor: "tuya", DeviceID: "fan", Name: "ceiling fan", Priority: 1}, nil)
	meta.On("GetEssential", mock.Anything, "smartthings", mock.Anything).
		Return(types.DeviceMeta{Priority: 1}, nil)

	e := New(db, db, commander, meta)
	e.Executor().SetAfter(syncAfter)

	// an operator-created active pattern: lamp on fires the fan
	_, err := habit.NewService(db).ManualCreate(ctx, types.PatternKey{
		UserID:  "u1",
		Trigger: types.Trigger{Vendor: "smartthings", DeviceID: "lamp", Event: types.EventOn},
		Action:  types.Trigger{Vendor: "tuya", DeviceID: "fan", Event: types.EventOn},
	})
	require.NoError(t, err)

	t0 := time.Now().Add(-10 * time.Minute)
	db.AddStateSamples("u1",
		types.StateSample{Vendor: "smartthings", DeviceID: "lamp", Timestamp: t0.Add(-time.Hour), On: false},
		types.StateSample{Vendor: "smartthings", DeviceID: "lamp", Timestamp: t0, On: true},
	)

	require.NoError(t, e.TickAll(ctx))
	commander.AssertCalled(t, "ExecuteAction", mock.Anything, "tuya", "fan", types.EventOn)
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	db := storage.NewMemory()
	commander := &devicemock.MockCommander{}
	meta := &devicemock.MockMetadata{}

	e := New(db, db, commander, meta)
	e.MineInterval = time.Hour
	e.RunInterval = time.Hour
	e.DiscoverInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}
