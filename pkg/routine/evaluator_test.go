package routine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridhabit/gridhabit/pkg/device/devicemock"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

var allDays = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
	time.Thursday, time.Friday, time.Saturday,
}

// seedConstantImport writes a single sample at each day's window start; the
// left-rectangle integral carries it across the whole window.
func seedConstantImport(db *storage.Memory, now time.Time, startMinute int, fromDay, toDay int, kw float64) {
	for i := fromDay; i <= toDay; i++ {
		day := now.AddDate(0, 0, -i)
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, startMinute, 0, 0, time.UTC)
		db.AddPowerSamples("u1", types.MetricGridImport, types.PowerSample{Timestamp: start, Value: kw})
	}
}

func TestEvaluateHalvedImport(t *testing.T) {
	db := storage.NewMemory()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	a := types.Automation{
		ID:       "auto1",
		UserID:   "u1",
		Schedule: types.Schedule{Days: allDays, StartMinute: 18 * 60, EndMinute: 22 * 60},
	}
	seedConstantImport(db, now, a.Schedule.StartMinute, 1, 7, 1.0)
	seedConstantImport(db, now, a.Schedule.StartMinute, 8, 14, 2.0)

	e := NewEvaluator(db)
	e.SetNow(func() time.Time { return now })

	report, err := e.Evaluate(context.Background(), "u1", a, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, report.DaysCurrent)
	assert.Equal(t, 7, report.DaysPrevious)
	assert.InDelta(t, 4.0, report.AvgCurrentKWH, 1e-9)
	assert.InDelta(t, 8.0, report.AvgPreviousKWH, 1e-9)
	assert.InDelta(t, 50.0, report.SavingsPct, 1e-9)
	assert.InDelta(t, 4000.0, report.SavingsWH, 1e-9)
	assert.Zero(t, report.ComfortPenalty)
}

func TestEvaluateOnlyQualifyingDays(t *testing.T) {
	db := storage.NewMemory()
	// 2025-06-15 is a Sunday, so the preceding Saturdays are June 14 and 7
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	a := types.Automation{
		ID:       "auto1",
		UserID:   "u1",
		Schedule: types.Schedule{Days: []time.Weekday{time.Saturday}, StartMinute: 8 * 60, EndMinute: 10 * 60},
	}
	seedConstantImport(db, now, a.Schedule.StartMinute, 1, 7, 1.0)
	seedConstantImport(db, now, a.Schedule.StartMinute, 8, 14, 3.0)

	e := NewEvaluator(db)
	e.SetNow(func() time.Time { return now })

	report, err := e.Evaluate(context.Background(), "u1", a, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DaysCurrent)
	assert.Equal(t, 1, report.DaysPrevious)
	// June 14 carries 1.0 kW, June 7 carries 3.0 kW, both over 2 hours
	assert.InDelta(t, 2.0, report.AvgCurrentKWH, 1e-9)
	assert.InDelta(t, 6.0, report.AvgPreviousKWH, 1e-9)
	assert.InDelta(t, 1.0, report.ComfortPenalty, 1e-9)
}

func TestEvaluateNoBaseline(t *testing.T) {
	db := storage.NewMemory()
	a := types.Automation{
		ID:       "auto1",
		UserID:   "u1",
		Schedule: types.Schedule{Days: allDays, StartMinute: 0, EndMinute: 60},
	}
	e := NewEvaluator(db)
	report, err := e.Evaluate(context.Background(), "u1", a, 7, 0)
	require.NoError(t, err)
	assert.Zero(t, report.SavingsPct)
	assert.Zero(t, report.SavingsWH)
}

func TestSimulateShiftableLoad(t *testing.T) {
	db := storage.NewMemory()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	a := types.Automation{
		ID:       "auto1",
		UserID:   "u1",
		Schedule: types.Schedule{Days: allDays, StartMinute: 18 * 60, EndMinute: 22 * 60},
	}
	// 1.0 kW baseline yesterday means 4 kWh over the window
	seedConstantImport(db, now, a.Schedule.StartMinute, 1, 1, 1.0)
	db.AddStateSamples("u1",
		types.StateSample{Vendor: "smartthings", DeviceID: "lamp", Timestamp: now, On: true, PowerW: 500},
		types.StateSample{Vendor: "smartthings", DeviceID: "furnace", Timestamp: now, On: true, PowerW: 2000},
		types.StateSample{Vendor: "smartthings", DeviceID: "tv", Timestamp: now, On: false, PowerW: 0},
	)

	meta := &devicemock.MockMetadata{}
	meta.On("GetEssential", mock.Anything, "smartthings", "lamp").
		Return(types.DeviceMeta{DeviceID: "lamp", Priority: 1}, nil)
	meta.On("GetEssential", mock.Anything, "smartthings", "furnace").
		Return(types.DeviceMeta{DeviceID: "furnace", Essential: true}, nil)

	e := NewEvaluator(db)
	e.SetNow(func() time.Time { return now })

	est, err := e.Simulate(context.Background(), "u1", a, meta)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, est.ShiftableKW, 1e-9)
	assert.InDelta(t, 4.0, est.WindowHours, 1e-9)
	assert.InDelta(t, 4.0, est.BaselineKWH, 1e-9)
	assert.InDelta(t, 50.0, est.PredictedSavingsPct, 1e-9)
}

func TestSimulateClampsAtFullBaseline(t *testing.T) {
	db := storage.NewMemory()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	a := types.Automation{
		ID:       "auto1",
		UserID:   "u1",
		Schedule: types.Schedule{Days: allDays, StartMinute: 18 * 60, EndMinute: 22 * 60},
	}
	seedConstantImport(db, now, a.Schedule.StartMinute, 1, 1, 0.1)
	db.AddStateSamples("u1", types.StateSample{
		Vendor: "smartthings", DeviceID: "heater", Timestamp: now, On: true, PowerW: 3000,
	})
	meta := &devicemock.MockMetadata{}
	meta.On("GetEssential", mock.Anything, "smartthings", "heater").
		Return(types.DeviceMeta{DeviceID: "heater", Priority: 2}, nil)

	e := NewEvaluator(db)
	e.SetNow(func() time.Time { return now })

	est, err := e.Simulate(context.Background(), "u1", a, meta)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, est.PredictedSavingsPct, 1e-9)
}
