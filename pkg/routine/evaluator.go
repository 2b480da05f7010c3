package routine

import (
	"context"
	"fmt"
	"time"

	"github.com/gridhabit/gridhabit/pkg/device"
	"github.com/gridhabit/gridhabit/pkg/energy"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

// Evaluator compares realized grid-import energy during an automation's
// schedule window across two equal periods of qualifying days.
type Evaluator struct {
	tel   storage.Telemetry
	nowFn func() time.Time
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(tel storage.Telemetry) *Evaluator {
	return &Evaluator{tel: tel, nowFn: time.Now}
}

// SetNow replaces the clock. Test hook.
func (e *Evaluator) SetNow(now func() time.Time) {
	e.nowFn = now
}

// Evaluate integrates grid import over the automation's daily window for the
// most recent windowDays qualifying days (days whose weekday is in the
// schedule) and the windowDays qualifying days before those, then compares
// the per-day averages. overrides is the count of user overrides observed
// during the current period and feeds the comfort penalty.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, a types.Automation, windowDays, overrides int) (types.SavingsReport, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	report := types.SavingsReport{
		AutomationID: a.ID,
		Timestamp:    e.nowFn(),
		WindowDays:   windowDays,
	}
	if len(a.Schedule.Days) == 0 {
		return report, fmt.Errorf("automation %s has no scheduled days", a.ID)
	}

	var current, previous []float64
	day := e.nowFn().AddDate(0, 0, -1)
	// walk backwards day by day, filling current first, then previous
	for i := 0; i < windowDays*16 && len(previous) < windowDays; i++ {
		if a.Schedule.OnDay(day.Weekday()) {
			kwh, err := e.windowEnergy(ctx, userID, a.Schedule, day)
			if err != nil {
				return report, err
			}
			if len(current) < windowDays {
				current = append(current, kwh)
			} else {
				previous = append(previous, kwh)
			}
		}
		day = day.AddDate(0, 0, -1)
	}

	report.DaysCurrent = len(current)
	report.DaysPrevious = len(previous)
	report.AvgCurrentKWH = mean(current)
	report.AvgPreviousKWH = mean(previous)
	if report.AvgPreviousKWH > 0 {
		report.SavingsPct = (report.AvgPreviousKWH - report.AvgCurrentKWH) / report.AvgPreviousKWH * 100
	}
	report.SavingsWH = (report.AvgPreviousKWH - report.AvgCurrentKWH) * 1000
	if report.DaysCurrent > 0 {
		report.ComfortPenalty = clamp(float64(overrides)/float64(report.DaysCurrent), 0, 1)
	}
	return report, nil
}

// windowEnergy integrates grid import (kW series) over one day's schedule
// window, yielding kWh.
func (e *Evaluator) windowEnergy(ctx context.Context, userID string, sched types.Schedule, day time.Time) (float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, sched.StartMinute, 0, 0, day.Location())
	end := time.Date(day.Year(), day.Month(), day.Day(), 0, sched.EndMinute, 0, 0, day.Location())
	samples, prev, err := e.tel.FetchPowerSeries(ctx, userID, types.MetricGridImport, start, end)
	if err != nil {
		return 0, fmt.Errorf("fetch power series: %w", err)
	}
	return energy.Integrate(samples, prev, start, end), nil
}

// Simulate produces a forward estimate of what an automation could save: the
// currently running shiftable load (non-essential, low/medium priority
// devices that are on) times the window length, as a share of a same-window
// historical baseline. The result is clamped to [0, 100].
func (e *Evaluator) Simulate(ctx context.Context, userID string, a types.Automation, meta device.Metadata) (types.SimulationEstimate, error) {
	est := types.SimulationEstimate{WindowHours: a.Schedule.DurationHours()}

	states, err := e.tel.LatestStates(ctx, userID)
	if err != nil {
		return est, fmt.Errorf("latest states: %w", err)
	}
	for _, s := range states {
		if !s.On {
			continue
		}
		dm, err := meta.GetEssential(ctx, s.Vendor, s.DeviceID)
		if err != nil || dm.Protected() {
			continue
		}
		est.ShiftableKW += s.PowerW / 1000
	}

	// baseline from the most recent qualifying day
	day := e.nowFn().AddDate(0, 0, -1)
	for i := 0; i < 14; i++ {
		if a.Schedule.OnDay(day.Weekday()) {
			kwh, err := e.windowEnergy(ctx, userID, a.Schedule, day)
			if err != nil {
				return est, err
			}
			est.BaselineKWH = kwh
			break
		}
		day = day.AddDate(0, 0, -1)
	}

	if est.BaselineKWH > 0 {
		est.PredictedSavingsPct = clamp(est.ShiftableKW*est.WindowHours/est.BaselineKWH*100, 0, 100)
	}
	return est, nil
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
