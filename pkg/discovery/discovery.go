// Package discovery mines device-pair co-occurrence and grid-load trends to
// synthesize candidate energy-saving routines, and promotes them out of
// probation once their predicted savings hold up.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gridhabit/gridhabit/pkg/device"
	"github.com/gridhabit/gridhabit/pkg/energy"
	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/miner"
	"github.com/gridhabit/gridhabit/pkg/routine"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

const (
	defaultLookback = 7 * 24 * time.Hour
	defaultCoWindow = 5 * time.Minute

	// minimum evidence before a pair is considered at all
	minOnEvents = 3
	minCorr     = 0.5
)

// Discovery scans recent device histories for correlated pairs and registers
// experimental automations for the promising ones.
type Discovery struct {
	db   storage.Database
	tel  storage.Telemetry
	meta device.Metadata
	eval *routine.Evaluator

	Lookback time.Duration
	CoWindow time.Duration

	nowFn func() time.Time
}

// New creates a Discovery.
func New(db storage.Database, tel storage.Telemetry, meta device.Metadata, eval *routine.Evaluator) *Discovery {
	return &Discovery{
		db:       db,
		tel:      tel,
		meta:     meta,
		eval:     eval,
		Lookback: defaultLookback,
		CoWindow: defaultCoWindow,
		nowFn:    time.Now,
	}
}

// SetNow replaces the clock. Test hook.
func (d *Discovery) SetNow(now func() time.Time) {
	d.nowFn = now
}

// Tick runs discovery and probation checks for every user. Failures are
// isolated per user.
func (d *Discovery) Tick(ctx context.Context) error {
	users, err := d.db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, userID := range users {
		if err := d.DiscoverUser(ctx, userID); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "discovery failed for user",
				slog.String("userID", userID), slog.Any("error", err))
		}
		if err := d.PromoteExperiments(ctx, userID); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "probation check failed for user",
				slog.String("userID", userID), slog.Any("error", err))
		}
	}
	return nil
}

// deviceHistory is one device's ON edges and ON intervals over the lookback
// window, derived from its transitions.
type deviceHistory struct {
	vendor, id string
	onEvents   []time.Time
	intervals  [][2]time.Time
}

// DiscoverUser scans one user's recent history for co-occurring device pairs
// and registers an experimental automation per qualifying pair.
func (d *Discovery) DiscoverUser(ctx context.Context, userID string) error {
	settings, _, err := d.db.GetSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	if settings.Pause {
		return nil
	}
	now := d.nowFn()
	samples, err := d.tel.FetchStateChangesSince(ctx, userID, now.Add(-d.Lookback))
	if err != nil {
		return fmt.Errorf("fetch state changes: %w", err)
	}
	histories := buildHistories(miner.Transitions(samples), now)

	trend := d.gridTrend(ctx, userID, now)

	existing, err := d.db.ListAutomations(ctx, userID)
	if err != nil {
		return fmt.Errorf("list automations: %w", err)
	}
	names := map[string]bool{}
	for _, a := range existing {
		names[a.Name] = true
	}

	for _, a := range histories {
		for _, b := range histories {
			if a.vendor == b.vendor && a.id == b.id {
				continue
			}
			if len(a.onEvents) < minOnEvents {
				continue
			}
			corr := correlate(a.onEvents, b.intervals, d.CoWindow)
			if corr < minCorr {
				continue
			}
			if !d.lowComfortRisk(ctx, a, b) {
				continue
			}
			name := fmt.Sprintf("saver:%s+%s", a.id, b.id)
			if names[name] || names[fmt.Sprintf("saver:%s+%s", b.id, a.id)] {
				continue
			}
			candidate := synthesize(userID, name, a, trend)
			est, err := d.eval.Simulate(ctx, userID, candidate, d.meta)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "candidate simulation failed",
					slog.String("name", name), slog.Any("error", err))
				continue
			}
			if est.PredictedSavingsPct < settings.DiscoveryMinSavingsPct {
				continue
			}
			candidate.Learning = &types.Learning{
				Enabled:          true,
				PromoteAfterDays: settings.ProbationDays,
				StartedAt:        now,
			}
			candidate.Params["predicted_savings_pct"] = est.PredictedSavingsPct
			created, err := d.db.CreateAutomation(ctx, candidate)
			if err != nil {
				return fmt.Errorf("create automation: %w", err)
			}
			if err := d.db.SetAutomationState(ctx, created.ID, types.AutomationState{
				LastState: types.StateExperimental,
				LastAt:    now,
			}); err != nil {
				return fmt.Errorf("set automation state: %w", err)
			}
			names[name] = true
			log.Ctx(ctx).InfoContext(ctx, "registered experimental routine",
				slog.String("automationID", created.ID),
				slog.String("name", name),
				slog.Float64("corr", corr),
				slog.Float64("predictedSavingsPct", est.PredictedSavingsPct))
		}
	}
	return nil
}

// PromoteExperiments enables experimental automations whose probation has
// elapsed and whose forward estimate still clears the savings threshold.
// Promotion is never immediate.
func (d *Discovery) PromoteExperiments(ctx context.Context, userID string) error {
	settings, _, err := d.db.GetSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	automations, err := d.db.ListAutomations(ctx, userID)
	if err != nil {
		return fmt.Errorf("list automations: %w", err)
	}
	now := d.nowFn()
	for _, a := range automations {
		if a.Enabled || a.Learning == nil || a.Learning.PromoteAfterDays <= 0 {
			continue
		}
		deadline := a.Learning.StartedAt.AddDate(0, 0, a.Learning.PromoteAfterDays)
		if now.Before(deadline) {
			continue
		}
		est, err := d.eval.Simulate(ctx, userID, a, d.meta)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "promotion simulation failed",
				slog.String("automationID", a.ID), slog.Any("error", err))
			continue
		}
		if est.PredictedSavingsPct < settings.DiscoveryMinSavingsPct {
			log.Ctx(ctx).InfoContext(ctx, "experimental routine failed probation",
				slog.String("automationID", a.ID),
				slog.Float64("predictedSavingsPct", est.PredictedSavingsPct))
			continue
		}
		a.Enabled = true
		if err := d.db.UpdateAutomation(ctx, a); err != nil {
			return fmt.Errorf("update automation: %w", err)
		}
		if err := d.db.SetAutomationState(ctx, a.ID, types.AutomationState{
			LastState: types.StateIdle,
			LastAt:    now,
		}); err != nil {
			return fmt.Errorf("set automation state: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "promoted experimental routine",
			slog.String("automationID", a.ID), slog.String("name", a.Name))
	}
	return nil
}

// gridTrend fits an OLS slope (kW per hour) to grid import over the lookback
// window. Informational; stored on synthesized candidates.
func (d *Discovery) gridTrend(ctx context.Context, userID string, now time.Time) float64 {
	samples, _, err := d.tel.FetchPowerSeries(ctx, userID, types.MetricGridImport, now.Add(-d.Lookback), now)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch grid import for trend",
			slog.String("userID", userID), slog.Any("error", err))
		return 0
	}
	return energy.Slope(samples)
}

// lowComfortRisk is the conservative proxy: both devices must be known,
// non-essential and low or medium priority.
func (d *Discovery) lowComfortRisk(ctx context.Context, a, b deviceHistory) bool {
	for _, h := range []deviceHistory{a, b} {
		dm, err := d.meta.GetEssential(ctx, h.vendor, h.id)
		if err != nil || dm.Protected() {
			return false
		}
	}
	return true
}

// synthesize builds the candidate routine: a custom-kind automation covering
// the hour span of the anchor device's ON events on every weekday they were
// observed.
func synthesize(userID, name string, a deviceHistory, trend float64) types.Automation {
	startMin, endMin := 24*60, 0
	dayset := map[time.Weekday]bool{}
	for _, t := range a.onEvents {
		m := t.Hour()*60 + t.Minute()
		if m < startMin {
			startMin = m
		}
		if m > endMin {
			endMin = m
		}
		dayset[t.Weekday()] = true
	}
	// pad the window so the last observed event is inside it
	endMin += 30
	if endMin > 24*60-1 {
		endMin = 24*60 - 1
	}
	days := make([]time.Weekday, 0, len(dayset))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if dayset[d] {
			days = append(days, d)
		}
	}
	return types.Automation{
		UserID:  userID,
		Name:    name,
		Kind:    types.KindCustom,
		Enabled: false,
		Schedule: types.Schedule{
			Days:        days,
			StartMinute: startMin,
			EndMinute:   endMin,
		},
		Actions: types.ActionSet{OffPriorities: []int{1, 2}, RestoreOnExit: true},
		Params:  map[string]any{"grid_trend_kw_per_hour": trend},
	}
}

// buildHistories folds a merged transition stream into per-device ON events
// and ON intervals. An interval still open at the end of the window closes
// at now.
func buildHistories(trs []types.Transition, now time.Time) []deviceHistory {
	type devKey struct{ vendor, id string }
	byDev := map[devKey]*deviceHistory{}
	open := map[devKey]time.Time{}
	for _, tr := range trs {
		k := devKey{tr.Vendor, tr.DeviceID}
		h, ok := byDev[k]
		if !ok {
			h = &deviceHistory{vendor: tr.Vendor, id: tr.DeviceID}
			byDev[k] = h
		}
		switch tr.Event {
		case types.EventOn:
			h.onEvents = append(h.onEvents, tr.Timestamp)
			open[k] = tr.Timestamp
		case types.EventOff:
			if start, ok := open[k]; ok {
				h.intervals = append(h.intervals, [2]time.Time{start, tr.Timestamp})
				delete(open, k)
			}
		}
	}
	for k, start := range open {
		byDev[k].intervals = append(byDev[k].intervals, [2]time.Time{start, now})
	}
	out := make([]deviceHistory, 0, len(byDev))
	for _, h := range byDev {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].vendor != out[j].vendor {
			return out[i].vendor < out[j].vendor
		}
		return out[i].id < out[j].id
	})
	return out
}

// correlate counts, for each ON event of the anchor device, whether any of
// the other device's ON intervals touches [t-w, t+w]. Both inputs are sorted,
// so a single forward pointer suffices.
func correlate(onEvents []time.Time, intervals [][2]time.Time, w time.Duration) float64 {
	if len(onEvents) == 0 {
		return 0
	}
	co, i := 0, 0
	for _, t := range onEvents {
		for i < len(intervals) && intervals[i][1].Before(t.Add(-w)) {
			i++
		}
		if i < len(intervals) && !intervals[i][0].After(t.Add(w)) {
			co++
		}
	}
	return float64(co) / float64(len(onEvents))
}
