// Package routine runs user-declared energy-saving routines: window edge
// detection, realized-savings evaluation, and parameter mutation for the
// bandit loop.
package routine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridhabit/gridhabit/pkg/device"
	"github.com/gridhabit/gridhabit/pkg/executor"
	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

// Runner evaluates each enabled automation against the wall clock and fires
// enter/exit actions exactly once per window edge.
type Runner struct {
	db   storage.Database
	tel  storage.Telemetry
	meta device.Metadata
	exec *executor.Executor

	nowFn func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(db storage.Database, tel storage.Telemetry, meta device.Metadata, exec *executor.Executor) *Runner {
	return &Runner{db: db, tel: tel, meta: meta, exec: exec, nowFn: time.Now}
}

// SetNow replaces the clock. Test hook.
func (r *Runner) SetNow(now func() time.Time) {
	r.nowFn = now
}

// Tick evaluates all users' automations once. Failures are isolated per
// automation.
func (r *Runner) Tick(ctx context.Context) error {
	users, err := r.db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, userID := range users {
		if err := r.RunUser(ctx, userID); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "runner failed for user",
				slog.String("userID", userID), slog.Any("error", err))
		}
	}
	return nil
}

// RunUser evaluates one user's automations.
func (r *Runner) RunUser(ctx context.Context, userID string) error {
	settings, _, err := r.db.GetSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	if settings.Pause {
		return nil
	}
	automations, err := r.db.ListAutomations(ctx, userID)
	if err != nil {
		return fmt.Errorf("list automations: %w", err)
	}
	for _, a := range automations {
		if !a.Enabled {
			continue
		}
		if err := r.runAutomation(ctx, userID, a); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "automation evaluation failed",
				slog.String("automationID", a.ID),
				slog.String("name", a.Name),
				slog.Any("error", err))
		}
	}
	return nil
}

// runAutomation performs the edge detection for one automation. No action
// fires while the window state is unchanged.
func (r *Runner) runAutomation(ctx context.Context, userID string, a types.Automation) error {
	now := r.nowFn()
	inWindow := a.Schedule.Contains(now)

	state, err := r.db.GetAutomationState(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("get automation state: %w", err)
	}

	switch {
	case inWindow && state.LastState != types.StateActive:
		log.Ctx(ctx).InfoContext(ctx, "routine window entered",
			slog.String("automationID", a.ID), slog.String("name", a.Name))
		r.applyTierAction(ctx, userID, a, types.EventOff)
		return r.db.SetAutomationState(ctx, a.ID, types.AutomationState{
			LastState: types.StateActive,
			LastAt:    now,
		})
	case !inWindow && state.LastState == types.StateActive:
		log.Ctx(ctx).InfoContext(ctx, "routine window exited",
			slog.String("automationID", a.ID), slog.String("name", a.Name))
		if a.Actions.RestoreOnExit {
			r.applyTierAction(ctx, userID, a, types.EventOn)
		}
		return r.db.SetAutomationState(ctx, a.ID, types.AutomationState{
			LastState: types.StateIdle,
			LastAt:    now,
		})
	}
	return nil
}

// applyTierAction toggles every device in the automation's targeted priority
// tiers. Individual command failures are logged and skipped; the guard in the
// executor protects essential devices regardless of tier configuration.
func (r *Runner) applyTierAction(ctx context.Context, userID string, a types.Automation, action string) {
	states, err := r.tel.LatestStates(ctx, userID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list device states",
			slog.String("userID", userID), slog.Any("error", err))
		return
	}
	for _, s := range states {
		dm, err := r.meta.GetEssential(ctx, s.Vendor, s.DeviceID)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get device metadata",
				slog.String("device", s.DeviceID), slog.Any("error", err))
			continue
		}
		if !inTiers(dm.Priority, a.Actions.OffPriorities) {
			continue
		}
		// only toggle devices that are on the wrong side of the edge
		if (action == types.EventOff && !s.On) || (action == types.EventOn && s.On) {
			continue
		}
		if err := r.exec.Do(ctx, s.Vendor, s.DeviceID, action); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "routine device command failed",
				slog.String("device", s.DeviceID),
				slog.String("action", action),
				slog.Any("error", err))
		}
	}
}

func inTiers(priority int, tiers []int) bool {
	for _, t := range tiers {
		if t == priority {
			return true
		}
	}
	return false
}
