// Package executor fires learned habit actions when their triggers are
// observed, after the pattern's learned delay, guarded by device metadata so
// essential appliances are never toggled automatically.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridhabit/gridhabit/pkg/device"
	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/metrics"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

// ErrProtected is returned when the guard refuses to act on an essential or
// high-priority device.
var ErrProtected = fmt.Errorf("executor: device is protected")

// Executor matches active patterns on observed triggers and issues the
// learned actions.
type Executor struct {
	db        storage.Database
	commander device.Commander
	assistant device.Assistant // optional
	meta      device.Metadata

	// ActionTimeout bounds each outbound vendor call.
	ActionTimeout time.Duration

	// after schedules a deferred function and returns a cancel func. Tests
	// inject a synchronous version; production uses time.AfterFunc.
	after func(d time.Duration, fn func()) func() bool

	mu      sync.Mutex
	cancels map[int]func() bool
	nextID  int
}

// New creates an Executor using direct vendor commands.
func New(db storage.Database, commander device.Commander, meta device.Metadata) *Executor {
	e := &Executor{
		db:            db,
		commander:     commander,
		meta:          meta,
		ActionTimeout: 10 * time.Second,
		cancels:       make(map[int]func() bool),
	}
	e.after = func(d time.Duration, fn func()) func() bool {
		t := time.AfterFunc(d, fn)
		return t.Stop
	}
	return e
}

// SetAssistant configures the natural-language assistant path. When set it is
// preferred over direct vendor commands.
func (e *Executor) SetAssistant(a device.Assistant) {
	e.assistant = a
}

// SetAfter replaces the deferred scheduling function. Test hook.
func (e *Executor) SetAfter(after func(d time.Duration, fn func()) func() bool) {
	e.after = after
}

// Stop cancels all pending delayed actions.
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.cancels {
		cancel()
		delete(e.cancels, id)
	}
}

// HandleTrigger looks up active patterns matching the transition and
// schedules each one's action after its learned delay. It satisfies
// miner.TriggerHook. Scheduled actions are fire-and-forget: they are not
// ordered or deduplicated against each other.
func (e *Executor) HandleTrigger(ctx context.Context, userID string, tr types.Transition) {
	settings, _, err := e.db.GetSettings(ctx, userID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings for trigger",
			slog.String("userID", userID), slog.Any("error", err))
		return
	}
	trigger := types.Trigger{Vendor: tr.Vendor, DeviceID: tr.DeviceID, Event: tr.Event}
	ck := types.ContextForTime(tr.Timestamp)

	patterns, err := e.db.ListActivePatternsForTrigger(ctx, userID, trigger, ck, settings.MatchLimit)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list active patterns",
			slog.String("userID", userID), slog.Any("error", err))
		return
	}

	for _, p := range patterns {
		p := p
		delay := time.Duration(p.AvgDelayS * float64(time.Second))
		// the delayed action must outlive the mining tick's context
		fireCtx := context.WithoutCancel(ctx)
		e.schedule(delay, func() {
			e.fire(fireCtx, p)
		})
	}
}

func (e *Executor) schedule(d time.Duration, fn func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.mu.Unlock()

	// fired guards the window where the timer beats the registration below;
	// registering a cancel func for an already-fired timer would leak it
	fired := false
	cancel := e.after(d, func() {
		e.mu.Lock()
		fired = true
		delete(e.cancels, id)
		e.mu.Unlock()
		fn()
	})

	e.mu.Lock()
	if !fired {
		e.cancels[id] = cancel
	}
	e.mu.Unlock()
}

// fire executes one pattern's learned action and records the attempt.
// Failures are swallowed here; they only surface in the audit log.
func (e *Executor) fire(ctx context.Context, p types.HabitPattern) {
	actionCtx, cancel := context.WithTimeout(ctx, e.ActionTimeout)
	defer cancel()

	meta := map[string]any{
		"vendor": p.Key.Action.Vendor,
		"device": p.Key.Action.DeviceID,
		"action": p.Key.Action.Event,
	}
	err := e.Do(actionCtx, p.Key.Action.Vendor, p.Key.Action.DeviceID, p.Key.Action.Event)
	meta["ok"] = err == nil
	if err != nil {
		meta["error"] = err.Error()
		log.Ctx(ctx).WarnContext(ctx, "habit action failed",
			slog.String("patternID", p.ID),
			slog.Any("error", err))
	}

	// the audit record must survive the action's deadline; a timed-out
	// command is exactly the attempt that has to be on record
	if logErr := e.db.InsertHabitLog(context.WithoutCancel(ctx), types.HabitLogEntry{
		PatternID: p.ID,
		Event:     types.LogAutoActionFromPattern,
		Meta:      meta,
	}); logErr != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to log habit action", slog.Any("error", logErr))
	}
}

// Do executes one guarded device command. Every automated path (habit
// actions, routine edges, discovered experiments) funnels through here so the
// essential-device guard cannot be bypassed.
func (e *Executor) Do(ctx context.Context, vendor, deviceID, action string) error {
	dm, err := e.meta.GetEssential(ctx, vendor, deviceID)
	if err != nil {
		// without metadata we cannot prove the device is safe to touch
		return fmt.Errorf("fetch device metadata: %w", err)
	}
	if dm.Protected() {
		log.Ctx(ctx).InfoContext(ctx, "refusing to act on protected device",
			slog.String("vendor", vendor),
			slog.String("device", deviceID),
			slog.Bool("essential", dm.Essential),
			slog.Int("priority", dm.Priority))
		metrics.ActionsExecuted.WithLabelValues("refused").Inc()
		return ErrProtected
	}

	if e.assistant != nil {
		command := fmt.Sprintf("turn %s %s", action, dm.Name)
		answer, err := e.assistant.ExecuteByName(ctx, command)
		if err != nil {
			metrics.ActionsExecuted.WithLabelValues("error").Inc()
			return fmt.Errorf("assistant command %q: %w", command, err)
		}
		log.Ctx(ctx).DebugContext(ctx, "assistant executed command",
			slog.String("command", command),
			slog.String("answer", answer))
		metrics.ActionsExecuted.WithLabelValues("ok").Inc()
		return nil
	}
	if err := e.commander.ExecuteAction(ctx, vendor, deviceID, action); err != nil {
		metrics.ActionsExecuted.WithLabelValues("error").Inc()
		return fmt.Errorf("execute action: %w", err)
	}
	metrics.ActionsExecuted.WithLabelValues("ok").Inc()
	return nil
}

// ManualTest fires a pattern's action immediately regardless of its state and
// records the test in the audit log.
func (e *Executor) ManualTest(ctx context.Context, patternID string) error {
	p, err := e.db.GetPattern(ctx, patternID)
	if err != nil {
		return fmt.Errorf("get pattern: %w", err)
	}
	actionCtx, cancel := context.WithTimeout(ctx, e.ActionTimeout)
	defer cancel()

	err = e.Do(actionCtx, p.Key.Action.Vendor, p.Key.Action.DeviceID, p.Key.Action.Event)
	meta := map[string]any{"ok": err == nil}
	if err != nil {
		meta["error"] = err.Error()
	}
	if logErr := e.db.InsertHabitLog(context.WithoutCancel(ctx), types.HabitLogEntry{
		PatternID: p.ID,
		Event:     types.LogManualTest,
		Meta:      meta,
	}); logErr != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to log manual test", slog.Any("error", logErr))
	}
	return err
}
