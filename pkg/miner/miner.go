// Package miner scans device-state telemetry for ON/OFF transitions and pairs
// each trigger transition with the next transition on a different device
// inside a bounded window, accumulating habit pattern statistics.
package miner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gridhabit/gridhabit/pkg/habit"
	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

// TriggerHook is called for every newly observed transition so the executor
// can match active patterns independently of mining.
type TriggerHook func(ctx context.Context, userID string, tr types.Transition)

// Miner owns the per-user high-water mark and drives pattern upserts.
type Miner struct {
	db  storage.Database
	tel storage.Telemetry

	// OnTrigger, when set, receives every transition past the high-water
	// mark. Failures in the hook are the hook's problem.
	OnTrigger TriggerHook

	nowFn func() time.Time
}

// New creates a Miner.
func New(db storage.Database, tel storage.Telemetry) *Miner {
	return &Miner{db: db, tel: tel, nowFn: time.Now}
}

// Tick mines all users once. A failure mining one user is logged and does not
// abort the others.
func (m *Miner) Tick(ctx context.Context) error {
	users, err := m.db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, userID := range users {
		if err := m.MineUser(ctx, userID); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "mining failed for user",
				slog.String("userID", userID), slog.Any("error", err))
		}
	}
	return nil
}

// MineUser processes one user's new transitions and advances the cursor.
// Safe to re-run after a crash: the cursor only advances after a fully
// processed scan and pattern upserts are transactional, so a boundary event
// may at worst be counted twice.
func (m *Miner) MineUser(ctx context.Context, userID string) error {
	settings, _, err := m.db.GetSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	if settings.Pause {
		return nil
	}

	lastTs, err := m.db.GetMinerCursor(ctx, userID)
	if err != nil {
		return fmt.Errorf("get cursor: %w", err)
	}
	since := lastTs
	if !lastTs.IsZero() {
		// small look-back overlap to avoid boundary gaps
		since = lastTs.Add(-time.Duration(settings.MinerOverlapSec) * time.Second)
	}

	samples, err := m.tel.FetchStateChangesSince(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("fetch state changes: %w", err)
	}

	transitions := Transitions(samples)
	window := time.Duration(settings.PairWindowSec) * time.Second

	maxTs := lastTs
	for i, a := range transitions {
		if !a.Timestamp.After(lastTs) {
			continue
		}
		if a.Timestamp.After(maxTs) {
			maxTs = a.Timestamp
		}

		if m.OnTrigger != nil {
			m.OnTrigger(ctx, userID, a)
		}

		// first transition on a different device within the window wins
		var paired *types.Transition
		for j := i + 1; j < len(transitions); j++ {
			b := transitions[j]
			if b.Timestamp.Sub(a.Timestamp) > window {
				break
			}
			if b.Vendor == a.Vendor && b.DeviceID == a.DeviceID {
				continue
			}
			paired = &transitions[j]
			break
		}

		if err := m.recordTrigger(ctx, userID, settings, a, paired); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record trigger",
				slog.String("userID", userID),
				slog.String("device", a.DeviceID),
				slog.Any("error", err))
		}
	}

	if maxTs.After(lastTs) {
		if err := m.db.SetMinerCursor(ctx, userID, maxTs); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}
	return nil
}

// recordTrigger updates pattern statistics for one observed trigger
// transition. The paired key (if any) gets both counters; every other
// existing pattern sharing the trigger gets only its trigger counter, which
// is what dilutes confidence over time.
func (m *Miner) recordTrigger(ctx context.Context, userID string, settings types.Settings, a types.Transition, paired *types.Transition) error {
	ck := types.ContextForTime(a.Timestamp)
	trigger := types.Trigger{Vendor: a.Vendor, DeviceID: a.DeviceID, Event: a.Event}

	var pairedKey types.PatternKey
	if paired != nil {
		pairedKey = types.PatternKey{
			UserID:  userID,
			Trigger: trigger,
			Action:  types.Trigger{Vendor: paired.Vendor, DeviceID: paired.DeviceID, Event: paired.Event},
			Context: ck,
		}
		if err := habit.Validate(pairedKey); err != nil {
			// degenerate pairing, treat as unpaired
			paired = nil
		}
	}

	existing, err := m.db.ListPatternsForTrigger(ctx, userID, trigger, ck)
	if err != nil {
		return fmt.Errorf("list patterns for trigger: %w", err)
	}
	for _, p := range existing {
		if paired != nil && p.Key == pairedKey {
			continue // the paired upsert below covers this one
		}
		p := p
		if _, err := m.db.UpdatePatternByID(ctx, p.ID, func(pt *types.HabitPattern) error {
			habit.RecordTrigger(pt)
			return nil
		}); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to bump trigger counter",
				slog.String("patternID", p.ID), slog.Any("error", err))
		}
	}

	if paired == nil {
		// an un-paired trigger still "happened" but contributes no new pair
		return nil
	}

	delayS := paired.Timestamp.Sub(a.Timestamp).Seconds()
	promoted := false
	pt, err := m.db.UpdatePattern(ctx, pairedKey, func(pt *types.HabitPattern) error {
		habit.RecordPair(pt, delayS)
		promoted = habit.MaybePromote(pt, settings)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}

	logCtx := log.Ctx(ctx)
	logCtx.DebugContext(ctx, "recorded pair",
		slog.String("patternID", pt.ID),
		slog.Float64("delayS", delayS),
		slog.Float64("confidence", pt.Confidence))

	if err := m.db.InsertHabitLog(ctx, types.HabitLogEntry{
		PatternID: pt.ID,
		Event:     types.LogPair,
		Meta: map[string]any{
			"delayS":     delayS,
			"confidence": pt.Confidence,
		},
		Timestamp: a.Timestamp,
	}); err != nil {
		logCtx.WarnContext(ctx, "failed to insert pair log", slog.Any("error", err))
	}
	if promoted {
		logCtx.InfoContext(ctx, "pattern promoted to suggested",
			slog.String("patternID", pt.ID),
			slog.Int("triggers", pt.TriggersTotal),
			slog.Int("pairs", pt.PairsTotal))
		if err := m.db.InsertHabitLog(ctx, types.HabitLogEntry{
			PatternID: pt.ID,
			Event:     types.LogPromote,
			Meta:      map[string]any{"to": string(types.PatternSuggested)},
		}); err != nil {
			logCtx.WarnContext(ctx, "failed to insert promote log", slog.Any("error", err))
		}
	}
	return nil
}

// Transitions extracts ON/OFF edges from samples ordered by
// (vendor, device, timestamp) and merges them into one list sorted by time.
// The first sample ever seen for a device is a baseline, not a transition.
// Timestamp ties keep list order.
func Transitions(samples []types.StateSample) []types.Transition {
	var out []types.Transition
	type devKey struct{ vendor, id string }
	last := map[devKey]bool{}
	seen := map[devKey]bool{}
	for _, s := range samples {
		k := devKey{s.Vendor, s.DeviceID}
		if seen[k] && last[k] != s.On {
			ev := types.EventOff
			if s.On {
				ev = types.EventOn
			}
			out = append(out, types.Transition{
				Vendor:    s.Vendor,
				DeviceID:  s.DeviceID,
				Name:      s.Name,
				Event:     ev,
				Timestamp: s.Timestamp,
			})
		}
		seen[k] = true
		last[k] = s.On
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
