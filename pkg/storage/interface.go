package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gridhabit/gridhabit/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Database defines the interface for persisting engine state: habit patterns,
// their audit logs, automations, runner state, miner cursors, and settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, userID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error

	// Users known to the store, for per-user tick iteration.
	ListUsers(ctx context.Context) ([]string, error)

	// Patterns.
	// UpdatePattern runs fn against the current pattern for key inside a
	// single transaction and persists the result. If no pattern exists yet fn
	// receives a zero-valued pattern with an empty State; the implementation
	// assigns the ID and CreatedAt on first write. fn returning an error
	// aborts with no partial write.
	UpdatePattern(ctx context.Context, key types.PatternKey, fn func(*types.HabitPattern) error) (types.HabitPattern, error)
	// UpdatePatternByID is UpdatePattern for an existing pattern addressed by
	// id. Returns ErrNotFound when absent.
	UpdatePatternByID(ctx context.Context, id string, fn func(*types.HabitPattern) error) (types.HabitPattern, error)
	GetPattern(ctx context.Context, id string) (types.HabitPattern, error)
	ListPatterns(ctx context.Context, userID string) ([]types.HabitPattern, error)
	// ListActivePatternsForTrigger returns active patterns matching the
	// trigger in the given context or the global context, ordered by
	// confidence descending then recency descending, capped at limit.
	ListActivePatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey, limit int) ([]types.HabitPattern, error)
	// ListPatternsForTrigger returns patterns of any state matching the
	// trigger in the given context or the global context, so trigger counters
	// accumulate on every observation.
	ListPatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey) ([]types.HabitPattern, error)
	DeletePattern(ctx context.Context, id string) error

	// Audit log, append-only.
	InsertHabitLog(ctx context.Context, entry types.HabitLogEntry) error
	// ListHabitLogs returns a pattern's audit entries newest first, capped at
	// limit. A limit of zero or less means no cap.
	ListHabitLogs(ctx context.Context, patternID string, limit int) ([]types.HabitLogEntry, error)

	// Automations
	ListAutomations(ctx context.Context, userID string) ([]types.Automation, error)
	GetAutomation(ctx context.Context, id string) (types.Automation, error)
	CreateAutomation(ctx context.Context, a types.Automation) (types.Automation, error)
	UpdateAutomation(ctx context.Context, a types.Automation) error
	DeleteAutomation(ctx context.Context, id string) error
	GetAutomationState(ctx context.Context, id string) (types.AutomationState, error)
	SetAutomationState(ctx context.Context, id string, state types.AutomationState) error

	// Miner high-water mark per user.
	GetMinerCursor(ctx context.Context, userID string) (time.Time, error)
	SetMinerCursor(ctx context.Context, userID string, ts time.Time) error

	// Lifecycle
	Close() error
}

// Telemetry defines the read-only interface to the telemetry store. The
// ingestion subsystem owns the data; the engine only reads ranges.
type Telemetry interface {
	// FetchStateChangesSince returns device state samples at or after since,
	// ordered by (vendor, deviceID, timestamp).
	FetchStateChangesSince(ctx context.Context, userID string, since time.Time) ([]types.StateSample, error)
	// FetchPowerSeries returns samples of the metric within [start, end] plus
	// the latest sample strictly before start, if any.
	FetchPowerSeries(ctx context.Context, userID, metric string, start, end time.Time) ([]types.PowerSample, *types.PowerSample, error)
	// LatestStates returns the most recent sample per device.
	LatestStates(ctx context.Context, userID string) ([]types.StateSample, error)
}
