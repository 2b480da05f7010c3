package types

import "time"

// ContextKey partitions pattern statistics by a coarse time-of-day bucket.
type ContextKey string

const (
	ContextGlobal ContextKey = "global"
	ContextDay    ContextKey = "day"
	ContextNight  ContextKey = "night"
)

// ContextForTime buckets a trigger timestamp into day ([6,18) local) or night.
func ContextForTime(t time.Time) ContextKey {
	h := t.Hour()
	if h >= 6 && h < 18 {
		return ContextDay
	}
	return ContextNight
}

// PatternState is the lifecycle state of a learned habit pattern.
type PatternState string

const (
	PatternShadow    PatternState = "shadow"
	PatternSuggested PatternState = "suggested"
	PatternActive    PatternState = "active"
	PatternPaused    PatternState = "paused"
	PatternRetired   PatternState = "retired"
)

// Trigger identifies one device-event endpoint of a habit pattern.
type Trigger struct {
	Vendor   string `json:"vendor"`
	DeviceID string `json:"deviceID"`
	Event    string `json:"event"`
}

// Equal reports whether two endpoints refer to the same device and event.
func (t Trigger) Equal(o Trigger) bool {
	return t.Vendor == o.Vendor && t.DeviceID == o.DeviceID && t.Event == o.Event
}

// PatternKey is the unique identity of a habit pattern.
type PatternKey struct {
	UserID  string     `json:"userID"`
	Trigger Trigger    `json:"trigger"`
	Action  Trigger    `json:"action"`
	Context ContextKey `json:"context"`
}

// HabitPattern is a learned trigger→action association with its accumulated
// statistics and lifecycle state.
type HabitPattern struct {
	ID  string     `json:"id"`
	Key PatternKey `json:"key"`

	// TriggersTotal counts every observed trigger transition for this key.
	TriggersTotal int `json:"triggersTotal"`
	// PairsTotal counts triggers followed by a qualifying action transition.
	PairsTotal int `json:"pairsTotal"`
	// AvgDelayS is an exponential moving average of trigger→action delay,
	// seeded by the first observed delay.
	AvgDelayS float64 `json:"avgDelayS"`
	// Confidence is PairsTotal/TriggersTotal, recomputed on every upsert.
	Confidence float64 `json:"confidence"`

	State     PatternState `json:"state"`
	UndoCount int          `json:"undoCount"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// LogEvent is the kind of a habit audit log entry.
type LogEvent string

const (
	LogPair                  LogEvent = "pair"
	LogAutoAction            LogEvent = "auto_action"
	LogAutoActionFromPattern LogEvent = "auto_action_from_pattern"
	LogManualTest            LogEvent = "manual_test"
	LogUndo                  LogEvent = "undo"
	LogPromote               LogEvent = "promote"
	LogPause                 LogEvent = "pause"
	LogRetire                LogEvent = "retire"
	LogManualCreate          LogEvent = "manual_create"
	LogDelete                LogEvent = "delete"
)

// HabitLogEntry is one append-only audit record for a pattern. Entries are
// never mutated after insert.
type HabitLogEntry struct {
	ID        string         `json:"id"`
	PatternID string         `json:"patternID"`
	Event     LogEvent       `json:"event"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
