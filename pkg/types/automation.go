package types

import "time"

// AutomationKind categorizes a user-declared routine.
type AutomationKind string

const (
	KindPeakSaver AutomationKind = "peak_saver"
	KindSleep     AutomationKind = "sleep"
	KindCustom    AutomationKind = "custom"
)

// Schedule is a daily time window with a weekday mask. Minutes are
// minutes-of-day in the engine's local time; both bounds are inclusive.
type Schedule struct {
	Days        []time.Weekday `json:"days"`
	StartMinute int            `json:"startMinute"`
	EndMinute   int            `json:"endMinute"`
}

// Contains reports whether t falls inside the schedule window.
func (s Schedule) Contains(t time.Time) bool {
	if !s.OnDay(t.Weekday()) {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= s.StartMinute && m <= s.EndMinute
}

// OnDay reports whether the weekday is in the schedule's day mask.
func (s Schedule) OnDay(d time.Weekday) bool {
	for _, sd := range s.Days {
		if sd == d {
			return true
		}
	}
	return false
}

// DurationHours is the daily window length in hours.
func (s Schedule) DurationHours() float64 {
	return float64(s.EndMinute-s.StartMinute) / 60
}

// ActionSet declares what a routine does at its window edges: which priority
// tiers to turn off on entry, and whether to restore them on exit.
type ActionSet struct {
	OffPriorities []int `json:"offPriorities"`
	RestoreOnExit bool  `json:"restoreOnExit"`
}

// LastState is the transient runner state of an automation.
type LastState string

const (
	StateIdle         LastState = "idle"
	StateActive       LastState = "active"
	StateExperimental LastState = "experimental"
	StateManualRun    LastState = "manual-run"
)

// AutomationState tracks the runner's last observed window state so that
// enter/exit actions fire exactly once per edge.
type AutomationState struct {
	LastState LastState `json:"lastState"`
	LastAt    time.Time `json:"lastAt"`
}

// MutationSpec declares which numeric fields of a routine's params the
// mutation engine may perturb, by how much, and within which named bounds.
// Bound keys match field paths by substring (e.g. "power" matches
// "limits.powerW").
type MutationSpec struct {
	Fields  []string              `json:"fields"`
	StepPct float64               `json:"stepPct"`
	Bounds  map[string][2]float64 `json:"bounds,omitempty"`
}

// Learning holds the self-tuning configuration of an automation, including
// the probation marker for auto-discovered routines.
type Learning struct {
	Enabled          bool         `json:"enabled"`
	Mutation         MutationSpec `json:"mutation"`
	PromoteAfterDays int          `json:"promoteAfterDays,omitempty"`
	StartedAt        time.Time    `json:"startedAt,omitempty"`
}

// Automation is a user-declared (or discovered) energy-saving routine.
type Automation struct {
	ID       string         `json:"id"`
	UserID   string         `json:"userID"`
	Name     string         `json:"name"`
	Kind     AutomationKind `json:"kind"`
	Enabled  bool           `json:"enabled"`
	Schedule Schedule       `json:"schedule"`
	Actions  ActionSet      `json:"actions"`
	// Params are the routine's numeric tunables, addressed by dotted paths
	// from MutationSpec.Fields. Nested maps are allowed.
	Params    map[string]any `json:"params,omitempty"`
	Learning  *Learning      `json:"learning,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RoutineVariant is an ephemeral deep-mutated clone of a routine's params,
// alive only within one bandit evaluation cycle. It is never persisted.
type RoutineVariant struct {
	Index  int            `json:"index"`
	Params map[string]any `json:"params"`
}
