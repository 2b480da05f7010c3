package types

import "time"

// SavingsReport is the realized-savings evaluation of a routine: integrated
// grid import during the routine's daily window, averaged over two adjacent
// periods of qualifying weekdays.
type SavingsReport struct {
	AutomationID   string    `json:"automationID"`
	Timestamp      time.Time `json:"timestamp"`
	WindowDays     int       `json:"windowDays"`
	DaysCurrent    int       `json:"daysCurrent"`
	DaysPrevious   int       `json:"daysPrevious"`
	AvgCurrentKWH  float64   `json:"avgCurrentKWH"`
	AvgPreviousKWH float64   `json:"avgPreviousKWH"`
	SavingsPct     float64   `json:"savingsPct"`
	SavingsWH      float64   `json:"savingsWH"`
	// ComfortPenalty is user overrides per observed day, clamped to [0,1].
	ComfortPenalty float64 `json:"comfortPenalty"`
}

// SimulationEstimate is a forward estimate of a routine's savings computed
// from current device loads, with no telemetry comparison.
type SimulationEstimate struct {
	ShiftableKW         float64 `json:"shiftableKW"`
	WindowHours         float64 `json:"windowHours"`
	BaselineKWH         float64 `json:"baselineKWH"`
	PredictedSavingsPct float64 `json:"predictedSavingsPct"` // clamped to [0,100]
}
