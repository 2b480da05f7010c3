package types

import "time"

// StateSample is a single appliance state observation from the telemetry store.
// Samples are append-only and ordered by (vendor, deviceID, timestamp).
type StateSample struct {
	Vendor    string    `json:"vendor"`
	DeviceID  string    `json:"deviceID"`
	Name      string    `json:"name"`
	Room      string    `json:"room,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	On        bool      `json:"on"`
	PowerW    float64   `json:"powerW"`
	EnergyKWH float64   `json:"energyKWH"` // cumulative meter reading
}

// PowerSample is one point of a plant-level power curve (e.g. grid import).
type PowerSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Transition is a detected ON/OFF edge for a single device. Event is "on" or
// "off" depending on the direction of the edge.
type Transition struct {
	Vendor    string    `json:"vendor"`
	DeviceID  string    `json:"deviceID"`
	Name      string    `json:"name"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventOn  = "on"
	EventOff = "off"
)

// MetricGridImport is the power-series metric name for grid import in
// kilowatts.
const MetricGridImport = "grid_import"
