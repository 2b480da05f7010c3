package types

// DeviceMeta is the metadata consulted before every automated action.
// Priority is 1 (low) through 3 (high); essential devices and priority-3
// devices are never toggled automatically.
type DeviceMeta struct {
	Vendor    string `json:"vendor"`
	DeviceID  string `json:"deviceID"`
	Name      string `json:"name"`
	Room      string `json:"room,omitempty"`
	Essential bool   `json:"essential"`
	Priority  int    `json:"priority"`
}

// Protected reports whether the device must never be toggled automatically.
func (m DeviceMeta) Protected() bool {
	return m.Essential || m.Priority >= 3
}
