// Package device defines the boundary contracts to vendor device control and
// metadata. Implementations live with the host application's vendor wrappers.
package device

import (
	"context"

	"github.com/gridhabit/gridhabit/pkg/types"
)

// Commander executes a direct vendor command against a device. A nil error
// means the vendor accepted the command; failures are reported as errors and
// swallowed (but logged) by the caller.
type Commander interface {
	ExecuteAction(ctx context.Context, vendor, deviceID, action string) error
}

// Assistant resolves a natural-language command to a device action via a
// voice-assistant integration. Optional; callers must tolerate its absence.
type Assistant interface {
	ExecuteByName(ctx context.Context, command string) (answer string, err error)
}

// Metadata exposes the device metadata consulted before every automated
// action.
type Metadata interface {
	GetEssential(ctx context.Context, vendor, deviceID string) (types.DeviceMeta, error)
}
