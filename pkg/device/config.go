package device

import (
	"github.com/levenlabs/go-lflag"
)

// Provider bundles the configured device integrations. It implements
// Commander and Metadata itself; Assistant stays nil unless a bridge is
// configured, and callers must check it.
type Provider struct {
	Commander
	Metadata
	Assistant Assistant
}

// Configured initializes the device layer from flags: an optional vendor
// gateway, an optional assistant bridge, and a devices metadata file. With no
// gateway configured, commands are logged instead of sent.
func Configured() *Provider {
	gatewayURL := lflag.String("vendor-gateway-url", "", "Base URL of the vendor command gateway. Empty means dry-run.")
	assistantURL := lflag.String("assistant-url", "", "Base URL of the assistant bridge. Empty disables the assistant path.")
	devicesFile := lflag.String("devices-file", "", "Path to the JSON device metadata file")

	p := &Provider{}
	lflag.Do(func() {
		if *gatewayURL != "" {
			p.Commander = NewHTTPCommander(*gatewayURL)
		} else {
			p.Commander = LogCommander{}
		}
		if *assistantURL != "" {
			p.Assistant = NewHTTPAssistant(*assistantURL)
		}
		if *devicesFile != "" {
			p.Metadata = NewFileMetadata(*devicesFile)
		} else {
			p.Metadata = StaticMetadata{}
		}
	})
	return p
}
