package types

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 1

// Settings represents engine policy stored in the database. These are dynamic
// and can be changed without redeploying. The promotion thresholds are policy
// constants, not load-bearing science.
type Settings struct {
	// Pause stops all periodic ticks without disabling the process.
	Pause bool `json:"pause"`

	// Miner
	PairWindowSec   int `json:"pairWindowSec"`   // trigger→action pairing window
	MinerOverlapSec int `json:"minerOverlapSec"` // look-back past the high-water mark

	// Pattern promotion (shadow → suggested)
	PromoteMinTriggers   int     `json:"promoteMinTriggers"`
	PromoteMinPairs      int     `json:"promoteMinPairs"`
	PromoteMinConfidence float64 `json:"promoteMinConfidence"`

	// Executor
	MatchLimit int `json:"matchLimit"` // cap on active patterns matched per trigger

	// Evaluator
	EvalWindowDays int `json:"evalWindowDays"`

	// Discovery
	DiscoveryMinSavingsPct float64 `json:"discoveryMinSavingsPct"`
	ProbationDays          int     `json:"probationDays"`
}

// Normalize fills zero-valued fields with engine defaults.
func (s Settings) Normalize() Settings {
	if s.PairWindowSec == 0 {
		s.PairWindowSec = 180
	}
	if s.MinerOverlapSec == 0 {
		s.MinerOverlapSec = 60
	}
	if s.PromoteMinTriggers == 0 {
		s.PromoteMinTriggers = 5
	}
	if s.PromoteMinPairs == 0 {
		s.PromoteMinPairs = 3
	}
	if s.PromoteMinConfidence == 0 {
		s.PromoteMinConfidence = 0.6
	}
	if s.MatchLimit == 0 {
		s.MatchLimit = 10
	}
	if s.EvalWindowDays == 0 {
		s.EvalWindowDays = 7
	}
	if s.DiscoveryMinSavingsPct == 0 {
		s.DiscoveryMinSavingsPct = 2.5
	}
	if s.ProbationDays == 0 {
		s.ProbationDays = 14
	}
	return s
}
