package retention

import "fmt"

// Level is a log severity level. The level set is fixed; ingestion rejects
// anything else before it reaches this engine.
type Level string

const (
	LevelFatal Level = "FATAL"
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
	LevelInfo  Level = "INFO"
	LevelDebug Level = "DEBUG"
	LevelTrace Level = "TRACE"
)

// Tier is the coarse retention bucket derived from a severity level. It is
// the unit of retention granularity.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Tiers lists all priority tiers in descending priority order.
var Tiers = []Tier{TierHigh, TierMedium, TierLow}

var levelTiers = map[Level]Tier{
	LevelFatal: TierHigh,
	LevelError: TierHigh,
	LevelWarn:  TierMedium,
	LevelInfo:  TierMedium,
	LevelDebug: TierLow,
	LevelTrace: TierLow,
}

var tierLevels = map[Tier][]Level{
	TierHigh:   {LevelFatal, LevelError},
	TierMedium: {LevelWarn, LevelInfo},
	TierLow:    {LevelDebug, LevelTrace},
}

// TierForLevel maps a severity level to its priority tier. The mapping is
// total over the known level set; calling it with an unmapped level is a
// precondition violation and panics.
func TierForLevel(level Level) Tier {
	tier, ok := levelTiers[level]
	if !ok {
		panic(fmt.Sprintf("retention: unmapped log level %q", level))
	}
	return tier
}

// LevelsForTier returns the severity levels that make up a tier. The
// returned slice must not be modified.
func LevelsForTier(tier Tier) []Level {
	levels, ok := tierLevels[tier]
	if !ok {
		panic(fmt.Sprintf("retention: unknown priority tier %q", tier))
	}
	return levels
}

// ValidLevel reports whether level is part of the known level set.
func ValidLevel(level Level) bool {
	_, ok := levelTiers[level]
	return ok
}
