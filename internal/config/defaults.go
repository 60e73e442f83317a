package config

import (
	"time"

	"github.com/openhearth/hearth/internal/types"
)

// Documented defaults, applied when the admin store has no row and no
// last-known-good snapshot exists.
const (
	// SnapshotTTL is how long a dynamic config snapshot stays fresh before
	// the loader re-fetches.
	SnapshotTTL = 300 * time.Second

	// DefaultRequestDeadline is the overall per-request budget.
	DefaultRequestDeadline = 30 * time.Second

	// DefaultTemperature is used when an LLM backend row carries none.
	DefaultTemperature = 0.7

	// RegenerateTemperature is the reduced temperature for the single
	// post-hallucination regeneration.
	RegenerateTemperature = 0.1

	// DefaultMaxTokens caps LLM completions when no row overrides it.
	DefaultMaxTokens = 2048

	// DefaultLLMTimeout bounds LLM calls for models without a routing row.
	DefaultLLMTimeout = 30 * time.Second
)

// DefaultConversationSettings returns the fallback session-manager knobs.
func DefaultConversationSettings() types.ConversationSettings {
	return types.ConversationSettings{
		Enabled:                true,
		UseContext:             true,
		MaxMessages:            20,
		TimeoutSeconds:         1800,
		CleanupIntervalSeconds: 60,
		SessionTTLSeconds:      3600,
		MaxLLMHistoryMessages:  10,
	}
}

// DefaultClarificationSettings returns the fallback clarification knobs.
func DefaultClarificationSettings() types.ClarificationSettings {
	return types.ClarificationSettings{
		Enabled:        true,
		TimeoutSeconds: 300,
	}
}

// DefaultFeatures returns the flag set assumed when the store is empty. The
// pipeline-critical flags are enabled and marked required.
func DefaultFeatures() []types.FeatureFlag {
	return []types.FeatureFlag{
		{Name: types.FeatureRedisCaching, Enabled: true, Category: "performance", Priority: 10},
		{Name: types.FeatureFunctionCalling, Enabled: true, Category: "pipeline", Priority: 20},
		{Name: types.FeatureFacade, Enabled: true, Category: "pipeline", Required: true, Priority: 30},
		{Name: types.FeatureValidation, Enabled: true, Category: "quality", Priority: 40},
		{Name: types.FeatureConversationContext, Enabled: true, Category: "pipeline", Priority: 50},
	}
}

// CategoryTTL returns the cache lifetime for responses of the given
// category.
func CategoryTTL(cat types.Category) time.Duration {
	switch cat {
	case types.CategoryWeather:
		return 600 * time.Second
	case types.CategoryEvents:
		return 3600 * time.Second
	case types.CategoryStreaming:
		return 86400 * time.Second
	case types.CategoryNews:
		return 1800 * time.Second
	case types.CategoryStocks:
		return 300 * time.Second
	case types.CategoryWebSearch:
		return 3600 * time.Second
	case types.CategoryStatic:
		return 86400 * time.Second
	default:
		return 600 * time.Second
	}
}
