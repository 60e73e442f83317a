// Package types holds the domain model shared across the Hearth pipeline:
// intents and classifications, conversation messages and session context,
// clarifications, dynamic configuration entities, analytics events, and the
// per-request latency breakdown.
//
// Everything in this package is plain data. Behaviour lives in the packages
// that own each concern (intent, session, clarify, ...); keeping the model
// here lets those packages depend on a common vocabulary without depending
// on each other.
package types

import "time"

// Category identifies the broad subject area of a query. Categories drive
// handler selection, cache TTLs, and rate budgets.
type Category string

const (
	CategoryTime        Category = "time"
	CategoryWeather     Category = "weather"
	CategoryLocation    Category = "location"
	CategoryTransport   Category = "transport"
	CategoryEvents      Category = "events"
	CategoryStreaming   Category = "streaming"
	CategoryNews        Category = "news"
	CategoryStocks      Category = "stocks"
	CategorySports      Category = "sports"
	CategoryFlights     Category = "flights"
	CategoryHomeControl Category = "home_control"
	CategoryWebSearch   Category = "web_search"
	CategoryStatic      Category = "static"
	CategoryUnknown     Category = "unknown"
)

// Intent is a single executable classification result: what the user wants,
// which handler should serve it, and the entities extracted from the text.
type Intent struct {
	// Category is the broad subject area (weather, sports, home_control, ...).
	Category Category

	// Kind refines the category, e.g. "weather.tomorrow", "sports.score",
	// "home_control.device". Empty when the category alone is sufficient.
	Kind string

	// Query is the text this intent was classified from. For follow-up
	// queries this is the expanded form; Original preserves what the user
	// actually said.
	Query string

	// Original is the raw query text before follow-up expansion. Equal to
	// Query when no expansion happened.
	Original string

	// Entities holds extracted slot values keyed by slot name
	// (e.g. "day" → "tomorrow", "team" → "cardinals", "device" → "light").
	Entities map[string]string

	// Confidence is a coarse score in [0,1]. Pattern matches report 1.0 for
	// exact category hits and lower values for fallback categories.
	Confidence float64
}

// ClassificationMode distinguishes a simple query from a compound one.
type ClassificationMode string

const (
	ModeSingle ClassificationMode = "single"
	ModeMulti  ClassificationMode = "multi"
)

// Classification is the classifier's output for one transcription.
type Classification struct {
	Mode ClassificationMode

	// Intents holds one entry per intent part, in utterance order.
	Intents []Intent

	// Followup is true when the query was expanded from session context
	// before classification.
	Followup bool

	// Clarification is non-nil when the classifier cannot produce an
	// executable intent without asking the user to disambiguate. When set,
	// Intents holds the provisional intent the clarification resolves into.
	Clarification *PendingClarification
}

// NeedsClarification reports whether the classification requires a
// disambiguation round-trip before any intent can execute.
func (c Classification) NeedsClarification() bool {
	return c.Clarification != nil
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. Messages are immutable once
// appended to a session.
type Message struct {
	Role      Role              `json:"role"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Intent    string            `json:"intent,omitempty"`
	Entities  map[string]string `json:"entities,omitempty"`
}

// SessionContext is the per-session conversational state consulted by the
// classifier for follow-up resolution and by the clarification engine.
// Handlers receive a copy and must not retain or mutate it.
type SessionContext struct {
	LastIntent   string             `json:"last_intent,omitempty"`
	LastCategory Category           `json:"last_category,omitempty"`
	LastEntities map[string]string  `json:"last_entities,omitempty"`
	Pending      *PendingClarification `json:"pending_clarification,omitempty"`
}

// ClarificationOption is one selectable answer to a clarification prompt.
type ClarificationOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`

	// Extra carries kind-specific attributes (e.g. "sport" for team options,
	// "area" for device options).
	Extra map[string]string `json:"extra,omitempty"`
}

// PendingClarification marks that the assistant is waiting for the user to
// disambiguate. At most one may be attached to a session at a time.
type PendingClarification struct {
	// Kind names the clarification rule that produced this record
	// (e.g. "sports_team", "device_target").
	Kind string `json:"kind"`

	// OriginalQuery is the user text that triggered the clarification.
	OriginalQuery string `json:"original_query"`

	// OriginalIntent is the intent to execute once an option is chosen; the
	// chosen option's values are substituted into its entities.
	OriginalIntent Intent `json:"original_intent"`

	// SlotName is the entity slot the chosen option fills.
	SlotName string `json:"slot_name"`

	Options   []ClarificationOption `json:"options"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt time.Time             `json:"expires_at"`

	// Attempts counts unmatched user replies. After two unmatched tries the
	// clarification is dropped and the next turn is treated as fresh.
	Attempts int `json:"attempts"`
}

// Expired reports whether the clarification window has closed at time now.
func (p *PendingClarification) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// LatencyBreakdown records wall-clock duration per pipeline stage for one
// request, plus the feature flags that were enabled when it ran.
type LatencyBreakdown struct {
	Gateway          time.Duration `json:"gateway"`
	IntentClassify   time.Duration `json:"intent_classification"`
	RAGLookup        time.Duration `json:"rag_lookup"`
	LLMInference     time.Duration `json:"llm_inference"`
	ResponseAssembly time.Duration `json:"response_assembly"`
	CacheLookup      time.Duration `json:"cache_lookup"`
	TTS              time.Duration `json:"tts"`

	EnabledFeatures []string `json:"enabled_features,omitempty"`
}

// FeatureFlag gates optional behaviour at runtime without redeploy.
type FeatureFlag struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Category string `json:"category"`

	// Required flags cannot be disabled; toggles against them fail.
	Required bool `json:"required"`

	AvgLatencyMs float64 `json:"avg_latency_ms,omitempty"`
	HitRate      float64 `json:"hit_rate,omitempty"`
	Priority     int     `json:"priority"`
}

// Well-known feature flag names consulted by the orchestrator.
const (
	FeatureRedisCaching        = "redis_caching"
	FeatureFunctionCalling     = "function_calling"
	FeatureFacade              = "facade_handlers"
	FeatureValidation          = "response_validation"
	FeatureConversationContext = "conversation_context"
)

// BackendType selects the routing strategy for an LLM backend row.
type BackendType string

const (
	// BackendPrimary calls the row's endpoint directly.
	BackendPrimary BackendType = "primary"

	// BackendAlternate calls the row's endpoint directly.
	BackendAlternate BackendType = "alternate"

	// BackendAuto tries the row's endpoint first and falls back to the
	// primary backend's endpoint on error or timeout.
	BackendAuto BackendType = "auto"
)

// BackendStats holds rolling performance metrics for one LLM backend.
type BackendStats struct {
	AvgTokensPerSec float64 `json:"avg_tokens_per_sec"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
}

// LLMBackend is one row of the per-model routing table.
type LLMBackend struct {
	ID          int64       `json:"id"`
	ModelName   string      `json:"model_name"`
	BackendType BackendType `json:"backend_type"`
	Endpoint    string      `json:"endpoint"`
	Enabled     bool        `json:"enabled"`
	Priority    int         `json:"priority"`

	MaxTokens          int           `json:"max_tokens"`
	DefaultTemperature float64       `json:"default_temperature"`
	Timeout            time.Duration `json:"timeout"`

	Stats BackendStats `json:"stats"`
}

// OptionSource selects where a clarification rule's options come from.
type OptionSource string

const (
	// OptionsStatic uses the option list stored on the rule.
	OptionsStatic OptionSource = "static"

	// OptionsDynamic looks options up against the home-control plane at
	// clarification time (e.g. matching devices in a zone).
	OptionsDynamic OptionSource = "dynamic"
)

// ClarificationRule configures when and how one kind of ambiguity is
// resolved interactively.
type ClarificationRule struct {
	Kind           string                `json:"kind"`
	Enabled        bool                  `json:"enabled"`
	TimeoutSeconds int                   `json:"timeout_seconds,omitempty"`
	Priority       int                   `json:"priority"`
	OptionSource   OptionSource          `json:"option_source"`
	StaticOptions  []ClarificationOption `json:"static_options,omitempty"`
}

// SportsTeam maps an ambiguous trigger token ("cardinals") to the fixed set
// of teams it may refer to.
type SportsTeam struct {
	Trigger string                `json:"trigger"`
	Options []ClarificationOption `json:"options"`
}

// DeviceRule controls when a device command must be clarified instead of
// executed.
type DeviceRule struct {
	DeviceKind string `json:"device_kind"`

	// MinEntitiesToAsk is the number of matching device sets at or above
	// which the assistant asks instead of acting.
	MinEntitiesToAsk int `json:"min_entities_to_ask"`

	// IncludeAllOption adds an "all of them" option to the prompt.
	IncludeAllOption bool `json:"include_all_option"`
}

// ConversationSettings are the session-manager knobs served by the admin
// surface.
type ConversationSettings struct {
	Enabled                bool `json:"enabled"`
	UseContext             bool `json:"use_context"`
	MaxMessages            int  `json:"max_messages"`
	TimeoutSeconds         int  `json:"timeout_seconds"`
	CleanupIntervalSeconds int  `json:"cleanup_interval_seconds"`
	SessionTTLSeconds      int  `json:"session_ttl_seconds"`
	MaxLLMHistoryMessages  int  `json:"max_llm_history_messages"`
}

// ClarificationSettings are the global clarification knobs; per-rule
// timeouts override TimeoutSeconds.
type ClarificationSettings struct {
	Enabled        bool `json:"enabled"`
	TimeoutSeconds int  `json:"timeout_seconds"`
}

// EventKind labels an analytics event.
type EventKind string

const (
	EventSessionCreated        EventKind = "session_created"
	EventFollowupDetected      EventKind = "followup_detected"
	EventClarificationTriggered EventKind = "clarification_triggered"
	EventClarificationResolved EventKind = "clarification_resolved"
	EventClarificationTimeout  EventKind = "clarification_timeout"
	EventCacheHit              EventKind = "cache_hit"
	EventCacheMiss             EventKind = "cache_miss"
	EventHandlerSelected       EventKind = "handler_selected"
	EventFallbackInvoked       EventKind = "fallback_invoked"
	EventHallucinationDetected EventKind = "hallucination_detected"
	EventRequestCompleted      EventKind = "request_completed"
)

// AnalyticsEvent is one append-only record of pipeline behaviour.
type AnalyticsEvent struct {
	Kind      EventKind         `json:"event_kind"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditRecord captures one admin mutation for the audit trail.
type AuditRecord struct {
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Entity    string    `json:"entity"`
	Before    string    `json:"before"`
	After     string    `json:"after"`
}
