// Package clarify implements the disambiguation round-trip: attaching a
// pending clarification to a session, phrasing the question, and mapping
// the user's next utterance back to one of the offered options.
package clarify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/homectl"
	"github.com/openhearth/hearth/internal/session"
	"github.com/openhearth/hearth/internal/types"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a spoken reply
// to count as naming an option.
const fuzzyThreshold = 0.85

// maxAttempts is the number of unmatched replies tolerated before the
// clarification is abandoned.
const maxAttempts = 2

// Outcome classifies what a user turn did to a pending clarification.
type Outcome int

const (
	// OutcomeResolved means an option was chosen; the returned intent is
	// ready to execute.
	OutcomeResolved Outcome = iota

	// OutcomeRetry means the reply matched nothing; the prompt is asked
	// again.
	OutcomeRetry

	// OutcomeAbandoned means the window closed or attempts ran out; the
	// turn is treated as a fresh query.
	OutcomeAbandoned
)

// Engine drives clarification rounds. It consults clarification rules for
// timeouts and priority and the control plane for dynamic device options.
type Engine struct {
	cfg      *config.Loader
	sessions *session.Manager
	devices  *homectl.Client // nil disables dynamic options
	emit     session.EventFunc
	now      func() time.Time
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithDevices enables dynamic option lookup against the control plane.
func WithDevices(c *homectl.Client) EngineOption {
	return func(e *Engine) { e.devices = c }
}

// WithEvents attaches the analytics emitter.
func WithEvents(fn session.EventFunc) EngineOption {
	return func(e *Engine) { e.emit = fn }
}

// NewEngine creates an Engine.
func NewEngine(cfg *config.Loader, sessions *session.Manager, opts ...EngineOption) *Engine {
	e := &Engine{cfg: cfg, sessions: sessions, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Attach stores p on the session with an expiry window and returns the
// question to speak. Rules are consulted by kind; when several rules match,
// the smallest priority number wins.
func (e *Engine) Attach(ctx context.Context, sessionID string, p *types.PendingClarification) (string, error) {
	rule := e.rule(ctx, p.Kind)

	if p.Kind == "device_target" && len(p.Options) == 0 {
		e.fillDeviceOptions(ctx, p, rule)
		if min := e.minToAsk(ctx, p.OriginalIntent.Entities["device"]); len(p.Options) < min {
			// Too few candidates to be worth a question.
			return "", fmt.Errorf("clarify: %d option(s) below ask threshold: %w", len(p.Options), types.ErrNotApplicable)
		}
	}
	if len(p.Options) == 0 {
		return "", fmt.Errorf("clarify: no options for kind %q: %w", p.Kind, types.ErrNotApplicable)
	}

	timeout := e.timeout(ctx, rule)
	p.CreatedAt = e.now()
	p.ExpiresAt = p.CreatedAt.Add(timeout)
	p.Attempts = 0

	if err := e.sessions.SetPendingClarification(ctx, sessionID, p); err != nil {
		return "", err
	}

	e.event(types.AnalyticsEvent{
		Kind:      types.EventClarificationTriggered,
		SessionID: sessionID,
		Timestamp: e.now(),
		Metadata:  map[string]string{"kind": p.Kind},
	})
	return Prompt(p), nil
}

// Resolve interprets reply against the session's pending clarification.
// On OutcomeResolved the returned intent is the stored original intent with
// the chosen option substituted, and the pending record is cleared.
func (e *Engine) Resolve(ctx context.Context, sessionID string, p *types.PendingClarification, reply string) (types.Intent, Outcome, error) {
	if p.Expired(e.now()) {
		e.abandon(ctx, sessionID, "expired")
		return types.Intent{}, OutcomeAbandoned, nil
	}

	opt, ok := Match(reply, p.Options)
	if !ok {
		p.Attempts++
		if p.Attempts >= maxAttempts {
			e.abandon(ctx, sessionID, "unmatched")
			return types.Intent{}, OutcomeAbandoned, nil
		}
		if err := e.sessions.SetPendingClarification(ctx, sessionID, p); err != nil {
			return types.Intent{}, OutcomeRetry, err
		}
		return types.Intent{}, OutcomeRetry, nil
	}

	intent := p.OriginalIntent
	if intent.Entities == nil {
		intent.Entities = map[string]string{}
	}
	intent.Entities[p.SlotName] = opt.ID
	for k, v := range opt.Extra {
		intent.Entities[k] = v
	}

	if err := e.sessions.ClearPendingClarification(ctx, sessionID); err != nil {
		return types.Intent{}, OutcomeResolved, err
	}
	e.event(types.AnalyticsEvent{
		Kind:      types.EventClarificationResolved,
		SessionID: sessionID,
		Timestamp: e.now(),
		Metadata:  map[string]string{"kind": p.Kind, "choice": opt.ID},
	})
	return intent, OutcomeResolved, nil
}

// Prompt renders the question for a pending clarification, templated per
// kind.
func Prompt(p *types.PendingClarification) string {
	labels := make([]string, 0, len(p.Options))
	for _, o := range p.Options {
		labels = append(labels, o.Label)
	}
	list := spokenChoices(labels)

	switch p.Kind {
	case "sports_team":
		return fmt.Sprintf("Which team do you mean: %s?", list)
	case "device_target":
		return fmt.Sprintf("Which one: %s?", list)
	default:
		return fmt.Sprintf("Did you mean %s?", list)
	}
}

// Match maps a user reply to an option: exact label or id match first, then
// prefix, then substring, then fuzzy similarity.
func Match(reply string, options []types.ClarificationOption) (types.ClarificationOption, bool) {
	r := strings.ToLower(strings.TrimSpace(reply))
	if r == "" {
		return types.ClarificationOption{}, false
	}

	for _, o := range options {
		if r == strings.ToLower(o.Label) || r == strings.ToLower(o.ID) {
			return o, true
		}
	}
	for _, o := range options {
		if strings.HasPrefix(strings.ToLower(o.Label), r) {
			return o, true
		}
	}
	for _, o := range options {
		label := strings.ToLower(o.Label)
		if strings.Contains(label, r) || strings.Contains(r, label) {
			return o, true
		}
	}

	best := -1
	bestScore := fuzzyThreshold
	for i, o := range options {
		score := matchr.JaroWinkler(r, strings.ToLower(o.Label), false)
		if score >= bestScore {
			best = i
			bestScore = score
		}
	}
	if best >= 0 {
		return options[best], true
	}
	return types.ClarificationOption{}, false
}

// rule returns the enabled rule for kind with the smallest priority, or
// nil.
func (e *Engine) rule(ctx context.Context, kind string) *types.ClarificationRule {
	rules, err := e.cfg.ClarificationRules(ctx)
	if err != nil {
		return nil
	}
	var matched []types.ClarificationRule
	for _, r := range rules {
		if r.Kind == kind && r.Enabled {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Priority < matched[j].Priority })
	return &matched[0]
}

func (e *Engine) timeout(ctx context.Context, rule *types.ClarificationRule) time.Duration {
	if rule != nil && rule.TimeoutSeconds > 0 {
		return time.Duration(rule.TimeoutSeconds) * time.Second
	}
	settings, err := e.cfg.ClarificationSettings(ctx)
	if err == nil && settings.TimeoutSeconds > 0 {
		return time.Duration(settings.TimeoutSeconds) * time.Second
	}
	return time.Duration(config.DefaultClarificationSettings().TimeoutSeconds) * time.Second
}

// fillDeviceOptions looks matching device zones up in the control plane.
// Static rule options take precedence when the rule carries them.
func (e *Engine) fillDeviceOptions(ctx context.Context, p *types.PendingClarification, rule *types.ClarificationRule) {
	if rule != nil && rule.OptionSource == types.OptionsStatic && len(rule.StaticOptions) > 0 {
		p.Options = append(p.Options, rule.StaticOptions...)
		return
	}
	if e.devices == nil || !e.devices.Configured() {
		return
	}

	kind := p.OriginalIntent.Entities["device"]
	devices, err := e.devices.Devices(ctx, kind, "")
	if err != nil {
		slog.Warn("clarify: device lookup failed", "kind", kind, "err", err)
		return
	}
	for _, d := range devices {
		p.Options = append(p.Options, types.ClarificationOption{
			ID:    d.Area,
			Label: d.Name,
			Extra: map[string]string{"entity_id": d.EntityID},
		})
	}

	if e.includeAll(ctx, kind) && len(p.Options) > 1 {
		p.Options = append(p.Options, types.ClarificationOption{ID: "all", Label: "All of them"})
	}
}

func (e *Engine) includeAll(ctx context.Context, deviceKind string) bool {
	rules, err := e.cfg.DeviceRules(ctx)
	if err != nil {
		return false
	}
	for _, r := range rules {
		if r.DeviceKind == deviceKind {
			return r.IncludeAllOption
		}
	}
	return false
}

// minToAsk returns the device rule threshold for kind; 2 when no rule
// exists.
func (e *Engine) minToAsk(ctx context.Context, deviceKind string) int {
	rules, err := e.cfg.DeviceRules(ctx)
	if err != nil {
		return 2
	}
	for _, r := range rules {
		if r.DeviceKind == deviceKind && r.MinEntitiesToAsk > 0 {
			return r.MinEntitiesToAsk
		}
	}
	return 2
}

// abandon clears the pending record and emits the timeout event.
func (e *Engine) abandon(ctx context.Context, sessionID, reason string) {
	if err := e.sessions.ClearPendingClarification(ctx, sessionID); err != nil {
		slog.Warn("clarify: clear failed", "session_id", sessionID, "err", err)
	}
	e.event(types.AnalyticsEvent{
		Kind:      types.EventClarificationTimeout,
		SessionID: sessionID,
		Timestamp: e.now(),
		Metadata:  map[string]string{"reason": reason},
	})
}

func (e *Engine) event(ev types.AnalyticsEvent) {
	if e.emit != nil {
		e.emit(ev)
	}
}

// spokenChoices joins labels as "A, B, or C".
func spokenChoices(labels []string) string {
	switch len(labels) {
	case 0:
		return ""
	case 1:
		return labels[0]
	case 2:
		return labels[0] + " or " + labels[1]
	default:
		return strings.Join(labels[:len(labels)-1], ", ") + ", or " + labels[len(labels)-1]
	}
}
