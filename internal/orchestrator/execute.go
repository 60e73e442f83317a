package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openhearth/hearth/internal/cache"
	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/handler"
	"github.com/openhearth/hearth/internal/homectl"
	"github.com/openhearth/hearth/internal/llm"
	"github.com/openhearth/hearth/internal/session"
	"github.com/openhearth/hearth/internal/types"
)

// partResult is the outcome of one intent part.
type partResult struct {
	answer string
	source string

	cacheDur   time.Duration
	handlerDur time.Duration
	llmDur     time.Duration
}

// executeIntent runs the cascade for one intent: cache, device call, facade
// handler, then LLM with validation. Every path that produces no answer
// escalates; when all paths fail the category's fallback message is spoken.
func (o *Orchestrator) executeIntent(ctx context.Context, in types.Intent, zone string, sess *session.Session) partResult {
	var res partResult

	cacheable := o.cacheable(ctx, in.Category)
	key := cache.Key(in)

	if cacheable {
		start := o.now()
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		entry, hit := o.d.Cache.Get(cctx, key, in.Category)
		cancel()
		res.cacheDur = o.now().Sub(start)

		if hit {
			o.event(types.AnalyticsEvent{
				Kind: types.EventCacheHit, SessionID: sess.ID, Timestamp: o.now(),
				Metadata: map[string]string{"category": string(in.Category)},
			})
			res.answer = entry.Answer
			res.source = "cache"
			return res
		}
		o.event(types.AnalyticsEvent{
			Kind: types.EventCacheMiss, SessionID: sess.ID, Timestamp: o.now(),
			Metadata: map[string]string{"category": string(in.Category)},
		})
	}

	if in.Category == types.CategoryHomeControl {
		return o.executeDevice(ctx, in, zone, sess)
	}

	if answer, source, dur, ok := o.executeFacade(ctx, in, zone, sess); ok {
		res.answer = answer
		res.source = source
		res.handlerDur = dur
		if cacheable {
			o.d.Cache.Set(ctx, key, answer, in.Category)
		}
		return res
	} else {
		res.handlerDur = dur
	}

	answer, llmDur, validated := o.executeLLM(ctx, in, zone, sess)
	res.llmDur = llmDur
	if answer != "" {
		res.answer = answer
		res.source = "llm"
		if cacheable && validated {
			o.d.Cache.Set(ctx, key, answer, in.Category)
		}
		return res
	}

	o.fallback(sess.ID, in.Category, "llm")
	res.answer = handler.Fallback(in.Category)
	res.source = "fallback"
	return res
}

// cacheable reports whether responses of this category may be served from
// cache. Time and device commands are always live; the caching flag gates
// the rest.
func (o *Orchestrator) cacheable(ctx context.Context, category types.Category) bool {
	switch category {
	case types.CategoryTime, types.CategoryHomeControl, types.CategoryUnknown:
		return false
	}
	if o.d.Cache == nil {
		return false
	}
	return o.d.Loader.FeatureEnabled(ctx, types.FeatureRedisCaching)
}

// executeDevice runs the function-call path. Device commands never touch
// the LLM; a failed call is reported, not improvised around.
func (o *Orchestrator) executeDevice(ctx context.Context, in types.Intent, zone string, sess *session.Session) partResult {
	var res partResult

	if o.d.Home == nil || !o.d.Home.Configured() ||
		!o.d.Loader.FeatureEnabled(ctx, types.FeatureFunctionCalling) {
		res.answer = handler.Fallback(in.Category)
		res.source = "fallback"
		return res
	}

	call, err := homectl.Extract(in, zone)
	if err != nil {
		res.answer = "I couldn't work out which device you mean."
		res.source = "home_control"
		return res
	}
	// A resolved clarification carries the exact entity as the area slot.
	if area, ok := in.Entities["area"]; ok && area != "" {
		call.Area = area
	}

	o.event(types.AnalyticsEvent{
		Kind: types.EventHandlerSelected, SessionID: sess.ID, Timestamp: o.now(),
		Metadata: map[string]string{"handler": "home_control", "action": call.Action},
	})

	start := o.now()
	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	ack, err := o.d.Home.Execute(hctx, call)
	cancel()
	res.handlerDur = o.now().Sub(start)

	if err != nil {
		slog.Warn("device call failed", "session_id", sess.ID, "action", call.Action, "err", err)
		o.fallback(sess.ID, in.Category, "function_call")
		res.answer = "Sorry, I couldn't reach that device."
		res.source = "home_control"
		return res
	}
	res.answer = ack
	res.source = "home_control"
	return res
}

// executeFacade tries the category's data handler. ok is false on decline
// or failure, in which case the cascade continues.
func (o *Orchestrator) executeFacade(ctx context.Context, in types.Intent, zone string, sess *session.Session) (string, string, time.Duration, bool) {
	if o.d.Handlers == nil || !o.d.Loader.FeatureEnabled(ctx, types.FeatureFacade) {
		return "", "", 0, false
	}
	h, ok := o.d.Handlers.For(in.Category)
	if !ok {
		return "", "", 0, false
	}

	start := o.now()
	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	result, err := h.Handle(hctx, handler.Input{Intent: in, Zone: zone, Session: sess.Context})
	cancel()
	dur := o.now().Sub(start)

	if o.d.Metrics != nil {
		o.d.Metrics.HandlerDuration.Record(ctx, dur.Seconds(),
			metric.WithAttributes(attribute.String("category", string(in.Category))))
		o.d.Metrics.HandlerResults.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(in.Category)),
			attribute.String("result", handlerResultLabel(err)),
		))
	}

	if err != nil {
		if !errors.Is(err, types.ErrNotApplicable) {
			slog.Warn("handler failed", "category", in.Category, "err", err)
			o.fallback(sess.ID, in.Category, "facade")
		}
		return "", "", dur, false
	}

	o.event(types.AnalyticsEvent{
		Kind: types.EventHandlerSelected, SessionID: sess.ID, Timestamp: o.now(),
		Metadata: map[string]string{"handler": h.Name(), "category": string(in.Category)},
	})
	return result.Answer, result.Source, dur, true
}

func handlerResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrNotApplicable):
		return "decline"
	default:
		return "error"
	}
}

// executeLLM generates an answer, validating ground-truth categories and
// regenerating once at reduced temperature after a detected hallucination.
// validated is false only when a hallucinated answer had to be replaced by
// the ground truth, which must not be cached under the original key.
func (o *Orchestrator) executeLLM(ctx context.Context, in types.Intent, zone string, sess *session.Session) (string, time.Duration, bool) {
	if o.d.Router == nil {
		return "", 0, false
	}

	opts := llm.DefaultOptions()
	if o.d.Loader.FeatureEnabled(ctx, types.FeatureConversationContext) {
		history, err := o.d.Sessions.History(ctx, sess.ID, 0)
		if err == nil {
			opts.History = history
		}
	}

	start := o.now()
	resp, err := o.d.Router.Generate(ctx, o.d.Model, in.Query, opts)
	dur := o.now().Sub(start)
	if o.d.Metrics != nil {
		o.d.Metrics.LLMDuration.Record(ctx, dur.Seconds(),
			metric.WithAttributes(attribute.String("backend", resp.Backend)))
	}
	if err != nil {
		slog.Warn("generation failed", "session_id", sess.ID, "err", err)
		return "", dur, false
	}
	answer := resp.Text

	if o.d.Validator == nil || !o.d.Loader.FeatureEnabled(ctx, types.FeatureValidation) ||
		!o.d.Validator.Applies(in.Category) {
		return answer, dur, true
	}

	input := handler.Input{Intent: in, Zone: zone, Session: sess.Context}
	truth, verr := o.d.Validator.Check(ctx, input, answer)
	if verr == nil || errors.Is(verr, types.ErrNotApplicable) {
		return answer, dur, true
	}
	if !errors.Is(verr, types.ErrHallucinationDetected) {
		// Ground truth unavailable; the unvalidated answer stands.
		return answer, dur, true
	}

	o.hallucination(ctx, sess.ID, in.Category)

	// One regeneration at reduced temperature.
	opts.Temperature = config.RegenerateTemperature
	regenStart := o.now()
	retry, err := o.d.Router.Generate(ctx, o.d.Model, in.Query, opts)
	dur += o.now().Sub(regenStart)
	if err == nil {
		if _, verr := o.d.Validator.Check(ctx, input, retry.Text); verr == nil || errors.Is(verr, types.ErrNotApplicable) {
			return retry.Text, dur, true
		}
		o.hallucination(ctx, sess.ID, in.Category)
	}

	// Still wrong: the ground truth itself is the answer.
	if truth != "" {
		return truth, dur, false
	}
	return "", dur, false
}

func (o *Orchestrator) hallucination(ctx context.Context, sessionID string, category types.Category) {
	if o.d.Metrics != nil {
		o.d.Metrics.Hallucinations.Add(ctx, 1,
			metric.WithAttributes(attribute.String("category", string(category))))
	}
	o.event(types.AnalyticsEvent{
		Kind: types.EventHallucinationDetected, SessionID: sessionID, Timestamp: o.now(),
		Metadata: map[string]string{"category": string(category)},
	})
}

func (o *Orchestrator) fallback(sessionID string, category types.Category, from string) {
	if o.d.Metrics != nil {
		o.d.Metrics.Fallbacks.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("from", from)))
	}
	o.event(types.AnalyticsEvent{
		Kind: types.EventFallbackInvoked, SessionID: sessionID, Timestamp: o.now(),
		Metadata: map[string]string{"category": string(category), "from": from},
	})
}
