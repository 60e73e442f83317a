// Package orchestrator drives one query through the full pipeline:
// transcription, follow-up expansion and classification, the clarification
// round-trip, the handler cascade (cache, device call, facade, LLM with
// validation), response merging, session bookkeeping, and synthesis.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/openhearth/hearth/internal/cache"
	"github.com/openhearth/hearth/internal/clarify"
	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/handler"
	"github.com/openhearth/hearth/internal/homectl"
	"github.com/openhearth/hearth/internal/intent"
	"github.com/openhearth/hearth/internal/llm"
	"github.com/openhearth/hearth/internal/observe"
	"github.com/openhearth/hearth/internal/session"
	"github.com/openhearth/hearth/internal/stt"
	"github.com/openhearth/hearth/internal/tts"
	"github.com/openhearth/hearth/internal/types"
	"github.com/openhearth/hearth/internal/validate"
)

// Per-stage budgets. The overall request deadline caps the sum; a stage
// that exhausts its budget degrades rather than failing the request.
const (
	sttTimeout      = 5 * time.Second
	classifyTimeout = 3 * time.Second
	handlerTimeout  = 5 * time.Second
	cacheTimeout    = 500 * time.Millisecond
	ttsTimeout      = 5 * time.Second
)

// noInputAnswer is spoken when transcription or the query text is empty.
const noInputAnswer = "I didn't catch that. Could you say it again?"

// Mode distinguishes typed queries from spoken ones.
const (
	ModeText  = "text"
	ModeVoice = "voice"
)

// Request is one pipeline invocation.
type Request struct {
	// Query is the typed text (text mode) or empty (voice mode).
	Query string

	// Audio is the spoken input, transcribed in voice mode.
	Audio []byte

	Mode string
	Zone string

	// SessionID continues an existing conversation; empty starts one.
	SessionID string

	VoiceProfile string
	WakeWord     string
}

// Response is the pipeline's answer.
type Response struct {
	Answer     string   `json:"answer"`
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Citations  []string `json:"citations"`

	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`

	// ProcessingTime is the wall-clock pipeline duration in seconds.
	ProcessingTime float64 `json:"processing_time"`

	// Clarification is true when Answer is a question back to the user.
	Clarification bool `json:"clarification,omitempty"`

	Metadata map[string]string      `json:"metadata,omitempty"`
	Latency  types.LatencyBreakdown `json:"latency_breakdown"`

	// Audio is the synthesized answer in voice mode.
	Audio []byte `json:"-"`
}

// Deps wires the pipeline's collaborators. Loader, Classifier, Sessions,
// Handlers, and Router are required; the rest degrade gracefully when nil.
type Deps struct {
	Loader     *config.Loader
	Classifier *intent.Classifier
	Sessions   *session.Manager
	Clarifier  *clarify.Engine
	Handlers   *handler.Registry
	Home       *homectl.Client
	Validator  *validate.Validator
	Router     *llm.Router
	STT        *stt.Client
	TTS        *tts.Client
	Cache      *cache.Tiered
	Metrics    *observe.Metrics
	Events     session.EventFunc

	// Model is the LLM model name for generation.
	Model string

	// Deadline is the overall per-request budget. Zero means the default.
	Deadline time.Duration
}

// Orchestrator executes the pipeline. Safe for concurrent use.
type Orchestrator struct {
	d   Deps
	now func() time.Time
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.Deadline <= 0 {
		d.Deadline = config.DefaultRequestDeadline
	}
	if d.Model == "" {
		d.Model = "default"
	}
	return &Orchestrator{d: d, now: time.Now}
}

// Handle runs one request through the pipeline. Errors are reserved for
// infrastructure failures; user-facing problems come back as spoken
// answers.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, o.d.Deadline)
	defer cancel()

	resp := Response{
		RequestID: uuid.NewString(),
		Metadata:  map[string]string{},
	}

	sess, _, err := o.d.Sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return Response{}, fmt.Errorf("orchestrator: session: %w", err)
	}
	resp.SessionID = sess.ID

	query, sttDur, err := o.resolveQuery(ctx, req)
	resp.Latency.Gateway = sttDur
	if err != nil {
		slog.Warn("transcription failed", "request_id", resp.RequestID, "err", err)
	}
	if strings.TrimSpace(query) == "" {
		resp.Answer = noInputAnswer
		resp.Intent = string(types.CategoryUnknown)
		return o.finish(ctx, req, &resp, start, "error")
	}

	// A pending clarification claims the turn before any classification.
	if p := sess.Context.Pending; p != nil && o.d.Clarifier != nil {
		handled, err := o.resolveClarification(ctx, req, &resp, sess.ID, p, query)
		if err != nil {
			return Response{}, err
		}
		if handled {
			return o.finish(ctx, req, &resp, start, resp.status())
		}
		// Abandoned: the reply is treated as a fresh query.
	}

	classification, dur, err := o.classify(ctx, query, sess.Context)
	resp.Latency.IntentClassify = dur
	if err != nil {
		resp.Answer = noInputAnswer
		resp.Intent = string(types.CategoryUnknown)
		return o.finish(ctx, req, &resp, start, "error")
	}
	if classification.Followup {
		o.event(types.AnalyticsEvent{
			Kind: types.EventFollowupDetected, SessionID: sess.ID, Timestamp: o.now(),
		})
	}

	if classification.NeedsClarification() && o.d.Clarifier != nil {
		prompt, err := o.d.Clarifier.Attach(ctx, sess.ID, classification.Clarification)
		switch {
		case err == nil:
			resp.Answer = prompt
			resp.Clarification = true
			resp.Intent = intentLabel(classification.Clarification.OriginalIntent)
			o.appendTurn(ctx, sess.ID, query, resp.Answer, classification.Clarification.OriginalIntent)
			return o.finish(ctx, req, &resp, start, "clarification")
		case errors.Is(err, types.ErrNotApplicable):
			// Too few options to ask; execute the provisional intent.
		default:
			slog.Warn("clarification attach failed", "request_id", resp.RequestID, "err", err)
		}
	}

	parts := o.execute(ctx, classification.Intents, req.Zone, sess, &resp)
	resp.Answer = merge(parts)

	primary := classification.Intents[0]
	resp.Intent = intentLabel(primary)
	resp.Confidence = primary.Confidence
	if classification.Mode == types.ModeMulti {
		resp.Metadata["mode"] = string(types.ModeMulti)
	}

	o.appendTurn(ctx, sess.ID, query, resp.Answer, primary)
	o.updateContext(ctx, sess.ID, primary)

	return o.finish(ctx, req, &resp, start, "ok")
}

// resolveQuery returns the query text, transcribing in voice mode.
func (o *Orchestrator) resolveQuery(ctx context.Context, req Request) (string, time.Duration, error) {
	if req.Mode != ModeVoice {
		return req.Query, 0, nil
	}
	if o.d.STT == nil || !o.d.STT.Configured() {
		return "", 0, fmt.Errorf("orchestrator: no transcriber configured")
	}

	start := o.now()
	sctx, cancel := context.WithTimeout(ctx, sttTimeout)
	defer cancel()

	tr, err := o.d.STT.Transcribe(sctx, req.Audio)
	dur := o.now().Sub(start)
	if o.d.Metrics != nil {
		o.d.Metrics.STTDuration.Record(ctx, dur.Seconds())
	}
	if err != nil {
		return "", dur, err
	}
	return tr.Text, dur, nil
}

// resolveClarification interprets the turn against the pending record.
// handled is false when the clarification was abandoned and the query
// should flow through fresh classification.
func (o *Orchestrator) resolveClarification(ctx context.Context, req Request, resp *Response, sessionID string, p *types.PendingClarification, query string) (bool, error) {
	resolved, outcome, err := o.d.Clarifier.Resolve(ctx, sessionID, p, query)
	if err != nil {
		return false, fmt.Errorf("orchestrator: clarification: %w", err)
	}

	switch outcome {
	case clarify.OutcomeResolved:
		sess, err := o.d.Sessions.Get(ctx, sessionID)
		if err != nil {
			return false, err
		}
		parts := o.execute(ctx, []types.Intent{resolved}, req.Zone, sess, resp)
		resp.Answer = merge(parts)
		resp.Intent = intentLabel(resolved)
		resp.Confidence = 1
		o.appendTurn(ctx, sessionID, query, resp.Answer, resolved)
		o.updateContext(ctx, sessionID, resolved)
		return true, nil

	case clarify.OutcomeRetry:
		resp.Answer = clarify.Prompt(p)
		resp.Clarification = true
		resp.Intent = intentLabel(p.OriginalIntent)
		o.appendTurn(ctx, sessionID, query, resp.Answer, p.OriginalIntent)
		return true, nil

	default:
		return false, nil
	}
}

func (o *Orchestrator) classify(ctx context.Context, query string, sctx types.SessionContext) (types.Classification, time.Duration, error) {
	start := o.now()
	cctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	classification, err := o.d.Classifier.Classify(cctx, query, sctx)
	dur := o.now().Sub(start)
	if o.d.Metrics != nil {
		o.d.Metrics.ClassifyDuration.Record(ctx, dur.Seconds())
	}
	return classification, dur, err
}

// appendTurn records the user query and the assistant answer.
func (o *Orchestrator) appendTurn(ctx context.Context, sessionID, query, answer string, in types.Intent) {
	if err := o.d.Sessions.Append(ctx, sessionID, types.RoleUser, query, intentLabel(in), in.Entities); err != nil {
		slog.Warn("session append failed", "session_id", sessionID, "err", err)
		return
	}
	if err := o.d.Sessions.Append(ctx, sessionID, types.RoleAssistant, answer, "", nil); err != nil {
		slog.Warn("session append failed", "session_id", sessionID, "err", err)
	}
}

func (o *Orchestrator) updateContext(ctx context.Context, sessionID string, in types.Intent) {
	err := o.d.Sessions.SetContext(ctx, sessionID, types.SessionContext{
		LastIntent:   intentLabel(in),
		LastCategory: in.Category,
		LastEntities: in.Entities,
	})
	if err != nil {
		slog.Warn("session context update failed", "session_id", sessionID, "err", err)
	}
}

// finish synthesizes audio for voice mode, stamps metrics and the
// completion event, and returns the response.
func (o *Orchestrator) finish(ctx context.Context, req Request, resp *Response, start time.Time, status string) (Response, error) {
	if req.Mode == ModeVoice && o.d.TTS != nil && o.d.TTS.Configured() && resp.Answer != "" {
		ttsStart := o.now()
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ttsTimeout)
		audio, err := o.d.TTS.Synthesize(tctx, resp.Answer, req.VoiceProfile, req.WakeWord)
		cancel()
		resp.Latency.TTS = o.now().Sub(ttsStart)
		if o.d.Metrics != nil {
			o.d.Metrics.TTSDuration.Record(ctx, resp.Latency.TTS.Seconds())
		}
		if err != nil {
			// The text answer still stands.
			slog.Warn("synthesis failed", "request_id", resp.RequestID, "err", err)
		} else {
			resp.Audio = audio
		}
	}

	total := o.now().Sub(start)
	resp.ProcessingTime = total.Seconds()
	resp.Latency.EnabledFeatures = o.d.Loader.EnabledFeatures(ctx)
	if ctx.Err() != nil {
		resp.Metadata["partial"] = "true"
	}

	if o.d.Metrics != nil {
		o.d.Metrics.RequestDuration.Record(ctx, total.Seconds())
		o.d.Metrics.Requests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
	o.event(types.AnalyticsEvent{
		Kind:      types.EventRequestCompleted,
		SessionID: resp.SessionID,
		Timestamp: o.now(),
		Metadata: map[string]string{
			"request_id": resp.RequestID,
			"status":     status,
			"intent":     resp.Intent,
		},
	})
	return *resp, nil
}

func (o *Orchestrator) event(ev types.AnalyticsEvent) {
	if o.d.Events != nil {
		o.d.Events(ev)
	}
}

// status derives the request status label for metrics.
func (r *Response) status() string {
	if r.Clarification {
		return "clarification"
	}
	return "ok"
}

// intentLabel is the wire form of an intent: its kind when present, else
// the bare category.
func intentLabel(in types.Intent) string {
	if in.Kind != "" {
		return in.Kind
	}
	return string(in.Category)
}

// execute answers each intent part, concurrently for compound queries, and
// collects citations and latency onto resp.
func (o *Orchestrator) execute(ctx context.Context, intents []types.Intent, zone string, sess *session.Session, resp *Response) []string {
	answers := make([]string, len(intents))
	results := make([]partResult, len(intents))

	if len(intents) == 1 {
		results[0] = o.executeIntent(ctx, intents[0], zone, sess)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, in := range intents {
			g.Go(func() error {
				results[i] = o.executeIntent(gctx, in, zone, sess)
				return nil
			})
		}
		g.Wait()
	}

	for i, r := range results {
		answers[i] = r.answer
		if r.source != "" && r.source != "llm" {
			resp.Citations = append(resp.Citations, r.source)
		}
		resp.Latency.RAGLookup += r.handlerDur
		resp.Latency.LLMInference += r.llmDur
		resp.Latency.CacheLookup += r.cacheDur
	}
	return answers
}

// merge assembles per-part answers into one spoken response.
func merge(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return sentence(parts[0]) + " " + sentence(parts[1])
	default:
		var b strings.Builder
		for i, p := range parts {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d. %s", i+1, sentence(p))
		}
		return b.String()
	}
}

// sentence ensures terminal punctuation so merged parts read naturally.
func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
