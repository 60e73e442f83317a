// Package intent classifies transcribed queries into executable intents.
// Classification is pattern-based: curated term lists are evaluated in a
// fixed priority order and the first category hit wins. A compound-query
// splitter breaks conjunctions into independently classified parts, and a
// pre-classification pass expands follow-up queries from session context.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

// Classifier turns transcriptions into classifications. It consults dynamic
// configuration for ambiguity rules; all other matching is static.
type Classifier struct {
	cfg *config.Loader // nil disables ambiguity signalling
}

// New creates a Classifier. cfg may be nil in tests.
func New(cfg *config.Loader) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify resolves follow-ups, splits compound queries, and classifies
// each part. An empty transcription returns [types.ErrNotApplicable].
//
// When an ambiguity rule fires (sports trigger token, under-specified
// device command), the returned classification carries a proposed
// clarification instead of an executable intent; the clarification engine
// owns timing and attachment.
func (c *Classifier) Classify(ctx context.Context, query string, sctx types.SessionContext) (types.Classification, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return types.Classification{}, fmt.Errorf("intent: empty transcription: %w", types.ErrNotApplicable)
	}

	raw := classifyPart(query)
	rawUnknown := raw.Category == types.CategoryUnknown || raw.Category == types.CategoryWebSearch

	expanded, followup := expandFollowup(query, sctx, rawUnknown)
	if followup {
		slog.Debug("intent: follow-up expanded", "original", query, "expanded", expanded)
	}

	parts := Split(expanded)
	intents := make([]types.Intent, 0, len(parts))
	for _, p := range parts {
		in := classifyPart(p)
		in.Original = query
		if followup {
			mergeEntities(&in, sctx.LastEntities)
		}
		intents = append(intents, in)
	}

	// A compound query where only one part carried meaning is a single
	// query with decorative conjunctions.
	if len(intents) > 1 {
		known := intents[:0:0]
		for _, in := range intents {
			if in.Category != types.CategoryUnknown {
				known = append(known, in)
			}
		}
		switch len(known) {
		case 0:
			intents = intents[:1]
		case 1:
			intents = known
		default:
			intents = known
		}
	}

	cls := types.Classification{
		Mode:     types.ModeSingle,
		Intents:  intents,
		Followup: followup,
	}
	if len(intents) > 1 {
		cls.Mode = types.ModeMulti
	}

	if pc := c.checkAmbiguity(ctx, query, intents); pc != nil {
		cls.Clarification = pc
	}
	return cls, nil
}

// classifyPart classifies one part against the term lists in priority
// order: device commands, time/date, weather, location/static,
// transportation, entertainment, news/finance/sports, then the web-search
// and LLM fallbacks.
func classifyPart(part string) types.Intent {
	lower := strings.ToLower(strings.TrimSpace(part))
	in := types.Intent{Query: part, Original: part, Entities: map[string]string{}, Confidence: 1.0}

	if action, kind, ok := matchDeviceCommand(lower); ok {
		in.Category = types.CategoryHomeControl
		in.Kind = "home_control.device"
		in.Entities["action"] = action
		if kind != "" {
			in.Entities["device"] = kind
		}
		if area := matchArea(lower); area != "" {
			in.Entities["area"] = area
		}
		if action == "set" {
			if v := trailingNumber(lower); v != "" {
				in.Entities["value"] = v
			}
		}
		return in
	}

	switch {
	case containsAny(lower, timeTerms):
		in.Category = types.CategoryTime
		in.Kind = "time.current"
	case containsAny(lower, dateTerms):
		in.Category = types.CategoryTime
		in.Kind = "time.date"
	case containsAny(lower, weatherTerms):
		in.Category = types.CategoryWeather
		in.Kind = weatherKind(lower, in.Entities)
	case containsAny(lower, staticTerms):
		in.Category = types.CategoryStatic
		in.Kind = "static.info"
		fillLocation(lower, in.Entities)
	case containsAny(lower, locationTerms):
		in.Category = types.CategoryLocation
		in.Kind = locationKind(lower)
		fillLocation(lower, in.Entities)
	case containsAny(lower, flightTerms):
		in.Category = types.CategoryFlights
		in.Kind = flightKind(lower, in.Entities)
	case containsAny(lower, transitTerms):
		in.Category = types.CategoryTransport
		in.Kind = "transport.transit"
	case containsAny(lower, streamingTerms):
		in.Category = types.CategoryStreaming
		in.Kind = "streaming.lookup"
		fillTitle(lower, in.Entities)
	case containsAny(lower, eventTerms):
		in.Category = types.CategoryEvents
		in.Kind = "events.lookup"
		fillDay(lower, in.Entities)
	case containsAny(lower, stockTerms):
		in.Category = types.CategoryStocks
		in.Kind = "stocks.quote"
		fillCompany(lower, in.Entities)
	case containsAny(lower, newsTerms):
		in.Category = types.CategoryNews
		in.Kind = "news.headlines"
		fillTopic(lower, in.Entities)
	case containsAny(lower, sportsTerms):
		in.Category = types.CategorySports
		in.Kind = sportsKind(lower)
		fillDay(lower, in.Entities)
	case containsAny(lower, searchTerms):
		in.Category = types.CategoryWebSearch
		in.Kind = "web_search.query"
		in.Confidence = 0.5
	default:
		in.Category = types.CategoryUnknown
		in.Confidence = 0.2
	}
	return in
}

// checkAmbiguity returns a proposed clarification when an intent trips a
// disambiguation rule, or nil. Only the first ambiguous part asks; later
// parts are dropped with it and re-run after resolution.
func (c *Classifier) checkAmbiguity(ctx context.Context, query string, intents []types.Intent) *types.PendingClarification {
	if c.cfg == nil {
		return nil
	}
	settings, err := c.cfg.ClarificationSettings(ctx)
	if err != nil || !settings.Enabled {
		return nil
	}

	for _, in := range intents {
		switch in.Category {
		case types.CategorySports:
			if pc := c.sportsAmbiguity(ctx, query, in); pc != nil {
				return pc
			}
		case types.CategoryHomeControl:
			if pc := c.deviceAmbiguity(ctx, query, in); pc != nil {
				return pc
			}
		}
	}
	return nil
}

// sportsAmbiguity fires when the query names a trigger token shared by
// several teams ("the cardinals") with nothing to pick the sport.
func (c *Classifier) sportsAmbiguity(ctx context.Context, query string, in types.Intent) *types.PendingClarification {
	teams, err := c.cfg.SportsTeams(ctx)
	if err != nil {
		return nil
	}
	lower := strings.ToLower(in.Query)
	for _, t := range teams {
		if !containsWord(lower, strings.ToLower(t.Trigger)) || len(t.Options) < 2 {
			continue
		}
		// A spoken sport name already disambiguates.
		qualified := false
		for _, opt := range t.Options {
			if s := opt.Extra["sport"]; s != "" && strings.Contains(lower, strings.ToLower(s)) {
				in.Entities["team"] = opt.ID
				qualified = true
				break
			}
		}
		if qualified {
			return nil
		}
		return &types.PendingClarification{
			Kind:           "sports_team",
			OriginalQuery:  query,
			OriginalIntent: in,
			SlotName:       "team",
			Options:        t.Options,
		}
	}
	return nil
}

// deviceAmbiguity fires when a device command names a kind that device
// rules require a zone for, and none was spoken.
func (c *Classifier) deviceAmbiguity(ctx context.Context, query string, in types.Intent) *types.PendingClarification {
	if in.Entities["area"] != "" {
		return nil
	}
	kind := in.Entities["device"]
	if kind == "" {
		return nil
	}
	rules, err := c.cfg.DeviceRules(ctx)
	if err != nil {
		return nil
	}
	for _, r := range rules {
		if r.DeviceKind == kind {
			return &types.PendingClarification{
				Kind:           "device_target",
				OriginalQuery:  query,
				OriginalIntent: in,
				SlotName:       "area",
			}
		}
	}
	return nil
}

func mergeEntities(in *types.Intent, prev map[string]string) {
	for k, v := range prev {
		if _, ok := in.Entities[k]; !ok {
			in.Entities[k] = v
		}
	}
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// containsWord matches w as a whole word within s.
func containsWord(s, w string) bool {
	at := 0
	for {
		i := strings.Index(s[at:], w)
		if i < 0 {
			return false
		}
		i += at
		leftOK := i == 0 || !isLetter(s[i-1])
		right := i + len(w)
		rightOK := right == len(s) || !isLetter(s[right])
		if leftOK && rightOK {
			return true
		}
		at = i + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func weatherKind(lower string, entities map[string]string) string {
	fillDay(lower, entities)
	switch entities["day"] {
	case "tomorrow":
		return "weather.tomorrow"
	case "tonight":
		return "weather.tonight"
	case "weekend":
		return "weather.weekend"
	case "week":
		return "weather.week"
	}
	if strings.Contains(lower, "forecast") {
		return "weather.week"
	}
	return "weather.current"
}

func locationKind(lower string) string {
	if strings.Contains(lower, "how far") || strings.Contains(lower, "distance") ||
		strings.Contains(lower, "how long") {
		return "location.distance"
	}
	if strings.Contains(lower, "nearest") || strings.Contains(lower, "closest") {
		return "location.nearby"
	}
	return "location.info"
}

func flightKind(lower string, entities map[string]string) string {
	if n := flightNumber(lower); n != "" {
		entities["flight"] = n
		return "flights.status"
	}
	if strings.Contains(lower, "delay") {
		return "flights.delays"
	}
	return "flights.status"
}

func sportsKind(lower string) string {
	switch {
	case strings.Contains(lower, "standings") || strings.Contains(lower, "season"):
		return "sports.standings"
	case strings.Contains(lower, "when") || strings.Contains(lower, "next") ||
		strings.Contains(lower, "schedule"):
		return "sports.schedule"
	default:
		return "sports.score"
	}
}

func fillDay(lower string, entities map[string]string) {
	for _, d := range relativeDays {
		if strings.Contains(lower, d) {
			entities["day"] = dayEntity(d)
			return
		}
	}
}

// fillLocation captures the destination after "to" or "of", e.g.
// "how far is it to the airport".
func fillLocation(lower string, entities map[string]string) {
	for _, marker := range []string{" to the ", " to ", " of the ", " of ", " is the ", " is "} {
		if i := strings.LastIndex(lower, marker); i >= 0 {
			loc := strings.Trim(lower[i+len(marker):], " ?.!")
			if loc != "" && len(strings.Fields(loc)) <= 5 {
				entities["location"] = loc
				return
			}
		}
	}
}

// fillTitle captures the title in "where can i watch <title>".
func fillTitle(lower string, entities map[string]string) {
	for _, marker := range []string{"watch ", "stream ", "see "} {
		if i := strings.Index(lower, marker); i >= 0 {
			title := strings.Trim(lower[i+len(marker):], " ?.!")
			title = strings.TrimPrefix(title, "the movie ")
			title = strings.TrimPrefix(title, "the show ")
			if title != "" {
				entities["title"] = title
				return
			}
		}
	}
}

func fillCompany(lower string, entities map[string]string) {
	for _, marker := range []string{"stock price of ", "share price of ", "shares of ", "stock for ", "price of "} {
		if i := strings.Index(lower, marker); i >= 0 {
			co := strings.Trim(lower[i+len(marker):], " ?.!")
			if co != "" {
				entities["company"] = co
				return
			}
		}
	}
	if i := strings.Index(lower, " stock"); i > 0 {
		head := strings.Fields(lower[:i])
		if len(head) > 0 {
			entities["company"] = head[len(head)-1]
		}
	}
}

func fillTopic(lower string, entities map[string]string) {
	for _, marker := range []string{"news about ", "news on ", "latest on ", "headlines about "} {
		if i := strings.Index(lower, marker); i >= 0 {
			topic := strings.Trim(lower[i+len(marker):], " ?.!")
			if topic != "" {
				entities["topic"] = topic
				return
			}
		}
	}
	if strings.Contains(lower, "local news") {
		entities["topic"] = "local"
	}
}

// matchDeviceCommand recognises imperative device commands. Action phrases
// are checked longest-first so "turn on" beats "turn".
func matchDeviceCommand(lower string) (action, kind string, ok bool) {
	var best string
	for phrase := range deviceActions {
		if strings.HasPrefix(lower, phrase+" ") || strings.Contains(lower, " "+phrase+" ") {
			if len(phrase) > len(best) {
				best = phrase
			}
		}
	}
	if best == "" {
		return "", "", false
	}
	for noun, k := range deviceKinds {
		if containsWord(lower, noun) {
			return deviceActions[best], k, true
		}
	}
	// "set" and "open" without a device noun are not commands
	// ("open hours", "set in 1999").
	switch deviceActions[best] {
	case "set", "open", "close":
		return "", "", false
	}
	return deviceActions[best], "", true
}

func matchArea(lower string) string {
	for _, a := range areaWords {
		if strings.Contains(lower, a) {
			return a
		}
	}
	return ""
}

// flightNumber finds an airline-code flight designator, e.g. "ua1234".
func flightNumber(lower string) string {
	fields := strings.Fields(lower)
	for i, f := range fields {
		f = strings.Trim(f, "?.!,")
		if len(f) >= 3 && len(f) <= 7 &&
			isLetter(f[0]) && isLetter(f[1]) && allDigits(f[2:]) {
			return f
		}
		if f == "flight" && i+1 < len(fields) {
			n := strings.Trim(fields[i+1], "?.!,")
			if allDigits(n) {
				return n
			}
		}
	}
	return ""
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// trailingNumber captures the numeric argument of a "set" command.
func trailingNumber(lower string) string {
	fields := strings.Fields(lower)
	for i := len(fields) - 1; i >= 0; i-- {
		f := strings.Trim(fields[i], "%°?.!,")
		if allDigits(f) {
			return f
		}
	}
	return ""
}
