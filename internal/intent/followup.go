package intent

import (
	"strings"

	"github.com/openhearth/hearth/internal/types"
)

// Elliptical follow-up prefixes. The remainder after the prefix is grafted
// onto a reconstruction of the previous intent.
var ellipticalPrefixes = []string{"what about ", "how about ", "and what about "}

// pronounWords trigger entity substitution when the query on its own does
// not classify.
var pronounWords = []string{"it", "them", "they", "their", "that one"}

// categorySeeds rebuild a classifiable query stem for a category when only
// the changed slot was spoken ("what about tomorrow").
var categorySeeds = map[types.Category]string{
	types.CategoryWeather:   "what's the weather",
	types.CategorySports:    "when is the game",
	types.CategoryEvents:    "what events are happening",
	types.CategoryNews:      "what's the news",
	types.CategoryStocks:    "what's the stock price",
	types.CategoryStreaming: "where can i watch",
	types.CategoryTime:      "what time is it",
	types.CategoryFlights:   "is the flight on time",
	types.CategoryLocation:  "how far is it",
	types.CategoryTransport: "when is the next bus",
}

// expandFollowup rewrites a follow-up query using the previous turn's
// intent and entities. rawUnknown tells the expander whether the query
// failed to classify on its own; pronoun substitution only applies then, so
// "what time is it" is never mangled by a stale context.
func expandFollowup(query string, sctx types.SessionContext, rawUnknown bool) (string, bool) {
	if sctx.LastIntent == "" || sctx.LastCategory == "" {
		return query, false
	}
	lower := strings.ToLower(strings.TrimSpace(query))

	for _, p := range ellipticalPrefixes {
		if rest, ok := strings.CutPrefix(lower, p); ok {
			return graft(sctx, rest), true
		}
	}
	if rest, ok := strings.CutPrefix(lower, "and "); ok && len(strings.Fields(rest)) <= 3 {
		return graft(sctx, rest), true
	}

	// Short relative-time forms: "tomorrow?", "and next week".
	if len(strings.Fields(lower)) <= 3 {
		for _, d := range relativeDays {
			if strings.Contains(lower, d) {
				return graft(sctx, lower), true
			}
		}
	}

	if rawUnknown {
		if expanded, ok := substitutePronoun(lower, sctx); ok {
			return expanded, true
		}
	}
	return query, false
}

// graft joins the previous category's seed phrase with the new fragment.
func graft(sctx types.SessionContext, fragment string) string {
	seed, ok := categorySeeds[sctx.LastCategory]
	if !ok {
		seed = sctx.LastIntent
	}
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return seed
	}
	return seed + " " + fragment
}

// substitutePronoun replaces a standalone pronoun with the most specific
// entity from the previous turn.
func substitutePronoun(lower string, sctx types.SessionContext) (string, bool) {
	topic := previousTopic(sctx)
	if topic == "" {
		return "", false
	}
	words := strings.Fields(lower)
	for i, w := range words {
		for _, p := range pronounWords {
			if w == p {
				words[i] = topic
				return strings.Join(words, " "), true
			}
		}
	}
	return "", false
}

// previousTopic picks the entity most likely to be what a pronoun refers
// to, in slot preference order.
func previousTopic(sctx types.SessionContext) string {
	for _, slot := range []string{"team", "title", "device", "company", "topic", "location", "flight"} {
		if v := sctx.LastEntities[slot]; v != "" {
			return v
		}
	}
	return ""
}
