package intent

import "strings"

// Conjunction markers that may separate independent intent parts. Longer
// markers are checked first so " and also " is not consumed as " and ".
var splitMarkers = []string{" and also ", " and then ", " and ", " then "}

// nonSplitPhrases are compound nouns that contain a marker but never mark a
// part boundary.
var nonSplitPhrases = []string{
	"bed and breakfast", "rock and roll", "black and white",
	"macaroni and cheese", "fish and chips", "salt and pepper",
	"law and order", "now and then", "back and forth",
	"dungeons and dragons", "song and dance",
}

// Split breaks a compound query into independent parts at conjunction
// markers. Boundaries inside compound nouns or between two zone names
// ("kitchen and dining room lights") are not split. A query with no
// qualifying boundary comes back as a single part.
func Split(query string) []string {
	lower := strings.ToLower(query)

	var parts []string
	start := 0
	for i := 0; i < len(lower); {
		marker, at := nextMarker(lower, i)
		if at < 0 {
			break
		}
		if splittable(lower, at, len(marker)) {
			part := strings.TrimSpace(query[start:at])
			if part != "" {
				parts = append(parts, part)
			}
			start = at + len(marker)
		}
		i = at + len(marker)
	}
	tail := strings.TrimSpace(query[start:])
	if tail != "" {
		parts = append(parts, tail)
	}
	if len(parts) == 0 {
		return []string{strings.TrimSpace(query)}
	}
	return parts
}

// nextMarker finds the earliest marker occurrence at or after from.
func nextMarker(lower string, from int) (string, int) {
	best := -1
	var bestMarker string
	for _, m := range splitMarkers {
		at := strings.Index(lower[from:], m)
		if at < 0 {
			continue
		}
		at += from
		// Prefer the earliest position; on a tie the longer marker wins
		// because splitMarkers is ordered longest-first.
		if best == -1 || at < best {
			best = at
			bestMarker = m
		}
	}
	return bestMarker, best
}

// splittable reports whether the marker at position at marks a real part
// boundary.
func splittable(lower string, at, markerLen int) bool {
	for _, phrase := range nonSplitPhrases {
		p := strings.Index(lower, phrase)
		for p >= 0 {
			if at >= p && at < p+len(phrase) {
				return false
			}
			next := strings.Index(lower[p+1:], phrase)
			if next < 0 {
				break
			}
			p += 1 + next
		}
	}

	// Multi-entity device references keep the conjunction: "kitchen and
	// dining room lights" is one command over two zones.
	before := lastWord(lower[:at])
	after := strings.TrimSpace(lower[at+markerLen:])
	if isAreaWord(before) && startsWithAreaWord(after) {
		return false
	}
	if _, ok := deviceKinds[before]; ok {
		afterFirst := firstWord(strings.TrimPrefix(after, "the "))
		if _, ok := deviceKinds[afterFirst]; ok {
			return false
		}
	}
	return true
}

func lastWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isAreaWord(w string) bool {
	for _, a := range areaWords {
		if w == a || strings.HasSuffix(a, " "+w) || firstWord(a) == w {
			return true
		}
	}
	return false
}

func startsWithAreaWord(s string) bool {
	s = strings.TrimPrefix(s, "the ")
	for _, a := range areaWords {
		if strings.HasPrefix(s, a) || strings.HasPrefix(s, firstWord(a)) {
			return true
		}
	}
	return false
}
