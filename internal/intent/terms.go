package intent

// Curated term lists for pattern classification. Matching is whole-word or
// substring against the lowercased query; see classifier.go for how each
// list is consulted and in what priority order.

var timeTerms = []string{
	"what time", "current time", "time is it", "time right now",
}

var dateTerms = []string{
	"what day", "what's the date", "whats the date", "what date",
	"today's date", "todays date", "day of the week",
}

var weatherTerms = []string{
	"weather", "forecast", "temperature", "rain", "raining", "snow",
	"snowing", "sunny", "windy", "humidity", "how hot", "how cold",
	"umbrella",
}

var locationTerms = []string{
	"how far", "distance to", "distance from", "nearest", "closest",
	"where is", "where's", "directions to", "how long to get to",
	"how long does it take to get",
}

var staticTerms = []string{
	"address of", "phone number", "opening hours", "hours of",
	"when does", "when do they open", "when do they close", "zip code",
}

var transitTerms = []string{
	"bus", "train", "subway", "next bus", "next train", "transit",
	"commute", "traffic",
}

var flightTerms = []string{
	"flight", "flights", "departure", "arrival", "delayed", "on time",
	"airport",
}

var eventTerms = []string{
	"events", "event", "concert", "concerts", "happening", "going on",
	"things to do", "festival", "show tonight", "shows",
}

var streamingTerms = []string{
	"watch", "stream", "streaming", "netflix", "hulu", "disney plus",
	"prime video", "which service", "where can i see",
}

var newsTerms = []string{
	"news", "headlines", "latest on", "what happened", "breaking",
}

var stockTerms = []string{
	"stock", "stocks", "share price", "shares of", "market", "nasdaq",
	"dow jones", "s&p", "ticker", "crypto", "bitcoin",
}

var sportsTerms = []string{
	"game", "score", "match", "play today", "play tonight", "play next",
	"play again", "playing", "win", "won", "lost", "standings", "season",
	"playoffs", "nfl", "nba", "mlb", "nhl",
}

var searchTerms = []string{
	"search for", "look up", "google", "find out", "who is", "who was",
	"who won the", "what is a", "what is the", "tell me about", "how do",
	"how does", "why",
}

// Device command vocabulary. A query is a home-control command when it
// starts with (or contains) an action verb and names a device kind.
var deviceActions = map[string]string{
	"turn on":   "turn_on",
	"switch on": "turn_on",
	"turn off":  "turn_off",
	"switch off": "turn_off",
	"dim":       "dim",
	"brighten":  "brighten",
	"lock":      "lock",
	"unlock":    "unlock",
	"open":      "open",
	"close":     "close",
	"set":       "set",
	"start":     "turn_on",
	"stop":      "turn_off",
}

// deviceKinds maps surface nouns to the canonical device kind used by
// device_rules and the control plane.
var deviceKinds = map[string]string{
	"light":      "light",
	"lights":     "light",
	"lamp":       "light",
	"lamps":      "light",
	"thermostat": "thermostat",
	"heat":       "thermostat",
	"heating":    "thermostat",
	"ac":         "thermostat",
	"fan":        "fan",
	"fans":       "fan",
	"tv":         "tv",
	"television": "tv",
	"door":       "door",
	"doors":      "door",
	"blinds":     "blinds",
	"curtains":   "blinds",
	"speaker":    "speaker",
	"speakers":   "speaker",
	"music":      "speaker",
	"vacuum":     "vacuum",
}

// areaWords are zone names recognised as device targets. Multi-word areas
// are checked before single words.
var areaWords = []string{
	"living room", "dining room", "kitchen", "bedroom", "bathroom",
	"office", "hallway", "garage", "basement", "attic", "porch",
	"backyard", "nursery", "den", "upstairs", "downstairs", "everywhere",
}

// relativeDays normalises day references into the "day" entity.
var relativeDays = []string{
	"tomorrow", "tonight", "today", "this weekend", "the weekend",
	"this week", "next week",
}

// dayEntity maps a matched day phrase to its canonical entity value.
func dayEntity(phrase string) string {
	switch phrase {
	case "this weekend", "the weekend":
		return "weekend"
	case "this week", "next week":
		return "week"
	default:
		return phrase
	}
}
