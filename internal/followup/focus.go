package followup

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/havenline/havenline/internal/retrieval"
	"github.com/havenline/havenline/internal/rewrite"
	"github.com/havenline/havenline/internal/session"
)

// Fuzzy-match parameters. A focus target is matched against each stored
// result as a weighted sum over title, content, and url similarity; results
// under the acceptance threshold stay unmatched and the reply falls back to
// its aggregate form.
const (
	weightTitle     = 0.6
	weightContent   = 0.3
	weightURL       = 0.1
	containsScore   = 0.9
	overlapCap      = 0.8
	acceptThreshold = 0.3

	// jwThreshold is the dialog phrase matcher's tolerance, reused here so
	// a transcriber's "centre" still counts as "center".
	jwThreshold = 0.92
)

// Recognition and reply-type cues. All matching is on the lowercased
// utterance with word boundaries, so "it" does not fire inside "visit".
var (
	cueRe = regexp.MustCompile(
		`\b(?:more|details?|information|about|first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|that|this|the one|it|them)\b`)
	sendCueRe     = regexp.MustCompile(`\b(?:send|text|email)\b`)
	phoneCueRe    = regexp.MustCompile(`\b(?:phone|numbers?|call them|contact)\b`)
	locationCueRe = regexp.MustCompile(`\b(?:address(?:es)?|where|located|location|directions)\b`)
	detailCueRe   = regexp.MustCompile(`\b(?:more|details?|information|about)\b`)

	demonstrativeRe = regexp.MustCompile(`\b(?:that|this|the one|it|them)\b`)

	ordinalRe = regexp.MustCompile(
		`\b(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)\b`)

	// capRunRe finds runs of capitalized words in the raw utterance, the way
	// a transcriber renders an organization name.
	capRunRe = regexp.MustCompile(`[A-Z][A-Za-z'&-]*(?:\s+[A-Z][A-Za-z'&-]*)*`)
)

var ordinalIndexes = map[string]int{
	"first": 0, "second": 1, "third": 2, "fourth": 3, "fifth": 4,
	"sixth": 5, "seventh": 6, "eighth": 7, "ninth": 8, "tenth": 9,
}

// hasCue reports whether the utterance carries a follow-up cue word.
func hasCue(normalized string) bool {
	return cueRe.MatchString(normalized)
}

// focusMatch identifies the stored result a follow-up refers to.
type focusMatch struct {
	index int
}

var noFocus = focusMatch{index: -1}

func (f focusMatch) ok() bool { return f.index >= 0 }

// extractFocus resolves the result the utterance points at, trying in order:
// a location mention, an ordinal, a capitalized phrase, and finally the
// demonstrative marker (which only resolves through the previously focused
// title). Anything unresolved is reported as no focus; replies then use
// their aggregate forms.
func extractFocus(raw, normalized string, qc *session.QueryContext) focusMatch {
	if len(qc.Results) == 0 {
		return noFocus
	}

	if loc := rewrite.ExtractLocationText(normalized); loc != "" {
		if idx, score := bestMatch(loc, qc.Results); score >= acceptThreshold {
			return focusMatch{index: idx}
		}
	}

	if m := ordinalRe.FindString(normalized); m != "" {
		if idx := ordinalIndexes[m]; idx < len(qc.Results) {
			return focusMatch{index: idx}
		}
		return noFocus
	}

	if phrase := capPhrase(raw); phrase != "" {
		if idx, score := bestMatch(phrase, qc.Results); score >= acceptThreshold {
			return focusMatch{index: idx}
		}
	}

	if demonstrativeRe.MatchString(normalized) && qc.FocusResultTitle != "" {
		for i, r := range qc.Results {
			if r.Title == qc.FocusResultTitle {
				return focusMatch{index: i}
			}
		}
	}

	return noFocus
}

// capPhrase extracts the most name-like capitalized run from the raw
// utterance. A single capitalized word at the start is a sentence capital,
// not a name, and "I" is never a name.
func capPhrase(raw string) string {
	best := ""
	bestWords := 0
	for _, m := range capRunRe.FindAllStringIndex(raw, -1) {
		phrase := raw[m[0]:m[1]]
		words := strings.Fields(phrase)
		if len(words) == 1 && (m[0] == 0 || phrase == "I") {
			continue
		}
		if len(words) > bestWords {
			best = phrase
			bestWords = len(words)
		}
	}
	return best
}

// bestMatch scores target against every result and returns the best index
// and score. Index is -1 when results is empty.
func bestMatch(target string, results []retrieval.Result) (int, float64) {
	bestIdx, bestScore := -1, 0.0
	for i, r := range results {
		s := weightTitle*similarity(target, r.Title) +
			weightContent*similarity(target, r.Content) +
			weightURL*similarity(target, r.URL)
		if s > bestScore {
			bestIdx, bestScore = i, s
		}
	}
	return bestIdx, bestScore
}

// similarity is 0.9 when one string contains the other, else the distinct
// word-overlap ratio capped at 0.8. Case-insensitive.
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(b, a) || strings.Contains(a, b) {
		return containsScore
	}
	return wordOverlap(a, b)
}

func wordOverlap(a, b string) float64 {
	as := wordSet(a)
	bs := wordSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	shared := 0
	for w := range as {
		if inSet(w, bs) {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	denom := len(as)
	if len(bs) < denom {
		denom = len(bs)
	}
	ratio := float64(shared) / float64(denom)
	if ratio > overlapCap {
		ratio = overlapCap
	}
	return ratio
}

// inSet reports whether w appears in set exactly or within Jaro-Winkler
// tolerance of a member.
func inSet(w string, set map[string]bool) bool {
	if set[w] {
		return true
	}
	for member := range set {
		if matchr.JaroWinkler(w, member, false) >= jwThreshold {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[strings.Trim(w, ".,!?'\"")] = true
	}
	return set
}

// capabilityChecks derive a one-sentence service summary from keyword
// presence in a result's content. At most three clauses are spoken.
var capabilityChecks = []struct {
	re     *regexp.Regexp
	clause string
}{
	{regexp.MustCompile(`(?i)\b(?:shelter|safe house|housing)\b`), "emergency shelter"},
	{regexp.MustCompile(`(?i)\b(?:counsel\w*|therapy)\b`), "counseling services"},
	{regexp.MustCompile(`(?i)\bsupport groups?\b`), "support groups"},
	{regexp.MustCompile(`(?i)\b(?:legal|attorney|court|protective order)\b`), "legal assistance"},
	{regexp.MustCompile(`(?i)(?:\bhotline\b|24/7|24.hour)`), "a 24/7 hotline"},
	{regexp.MustCompile(`(?i)\b(?:child\w*|famil\w*)\b`), "services for families and children"},
	{regexp.MustCompile(`(?i)\badvoca\w*\b`), "advocacy services"},
}

// capabilitySummary renders the spoken capability clause for one result.
func capabilitySummary(content string) string {
	var clauses []string
	for _, c := range capabilityChecks {
		if c.re.MatchString(content) {
			clauses = append(clauses, c.clause)
			if len(clauses) == 3 {
				break
			}
		}
	}
	switch len(clauses) {
	case 0:
		return "they provide support services for people experiencing domestic violence"
	case 1:
		return "they offer " + clauses[0]
	case 2:
		return "they offer " + clauses[0] + " and " + clauses[1]
	default:
		return "they offer " + clauses[0] + ", " + clauses[1] + ", and " + clauses[2]
	}
}
