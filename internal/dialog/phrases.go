package dialog

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// jwThreshold is the Jaro-Winkler similarity above which two words count as
// the same through transcription noise ("goodby", "yess").
const jwThreshold = 0.92

// endPhrases end the conversation when they make up the whole utterance or
// a fuzzy-matched tail of it.
var endPhrases = []string{
	"goodbye", "good bye", "bye", "bye bye",
	"that's all", "that is all", "that's it", "that's everything",
	"i'm done", "im done", "i am done", "all done",
	"nothing else", "no more", "hang up", "end call", "end the call",
	"thank you goodbye", "thanks goodbye", "thanks bye",
}

// Verdict is the outcome of a yes/no question.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictYes
	VerdictNo
)

func (v Verdict) String() string {
	switch v {
	case VerdictYes:
		return "yes"
	case VerdictNo:
		return "no"
	default:
		return "unknown"
	}
}

var yesWords = []string{
	"yes", "yeah", "yep", "yup", "sure", "okay", "ok", "correct",
	"right", "absolutely", "definitely", "please",
}

var noWords = []string{
	"no", "nope", "nah", "negative", "don't", "dont", "not",
}

// noPhrases are multi-word declines checked before single words, so that
// "no thank you" is not read as agreement on "thank you".
var noPhrases = []string{
	"no thanks", "no thank you", "not now", "not really",
	"i'm good", "im good", "i am good",
}

// IsEndPhrase reports whether the utterance is a goodbye. Matching is
// tolerant of transcription noise: the whole normalized utterance and each
// of its tokens are compared against the phrase list with Jaro-Winkler.
func IsEndPhrase(utterance string) bool {
	norm := normalizePhrase(utterance)
	if norm == "" {
		return false
	}
	// Long utterances that merely contain a farewell word are requests,
	// not goodbyes ("can you say goodbye to him for me").
	tokens := strings.Fields(norm)
	if len(tokens) > 4 {
		return false
	}
	for _, phrase := range endPhrases {
		if norm == phrase {
			return true
		}
		if matchr.JaroWinkler(norm, phrase, false) >= jwThreshold {
			return true
		}
	}
	// Single-token farewells embedded in a short utterance ("okay goodbye").
	for _, tok := range tokens {
		for _, word := range []string{"goodbye", "bye"} {
			if tok == word || matchr.JaroWinkler(tok, word, false) >= jwThreshold {
				return true
			}
		}
	}
	return false
}

// ParseYesNo reads a consent answer. Unclear answers report VerdictUnknown
// and the caller is asked again.
func ParseYesNo(utterance string) Verdict {
	norm := normalizePhrase(utterance)
	if norm == "" {
		return VerdictUnknown
	}
	for _, phrase := range noPhrases {
		if strings.Contains(norm, phrase) {
			return VerdictNo
		}
	}
	tokens := strings.Fields(norm)
	for _, tok := range tokens {
		for _, word := range noWords {
			if tok == word || matchr.JaroWinkler(tok, word, false) >= jwThreshold {
				return VerdictNo
			}
		}
	}
	for _, tok := range tokens {
		for _, word := range yesWords {
			if tok == word || matchr.JaroWinkler(tok, word, false) >= jwThreshold {
				return VerdictYes
			}
		}
	}
	return VerdictUnknown
}

// normalizePhrase lowercases and strips everything except letters, digits,
// apostrophes, and single spaces.
func normalizePhrase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
