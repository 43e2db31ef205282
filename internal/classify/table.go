package classify

import (
	"fmt"
	"regexp"
)

// The weight table. Every pattern that matches the normalized utterance
// contributes its weight to the overall score and to its category; the
// dominant category names the intent. Weights are calibrated so that a
// clear service request with a place mention lands near score 18–20
// (confidence 0.9–1.0) and a lone keyword lands near 10 (0.5).
//
// The table is the union of both weight sets found in the wild: the
// category split (location, information, resource, shelter, contact,
// general) plus the service-specific categories (legal, counseling,
// emergency, end) that the router's early exits depend on.

type pattern struct {
	label  string
	weight float64
	re     *regexp.Regexp
}

type category struct {
	name     string
	intent   Intent
	patterns []pattern
}

func pat(label string, weight float64, expr string) pattern {
	return pattern{label: label, weight: weight, re: regexp.MustCompile(expr)}
}

var table = []category{
	{
		name:   "shelter",
		intent: IntentFindShelter,
		patterns: []pattern{
			pat("shelter", 10, `\bshelters?\b`),
			pat("safe-house", 10, `\bsafe\s+(?:house|housing|place)s?\b`),
			pat("place-to-stay", 9, `\b(?:place|somewhere)\s+to\s+(?:stay|go|sleep)\b`),
			pat("refuge", 8, `\brefuge\b`),
			pat("transitional-housing", 8, `\btransitional\s+housing\b`),
			pat("housing", 5, `\bhousing\b`),
			pat("leave-home", 6, `\b(?:leave|get\s+out\s+of)\s+(?:home|the\s+house|my\s+house)\b`),
		},
	},
	{
		name:   "legal",
		intent: IntentLegalServices,
		patterns: []pattern{
			pat("lawyer", 10, `\b(?:lawyers?|attorneys?)\b`),
			pat("legal-aid", 10, `\blegal\s+(?:aid|help|advice|services?|assistance)\b`),
			pat("protective-order", 10, `\b(?:restraining|protective|protection)\s+orders?\b`),
			pat("custody", 8, `\bcustody\b`),
			pat("court", 6, `\b(?:court|divorce)\b`),
			pat("legal", 5, `\blegal\b`),
		},
	},
	{
		name:   "counseling",
		intent: IntentCounselingServices,
		patterns: []pattern{
			pat("counselor", 10, `\b(?:counsel(?:l)?ors?|therapists?)\b`),
			pat("counseling", 10, `\b(?:counsel(?:l)?ing|therapy)\b`),
			pat("support-group", 9, `\bsupport\s+groups?\b`),
			pat("someone-to-talk", 8, `\bsomeone\s+to\s+talk\s+to\b`),
			pat("mental-health", 7, `\bmental\s+health\b`),
		},
	},
	{
		name:   "emergency",
		intent: IntentEmergencyHelp,
		patterns: []pattern{
			pat("weapon", 10, `\b(?:guns?|knife|knives|weapons?)\b`),
			pat("emergency", 10, `\bemergency\b`),
			pat("help-now", 8, `\bhelp\s+(?:me\s+)?(?:right\s+)?now\b`),
			pat("danger", 9, `\b(?:danger|dangerous|unsafe)\b`),
			pat("hurt", 9, `\bhurt(?:ing)?\s+(?:me|us)\b`),
			pat("urgent", 8, `\b(?:urgent|urgently|immediately|911)\b`),
			pat("afraid", 7, `\b(?:afraid|scared|terrified|threaten(?:s|ed|ing)?)\b`),
			pat("right-now", 6, `\bright\s+now\b`),
		},
	},
	{
		name:   "information",
		intent: IntentGeneralInformation,
		patterns: []pattern{
			pat("what-is", 6, `\bwhat\s+(?:is|are)\b`),
			pat("how-to", 6, `\bhow\s+(?:do|can|does|to)\b`),
			pat("tell-me", 5, `\btell\s+me\b`),
			pat("information", 6, `\b(?:information|info)\b`),
			pat("explain", 5, `\b(?:explain|definition|means?)\b`),
			pat("dv", 5, `\bdomestic\s+(?:violence|abuse)\b`),
			pat("abuse", 4, `\babus(?:e|ive|er)\b`),
		},
	},
	{
		name:   "resource",
		intent: IntentOtherResources,
		patterns: []pattern{
			pat("resources", 6, `\b(?:resources?|services?)\b`),
			pat("hotline", 7, `\bhotlines?\b`),
			pat("assistance", 5, `\b(?:assistance|financial\s+help)\b`),
			pat("help-with", 5, `\bhelp\s+with\b`),
			pat("seek", 4, `\b(?:find|need|looking\s+for|locate|search(?:ing)?\s+for|get\s+me)\b`),
		},
	},
	{
		name:   "contact",
		intent: IntentGeneralInformation,
		patterns: []pattern{
			pat("phone-number", 8, `\bphone\s+numbers?\b`),
			pat("contact", 6, `\bcontact\b`),
			pat("address", 6, `\b(?:address|email)\b`),
			pat("call", 4, `\b(?:call|dial)\b`),
		},
	},
	{
		name:   "location",
		intent: IntentFindShelter,
		patterns: []pattern{
			pat("near-me", 6, `\b(?:near|close\s+to|around)\s+(?:me|here|us)\b`),
			pat("my-area", 6, `\bin\s+(?:my|the)\s+(?:area|city|town|neighborhood)\b`),
			pat("place-name", 4, `\b(?:in|near|at)\s+[a-z][a-z]+(?:[ ,]+[a-z]+)*$`),
			pat("zip", 4, `\bzip\s*codes?\b`),
		},
	},
	{
		name:   "general",
		intent: IntentOffTopic,
		patterns: []pattern{
			pat("small-talk", 8, `\b(?:weather|sports?|jokes?|music|movies?|recipe)\b`),
			pat("greeting-chat", 6, `\b(?:how\s+are\s+you|what'?s\s+up)\b`),
			pat("about-bot", 6, `\b(?:who\s+are\s+you|are\s+you\s+(?:real|a\s+robot|human))\b`),
		},
	},
	{
		name:   "end",
		intent: IntentEndConversation,
		patterns: []pattern{
			pat("goodbye", 10, `\b(?:goodbye|good\s+bye|bye)\b`),
			pat("hang-up", 10, `\bhang\s+up\b`),
			pat("thats-all", 9, `\bthat(?:'s|\s+is)\s+all\b`),
			pat("done", 8, `\b(?:no\s+more|nothing\s+else|i'?m\s+done)\b`),
		},
	},
}

// deicticRe flags utterances that lean on a referent from earlier in the
// conversation; those get a chat-model assist when one is configured.
var deicticRe = regexp.MustCompile(`\b(?:that|this|one)\b`)

// scoreTable runs the table against a normalized utterance. It returns the
// dominant intent, the confidence derived from the aggregate score, and the
// labels of every matched pattern.
func scoreTable(normalized string) (Intent, float64, []string) {
	var (
		total      float64
		matches    []string
		bestIntent = IntentGeneralInformation
		bestTotal  float64
		bestSingle float64
	)

	for _, cat := range table {
		var catTotal, catSingle float64
		for _, p := range cat.patterns {
			if !p.re.MatchString(normalized) {
				continue
			}
			catTotal += p.weight
			total += p.weight
			if p.weight > catSingle {
				catSingle = p.weight
			}
			matches = append(matches, fmt.Sprintf("%s:%s", cat.name, p.label))
		}
		if catTotal == 0 {
			continue
		}
		// Dominance by category total; ties break toward the category
		// holding the largest single matched weight.
		if catTotal > bestTotal || (catTotal == bestTotal && catSingle > bestSingle) {
			bestTotal = catTotal
			bestSingle = catSingle
			bestIntent = cat.intent
		}
	}

	confidence := total / 20
	if confidence > 1 {
		confidence = 1
	}
	return bestIntent, confidence, matches
}
