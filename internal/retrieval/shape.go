package retrieval

import (
	"fmt"
	"strings"
)

// HotlineLine is the national-hotline trailer appended to every resource SMS
// and sent alone when retrieval comes up empty.
const HotlineLine = "National DV Hotline: 1-800-799-7233"

// Web is the structured summary shape.
type Web struct {
	Count int
	Names []string
}

// shape builds the three presentation forms from ranked results.
func shape(results []Result, location, noun string) (voice, sms string, web Web) {
	voice = voiceLine(results, location, noun)
	sms = smsText(results)
	web = Web{Count: len(results)}
	for _, r := range results {
		web.Names = append(web.Names, r.Title)
	}
	return voice, sms, web
}

// voiceLine renders the spoken summary. The exact phrasing is relied on by
// callers and tests; keep it stable.
func voiceLine(results []Result, location, noun string) string {
	loc := location
	if loc == "" {
		loc = "your area"
	}

	switch n := len(results); n {
	case 1:
		return fmt.Sprintf("I found a %s in %s: %s. How else can I help you today?",
			singular(noun), loc, results[0].Title)
	case 2:
		return fmt.Sprintf("I found 2 %s in %s: %s and %s. How else can I help you today?",
			noun, loc, results[0].Title, results[1].Title)
	case 3:
		return fmt.Sprintf("I found 3 %s in %s: %s, %s, and %s. How else can I help you today?",
			noun, loc, results[0].Title, results[1].Title, results[2].Title)
	default:
		return fmt.Sprintf("I found %d %s in %s, including %s and %s. How else can I help you today?",
			n, noun, loc, results[0].Title, results[1].Title)
	}
}

// notFoundLine is the spoken reply when nothing survives filtering.
func notFoundLine(location, noun string) string {
	loc := location
	if loc == "" {
		loc = "your area"
	}
	return fmt.Sprintf("I'm sorry, I couldn't find any %s in %s. Would you like to try a different location?",
		noun, loc)
}

// smsText renders the numbered SMS body with the hotline trailer. With no
// results only the trailer is sent.
func smsText(results []Result) string {
	if len(results) == 0 {
		return HotlineLine
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if len(r.Addresses) > 0 {
			fmt.Fprintf(&b, "   Address: %s\n", r.Addresses[0])
		}
		phone := notAvailable
		if len(r.Phones) > 0 {
			phone = r.Phones[0]
		}
		fmt.Fprintf(&b, "   Phone: %s\n", phone)
		fmt.Fprintf(&b, "   %s\n\n", r.URL)
	}
	b.WriteString(HotlineLine)
	return b.String()
}

// singular derives the one-result noun ("shelters" → "shelter").
func singular(noun string) string {
	return strings.TrimSuffix(noun, "s")
}
