package retrieval

import (
	"regexp"
	"strings"
)

const (
	unknownOrg   = "Unknown Organization"
	notAvailable = "Not available"

	maxTitleLen = 80
)

// phoneRe matches US phone numbers in loose formats (dots, dashes, spaces,
// or nothing between groups).
var phoneRe = regexp.MustCompile(`(\d{3})[-.\s]?(\d{3})[-.\s]?(\d{4})`)

// NormalizePhone returns the first phone number in s as NNN-NNN-NNNN, or
// "Not available" when s contains none.
func NormalizePhone(s string) string {
	m := phoneRe.FindStringSubmatch(s)
	if m == nil {
		return notAvailable
	}
	return m[1] + "-" + m[2] + "-" + m[3]
}

// extractPhones returns every distinct normalized phone number in s,
// in order of first appearance.
func extractPhones(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range phoneRe.FindAllStringSubmatch(s, -1) {
		p := m[1] + "-" + m[2] + "-" + m[3]
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// streetRe matches US street addresses, optionally followed by a
// city, state and zip. cityStateZipRe catches the bare "City, ST 12345"
// form on its own.
var (
	streetRe = regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z][A-Za-z0-9 .]*?\s+` +
		`(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln|Way|Court|Ct|Place|Pl)\b\.?` +
		`(?:,?\s+[A-Za-z .]+,\s*[A-Z]{2}\s*\d{5}(?:-\d{4})?)?`)
	cityStateZipRe = regexp.MustCompile(`\b[A-Z][A-Za-z .]+,\s*[A-Z]{2}\s+\d{5}(?:-\d{4})?\b`)
)

// extractAddresses returns distinct US-style addresses found in s: street
// addresses first, then bare city-state-zip mentions not already covered.
func extractAddresses(s string) []string {
	var out []string
	seen := make(map[string]bool)

	add := func(a string) {
		a = strings.TrimSpace(strings.Trim(a, ".,"))
		if a == "" || seen[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}

	for _, m := range streetRe.FindAllString(s, -1) {
		add(m)
	}
	for _, m := range cityStateZipRe.FindAllString(s, -1) {
		covered := false
		for _, prev := range out {
			if strings.Contains(prev, m) {
				covered = true
				break
			}
		}
		if !covered {
			add(m)
		}
	}
	return out
}

// bracketTagRe strips leading "[PDF]"-style tags off titles.
var bracketTagRe = regexp.MustCompile(`^\[[^\]]*\]\s*`)

// CleanTitle normalizes a search-result title for speech and SMS: leading
// bracketed tags go, everything from the first " - " on goes (site-name
// suffixes), long titles are truncated, and an empty remainder becomes
// "Unknown Organization". The function is idempotent.
func CleanTitle(title string) string {
	t := strings.TrimSpace(title)

	for {
		stripped := bracketTagRe.ReplaceAllString(t, "")
		if stripped == t {
			break
		}
		t = stripped
	}

	if i := strings.Index(t, " - "); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)

	if t == "" {
		return unknownOrg
	}

	if runes := []rune(t); len(runes) > maxTitleLen {
		t = string(runes[:maxTitleLen-3]) + "..."
	}
	return t
}
