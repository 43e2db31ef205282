// Package rewrite turns a raw caller utterance into a search query. Service
// intents are rewritten onto fixed query templates with a resolved location
// and US-only source filters; informational intents keep the caller's words
// and gain enrichment terms. Location text is resolved through the geocoder
// behind the 24 h geocode cache.
package rewrite

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/havenline/havenline/internal/cache"
	"github.com/havenline/havenline/internal/classify"
	"github.com/havenline/havenline/pkg/provider/geocode"
)

// Query templates and enrichment terms. The shelter template plus the US
// filter chain is load-bearing for tests; change nothing casually.
const (
	shelterBase    = "domestic violence shelter"
	legalBase      = "domestic violence legal aid services"
	counselingBase = "domestic violence counseling services"

	usFilters = "site:org OR site:gov -site:wikipedia.org -filetype:pdf"

	infoSuffix      = "information resources guide"
	resourceSuffix  = "support resources assistance"
	emergencySuffix = "24/7 hotline immediate assistance"
)

// Query is a rewritten search request.
type Query struct {
	// Text is the final search string.
	Text string
	// Location is the resolved location, nil when none resolved.
	Location *geocode.Location
}

// Rewriter builds search queries. Safe for concurrent use.
type Rewriter struct {
	geo   geocode.Provider
	cache *cache.Cache[*geocode.Location]
	log   *slog.Logger
}

// Option is a functional option for configuring a Rewriter.
type Option func(*Rewriter)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Rewriter) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a Rewriter. geo may be nil to disable location resolution
// entirely; locations may be nil to geocode without caching.
func New(geo geocode.Provider, locations *cache.Cache[*geocode.Location], opts ...Option) *Rewriter {
	r := &Rewriter{
		geo:   geo,
		cache: locations,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rewrite builds the search query for one utterance. lastLocation is the
// session's most recent location text ("" when none); it is used only when
// the utterance itself names no place.
//
// Geocoding failures never fail the rewrite: the query is simply built
// without a location. Only context cancellation propagates as an error.
// The function is deterministic for fixed (utterance, intent, lastLocation)
// while the geocode cache holds its entry.
func (r *Rewriter) Rewrite(ctx context.Context, utterance string, intent classify.Intent, lastLocation string) (Query, error) {
	utterance = strings.TrimSpace(utterance)

	candidate := ExtractLocationText(utterance)
	if candidate == "" {
		candidate = lastLocation
	}

	var loc *geocode.Location
	if candidate != "" && r.geo != nil {
		var err error
		loc, err = r.resolve(ctx, candidate)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return Query{}, err
		case errors.Is(err, geocode.ErrNoMatch):
			loc = nil
		default:
			r.log.Warn("rewrite: geocode failed, continuing without location",
				"candidate", candidate, "err", err)
			loc = nil
		}
	}

	return Query{Text: r.buildText(utterance, intent, candidate, loc), Location: loc}, nil
}

// buildText assembles the final search string.
func (r *Rewriter) buildText(utterance string, intent classify.Intent, candidate string, loc *geocode.Location) string {
	switch intent {
	case classify.IntentFindShelter, classify.IntentLegalServices, classify.IntentCounselingServices:
		base := shelterBase
		switch intent {
		case classify.IntentLegalServices:
			base = legalBase
		case classify.IntentCounselingServices:
			base = counselingBase
		}
		if loc == nil {
			return base
		}
		if loc.IsUS {
			return base + " near " + loc.Display + " " + usFilters
		}
		// Non-US places get the caller's location text verbatim and no
		// source filters.
		return base + " " + candidate

	case classify.IntentGeneralInformation:
		return utterance + " " + infoSuffix
	case classify.IntentOtherResources:
		return utterance + " " + resourceSuffix
	case classify.IntentEmergencyHelp:
		return utterance + " " + emergencySuffix
	default:
		return utterance
	}
}

// resolve geocodes candidate text through the cache. Cache keys are
// normalized so "Austin, Texas" and "austin, texas" share an entry.
func (r *Rewriter) resolve(ctx context.Context, candidate string) (*geocode.Location, error) {
	key := strings.ToLower(strings.TrimSpace(candidate))
	if r.cache == nil {
		return r.geo.Resolve(ctx, candidate)
	}
	return r.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*geocode.Location, error) {
		return r.geo.Resolve(ctx, candidate)
	})
}

// locRe captures a place phrase after a location preposition at the end of
// the utterance. The leading letter requirement keeps street numbers out.
var locRe = regexp.MustCompile(`\b(?:in|near|at|around|close\s+to)\s+([a-z][a-z0-9 .,'-]{1,60})$`)

// locStopwords are captures that name no real place.
var locStopwords = map[string]bool{
	"me": true, "us": true, "here": true, "there": true, "you": true,
	"home": true, "my home": true, "my house": true,
	"town": true, "my town": true, "city": true, "my city": true, "the city": true,
	"area": true, "my area": true, "the area": true, "this area": true,
	"my neighborhood": true, "the neighborhood": true,
}

// fillerTail are words callers append after a place name; they are stripped
// from the end of a captured phrase before it goes to the geocoder.
var fillerTail = map[string]bool{
	"please": true, "thanks": true, "today": true, "tonight": true,
	"now": true, "soon": true,
}

// ExtractLocationText returns the place phrase the utterance names, or ""
// when it names none. Pure text heuristic; the geocoder has the final say on
// whether the phrase is a real place. The router uses this to decide whether
// to offer the previous session location.
func ExtractLocationText(utterance string) string {
	u := strings.ToLower(strings.TrimSpace(utterance))
	u = strings.TrimRight(u, ".!?")

	m := locRe.FindStringSubmatch(u)
	if m == nil {
		return ""
	}
	candidate := strings.Trim(m[1], " .,")

	words := strings.Fields(candidate)
	for len(words) > 0 && fillerTail[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	candidate = strings.Join(words, " ")

	if candidate == "" || locStopwords[candidate] {
		return ""
	}
	return candidate
}
