// Package geocode defines the interface for resolving free-form location
// text ("austin", "near dallas texas") into a normalized Location. The query
// rewriter uses the result to scope searches and to decide whether US-only
// search filters apply.
package geocode

import (
	"context"
	"errors"
)

// ErrNoMatch is returned when the geocoder found nothing for the input text.
// Callers treat it as "no resolved location", not as a transport failure.
var ErrNoMatch = errors.New("geocode: no match")

// Location is a normalized geocoding result.
type Location struct {
	// Display is a compact human-readable rendering, typically
	// "City, Region". It is the string read back to callers and embedded
	// in rewritten search queries.
	Display string
	// City and Region are the resolved locality and state/province, when
	// the geocoder reports them.
	City   string
	Region string
	// CountryCode is the uppercase ISO 3166-1 alpha-2 code, e.g. "US".
	CountryCode string
	// IsUS reports whether the location resolved inside the United
	// States. US locations unlock the site: search filters.
	IsUS bool
	// Scope is the granularity of the match as reported by the geocoder,
	// e.g. "city", "county", "state", "country".
	Scope string
}

// Provider resolves location text. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Resolve geocodes free-form location text. It returns ErrNoMatch
	// (possibly wrapped) when the text does not correspond to any known
	// place.
	Resolve(ctx context.Context, text string) (*Location, error)
}
