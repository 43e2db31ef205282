package session

import (
	"time"

	"github.com/havenline/havenline/internal/classify"
	"github.com/havenline/havenline/internal/retrieval"
)

// ContextTTL is how long a follow-up context stays usable after its last
// refresh. Past it the context must be treated as absent.
const ContextTTL = 5 * time.Minute

// QueryContext is the follow-up memory for one answered search: what was
// asked, where, and which results the caller heard. The session owns it;
// the follow-up engine borrows and refreshes it.
//
// A QueryContext is only read and written by the turn that currently holds
// the session's turn slot, so its fields need no locking of their own.
type QueryContext struct {
	// Intent that produced the results.
	Intent classify.Intent
	// Query is the rewritten search query.
	Query string
	// Location is the display location the search was scoped to, or "".
	Location string
	// Results are the presented results, most relevant first.
	Results []retrieval.Result
	// SMS is the stored text form of the presented answer. Send-details
	// follow-ups and consent-granted call ends reuse it verbatim.
	SMS string
	// FocusResultTitle is the cleaned title of the result most recently
	// spoken about, or "".
	FocusResultTitle string
	// Timestamp is the creation or last-refresh instant.
	Timestamp time.Time
}

// Expired reports whether the context is past its lifetime at now.
func (qc *QueryContext) Expired(now time.Time) bool {
	return now.Sub(qc.Timestamp) > ContextTTL
}

// Refresh marks the context as just used, extending its lifetime.
func (qc *QueryContext) Refresh(now time.Time) {
	qc.Timestamp = now
}
