package search

// Depth selects how much work the backend puts into one query.
type Depth string

const (
	// DepthBasic is the cheaper single-pass search.
	DepthBasic Depth = "basic"
	// DepthAdvanced asks the backend for deeper crawling and snippet
	// extraction. The relay default.
	DepthAdvanced Depth = "advanced"
)

// Options tunes one search call. The zero value asks for the backend
// defaults.
type Options struct {
	// Depth of the search. Empty means backend default.
	Depth Depth
	// MaxResults caps the result count. Zero means backend default.
	MaxResults int
	// IncludeDomains restricts results to these domains when non-empty.
	IncludeDomains []string
	// ExcludeDomains drops results from these domains.
	ExcludeDomains []string
	// IncludeAnswer asks the backend for a synthesised answer string.
	IncludeAnswer bool
	// IncludeRawContent asks for full page text instead of snippets.
	IncludeRawContent bool
}

// Result is one document returned by the backend.
type Result struct {
	Title string
	URL   string
	// Content is the snippet or raw page text, per Options.
	Content string
	// Score is the backend's relevance estimate in [0, 1].
	Score float64
}

// Response is one completed search.
type Response struct {
	// Answer is the backend-synthesised answer, when requested and
	// available. Empty otherwise.
	Answer string
	// Results in backend rank order.
	Results []Result
}
