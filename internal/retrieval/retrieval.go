// Package retrieval implements the search → filter → extract → shape
// pipeline behind factual answers: call the search vendor under a hard
// deadline, keep only on-mission results, pull out contact details, and
// render the voice, SMS, and web forms of the answer.
//
// Answers are cached by (query, location). Empty answers are never cached,
// so a later identical query gets a fresh chance upstream.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/havenline/havenline/internal/cache"
	"github.com/havenline/havenline/internal/stats"
	"github.com/havenline/havenline/pkg/provider/search"
)

const (
	defaultTimeout    = 6 * time.Second
	defaultMinScore   = 0.5
	defaultTopN       = 3
	defaultSearchMax  = 5
	defaultNoun       = "shelters"
	defaultDepth      = search.DepthAdvanced
)

// errEmptyAnswer marks a loader result that must not be cached. Waiters
// rebuild the (deterministic) empty answer themselves.
var errEmptyAnswer = errors.New("retrieval: empty answer")

// dvKeywords is the fixed relevance set: a result must mention at least one
// of these in its title, url, or content to be presented.
var dvKeywords = []string{
	"shelter", "domestic violence", "domestic abuse", "abuse", "victim",
	"survivor", "crisis", "safe house", "safehouse", "refuge", "hotline",
	"violence", "advocacy", "protective order", "legal aid", "counseling",
}

// defaultBlockedDomains drops social, travel, and directory sites that score
// well but never hold usable service listings.
var defaultBlockedDomains = []string{
	"facebook.com", "twitter.com", "x.com", "instagram.com", "tiktok.com",
	"pinterest.com", "youtube.com", "reddit.com", "linkedin.com",
	"yelp.com", "tripadvisor.com", "expedia.com", "booking.com",
	"airbnb.com", "yellowpages.com", "whitepages.com", "mapquest.com",
}

// defaultGuideRe drops generic city-guide and tourism pages.
var defaultGuideRe = regexp.MustCompile(
	`(?i)\b(?:city guide|travel guide|visitor'?s? guide|top \d+|best (?:places|things)|things to do|tourism|vacation|moving to)\b`)

// Result is one presentable search hit.
type Result struct {
	// Title is already cleaned (CleanTitle).
	Title   string
	URL     string
	Content string
	// Score is the vendor relevance score in [0, 1].
	Score float64
	// Phones and Addresses are extracted from Content, normalized.
	Phones    []string
	Addresses []string
	// HasContactInfo reports whether either extraction found anything.
	HasContactInfo bool
}

// Answer is the presentable triple for one retrieval, plus the results that
// produced it (the follow-up engine keeps them as context).
type Answer struct {
	Voice string
	SMS   string
	Web   Web
	// Results are the ranked, presented results, at most the configured
	// top-N. Empty when nothing survived filtering.
	Results []Result
	// Location is the display location this answer was scoped to ("" when
	// none).
	Location string
	// Summary is the vendor's synthesized answer when it sent one. The
	// router hands it to the chat model as grounding context.
	Summary string
}

// Empty reports whether no results survived the pipeline.
func (a *Answer) Empty() bool { return len(a.Results) == 0 }

// Retriever runs the pipeline. Safe for concurrent use.
type Retriever struct {
	search search.Provider
	cache  *cache.Cache[*Answer]
	stats  *stats.Registry
	log    *slog.Logger

	timeout        time.Duration
	minScore       float64
	topN           int
	searchMax      int
	depth          search.Depth
	includeDomains []string
	excludeDomains []string
	blockedDomains []string
	guideRe        *regexp.Regexp
}

// Option is a functional option for configuring a Retriever.
type Option func(*Retriever)

// WithTimeout sets the hard search deadline. Defaults to 6s.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMinScore sets the relevance floor. Defaults to 0.5.
func WithMinScore(s float64) Option {
	return func(r *Retriever) {
		if s > 0 {
			r.minScore = s
		}
	}
}

// WithTopN caps the presented results. Defaults to 3.
func WithTopN(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.topN = n
		}
	}
}

// WithSearchMaxResults sets how many results to request upstream. Defaults
// to 5.
func WithSearchMaxResults(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.searchMax = n
		}
	}
}

// WithDepth sets the vendor search depth. Defaults to advanced.
func WithDepth(d search.Depth) Option {
	return func(r *Retriever) {
		if d != "" {
			r.depth = d
		}
	}
}

// WithIncludeDomains restricts the upstream search to the given domains.
func WithIncludeDomains(domains []string) Option {
	return func(r *Retriever) {
		r.includeDomains = domains
	}
}

// WithExcludeDomains excludes domains both upstream and in the local filter.
func WithExcludeDomains(domains []string) Option {
	return func(r *Retriever) {
		r.excludeDomains = domains
	}
}

// WithBlockedDomains replaces the built-in social/travel/directory blocklist.
func WithBlockedDomains(domains []string) Option {
	return func(r *Retriever) {
		r.blockedDomains = domains
	}
}

// WithGuidePattern replaces the generic-guide filter pattern.
func WithGuidePattern(re *regexp.Regexp) Option {
	return func(r *Retriever) {
		if re != nil {
			r.guideRe = re
		}
	}
}

// WithStats wires the operational counters (tavily.count, tavily.success).
func WithStats(reg *stats.Registry) Option {
	return func(r *Retriever) {
		r.stats = reg
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a Retriever over the given search provider. answers may be nil
// to disable caching (tests).
func New(p search.Provider, answers *cache.Cache[*Answer], opts ...Option) *Retriever {
	r := &Retriever{
		search:         p,
		cache:          answers,
		log:            slog.Default(),
		timeout:        defaultTimeout,
		minScore:       defaultMinScore,
		topN:           defaultTopN,
		searchMax:      defaultSearchMax,
		depth:          defaultDepth,
		blockedDomains: defaultBlockedDomains,
		guideRe:        defaultGuideRe,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Opts tunes one retrieval.
type Opts struct {
	// Noun names the result type in spoken shapes. Defaults to "shelters".
	Noun string
	// TopN overrides the presented-result cap for this call.
	TopN int
}

// Retrieve runs the pipeline for one rewritten query. location scopes the
// cache key and the spoken shapes; it may be "".
//
// Upstream errors (including the hard-deadline Timeout) are returned
// unchanged for the router to classify. An empty answer is a valid answer,
// not an error.
func (r *Retriever) Retrieve(ctx context.Context, query, location string, opts Opts) (*Answer, error) {
	noun := opts.Noun
	if noun == "" {
		noun = defaultNoun
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = r.topN
	}

	if r.cache == nil {
		a, err := r.retrieve(ctx, query, location, noun, topN)
		if errors.Is(err, errEmptyAnswer) {
			return r.emptyAnswer(location, noun), nil
		}
		return a, err
	}

	key := query + "\x1f" + location
	a, err := r.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*Answer, error) {
		return r.retrieve(ctx, query, location, noun, topN)
	})
	if errors.Is(err, errEmptyAnswer) {
		// Deterministic for fixed inputs, so flight waiters can rebuild
		// it without the owner's copy.
		return r.emptyAnswer(location, noun), nil
	}
	return a, err
}

func (r *Retriever) retrieve(ctx context.Context, query, location, noun string, topN int) (*Answer, error) {
	r.inc(stats.SearchCount)

	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.search.Search(sctx, query, search.Options{
		Depth:          r.depth,
		MaxResults:     r.searchMax,
		IncludeDomains: r.includeDomains,
		ExcludeDomains: r.excludeDomains,
		IncludeAnswer:  true,
	})
	if err != nil {
		r.log.Warn("retrieval search failed",
			"duration", time.Since(start), "err", err)
		return nil, err
	}
	r.inc(stats.SearchSuccess)

	results := annotate(r.filter(resp.Results))
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topN {
		results = results[:topN]
	}

	if len(results) == 0 {
		r.log.Debug("retrieval empty after filtering",
			"query", query, "raw_results", len(resp.Results))
		return nil, errEmptyAnswer
	}

	answer := &Answer{Results: results, Location: location, Summary: resp.Answer}
	answer.Voice, answer.SMS, answer.Web = shape(results, location, noun)
	return answer, nil
}

// emptyAnswer is the canonical nothing-found reply.
func (r *Retriever) emptyAnswer(location, noun string) *Answer {
	return &Answer{
		Voice:    notFoundLine(location, noun),
		SMS:      HotlineLine,
		Location: location,
	}
}

// filter applies the relevance gate: score floor, domain blocklists, generic
// guide pages, and the fixed keyword requirement.
func (r *Retriever) filter(in []search.Result) []search.Result {
	out := make([]search.Result, 0, len(in))
	for _, res := range in {
		if res.Score < r.minScore {
			continue
		}
		if host := hostOf(res.URL); host != "" && (r.domainBlocked(host, r.excludeDomains) || r.domainBlocked(host, r.blockedDomains)) {
			continue
		}
		if r.guideRe.MatchString(res.Title) || r.guideRe.MatchString(res.Content) {
			continue
		}
		if !hasDVKeyword(res.Title, res.URL, res.Content) {
			continue
		}
		out = append(out, res)
	}
	return out
}

// annotate cleans titles and extracts contact details.
func annotate(in []search.Result) []Result {
	out := make([]Result, 0, len(in))
	for _, sr := range in {
		phones := extractPhones(sr.Content)
		addrs := extractAddresses(sr.Content)
		out = append(out, Result{
			Title:          CleanTitle(sr.Title),
			URL:            sr.URL,
			Content:        sr.Content,
			Score:          sr.Score,
			Phones:         phones,
			Addresses:      addrs,
			HasContactInfo: len(phones) > 0 || len(addrs) > 0,
		})
	}
	return out
}

func hasDVKeyword(title, rawURL, content string) bool {
	hay := strings.ToLower(title + " " + rawURL + " " + content)
	for _, kw := range dvKeywords {
		if strings.Contains(hay, kw) {
			return true
		}
	}
	return false
}

// domainBlocked reports whether host is one of, or a subdomain of, the
// given domains.
func (r *Retriever) domainBlocked(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// hostOf returns the lowercased hostname without a leading "www.", or ""
// when the URL does not parse.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

func (r *Retriever) inc(name string) {
	if r.stats != nil {
		r.stats.Inc(name)
	}
}
