// Package fusion merges raw result sets from multiple search providers into a
// single deduplicated, ranked candidate list.
//
// Providers are queried concurrently with independent timeouts; a slow or
// failing provider contributes an empty set instead of blocking the others.
// Duplicate records are detected by a normalized (name, address) key with a
// fuzzy name comparison for near-miss spellings, and merged so that the
// richest available fields win. Distances are recomputed locally with the
// haversine formula — provider-reported distances are ignored.
package fusion

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avockley/parlance/pkg/provider/search"
)

// Candidate is a normalized, deduplicated place record produced by the engine.
type Candidate struct {
	// Name is the business or point-of-interest name.
	Name string

	// Address is the street address.
	Address string

	// Location is the candidate's coordinates.
	Location search.Location

	// DistanceMeters is the haversine distance from the query origin.
	// This value is authoritative; provider-reported distances are discarded.
	DistanceMeters float64

	// Operational reports whether the place is in business. Nil means no
	// provider knew.
	Operational *bool

	// Rating is the average review score, nil if unknown.
	Rating *float64

	// ReviewCount is the number of reviews, nil if unknown.
	ReviewCount *int

	// Phone is the contact number, empty if unknown.
	Phone string
}

// Closed reports whether the candidate is known to be out of business.
// A nil Operational field counts as open for ranking purposes.
func (c Candidate) Closed() bool {
	return c.Operational != nil && !*c.Operational
}

// Reliable reports whether the candidate is trustworthy enough to answer
// with: not known-closed, and either a phone number or at least minReviews
// reviews backing it.
func (c Candidate) Reliable(minReviews int) bool {
	if c.Closed() {
		return false
	}
	if c.Phone != "" {
		return true
	}
	return c.ReviewCount != nil && *c.ReviewCount >= minReviews
}

// Result is the outcome of one Fuse call.
type Result struct {
	// Candidates is the deduplicated, ranked candidate list.
	Candidates []Candidate

	// InsufficientCoverage is set when fewer than the configured minimum of
	// reliable candidates were found within the requested radius. The caller
	// decides whether to retry with an expanded radius; the radius ladder is
	// caller policy, not engine policy.
	InsufficientCoverage bool
}

// Engine fans a query out over its providers and fuses the results.
// Engine is safe for concurrent use.
type Engine struct {
	providers       []search.Provider
	providerTimeout time.Duration
	minReliable     int
	minReviews      int
	maxResults      int
}

// Option is a functional option for NewEngine.
type Option func(*Engine)

// WithProviderTimeout bounds each individual provider call. Defaults to 3s.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Engine) { e.providerTimeout = d }
}

// WithMinReliable sets how many reliable candidates must be found before the
// engine stops reporting InsufficientCoverage. Defaults to 2.
func WithMinReliable(n int) Option {
	return func(e *Engine) { e.minReliable = n }
}

// WithMinReviews sets the review-count floor used by the reliability check.
// Defaults to 5.
func WithMinReviews(n int) Option {
	return func(e *Engine) { e.minReviews = n }
}

// WithMaxResults caps the result count requested from each provider.
// Defaults to 10. The cap applies per provider, before fusion; the fused
// list can be shorter after deduplication.
func WithMaxResults(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxResults = n
		}
	}
}

// NewEngine creates an Engine over the given providers.
func NewEngine(providers []search.Provider, opts ...Option) *Engine {
	e := &Engine{
		providers:       providers,
		providerTimeout: 3 * time.Second,
		minReliable:     2,
		minReviews:      5,
		maxResults:      10,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Fuse queries all providers concurrently for text within radiusMeters of
// origin, then deduplicates, scores and ranks the combined results.
//
// Individual provider failures and timeouts are logged and treated as empty
// result sets; Fuse itself only fails when ctx is cancelled before any work
// could complete.
func (e *Engine) Fuse(ctx context.Context, text string, origin search.Location, radiusMeters int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := search.Query{
		Text:         text,
		Origin:       origin,
		RadiusMeters: radiusMeters,
		MaxResults:   e.maxResults,
	}

	sets := make([]*search.ResultSet, len(e.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range e.providers {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, e.providerTimeout)
			defer cancel()

			rs, err := p.Search(callCtx, q)
			if err != nil {
				// A failed provider is an empty set, never a fused failure.
				slog.Warn("search provider failed; continuing without it",
					"provider", p.Name(), "error", err)
				return nil
			}
			sets[i] = rs
			return nil
		})
	}
	// Goroutines only return nil; Wait is for synchronisation.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := e.merge(sets, origin)
	rank(candidates)

	reliable := 0
	for _, c := range candidates {
		if c.Reliable(e.minReviews) {
			reliable++
		}
	}

	return &Result{
		Candidates:           candidates,
		InsufficientCoverage: reliable < e.minReliable,
	}, nil
}

// merge deduplicates all provider records into candidates, computing each
// candidate's authoritative distance from origin.
func (e *Engine) merge(sets []*search.ResultSet, origin search.Location) []Candidate {
	var out []Candidate
	index := make(map[string]int) // dedup key → index into out

	for _, rs := range sets {
		if rs == nil {
			continue
		}
		for _, pl := range rs.Places {
			if pl.Name == "" {
				continue
			}
			cand := Candidate{
				Name:        pl.Name,
				Address:     pl.Address,
				Location:    pl.Location,
				Operational: pl.Operational,
				Rating:      pl.Rating,
				ReviewCount: pl.ReviewCount,
				Phone:       pl.Phone,
			}
			if pl.Location.IsZero() {
				// No coordinates means no distance rank; sort it last.
				cand.DistanceMeters = math.Inf(1)
			} else {
				cand.DistanceMeters = Haversine(origin, pl.Location)
			}

			key := dedupKey(pl.Name, pl.Address)
			if i, ok := index[key]; ok {
				out[i] = mergeRecords(out[i], cand)
				continue
			}
			if i, ok := fuzzyLookup(out, pl.Name, pl.Address); ok {
				out[i] = mergeRecords(out[i], cand)
				continue
			}
			index[key] = len(out)
			out = append(out, cand)
		}
	}
	return out
}

// mergeRecords combines two records for the same place, preferring whichever
// side actually knows each optional field.
func mergeRecords(a, b Candidate) Candidate {
	merged := a
	if merged.Operational == nil {
		merged.Operational = b.Operational
	}
	if merged.Rating == nil {
		merged.Rating = b.Rating
	}
	if merged.ReviewCount == nil {
		merged.ReviewCount = b.ReviewCount
	} else if b.ReviewCount != nil && *b.ReviewCount > *merged.ReviewCount {
		merged.ReviewCount = b.ReviewCount
		merged.Rating = b.Rating
	}
	if merged.Phone == "" {
		merged.Phone = b.Phone
	}
	if merged.Address == "" {
		merged.Address = b.Address
	}
	if merged.Location.IsZero() {
		merged.Location = b.Location
		merged.DistanceMeters = b.DistanceMeters
	}
	return merged
}

// rank sorts candidates into the composite order: operational first, then
// distance ascending, then review count descending, ties broken by name.
// The order is total and deterministic for any input.
func rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Closed() != b.Closed() {
			return !a.Closed()
		}
		if a.DistanceMeters != b.DistanceMeters {
			return a.DistanceMeters < b.DistanceMeters
		}
		ar, br := 0, 0
		if a.ReviewCount != nil {
			ar = *a.ReviewCount
		}
		if b.ReviewCount != nil {
			br = *b.ReviewCount
		}
		if ar != br {
			return ar > br
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Address < b.Address
	})
}

// dedupKey builds the normalized (name, address) identity key for a record.
func dedupKey(name, address string) string {
	return normalize(name) + "|" + normalize(address)
}

// normalize lowercases s and collapses it to space-separated alphanumeric
// tokens so that formatting differences do not defeat deduplication.
func normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
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
