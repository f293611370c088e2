// Package search defines the Provider interface for location-aware search
// backends and the raw result types they return.
//
// A search provider wraps a remote search API (a structured place index, a
// free-text web search engine) and exposes a uniform interface for the fusion
// engine to fan out over without coupling to any specific backend.
//
// Implementors must be safe for concurrent use. A provider is responsible for
// its own transient-failure handling: a network error or timeout is retried
// at most once within the Search call; a second failure is returned to the
// caller, who treats it as an empty result set rather than a fatal error.
package search

import "context"

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64
	Lon float64
}

// IsZero reports whether l carries no coordinate (the zero value).
func (l Location) IsZero() bool {
	return l.Lat == 0 && l.Lon == 0
}

// Query describes a single provider search request.
type Query struct {
	// Text is the user's search term (e.g., "pizza", "Jamba Juice").
	Text string

	// Origin is the search centre, typically the device GPS fix.
	Origin Location

	// RadiusMeters bounds the search area around Origin.
	RadiusMeters int

	// MaxResults caps the number of places returned. Zero means the
	// provider's default page size.
	MaxResults int
}

// Place is a single raw result record as reported by one provider.
// Optional fields are pointers so that the fusion engine can distinguish
// "unknown" from a genuine zero value when merging duplicate records.
type Place struct {
	// Name is the business or point-of-interest name.
	Name string

	// Address is the street address as reported by the provider.
	Address string

	// Location is the place's coordinates. Providers that cannot geocode a
	// result leave it zero; such records cannot be distance-ranked.
	Location Location

	// Operational reports whether the place is currently in business.
	// Nil means the provider does not know.
	Operational *bool

	// Rating is the average review score, provider scale 0–5. Nil if unknown.
	Rating *float64

	// ReviewCount is the number of reviews behind Rating. Nil if unknown.
	ReviewCount *int

	// Phone is the contact number, empty if the provider has none.
	Phone string
}

// ResultSet is everything one provider returned for one query.
type ResultSet struct {
	// Provider is the name of the backend that produced this set.
	Provider string

	// Places are the raw result records, in provider order.
	Places []Place
}

// Provider is the abstraction over any search backend.
//
// Implementations must be safe for concurrent use and must respect context
// cancellation on all network calls.
type Provider interface {
	// Name returns the stable identifier of this backend (e.g., "places",
	// "websearch"). It is used as the ResultSet.Provider value and in logs
	// and metrics.
	Name() string

	// Search executes the query and returns the raw results. A transient
	// backend failure is retried once internally; if the retry also fails the
	// error is returned and the caller treats the provider's contribution as
	// empty.
	Search(ctx context.Context, q Query) (*ResultSet, error)
}
