// Package places provides a search.Provider backed by a structured place
// index exposing a Google-Places-style JSON API (nearby search keyed by
// coordinates and radius).
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avockley/parlance/pkg/provider/search"
)

const (
	defaultBaseURL = "https://places.googleapis.com/v1/places:searchNearby"
	defaultTimeout = 5 * time.Second
)

// Provider implements search.Provider against a structured place index.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Compile-time interface check.
var _ search.Provider = (*Provider)(nil)

// Option is a functional option for configuring the places Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API endpoint. Useful for tests and for
// self-hosted place indexes that speak the same wire format.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// New creates a new places Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("places: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements search.Provider.
func (p *Provider) Name() string { return "places" }

// apiResult mirrors one entry of the backend's JSON response.
type apiResult struct {
	Name           string   `json:"name"`
	Address        string   `json:"formatted_address"`
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	BusinessStatus string   `json:"business_status"` // OPERATIONAL, CLOSED_TEMPORARILY, CLOSED_PERMANENTLY or ""
	Rating         *float64 `json:"rating"`
	ReviewCount    *int     `json:"user_ratings_total"`
	Phone          string   `json:"formatted_phone_number"`
}

// apiResponse mirrors the backend's JSON response envelope.
type apiResponse struct {
	Results []apiResult `json:"results"`
	Status  string      `json:"status"`
}

// Search implements search.Provider. A transport-level failure or 5xx status
// is retried exactly once; any second failure is returned to the caller.
func (p *Provider) Search(ctx context.Context, q search.Query) (*search.ResultSet, error) {
	resp, err := p.doOnce(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("places: search: %w", ctx.Err())
		}
		// One retry for transient failures.
		resp, err = p.doOnce(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("places: search after retry: %w", err)
		}
	}

	rs := &search.ResultSet{Provider: p.Name()}
	for _, r := range resp.Results {
		rs.Places = append(rs.Places, toPlace(r))
	}
	return rs, nil
}

// doOnce performs a single HTTP round-trip and decodes the response.
func (p *Provider) doOnce(ctx context.Context, q search.Query) (*apiResponse, error) {
	params := url.Values{}
	params.Set("keyword", q.Text)
	params.Set("location", fmt.Sprintf("%f,%f", q.Origin.Lat, q.Origin.Lon))
	params.Set("radius", strconv.Itoa(q.RadiusMeters))
	if q.MaxResults > 0 {
		params.Set("limit", strconv.Itoa(q.MaxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Goog-Api-Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("server error: status %d", httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, body)
	}

	var decoded apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &decoded, nil
}

// toPlace converts a raw API record into a search.Place.
func toPlace(r apiResult) search.Place {
	pl := search.Place{
		Name:        r.Name,
		Address:     r.Address,
		Location:    search.Location{Lat: r.Lat, Lon: r.Lng},
		Rating:      r.Rating,
		ReviewCount: r.ReviewCount,
		Phone:       r.Phone,
	}
	switch r.BusinessStatus {
	case "OPERATIONAL":
		op := true
		pl.Operational = &op
	case "CLOSED_TEMPORARILY", "CLOSED_PERMANENTLY":
		op := false
		pl.Operational = &op
	}
	return pl
}
