// Package websearch provides a search.Provider backed by a free-text web
// search API (Brave-Search-style JSON over HTTPS).
//
// Web results are weaker than structured place records: coordinates, ratings
// and operational status are usually absent. The provider maps whatever
// structured "local result" fields the API returns and leaves the rest nil so
// that the fusion engine prefers richer records when merging duplicates.
package websearch

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
	defaultBaseURL = "https://api.search.brave.com/res/v1/local/search"
	defaultTimeout = 5 * time.Second
)

// Provider implements search.Provider against a web search API.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Compile-time interface check.
var _ search.Provider = (*Provider)(nil)

// Option is a functional option for configuring the websearch Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API endpoint.
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

// New creates a new websearch Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("websearch: apiKey must not be empty")
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
func (p *Provider) Name() string { return "websearch" }

// localResult mirrors one web "local result" entry.
type localResult struct {
	Title     string   `json:"title"`
	Address   string   `json:"address"`
	Lat       *float64 `json:"latitude"`
	Lon       *float64 `json:"longitude"`
	Rating    *float64 `json:"rating"`
	Reviews   *int     `json:"review_count"`
	Phone     string   `json:"phone"`
	IsClosed  *bool    `json:"is_closed"`
}

// apiResponse mirrors the search API's JSON response envelope.
type apiResponse struct {
	Results []localResult `json:"results"`
}

// Search implements search.Provider. A transport-level failure or 5xx status
// is retried exactly once; any second failure is returned to the caller.
func (p *Provider) Search(ctx context.Context, q search.Query) (*search.ResultSet, error) {
	resp, err := p.doOnce(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("websearch: search: %w", ctx.Err())
		}
		resp, err = p.doOnce(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("websearch: search after retry: %w", err)
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
	params.Set("q", q.Text)
	params.Set("lat", fmt.Sprintf("%f", q.Origin.Lat))
	params.Set("lon", fmt.Sprintf("%f", q.Origin.Lon))
	if q.MaxResults > 0 {
		params.Set("count", strconv.Itoa(q.MaxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", p.apiKey)
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

// toPlace converts a raw local result into a search.Place.
func toPlace(r localResult) search.Place {
	pl := search.Place{
		Name:        r.Title,
		Address:     r.Address,
		Rating:      r.Rating,
		ReviewCount: r.Reviews,
		Phone:       r.Phone,
	}
	if r.Lat != nil && r.Lon != nil {
		pl.Location = search.Location{Lat: *r.Lat, Lon: *r.Lon}
	}
	if r.IsClosed != nil {
		op := !*r.IsClosed
		pl.Operational = &op
	}
	return pl
}
