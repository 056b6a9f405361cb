// Package stac is a minimal client for the STAC item-search endpoint of
// a catalogue service: paged GET /search queries with CQL2 text filters
// plus per-collection queryables. Only the fields this client consumes
// are modeled.
package stac

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

	"golang.org/x/time/rate"
)

// ErrCatalog reports a failed request to the catalogue service. Callers
// running multi-collection batches branch on it to skip the failing
// collection and continue.
var ErrCatalog = errors.New("catalogue request failed")

// defaultPageLimit is the page size requested from the service.
const defaultPageLimit = 100

// Query describes one item search.
type Query struct {
	Collection string
	Filter     string // CQL2 text expression, empty for none
	Start      time.Time
	End        time.Time
	MaxItems   int // 0 means unbounded
}

// Asset is one downloadable asset of an item.
type Asset struct {
	Href  string `json:"href"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Item is one search feature.
type Item struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection,omitempty"`
	Properties map[string]any   `json:"properties,omitempty"`
	Assets     map[string]Asset `json:"assets"`
}

// Result is an accumulated search response.
type Result struct {
	// Matched is the service-reported total match count, -1 when the
	// service did not report one.
	Matched int
	Items   []Item
}

type link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type featureCollection struct {
	Features      []Item `json:"features"`
	Links         []link `json:"links"`
	NumberMatched *int   `json:"numberMatched"`
}

// Client talks to one STAC endpoint. Requests are paced by a shared
// rate limiter so paged searches do not hammer the service.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit paces requests at r per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

// NewClient returns a client for baseURL (e.g. the catalogue root, with
// no trailing slash).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search runs a paged item search and accumulates results until the
// last page or until MaxItems items have been collected.
func (c *Client) Search(ctx context.Context, q Query) (*Result, error) {
	params := url.Values{}
	params.Set("collections", q.Collection)
	if q.Filter != "" {
		params.Set("filter", q.Filter)
		params.Set("filter-lang", "cql2-text")
	}
	if !q.Start.IsZero() || !q.End.IsZero() {
		params.Set("datetime", datetimeParam(q.Start, q.End))
	}
	limit := defaultPageLimit
	if q.MaxItems > 0 && q.MaxItems < limit {
		limit = q.MaxItems
	}
	params.Set("limit", strconv.Itoa(limit))

	next := c.baseURL + "/search?" + params.Encode()
	result := &Result{Matched: -1}

	for next != "" {
		fc, err := c.getPage(ctx, next)
		if err != nil {
			return nil, err
		}
		if fc.NumberMatched != nil {
			result.Matched = *fc.NumberMatched
		}
		result.Items = append(result.Items, fc.Features...)
		if q.MaxItems > 0 && len(result.Items) >= q.MaxItems {
			result.Items = result.Items[:q.MaxItems]
			break
		}
		next = nextLink(fc.Links)
	}
	return result, nil
}

// Queryables fetches the raw queryables JSON schema for a collection.
func (c *Client) Queryables(ctx context.Context, collection string) ([]byte, error) {
	u := c.baseURL + "/collections/" + url.PathEscape(collection) + "/queryables"
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stac: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stac: get queryables %s: %w: %w", collection, ErrCatalog, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stac: get queryables %s: %w: status %d", collection, ErrCatalog, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stac: read queryables %s: %w", collection, err)
	}
	return data, nil
}

func (c *Client) getPage(ctx context.Context, u string) (*featureCollection, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stac: build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stac: search: %w: %w", ErrCatalog, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("stac: search: %w: status %d: %s", ErrCatalog, resp.StatusCode, body)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("stac: decode response: %w", err)
	}
	return &fc, nil
}

func nextLink(links []link) string {
	for _, l := range links {
		if l.Rel == "next" {
			return l.Href
		}
	}
	return ""
}

// datetimeParam renders a closed or half-open STAC datetime interval.
func datetimeParam(start, end time.Time) string {
	s, e := "..", ".."
	if !start.IsZero() {
		s = start.UTC().Format("2006-01-02T15:04:05Z")
	}
	if !end.IsZero() {
		e = end.UTC().Format("2006-01-02T15:04:05Z")
	}
	return s + "/" + e
}
