// Package fhirhttp searches a FHIR REST server. Search pages are streamed
// and followed through Bundle.link[next]; search parameter support is read
// from the server's CapabilityStatement.
package fhirhttp

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/service"
	"github.com/gofhir/retrieve/stream"
)

const fhirJSON = "application/fhir+json"

// DefaultPageSize is the _count sent with every search.
const DefaultPageSize = 100

// Client is a FHIR REST repository. It is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *retryablehttp.Client
	pageSize int
	maxPages int
	token    string
	log      zerolog.Logger

	capMu      sync.Mutex
	caps       *capabilities
	capErr     error
	capRetry   time.Duration
	capRetryAt time.Time
	now        func() time.Time
}

// Option configures a Client.
type Option func(*config)

type config struct {
	retries  int
	timeout  time.Duration
	pageSize int
	maxPages int
	token    string
	capRetry time.Duration
	client   *http.Client
	log      zerolog.Logger
}

// WithRetries sets how often a failed request is retried.
func WithRetries(n int) Option {
	return func(c *config) { c.retries = n }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithPageSize sets _count. Zero leaves paging to the server.
func WithPageSize(n int) Option {
	return func(c *config) { c.pageSize = n }
}

// WithMaxPages stops a search after n pages. Zero is unlimited.
func WithMaxPages(n int) Option {
	return func(c *config) { c.maxPages = n }
}

// WithBearerToken sends an Authorization header with every request.
func WithBearerToken(token string) Option {
	return func(c *config) { c.token = token }
}

// WithCapabilityRetry sets how long a failed /metadata fetch is remembered.
// Zero asks again on every call.
func WithCapabilityRetry(d time.Duration) Option {
	return func(c *config) { c.capRetry = d }
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.client = hc }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.log = l }
}

// New creates a client for the FHIR server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	cfg := config{
		retries:  3,
		timeout:  60 * time.Second,
		pageSize: DefaultPageSize,
		capRetry: DefaultCapabilityRetry,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.retries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	if cfg.client != nil {
		rc.HTTPClient = cfg.client
	} else {
		rc.HTTPClient = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     rc,
		pageSize: cfg.pageSize,
		maxPages: cfg.maxPages,
		token:    cfg.token,
		capRetry: cfg.capRetry,
		now:      time.Now,
		log:      cfg.log.With().Str("component", "fhirhttp").Str("server", baseURL).Logger(),
	}
}

// SearchURL returns the url of the first page of a search.
func (c *Client) SearchURL(resourceType string, q *retrieve.QueryParameterSet) string {
	values := q.Encode()
	if c.pageSize > 0 {
		values.Set("_count", strconv.Itoa(c.pageSize))
	}
	u := c.baseURL + "/" + url.PathEscape(resourceType)
	if enc := values.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// Search implements service.Searcher. Pages are requested as the sequence is
// ranged over; entries with search mode "include" or "outcome" are skipped.
func (c *Client) Search(ctx context.Context, resourceType string, q *retrieve.QueryParameterSet) iter.Seq2[retrieve.Resource, error] {
	return func(yield func(retrieve.Resource, error) bool) {
		next := c.SearchURL(resourceType, q)
		for pages := 0; next != ""; pages++ {
			if c.maxPages > 0 && pages >= c.maxPages {
				c.log.Warn().Int("pages", pages).Str("type", resourceType).Msg("page limit reached")
				return
			}
			page, stopped, err := c.page(ctx, next, yield)
			if err != nil {
				c.log.Error().Err(err).Str("url", next).Msg("search page failed")
				yield(nil, err)
				return
			}
			if stopped {
				return
			}
			c.log.Debug().
				Str("type", resourceType).
				Int("page", pages+1).
				Int("entries", page.Entries).
				Int("total", page.Total).
				Msg("search page")
			next = page.Next()
		}
	}
}

// page fetches one search page and yields its matches. stopped reports that
// the consumer ended the iteration.
func (c *Client) page(ctx context.Context, pageURL string, yield func(retrieve.Resource, error) bool) (stream.Page, bool, error) {
	resp, err := c.get(ctx, pageURL)
	if err != nil {
		return stream.Page{}, false, err
	}
	defer resp.Body.Close()

	var page stream.Page
	for r, err := range stream.Matches(ctx, resp.Body, &page) {
		if err != nil {
			return page, false, fmt.Errorf("read search page: %w", err)
		}
		if !yield(r, nil) {
			return page, true, nil
		}
	}
	return page, false, nil
}

func (c *Client) resolveURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.baseURL + "/" + strings.TrimPrefix(ref, "/")
}

func (c *Client) get(ctx context.Context, ref string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", fhirJSON)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fhir request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Status: resp.StatusCode, URL: req.URL.String(), Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fhir server returned %d for %s: %s", e.Status, e.URL, e.Body)
}

var _ service.Repository = (*Client)(nil)
