package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofhir/fhir/r4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/cache"
	"github.com/gofhir/retrieve/service"
)

const fhirJSON = "application/fhir+json"

// ErrPartialExpansion is returned when a paged $expand ends before the
// declared total.
var ErrPartialExpansion = errors.New("partial value set expansion")

// RemoteService queries a FHIR terminology server with ValueSet/$validate-code
// and ValueSet/$expand. Expansions are kept in an LRU cache; membership of a
// value set already expanded is answered locally.
type RemoteService struct {
	baseURL    string
	http       *retryablehttp.Client
	expansions *cache.Cache[string, []retrieve.Code]
	log        zerolog.Logger
}

// RemoteOption configures a RemoteService.
type RemoteOption func(*remoteConfig)

type remoteConfig struct {
	retries   int
	timeout   time.Duration
	cacheSize int
	cacheTTL  time.Duration
	client    *http.Client
	log       zerolog.Logger
}

// WithRetries sets how often a failed request is retried.
func WithRetries(n int) RemoteOption {
	return func(c *remoteConfig) { c.retries = n }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(c *remoteConfig) { c.timeout = d }
}

// WithExpansionCache sizes the expansion cache. A zero ttl keeps entries
// until evicted.
func WithExpansionCache(size int, ttl time.Duration) RemoteOption {
	return func(c *remoteConfig) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) RemoteOption {
	return func(c *remoteConfig) { c.client = hc }
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(l zerolog.Logger) RemoteOption {
	return func(c *remoteConfig) { c.log = l }
}

// NewRemote creates a client for the terminology server at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *RemoteService {
	cfg := remoteConfig{
		retries:   3,
		timeout:   30 * time.Second,
		cacheSize: 128,
		cacheTTL:  DefaultCacheTTL,
		log:       zerolog.Nop(),
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

	return &RemoteService{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		http:       rc,
		expansions: cache.New[string, []retrieve.Code](cfg.cacheSize, cache.WithTTL(cfg.cacheTTL)),
		log:        cfg.log.With().Str("component", "terminology").Str("server", baseURL).Logger(),
	}
}

// IsMember implements service.MembershipChecker.
func (s *RemoteService) IsMember(ctx context.Context, code retrieve.Code, valueSetID string) (bool, error) {
	if codes, ok := s.expansions.Get(valueSetID); ok {
		return containsCode(codes, code), nil
	}

	q := url.Values{}
	q.Set("code", code.Code)
	if code.System != "" {
		q.Set("system", code.System)
	}

	var out r4.Parameters
	if err := s.get(ctx, operationPath(valueSetID, "$validate-code", q), &out); err != nil {
		return false, err
	}
	result, ok := booleanParameter(&out, "result")
	if !ok {
		return false, fmt.Errorf("terminology server returned no result for %s in %s", code, valueSetID)
	}
	s.log.Debug().Str("valueSet", valueSetID).Str("code", code.String()).Bool("member", result).Msg("validate-code")
	return result, nil
}

// Expand implements service.ValueSetExpander. A server that pages the
// expansion is followed through offset until expansion.total is reached;
// an expansion that stops short is an error and is not cached.
func (s *RemoteService) Expand(ctx context.Context, valueSetID string) ([]retrieve.Code, error) {
	return s.expansions.Load(valueSetID, func() ([]retrieve.Code, error) {
		var (
			codes  []retrieve.Code
			offset int
			pages  int
		)
		for {
			q := url.Values{}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			var vs r4.ValueSet
			if err := s.get(ctx, operationPath(valueSetID, "$expand", q), &vs); err != nil {
				return nil, err
			}
			pages++
			if vs.Expansion == nil {
				break
			}
			exp := vs.Expansion
			codes = flattenContains(exp.Contains, codes)
			offset += len(exp.Contains)

			if exp.Total == nil || offset >= *exp.Total {
				break
			}
			if len(exp.Contains) == 0 {
				return nil, fmt.Errorf("%w: %s returned %d of %d concepts", ErrPartialExpansion, valueSetID, offset, *exp.Total)
			}
		}
		s.log.Debug().Str("valueSet", valueSetID).Int("codes", len(codes)).Int("pages", pages).Msg("expanded")
		return codes, nil
	})
}

// CacheStats returns the expansion cache counters.
func (s *RemoteService) CacheStats() cache.Stats {
	return s.expansions.Stats()
}

// operationPath addresses a value set by canonical url when it is absolute
// and by id otherwise.
func operationPath(valueSetID, op string, q url.Values) string {
	id := stripVersion(valueSetID)
	if strings.Contains(id, ":") {
		q.Set("url", valueSetID)
		return "/ValueSet/" + op + "?" + q.Encode()
	}
	path := "/ValueSet/" + url.PathEscape(id) + "/" + op
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return path
}

func (s *RemoteService) get(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", fhirJSON)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("terminology request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", service.ErrValueSetNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.log.Error().Int("status", resp.StatusCode).Str("path", path).Msg("terminology request rejected")
		return fmt.Errorf("terminology server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode terminology response: %w", err)
	}
	return nil
}

// booleanParameter returns the valueBoolean of the named parameter.
func booleanParameter(p *r4.Parameters, name string) (bool, bool) {
	for _, param := range p.Parameter {
		if param.Name != nil && *param.Name == name && param.ValueBoolean != nil {
			return *param.ValueBoolean, true
		}
	}
	return false, false
}

func flattenContains(contains []r4.ValueSetExpansionContains, out []retrieve.Code) []retrieve.Code {
	for i := range contains {
		c := &contains[i]
		if c.Code != nil {
			out = append(out, retrieve.Code{System: deref(c.System), Code: *c.Code})
		}
		out = flattenContains(c.Contains, out)
	}
	return out
}

func containsCode(codes []retrieve.Code, code retrieve.Code) bool {
	for _, c := range codes {
		if c.Code == code.Code && (code.System == "" || c.System == code.System) {
			return true
		}
	}
	return false
}

var _ service.TerminologyService = (*RemoteService)(nil)
