package fhirhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/retrieve"
)

// DefaultCapabilityRetry is how long a failed /metadata fetch is remembered
// before the next call asks the server again.
const DefaultCapabilityRetry = 30 * time.Second

// capabilities indexes declared search parameters by resource type. The ""
// key holds parameters declared for all types.
type capabilities struct {
	params map[string]map[string]string // type -> name -> param type
}

func (c *capabilities) declares(resourceType, name string) (string, bool) {
	if typ, ok := c.params[resourceType][name]; ok {
		return typ, true
	}
	typ, ok := c.params[""][name]
	return typ, ok
}

func parseCapabilities(cs *r4.CapabilityStatement) (*capabilities, error) {
	if cs.ResourceType != "" && cs.ResourceType != "CapabilityStatement" {
		return nil, fmt.Errorf("expected CapabilityStatement, got %q", cs.ResourceType)
	}
	caps := &capabilities{params: map[string]map[string]string{"": {}}}
	add := func(resourceType string, sps []r4.CapabilityStatementRestResourceSearchParam) {
		m, ok := caps.params[resourceType]
		if !ok {
			m = make(map[string]string, len(sps))
			caps.params[resourceType] = m
		}
		for _, sp := range sps {
			if sp.Name == nil {
				continue
			}
			var typ string
			if sp.Type != nil {
				typ = string(*sp.Type)
			}
			m[*sp.Name] = typ
		}
	}
	for _, rest := range cs.Rest {
		if rest.Mode != nil && *rest.Mode != r4.RestfulCapabilityModeServer {
			continue
		}
		add("", rest.SearchParam)
		for _, r := range rest.Resource {
			if r.Type == nil {
				continue
			}
			add(*r.Type, r.SearchParam)
		}
	}
	return caps, nil
}

// Capabilities fetches and caches GET /metadata. Only a successful fetch is
// kept. After a server failure the error is returned until the retry delay
// passes; a cancelled or expired ctx is never remembered.
func (c *Client) Capabilities(ctx context.Context) error {
	c.capMu.Lock()
	defer c.capMu.Unlock()

	if c.caps != nil {
		return nil
	}
	if c.capErr != nil && c.now().Before(c.capRetryAt) {
		return c.capErr
	}

	caps, err := c.fetchCapabilities(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.capErr = err
		c.capRetryAt = c.now().Add(c.capRetry)
		c.log.Warn().Err(err).Dur("retryIn", c.capRetry).Msg("capability statement unavailable; pushing nothing down")
		return err
	}
	c.caps, c.capErr = caps, nil
	return nil
}

func (c *Client) fetchCapabilities(ctx context.Context) (*capabilities, error) {
	resp, err := c.get(ctx, "metadata")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cs r4.CapabilityStatement
	if err := json.NewDecoder(resp.Body).Decode(&cs); err != nil {
		return nil, fmt.Errorf("failed to decode capability statement: %w", err)
	}
	return parseCapabilities(&cs)
}

// DeclaresSupport implements service.CapabilityChecker. A parameter with the
// ":in" modifier is supported when the base parameter is a declared token
// parameter.
func (c *Client) DeclaresSupport(ctx context.Context, resourceType, param string) bool {
	if err := c.Capabilities(ctx); err != nil {
		return false
	}
	name, modifier, _ := strings.Cut(param, ":")
	typ, ok := c.caps.declares(resourceType, name)
	if !ok {
		return false
	}
	switch modifier {
	case "":
		return true
	case retrieve.ModifierIn:
		return typ == "" || typ == string(r4.SearchParamTypeToken)
	default:
		return false
	}
}
