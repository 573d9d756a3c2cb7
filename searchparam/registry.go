package searchparam

import (
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gofhir/retrieve/service"
)

// baseTypes are the abstract resource types whose parameters apply to every
// resource type.
var baseTypes = []string{"Resource", "DomainResource"}

// Registry is an in-memory search parameter catalog. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byPath map[string]map[string][]service.SearchParameter // type -> path -> params
	byName map[string]map[string]service.SearchParameter   // type -> name -> param
	log    zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used while indexing.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = log.With().Str("component", "searchparam").Logger()
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byPath: make(map[string]map[string][]service.SearchParameter),
		byName: make(map[string]map[string]service.SearchParameter),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds p to resourceType. The first parameter registered for a
// path is the one Resolve returns; registering the same name and path twice
// is a no-op.
func (r *Registry) Register(resourceType string, p service.SearchParameter) {
	if resourceType == "" || p.Name == "" || p.Path == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	paths, ok := r.byPath[resourceType]
	if !ok {
		paths = make(map[string][]service.SearchParameter)
		r.byPath[resourceType] = paths
	}
	for _, existing := range paths[p.Path] {
		if existing.Name == p.Name {
			return
		}
	}
	paths[p.Path] = append(paths[p.Path], p)

	names, ok := r.byName[resourceType]
	if !ok {
		names = make(map[string]service.SearchParameter)
		r.byName[resourceType] = names
	}
	if _, exists := names[p.Name]; !exists {
		names[p.Name] = p
	}
}

// Resolve implements service.SearchParameterCatalog.
func (r *Registry) Resolve(resourceType, path string) (service.SearchParameter, bool) {
	return r.resolve(resourceType, path, "")
}

// ResolveOfType implements service.SearchParameterCatalog.
func (r *Registry) ResolveOfType(resourceType, path string, typ service.SearchParamType) (service.SearchParameter, bool) {
	return r.resolve(resourceType, path, typ)
}

func (r *Registry) resolve(resourceType, path string, typ service.SearchParamType) (service.SearchParameter, bool) {
	path = strings.TrimPrefix(path, resourceType+".")
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range append([]string{resourceType}, baseTypes...) {
		for _, p := range r.byPath[t][path] {
			if typ == "" || p.Type == typ {
				return p, true
			}
		}
	}
	return service.SearchParameter{}, false
}

// Lookup implements service.SearchParameterLookup.
func (r *Registry) Lookup(resourceType, name string) (service.SearchParameter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range append([]string{resourceType}, baseTypes...) {
		if p, ok := r.byName[t][name]; ok {
			return p, true
		}
	}
	return service.SearchParameter{}, false
}

// Names returns the parameter names declared for resourceType, not
// including the base Resource parameters.
func (r *Registry) Names(resourceType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName[resourceType]))
	for name := range r.byName[resourceType] {
		names = append(names, name)
	}
	return names
}

// Count returns the number of (type, name) bindings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, names := range r.byName {
		n += len(names)
	}
	return n
}

var asCast = regexp.MustCompile(`\s+as\s+[A-Za-z]+`)

// filterCalls are the FHIRPath functions removed from search expressions.
var filterCalls = []string{".where(", ".ofType(", ".as(", ".exists("}

// ExpressionPaths reduces a FHIRPath search expression to its plain element
// paths, each still prefixed with its resource type.
func ExpressionPaths(expression string) []string {
	var out []string
	for _, part := range strings.Split(expression, "|") {
		p := strings.TrimSpace(part)
		for _, call := range filterCalls {
			p = stripCall(p, call)
		}
		p = asCast.ReplaceAllString(p, "")
		p = strings.Trim(p, "() ")
		if p == "" || !strings.Contains(p, ".") {
			continue
		}
		out = append(out, p)
	}
	return out
}

// stripCall removes every occurrence of call and its balanced argument list.
func stripCall(expr, call string) string {
	for {
		start := strings.Index(expr, call)
		if start < 0 {
			return expr
		}
		depth := 0
		end := len(expr)
		for i := start + len(call) - 1; i < len(expr); i++ {
			switch expr[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 {
				end = i + 1
				break
			}
		}
		expr = expr[:start] + expr[end:]
	}
}

// splitTypePath splits "Observation.code.coding" into type and path.
func splitTypePath(full string) (string, string) {
	i := strings.IndexByte(full, '.')
	if i <= 0 {
		return "", ""
	}
	return full[:i], full[i+1:]
}

// Verify interface compliance
var (
	_ service.SearchParameterCatalog = (*Registry)(nil)
	_ service.SearchParameterLookup  = (*Registry)(nil)
)
