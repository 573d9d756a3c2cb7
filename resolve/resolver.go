package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/element"
	"github.com/gofhir/retrieve/searchparam"
	"github.com/gofhir/retrieve/service"
)

// Resolver turns criteria into a Resolution: one query for the repository
// plus the predicate applied to its results. A Resolver holds only its
// collaborators and is safe for concurrent use.
type Resolver struct {
	catalog  service.SearchParameterCatalog
	eval     service.ElementEvaluator
	ts       service.TerminologyService
	caps     service.CapabilityChecker
	inline   func(valueSetID string) bool
	profiles service.ProfileValidator
	metrics  *retrieve.Metrics
	terms    *TerminologyResolver
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCatalog sets the search parameter catalog. The default is
// searchparam.Default().
func WithCatalog(c service.SearchParameterCatalog) Option {
	return func(r *Resolver) { r.catalog = c }
}

// WithEvaluator sets the element evaluator used by predicates.
func WithEvaluator(e service.ElementEvaluator) Option {
	return func(r *Resolver) { r.eval = e }
}

// WithTerminology sets the terminology service.
func WithTerminology(ts service.TerminologyService) Option {
	return func(r *Resolver) { r.ts = ts }
}

// WithCapabilities sets the capability checker consulted in Auto modes.
func WithCapabilities(c service.CapabilityChecker) Option {
	return func(r *Resolver) { r.caps = c }
}

// WithInlineSupported decides per value set whether Auto terminology mode
// may expand it into an inline code list.
func WithInlineSupported(fn func(valueSetID string) bool) Option {
	return func(r *Resolver) { r.inline = fn }
}

// WithProfileValidator enables structural checks in Enforced conformance
// mode.
func WithProfileValidator(v service.ProfileValidator) Option {
	return func(r *Resolver) { r.profiles = v }
}

// WithMetrics records every resolution in m.
func WithMetrics(m *retrieve.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		caps:   service.AlwaysSupported,
		inline: func(string) bool { return true },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog == nil {
		r.catalog = searchparam.Default()
	}
	if r.eval == nil {
		r.eval = element.New()
	}
	r.terms = NewTerminologyResolver(r.eval, r.ts)
	return r
}

// Terminology returns the resolver's terminology matcher.
func (r *Resolver) Terminology() *TerminologyResolver {
	return r.terms
}

// Resolve chooses a strategy per dimension of c and builds the query and
// predicate. It fails with a configuration error for an invalid criterion
// or settings, or when a dimension that must be pushed down has no search
// parameter, and with ErrMissingCollaborator when a needed collaborator is
// absent. Collaborator errors are returned wrapped.
func (r *Resolver) Resolve(ctx context.Context, c retrieve.Criterion, s retrieve.Settings) (*retrieve.Resolution, error) {
	start := time.Now()
	res, err := r.resolve(ctx, c, s)
	if r.metrics != nil {
		var plan retrieve.Plan
		if res != nil {
			plan = res.Plan
		}
		r.metrics.RecordResolution(time.Since(start), plan, err)
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, c retrieve.Criterion, s retrieve.Settings) (*retrieve.Resolution, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	b := &builder{r: r, c: c, s: s, query: retrieve.NewQueryParameterSet()}
	steps := []func(context.Context) error{b.withConformance, b.withContext, b.withTerminology, b.withDate}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return nil, err
		}
	}
	return &retrieve.Resolution{
		Query:     b.query,
		Predicate: retrieve.And(b.preds...),
		Plan:      b.plan,
	}, nil
}

// builder accumulates one resolution.
type builder struct {
	r     *Resolver
	c     retrieve.Criterion
	s     retrieve.Settings
	query *retrieve.QueryParameterSet
	preds []retrieve.Predicate
	plan  retrieve.Plan
}

func (b *builder) pushDown(d retrieve.Dimension, q *retrieve.QueryParameterSet) {
	b.plan[d] = retrieve.StrategyPushDown
	b.query.Merge(q)
}

func (b *builder) inMemory(d retrieve.Dimension, p retrieve.Predicate) {
	b.plan[d] = retrieve.StrategyInMemory
	b.preds = append(b.preds, p)
}

func (b *builder) supports(ctx context.Context, param string) bool {
	return b.r.caps.DeclaresSupport(ctx, b.c.DataType, param)
}

func unresolved(dataType, path string) error {
	return fmt.Errorf("%w: %s.%s", retrieve.ErrUnresolvedSearchParameter, dataType, path)
}

// choose applies FilterMode to one dimension. resolved reports whether the
// catalog produced param.
func (b *builder) choose(ctx context.Context, param, path string, resolved bool) (retrieve.Strategy, error) {
	switch b.s.FilterMode {
	case retrieve.FilterRepository:
		if !resolved {
			return retrieve.StrategyNone, unresolved(b.c.DataType, path)
		}
		return retrieve.StrategyPushDown, nil
	case retrieve.FilterInMemory:
		return retrieve.StrategyInMemory, nil
	default:
		if resolved && b.supports(ctx, param) {
			return retrieve.StrategyPushDown, nil
		}
		return retrieve.StrategyInMemory, nil
	}
}

func (b *builder) withConformance(ctx context.Context) error {
	c, mode := b.c, b.s.ConformanceMode
	if !conformanceApplies(c.DataType, c.TemplateID, mode) {
		return nil
	}
	pred := ConformancePredicate(c.DataType, c.TemplateID, mode, b.r.profiles)
	if mode == retrieve.ConformanceEnforced && b.r.profiles != nil {
		b.inMemory(retrieve.DimensionConformance, pred)
		return nil
	}

	strategy, err := b.choose(ctx, service.ParamProfile, "meta.profile", true)
	if err != nil {
		return err
	}
	if strategy == retrieve.StrategyPushDown {
		b.pushDown(retrieve.DimensionConformance, ConformanceQuery(c.DataType, c.TemplateID, mode))
		return nil
	}
	b.inMemory(retrieve.DimensionConformance, pred)
	return nil
}

func (b *builder) withContext(ctx context.Context) error {
	c := b.c
	if !c.HasContext() {
		return nil
	}
	param, ok := b.r.catalog.Resolve(c.DataType, c.ContextPath)
	strategy, err := b.choose(ctx, param.Name, c.ContextPath, ok)
	if err != nil {
		return err
	}
	if strategy == retrieve.StrategyPushDown {
		b.pushDown(retrieve.DimensionContext, ContextQuery(param, c.ContextType, c.ContextValue))
		return nil
	}
	b.inMemory(retrieve.DimensionContext, ContextPredicate(b.r.eval, c.ContextType, c.ContextPath, c.ContextValue))
	return nil
}

func (b *builder) withTerminology(ctx context.Context) error {
	c := b.c
	if !c.HasTerminology() {
		return nil
	}
	param, ok := b.r.catalog.ResolveOfType(c.DataType, c.CodePath, service.SearchParamToken)

	var shape Shape
	switch b.s.TerminologyMode {
	case retrieve.TerminologyInMemory:
		return b.terminologyInMemory()
	case retrieve.TerminologyInline:
		if !ok {
			return unresolved(c.DataType, c.CodePath)
		}
		shape = ShapeInline
	case retrieve.TerminologyRepository:
		if !ok {
			return unresolved(c.DataType, c.CodePath)
		}
		shape = ShapeMembership
	default:
		switch {
		case !ok:
			return b.terminologyInMemory()
		case c.ValueSetID == "":
			if !b.supports(ctx, param.Name) {
				return b.terminologyInMemory()
			}
			shape = ShapeInline
		case b.r.ts != nil && b.r.inline(c.ValueSetID) && b.supports(ctx, param.Name):
			shape = ShapeInline
		case b.supports(ctx, retrieve.ParamKey(param.Name, retrieve.MembershipToken(c.ValueSetID))):
			shape = ShapeMembership
		default:
			return b.terminologyInMemory()
		}
	}

	q, err := b.r.terms.Pushdown(ctx, param.Name, c.Codes, c.ValueSetID, shape)
	if err != nil {
		return err
	}
	if q.IsEmpty() {
		// An empty expansion cannot be expressed as a parameter.
		return b.terminologyInMemory()
	}
	b.pushDown(retrieve.DimensionTerminology, q)
	return nil
}

func (b *builder) terminologyInMemory() error {
	c := b.c
	if c.ValueSetID != "" && b.r.ts == nil {
		return fmt.Errorf("%w: terminology service required for value set %s", retrieve.ErrMissingCollaborator, c.ValueSetID)
	}
	b.inMemory(retrieve.DimensionTerminology, b.r.terms.Predicate(c.CodePath, c.Codes, c.ValueSetID))
	return nil
}

func (b *builder) withDate(ctx context.Context) error {
	c := b.c
	if !c.HasDatePath() {
		return nil
	}
	low, high, resolved := dateParams(b.r.catalog, c)

	var strategy retrieve.Strategy
	switch b.s.FilterMode {
	case retrieve.FilterRepository:
		strategy = retrieve.StrategyPushDown
	case retrieve.FilterInMemory:
		strategy = retrieve.StrategyInMemory
	default:
		strategy = retrieve.StrategyInMemory
		if resolved && (low == "" || b.supports(ctx, low)) && (high == "" || b.supports(ctx, high)) {
			strategy = retrieve.StrategyPushDown
		}
	}

	if strategy == retrieve.StrategyPushDown {
		b.pushDown(retrieve.DimensionDate, DateQuery(low, high, *c.DateRange))
		return nil
	}
	b.inMemory(retrieve.DimensionDate, DatePredicate(b.r.eval, c.DatePath, c.DateLowPath, c.DateHighPath, c.DateRange))
	return nil
}
