package terminology

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/pkg/reference"
	"github.com/gofhir/retrieve/service"
)

// Filter operators understood by Memory when expanding compose filters.
const (
	opEquals       = "="
	opIsA          = "is-a"
	opDescendentOf = "descendent-of"
	opRegex        = "regex"
	opIncludeAll   = "include-all"
)

// Memory is a terminology service over locally loaded ValueSets and
// CodeSystems. Value sets are addressed by canonical URL (a version suffix
// is ignored), by their id, or by a urn:oid: form of either.
type Memory struct {
	mu          sync.RWMutex
	valueSets   map[string]*valueSet
	aliases     map[string]string
	codeSystems map[string]*codeSystem
}

type valueSet struct {
	url      string
	codes    map[string]map[string]string // system -> code -> display
	filters  []composeFilter
	expanded bool
}

type codeSystem struct {
	url      string
	codes    map[string]string // code -> display
	children map[string][]string
}

type composeFilter struct {
	system   string
	property string
	op       string
	value    string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		valueSets:   make(map[string]*valueSet),
		aliases:     make(map[string]string),
		codeSystems: make(map[string]*codeSystem),
	}
}

// AddValueSet registers a value set holding codes directly.
func (m *Memory) AddValueSet(url string, codes ...retrieve.Code) {
	vs := &valueSet{url: stripVersion(url), codes: make(map[string]map[string]string), expanded: true}
	for _, c := range codes {
		vs.add(c.System, c.Code, "")
	}
	m.mu.Lock()
	m.putValueSet(vs)
	m.mu.Unlock()
}

// LoadR4ValueSet registers an R4 ValueSet. An expansion is used as is;
// without one the compose includes are indexed and their filters are
// expanded lazily against the loaded CodeSystems.
func (m *Memory) LoadR4ValueSet(vs *r4.ValueSet) error {
	if vs == nil || vs.Url == nil || *vs.Url == "" {
		return fmt.Errorf("value set has no url")
	}
	data := &valueSet{url: stripVersion(*vs.Url), codes: make(map[string]map[string]string)}

	if vs.Expansion != nil && len(vs.Expansion.Contains) > 0 {
		for i := range vs.Expansion.Contains {
			data.addContains(&vs.Expansion.Contains[i])
		}
		data.expanded = true
	} else if vs.Compose != nil {
		for i := range vs.Compose.Include {
			data.addInclude(&vs.Compose.Include[i])
		}
		data.expanded = len(data.filters) == 0
	} else {
		data.expanded = true
	}

	m.mu.Lock()
	m.putValueSet(data)
	m.mu.Unlock()
	return nil
}

// LoadR4CodeSystem registers an R4 CodeSystem. Hierarchy comes from nested
// concepts and from subsumedBy properties.
func (m *Memory) LoadR4CodeSystem(cs *r4.CodeSystem) error {
	if cs == nil || cs.Url == nil || *cs.Url == "" {
		return fmt.Errorf("code system has no url")
	}
	data := &codeSystem{
		url:      *cs.Url,
		codes:    make(map[string]string),
		children: make(map[string][]string),
	}
	data.addConcepts(cs.Concept, "")

	m.mu.Lock()
	m.codeSystems[data.url] = data
	m.mu.Unlock()
	return nil
}

// putValueSet must be called with mu held.
func (m *Memory) putValueSet(vs *valueSet) {
	m.valueSets[vs.url] = vs
	if i := strings.LastIndex(vs.url, "/"); i >= 0 && i < len(vs.url)-1 {
		if _, taken := m.aliases[vs.url[i+1:]]; !taken {
			m.aliases[vs.url[i+1:]] = vs.url
		}
	}
}

// IsMember implements service.MembershipChecker. A code without a system
// matches the code in any system of the value set.
func (m *Memory) IsMember(ctx context.Context, code retrieve.Code, valueSetID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	vs, err := m.expanded(valueSetID)
	if err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if code.System != "" {
		_, ok := vs.codes[code.System][code.Code]
		return ok, nil
	}
	for _, codes := range vs.codes {
		if _, ok := codes[code.Code]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Expand implements service.ValueSetExpander. Codes are sorted by system
// then code.
func (m *Memory) Expand(ctx context.Context, valueSetID string) ([]retrieve.Code, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vs, err := m.expanded(valueSetID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]retrieve.Code, 0, vs.size())
	for system, codes := range vs.codes {
		for code := range codes {
			out = append(out, retrieve.Code{System: system, Code: code})
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].System != out[j].System {
			return out[i].System < out[j].System
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// Display returns the display text recorded for a code in a value set.
func (m *Memory) Display(valueSetID string, code retrieve.Code) (string, bool) {
	vs, err := m.expanded(valueSetID)
	if err != nil {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := vs.codes[code.System][code.Code]
	return d, ok
}

// find must be called with mu held.
func (m *Memory) find(valueSetID string) (*valueSet, bool) {
	id := stripVersion(valueSetID)
	for _, key := range []string{id, reference.StripLocalScheme(id)} {
		if vs, ok := m.valueSets[key]; ok {
			return vs, true
		}
		if url, ok := m.aliases[key]; ok {
			return m.valueSets[url], true
		}
		if i := strings.LastIndex(key, "/"); i >= 0 {
			if url, ok := m.aliases[key[i+1:]]; ok {
				return m.valueSets[url], true
			}
		}
	}
	return nil, false
}

// expanded returns the value set with its filters applied, expanding them
// on first use.
func (m *Memory) expanded(valueSetID string) (*valueSet, error) {
	m.mu.RLock()
	vs, ok := m.find(valueSetID)
	done := ok && vs.expanded
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrValueSetNotFound, valueSetID)
	}
	if done {
		return vs, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if vs.expanded {
		return vs, nil
	}
	for _, f := range vs.filters {
		cs, ok := m.codeSystems[f.system]
		if !ok {
			continue
		}
		for _, code := range cs.match(f) {
			vs.add(f.system, code, cs.codes[code])
		}
	}
	vs.expanded = true
	return vs, nil
}

// CountValueSets returns the number of loaded value sets.
func (m *Memory) CountValueSets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.valueSets)
}

// CountCodeSystems returns the number of loaded code systems.
func (m *Memory) CountCodeSystems() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.codeSystems)
}

func (vs *valueSet) add(system, code, display string) {
	if code == "" {
		return
	}
	if vs.codes[system] == nil {
		vs.codes[system] = make(map[string]string)
	}
	vs.codes[system][code] = display
}

func (vs *valueSet) size() int {
	n := 0
	for _, codes := range vs.codes {
		n += len(codes)
	}
	return n
}

func (vs *valueSet) addContains(c *r4.ValueSetExpansionContains) {
	if c.Code != nil {
		vs.add(deref(c.System), *c.Code, deref(c.Display))
	}
	for i := range c.Contains {
		vs.addContains(&c.Contains[i])
	}
}

func (vs *valueSet) addInclude(inc *r4.ValueSetComposeInclude) {
	if inc.System == nil {
		return
	}
	system := *inc.System
	for i := range inc.Concept {
		if inc.Concept[i].Code != nil {
			vs.add(system, *inc.Concept[i].Code, deref(inc.Concept[i].Display))
		}
	}
	for _, f := range inc.Filter {
		if f.Property == nil || f.Op == nil || f.Value == nil {
			continue
		}
		vs.filters = append(vs.filters, composeFilter{
			system:   system,
			property: *f.Property,
			op:       string(*f.Op),
			value:    *f.Value,
		})
	}
	if len(inc.Concept) == 0 && len(inc.Filter) == 0 {
		vs.filters = append(vs.filters, composeFilter{system: system, op: opIncludeAll})
	}
}

func (cs *codeSystem) addConcepts(concepts []r4.CodeSystemConcept, parent string) {
	for i := range concepts {
		c := &concepts[i]
		if c.Code == nil {
			continue
		}
		code := *c.Code
		cs.codes[code] = deref(c.Display)
		if parent != "" {
			cs.children[parent] = append(cs.children[parent], code)
		}
		for _, p := range c.Property {
			if p.Code != nil && *p.Code == "subsumedBy" && p.ValueCode != nil {
				cs.children[*p.ValueCode] = append(cs.children[*p.ValueCode], code)
			}
		}
		cs.addConcepts(c.Concept, code)
	}
}

// match returns the codes selected by f.
func (cs *codeSystem) match(f composeFilter) []string {
	switch {
	case f.op == opIncludeAll:
		out := make([]string, 0, len(cs.codes))
		for code := range cs.codes {
			out = append(out, code)
		}
		return out
	case f.property == "concept" && (f.op == opIsA || f.op == opDescendentOf):
		return cs.descendants(f.value, f.op == opIsA)
	case f.property == "code" && f.op == opRegex:
		re, err := regexp.Compile("^(?:" + f.value + ")$")
		if err != nil {
			return nil
		}
		var out []string
		for code := range cs.codes {
			if re.MatchString(code) {
				out = append(out, code)
			}
		}
		return out
	case f.property == "code" && f.op == opEquals:
		if _, ok := cs.codes[f.value]; ok {
			return []string{f.value}
		}
	}
	return nil
}

func (cs *codeSystem) descendants(root string, includeSelf bool) []string {
	var out []string
	seen := make(map[string]bool)
	var visit func(code string)
	visit = func(code string) {
		if seen[code] {
			return
		}
		seen[code] = true
		if _, known := cs.codes[code]; known && (includeSelf || code != root) {
			out = append(out, code)
		}
		for _, child := range cs.children[code] {
			visit(child)
		}
	}
	visit(root)
	return out
}

// stripVersion removes a "|version" suffix from a canonical URL.
func stripVersion(url string) string {
	if i := strings.LastIndex(url, "|"); i != -1 {
		return url[:i]
	}
	return url
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ service.TerminologyService = (*Memory)(nil)
