package searchparam

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/retrieve/service"
)

// LoadStats counts what a load added.
type LoadStats struct {
	Parameters int
	Bindings   int
	Skipped    int
}

// LoadJSON loads a SearchParameter or a Bundle of them. Other resources in
// a Bundle are ignored.
func (r *Registry) LoadJSON(data []byte) (*LoadStats, error) {
	res, err := r4.UnmarshalResource(data)
	if err != nil {
		return nil, fmt.Errorf("invalid resource: %w", err)
	}

	stats := &LoadStats{}
	switch res := res.(type) {
	case *r4.Bundle:
		for _, e := range res.Entry {
			if sp, ok := e.Resource.(*r4.SearchParameter); ok {
				r.add(sp, stats)
			}
		}
	case *r4.SearchParameter:
		r.add(res, stats)
	default:
		return nil, fmt.Errorf("unsupported resourceType: %s", res.GetResourceType())
	}

	r.log.Debug().
		Int("parameters", stats.Parameters).
		Int("bindings", stats.Bindings).
		Int("skipped", stats.Skipped).
		Msg("search parameters loaded")
	return stats, nil
}

// LoadFile loads one JSON file.
func (r *Registry) LoadFile(path string) (*LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return r.LoadJSON(data)
}

// LoadPath loads a file, or every SearchParameter-*.json and Bundle file of
// a directory.
func (r *Registry) LoadPath(path string) (*LoadStats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access %s: %w", path, err)
	}
	if !info.IsDir() {
		return r.LoadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	total := &LoadStats{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if name == "package.json" || name == ".index.json" {
			continue
		}
		stats, err := r.LoadFile(filepath.Join(path, name))
		if err != nil {
			r.log.Warn().Err(err).Str("file", name).Msg("skipping search parameter file")
			total.Skipped++
			continue
		}
		total.Parameters += stats.Parameters
		total.Bindings += stats.Bindings
		total.Skipped += stats.Skipped
	}
	return total, nil
}

func (r *Registry) add(sp *r4.SearchParameter, stats *LoadStats) {
	code, expr := deref(sp.Code), deref(sp.Expression)
	if code == "" || expr == "" || (sp.Status != nil && *sp.Status == r4.PublicationStatusRetired) {
		stats.Skipped++
		return
	}
	stats.Parameters++

	var typ service.SearchParamType
	if sp.Type != nil {
		typ = service.SearchParamType(*sp.Type)
	}

	bases := make(map[string]bool, len(sp.Base))
	for _, b := range sp.Base {
		bases[b] = true
	}

	for _, full := range ExpressionPaths(expr) {
		base, path := splitTypePath(full)
		if base == "" || !bases[base] {
			continue
		}
		r.Register(base, service.SearchParameter{
			Name:   code,
			Type:   typ,
			Path:   path,
			Target: sp.Target,
		})
		stats.Bindings++
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
