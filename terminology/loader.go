package terminology

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofhir/fhir/r4"
)

// LoadStats counts the resources taken from a load. Failures holds the
// reason for each counted error.
type LoadStats struct {
	CodeSystems int
	ValueSets   int
	Errors      int
	Failures    []error
}

// Merge adds the counts of o.
func (s *LoadStats) Merge(o *LoadStats) {
	s.CodeSystems += o.CodeSystems
	s.ValueSets += o.ValueSets
	s.Errors += o.Errors
	s.Failures = append(s.Failures, o.Failures...)
}

// Err joins the recorded failures, or returns nil.
func (s *LoadStats) Err() error {
	return errors.Join(s.Failures...)
}

func (s *LoadStats) fail(err error) {
	s.Errors++
	s.Failures = append(s.Failures, err)
}

type head struct {
	ResourceType string `json:"resourceType"`
}

type bundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// LoadJSON loads a CodeSystem, a ValueSet, or a Bundle of them. Within a
// Bundle the CodeSystems are loaded first so value set filters can expand
// against them.
func (m *Memory) LoadJSON(data []byte) (*LoadStats, error) {
	var p head
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	stats := &LoadStats{}
	switch p.ResourceType {
	case "Bundle":
		var b bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to parse Bundle: %w", err)
		}
		raws := make([]json.RawMessage, 0, len(b.Entry))
		for _, e := range b.Entry {
			if len(e.Resource) > 0 {
				raws = append(raws, e.Resource)
			}
		}
		m.loadOrdered(raws, stats)
	case "CodeSystem", "ValueSet":
		if err := m.loadResource(p.ResourceType, data, stats); err != nil {
			stats.fail(err)
			return stats, err
		}
	default:
		return nil, fmt.Errorf("unsupported resourceType: %q", p.ResourceType)
	}
	return stats, nil
}

// LoadPath loads a JSON file, or every JSON file of a directory (not
// recursive). Files that fail to parse are counted in Errors.
func (m *Memory) LoadPath(path string) (*LoadStats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access %s: %w", path, err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return m.LoadJSON(data)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || name == "package.json" || name == ".index.json" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	stats := &LoadStats{}
	var raws []json.RawMessage
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			stats.fail(err)
			continue
		}
		var p head
		if err := json.Unmarshal(data, &p); err != nil {
			stats.fail(fmt.Errorf("%s: invalid JSON: %w", name, err))
			continue
		}
		if p.ResourceType == "Bundle" {
			s, err := m.LoadJSON(data)
			if err != nil {
				stats.fail(fmt.Errorf("%s: %w", name, err))
				continue
			}
			stats.Merge(s)
			continue
		}
		raws = append(raws, data)
	}
	m.loadOrdered(raws, stats)
	return stats, nil
}

// loadOrdered loads CodeSystems before ValueSets. Other resource types are
// ignored.
func (m *Memory) loadOrdered(raws []json.RawMessage, stats *LoadStats) {
	var valueSets []json.RawMessage
	for _, raw := range raws {
		var p head
		if err := json.Unmarshal(raw, &p); err != nil {
			stats.fail(fmt.Errorf("invalid JSON: %w", err))
			continue
		}
		switch p.ResourceType {
		case "CodeSystem":
			if err := m.loadResource(p.ResourceType, raw, stats); err != nil {
				stats.fail(err)
			}
		case "ValueSet":
			valueSets = append(valueSets, raw)
		}
	}
	for _, raw := range valueSets {
		if err := m.loadResource("ValueSet", raw, stats); err != nil {
			stats.fail(err)
		}
	}
}

func (m *Memory) loadResource(resourceType string, raw []byte, stats *LoadStats) error {
	var err error
	switch resourceType {
	case "CodeSystem":
		var cs r4.CodeSystem
		if err = json.Unmarshal(raw, &cs); err == nil {
			err = m.LoadR4CodeSystem(&cs)
		}
		if err == nil {
			stats.CodeSystems++
		}
	case "ValueSet":
		var vs r4.ValueSet
		if err = json.Unmarshal(raw, &vs); err == nil {
			err = m.LoadR4ValueSet(&vs)
		}
		if err == nil {
			stats.ValueSets++
		}
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", resourceType, err)
	}
	return nil
}
