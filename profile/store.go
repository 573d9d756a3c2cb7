// Package profile loads StructureDefinitions and checks resources against
// the FHIRPath invariants of a profile's root element. It backs the
// Enforced conformance mode.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"
)

// ErrProfileNotFound is returned for a profile URL that was never loaded.
var ErrProfileNotFound = errors.New("profile not found")

// Store holds profile definitions by canonical URL. It is safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	byURL map[string]*Definition
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byURL: make(map[string]*Definition)}
}

// Add stores an R4 StructureDefinition.
func (s *Store) Add(sd *r4.StructureDefinition) error {
	d := convert(sd)
	if d == nil {
		return errors.New("structure definition is nil")
	}
	return s.AddDefinition(d)
}

// AddDefinition stores a converted definition. A definition with the URL of
// a stored one replaces it.
func (s *Store) AddDefinition(d *Definition) error {
	if d.URL == "" {
		return errors.New("structure definition without url")
	}
	s.mu.Lock()
	s.byURL[d.URL] = d
	s.mu.Unlock()
	return nil
}

// Get returns the definition for url. A "|version" suffix is ignored.
func (s *Store) Get(url string) (*Definition, bool) {
	url, _, _ = strings.Cut(url, "|")
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byURL[url]
	return d, ok
}

// Constraints returns the invariants of url and, when its definition has no
// snapshot, of the loaded definitions it derives from.
func (s *Store) Constraints(url string) ([]Constraint, error) {
	d, ok := s.Get(url)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, url)
	}
	out := append([]Constraint(nil), d.Constraints...)
	seen := map[string]bool{d.URL: true}
	for !d.Snapshot && d.BaseDefinition != "" && !seen[d.BaseDefinition] {
		seen[d.BaseDefinition] = true
		base, ok := s.Get(d.BaseDefinition)
		if !ok {
			break
		}
		out = append(out, base.Constraints...)
		d = base
	}
	return out, nil
}

// Count returns the number of stored definitions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byURL)
}

// URLs returns the stored profile URLs, sorted.
func (s *Store) URLs() []string {
	s.mu.RLock()
	urls := make([]string, 0, len(s.byURL))
	for u := range s.byURL {
		urls = append(urls, u)
	}
	s.mu.RUnlock()
	sort.Strings(urls)
	return urls
}

// LoadFile loads a StructureDefinition or Bundle file.
func (s *Store) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return s.LoadJSON(data)
}

// LoadJSON loads a single StructureDefinition or every StructureDefinition
// entry of a Bundle. Other resource types in a Bundle are skipped.
func (s *Store) LoadJSON(data []byte) (int, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("invalid JSON: %w", err)
	}

	switch head.ResourceType {
	case "StructureDefinition":
		if err := s.loadOne(data); err != nil {
			return 0, err
		}
		return 1, nil
	case "Bundle":
		n := 0
		for _, e := range head.Entry {
			var rt struct {
				ResourceType string `json:"resourceType"`
			}
			if len(e.Resource) == 0 || json.Unmarshal(e.Resource, &rt) != nil || rt.ResourceType != "StructureDefinition" {
				continue
			}
			if err := s.loadOne(e.Resource); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported resourceType: %s", head.ResourceType)
	}
}

func (s *Store) loadOne(data []byte) error {
	var sd r4.StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("failed to parse StructureDefinition: %w", err)
	}
	return s.Add(&sd)
}

// LoadDir loads every .json file under dir. Files holding other resource
// types are skipped.
func (s *Store) LoadDir(dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		n, err := s.LoadFile(path)
		if err != nil {
			return nil
		}
		total += n
		return nil
	})
	return total, err
}
