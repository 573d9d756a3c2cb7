package terminology

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofhir/retrieve"
)

func TestLoadJSON_Bundle(t *testing.T) {
	// ValueSet listed before its CodeSystem: filters still expand.
	data := `{"resourceType": "Bundle", "entry": [
	  {"resource": {"resourceType": "ValueSet", "url": "http://example.org/ValueSet/dm",
	    "compose": {"include": [{"system": "http://example.org/cs/conditions",
	      "filter": [{"property": "concept", "op": "is-a", "value": "diabetes"}]}]}}},
	  {"resource": ` + hierarchyCodeSystem + `},
	  {"resource": {"resourceType": "Patient", "id": "p1"}},
	  {"resource": {"resourceType": "ValueSet"}}
	]}`

	m := NewMemory()
	stats, err := m.LoadJSON([]byte(data))
	if err != nil {
		t.Fatalf("LoadJSON() error = %v", err)
	}
	if stats.CodeSystems != 1 || stats.ValueSets != 1 || stats.Errors != 1 {
		t.Errorf("stats = %+v; want 1 code system, 1 value set, 1 error", *stats)
	}
	if len(stats.Failures) != 1 || !strings.Contains(stats.Err().Error(), "failed to load ValueSet") {
		t.Errorf("Failures = %v; want the ValueSet without url", stats.Failures)
	}

	ok, err := m.IsMember(context.Background(), retrieve.Code{System: "http://example.org/cs/conditions", Code: "t2dm"}, "dm")
	if err != nil || !ok {
		t.Errorf("IsMember(t2dm) = %v, %v; want true, nil", ok, err)
	}
}

func TestLoadJSON_Errors(t *testing.T) {
	m := NewMemory()
	if _, err := m.LoadJSON([]byte(`{`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := m.LoadJSON([]byte(`{"resourceType": "Patient"}`)); err == nil {
		t.Error("expected error for unsupported resource type")
	}
	if _, err := m.LoadJSON([]byte(`{"resourceType": "CodeSystem"}`)); err == nil {
		t.Error("expected error for code system without url")
	}
}

func TestLoadPath(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a-valueset.json":   `{"resourceType": "ValueSet", "url": "http://example.org/ValueSet/all-conditions", "compose": {"include": [{"system": "http://example.org/cs/conditions"}]}}`,
		"b-codesystem.json": hierarchyCodeSystem,
		"broken.json":       `{"resourceType":`,
		"package.json":      `{"name": "example"}`,
		"notes.txt":         `ignored`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	m := NewMemory()
	stats, err := m.LoadPath(dir)
	if err != nil {
		t.Fatalf("LoadPath() error = %v", err)
	}
	if stats.CodeSystems != 1 || stats.ValueSets != 1 || stats.Errors != 1 {
		t.Errorf("stats = %+v; want 1, 1, 1", *stats)
	}
	if err := stats.Err(); err == nil || !strings.Contains(err.Error(), "broken.json") {
		t.Errorf("Err() = %v; want broken.json reported", err)
	}

	codes, err := m.Expand(context.Background(), "all-conditions")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(codes) != 6 {
		t.Errorf("len(Expand()) = %d; want 6", len(codes))
	}

	if _, err := m.LoadPath(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing path")
	}
}
