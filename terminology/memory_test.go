package terminology

import (
	"context"
	"errors"
	"testing"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/service"
)

const (
	snomed = "http://snomed.info/sct"
	loinc  = "http://loinc.org"
)

const hierarchyCodeSystem = `{
  "resourceType": "CodeSystem",
  "url": "http://example.org/cs/conditions",
  "concept": [
    {"code": "disease", "display": "Disease", "concept": [
      {"code": "diabetes", "display": "Diabetes", "concept": [
        {"code": "t1dm", "display": "Type 1"},
        {"code": "t2dm", "display": "Type 2"}
      ]}
    ]},
    {"code": "finding", "display": "Finding"},
    {"code": "gdm", "display": "Gestational", "property": [{"code": "subsumedBy", "valueCode": "diabetes"}]}
  ]
}`

func newMemory(t *testing.T, docs ...string) *Memory {
	t.Helper()
	m := NewMemory()
	for _, d := range docs {
		if _, err := m.LoadJSON([]byte(d)); err != nil {
			t.Fatalf("LoadJSON() error = %v", err)
		}
	}
	return m
}

func TestMemory_IsMember(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddValueSet("http://example.org/fhir/ValueSet/diabetes|2024",
		retrieve.Code{System: snomed, Code: "44054006"},
		retrieve.Code{System: loinc, Code: "4548-4"},
	)

	tests := []struct {
		name string
		code retrieve.Code
		vs   string
		want bool
	}{
		{"system and code", retrieve.Code{System: snomed, Code: "44054006"}, "http://example.org/fhir/ValueSet/diabetes", true},
		{"versioned id", retrieve.Code{System: snomed, Code: "44054006"}, "http://example.org/fhir/ValueSet/diabetes|2025", true},
		{"id alias", retrieve.Code{System: loinc, Code: "4548-4"}, "diabetes", true},
		{"no system matches any", retrieve.Code{Code: "4548-4"}, "diabetes", true},
		{"wrong system", retrieve.Code{System: loinc, Code: "44054006"}, "diabetes", false},
		{"unknown code", retrieve.Code{System: snomed, Code: "1"}, "diabetes", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.IsMember(ctx, tt.code, tt.vs)
			if err != nil {
				t.Fatalf("IsMember() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsMember(%s, %s) = %v; want %v", tt.code, tt.vs, got, tt.want)
			}
		})
	}

	t.Run("unknown value set", func(t *testing.T) {
		_, err := m.IsMember(ctx, retrieve.Code{Code: "x"}, "http://example.org/ValueSet/none")
		if !errors.Is(err, service.ErrValueSetNotFound) {
			t.Errorf("error = %v; want ErrValueSetNotFound", err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := m.IsMember(cctx, retrieve.Code{Code: "x"}, "diabetes"); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v; want context.Canceled", err)
		}
	})
}

func TestMemory_OIDAlias(t *testing.T) {
	m := NewMemory()
	m.AddValueSet("http://cts.nlm.nih.gov/fhir/ValueSet/2.16.840.1.113883.3.464.1003.103.12.1001",
		retrieve.Code{System: snomed, Code: "44054006"})

	got, err := m.IsMember(context.Background(), retrieve.Code{System: snomed, Code: "44054006"},
		"urn:oid:2.16.840.1.113883.3.464.1003.103.12.1001")
	if err != nil || !got {
		t.Errorf("IsMember() = %v, %v; want true, nil", got, err)
	}
}

func TestMemory_LoadR4ValueSet(t *testing.T) {
	url := "http://example.org/ValueSet/expanded"
	system := snomed
	c1, c2 := "1", "2"
	display := "One"
	vs := &r4.ValueSet{
		Url: &url,
		Expansion: &r4.ValueSetExpansion{
			Contains: []r4.ValueSetExpansionContains{
				{System: &system, Code: &c1, Display: &display, Contains: []r4.ValueSetExpansionContains{
					{System: &system, Code: &c2},
				}},
			},
		},
	}

	m := NewMemory()
	if err := m.LoadR4ValueSet(vs); err != nil {
		t.Fatalf("LoadR4ValueSet() error = %v", err)
	}
	codes, err := m.Expand(context.Background(), url)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(codes) != 2 || codes[0].Code != "1" || codes[1].Code != "2" {
		t.Errorf("Expand() = %v; want [1 2]", codes)
	}
	if d, ok := m.Display(url, retrieve.Code{System: system, Code: "1"}); !ok || d != "One" {
		t.Errorf("Display() = %q, %v; want One, true", d, ok)
	}

	if err := m.LoadR4ValueSet(&r4.ValueSet{}); err == nil {
		t.Error("expected error for value set without url")
	}
}

func TestMemory_ComposeFilters(t *testing.T) {
	vs := func(id, include string) string {
		return `{"resourceType": "ValueSet", "url": "http://example.org/ValueSet/` + id + `",
		  "compose": {"include": [` + include + `]}}`
	}
	m := newMemory(t,
		hierarchyCodeSystem,
		vs("is-a", `{"system": "http://example.org/cs/conditions", "filter": [{"property": "concept", "op": "is-a", "value": "diabetes"}]}`),
		vs("descendent-of", `{"system": "http://example.org/cs/conditions", "filter": [{"property": "concept", "op": "descendent-of", "value": "diabetes"}]}`),
		vs("regex", `{"system": "http://example.org/cs/conditions", "filter": [{"property": "code", "op": "regex", "value": "t[0-9]dm"}]}`),
		vs("equals", `{"system": "http://example.org/cs/conditions", "filter": [{"property": "code", "op": "=", "value": "finding"}]}`),
		vs("all", `{"system": "http://example.org/cs/conditions"}`),
		vs("listed", `{"system": "http://example.org/cs/conditions", "concept": [{"code": "finding"}, {"code": "other"}]}`),
	)

	tests := []struct {
		vs   string
		want []string
	}{
		{"is-a", []string{"diabetes", "gdm", "t1dm", "t2dm"}},
		{"descendent-of", []string{"gdm", "t1dm", "t2dm"}},
		{"regex", []string{"t1dm", "t2dm"}},
		{"equals", []string{"finding"}},
		{"all", []string{"diabetes", "disease", "finding", "gdm", "t1dm", "t2dm"}},
		{"listed", []string{"finding", "other"}},
	}

	for _, tt := range tests {
		t.Run(tt.vs, func(t *testing.T) {
			codes, err := m.Expand(context.Background(), tt.vs)
			if err != nil {
				t.Fatalf("Expand() error = %v", err)
			}
			if len(codes) != len(tt.want) {
				t.Fatalf("Expand() = %v; want %v", codes, tt.want)
			}
			for i, c := range codes {
				if c.Code != tt.want[i] {
					t.Errorf("codes[%d] = %q; want %q", i, c.Code, tt.want[i])
				}
			}
		})
	}
}

func TestMemory_FilterWithoutCodeSystem(t *testing.T) {
	m := newMemory(t, `{"resourceType": "ValueSet", "url": "http://example.org/ValueSet/orphan",
	  "compose": {"include": [{"system": "http://example.org/missing"}]}}`)

	codes, err := m.Expand(context.Background(), "orphan")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(codes) != 0 {
		t.Errorf("Expand() = %v; want empty", codes)
	}
}
