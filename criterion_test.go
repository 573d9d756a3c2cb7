package retrieve

import (
	"errors"
	"testing"
	"time"
)

func TestCriterion_Validate(t *testing.T) {
	year := &DateRange{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name      string
		criterion Criterion
		wantField string
	}{
		{"minimal", Criterion{DataType: "Observation"}, ""},
		{"missing data type", Criterion{}, "dataType"},
		{"date path with range", Criterion{DataType: "Observation", DatePath: "effective", DateRange: year}, ""},
		{"low path with range", Criterion{DataType: "Observation", DateLowPath: "effective", DateRange: year}, ""},
		{"low path without range", Criterion{DataType: "Observation", DateLowPath: "effective"}, "dateRange"},
		{"date path without range", Criterion{DataType: "Observation", DatePath: "effective"}, "dateRange"},
		{"range without any path", Criterion{DataType: "Observation", DateRange: year}, "datePath"},
		{"path and low path", Criterion{DataType: "Observation", DatePath: "effective", DateLowPath: "issued", DateRange: year}, "datePath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.criterion.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v; want nil", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v; want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %q; want %q", cfgErr.Field, tt.wantField)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Error("error should wrap ErrConfiguration")
			}
		})
	}
}

func TestCriterion_Has(t *testing.T) {
	c := Criterion{
		DataType:     "Observation",
		ContextType:  "Patient",
		ContextPath:  "subject",
		ContextValue: "123",
		TemplateID:   "  ",
		CodePath:     "code",
	}

	if !c.HasContext() {
		t.Error("HasContext() = false; want true")
	}
	if c.HasTemplate() {
		t.Error("HasTemplate() = true for blank template; want false")
	}
	if c.HasTerminology() {
		t.Error("HasTerminology() = true without codes or value set; want false")
	}
	c.ValueSetID = "vs-1"
	if !c.HasTerminology() {
		t.Error("HasTerminology() = false with value set; want true")
	}
	if c.HasDatePath() {
		t.Error("HasDatePath() = true; want false")
	}
}

func TestCode_String(t *testing.T) {
	if got := (Code{System: "http://loinc.org", Code: "1234-5"}).String(); got != "http://loinc.org|1234-5" {
		t.Errorf("String() = %q", got)
	}
	if got := (Code{Code: "abc"}).String(); got != "abc" {
		t.Errorf("String() = %q; want bare code", got)
	}
}

func TestResource_Profiles(t *testing.T) {
	r := Resource{
		"resourceType": "Observation",
		"id":           "o1",
		"meta": map[string]any{
			"profile": []any{"http://example.org/a", "http://example.org/b"},
		},
	}

	if r.ResourceType() != "Observation" {
		t.Errorf("ResourceType() = %q", r.ResourceType())
	}
	if r.ID() != "o1" {
		t.Errorf("ID() = %q", r.ID())
	}
	if got := r.Profiles(); len(got) != 2 {
		t.Fatalf("Profiles() = %v; want 2 entries", got)
	}
	if !r.HasProfile("http://example.org/b") {
		t.Error("HasProfile(b) = false")
	}
	if r.HasProfile("http://example.org") {
		t.Error("HasProfile must compare exactly")
	}
	if (Resource{}).Profiles() != nil {
		t.Error("Profiles() without meta should be nil")
	}
}
