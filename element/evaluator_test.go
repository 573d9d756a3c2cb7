package element

import (
	"encoding/json"
	"testing"

	"github.com/gofhir/retrieve/service"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("invalid fixture: %v", err)
	}
	return m
}

const observation = `{
	"resourceType": "Observation",
	"id": "o1",
	"status": "final",
	"subject": {"reference": "Patient/123", "display": "Jane"},
	"code": {
		"coding": [
			{"system": "http://loinc.org", "code": "4548-4"},
			{"system": "http://snomed.info/sct", "code": "43396009"}
		],
		"text": "HbA1c"
	},
	"effectivePeriod": {"start": "2020-01-01", "end": "2020-01-02"},
	"valueQuantity": {"value": 6.3, "unit": "%"},
	"performer": [
		{"reference": "Practitioner/1"},
		{"reference": "Organization/2"}
	]
}`

func TestEvaluateFirst(t *testing.T) {
	e := New()
	obs := decode(t, observation)

	t.Run("primitive id", func(t *testing.T) {
		v, err := e.EvaluateFirst(obs, "id")
		if err != nil {
			t.Fatalf("EvaluateFirst error = %v", err)
		}
		p, ok := v.(service.Primitive)
		if !ok || p.Value != "o1" {
			t.Errorf("EvaluateFirst(id) = %#v; want Primitive o1", v)
		}
	})

	t.Run("reference", func(t *testing.T) {
		v, _ := e.EvaluateFirst(obs, "subject")
		r, ok := v.(service.Reference)
		if !ok || r.Reference != "Patient/123" {
			t.Errorf("EvaluateFirst(subject) = %#v; want Reference Patient/123", v)
		}
	})

	t.Run("composite", func(t *testing.T) {
		v, _ := e.EvaluateFirst(obs, "code")
		c, ok := v.(service.Composite)
		if !ok {
			t.Fatalf("EvaluateFirst(code) = %#v; want Composite", v)
		}
		if c.Fields["text"] != "HbA1c" {
			t.Errorf("Fields[text] = %v", c.Fields["text"])
		}
	})

	t.Run("choice type", func(t *testing.T) {
		v, _ := e.EvaluateFirst(obs, "effective")
		c, ok := v.(service.Composite)
		if !ok || c.Type != "Period" {
			t.Errorf("EvaluateFirst(effective) = %#v; want Composite Period", v)
		}
		v, _ = e.EvaluateFirst(obs, "value.value")
		if p, ok := v.(service.Primitive); !ok || p.Value != "6.3" {
			t.Errorf("EvaluateFirst(value.value) = %#v; want Primitive 6.3", v)
		}
	})

	t.Run("nested through array", func(t *testing.T) {
		v, _ := e.EvaluateFirst(obs, "code.coding.code")
		if p, ok := v.(service.Primitive); !ok || p.Value != "4548-4" {
			t.Errorf("EvaluateFirst(code.coding.code) = %#v", v)
		}
	})

	t.Run("absent", func(t *testing.T) {
		v, err := e.EvaluateFirst(obs, "encounter")
		if err != nil || v != nil {
			t.Errorf("EvaluateFirst(encounter) = %#v, %v; want nil, nil", v, err)
		}
		v, _ = e.EvaluateFirst(obs, "status.text")
		if v != nil {
			t.Errorf("step into primitive = %#v; want nil", v)
		}
	})

	t.Run("invalid path", func(t *testing.T) {
		if _, err := e.EvaluateFirst(obs, "code..coding"); err == nil {
			t.Error("expected error for empty step")
		}
		if _, err := e.EvaluateFirst(obs, " "); err == nil {
			t.Error("expected error for blank path")
		}
	})
}

func TestEvaluateAll(t *testing.T) {
	e := New()
	obs := decode(t, observation)

	refs, err := e.EvaluateAll(obs, "performer")
	if err != nil {
		t.Fatalf("EvaluateAll error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("len = %d; want 2", len(refs))
	}
	for _, v := range refs {
		if _, ok := v.(service.Reference); !ok {
			t.Errorf("performer value %#v; want Reference", v)
		}
	}

	codings, _ := e.EvaluateAll(obs, "code.coding")
	if len(codings) != 2 {
		t.Errorf("len(code.coding) = %d; want 2", len(codings))
	}

	none, err := e.EvaluateAll(obs, "note")
	if err != nil || len(none) != 0 {
		t.Errorf("EvaluateAll(note) = %v, %v; want empty", none, err)
	}
}

func TestChoiceType(t *testing.T) {
	tests := []struct {
		key, base string
		want      string
		ok        bool
	}{
		{"valueQuantity", "value", "Quantity", true},
		{"effectiveDateTime", "effective", "dateTime", true},
		{"medicationReference", "medication", "Reference", true},
		{"medicationCodeableConcept", "medication", "CodeableConcept", true},
		{"valueFoo", "value", "", false},
		{"value", "value", "", false},
		{"status", "value", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := choiceType(tt.key, tt.base)
			if got != tt.want || ok != tt.ok {
				t.Errorf("choiceType(%q, %q) = %q, %v; want %q, %v", tt.key, tt.base, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestReferenceClassification(t *testing.T) {
	e := New()
	med := decode(t, `{"resourceType":"MedicationRequest","medicationReference":{"reference":"Medication/m1"}}`)
	v, _ := e.EvaluateFirst(med, "medication")
	if r, ok := v.(service.Reference); !ok || r.Reference != "Medication/m1" {
		t.Errorf("medication = %#v; want Reference", v)
	}

	// An object with a reference field and foreign keys is not a Reference.
	enc := decode(t, `{"resourceType":"Encounter","participant":[{"individual":{"reference":"Practitioner/1"},"type":[{"text":"x"}]}]}`)
	v, _ = e.EvaluateFirst(enc, "participant")
	if _, ok := v.(service.Composite); !ok {
		t.Errorf("participant = %#v; want Composite", v)
	}
}
