package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/element"
	"github.com/gofhir/retrieve/service"
)

func TestConformancePredicate(t *testing.T) {
	profile := "http://example.org/StructureDefinition/lab"
	declared := resource(t, hba1c)
	plain := resource(t, `{"resourceType":"Observation","id":"o2"}`)

	tests := []struct {
		name     string
		template string
		mode     retrieve.ConformanceMode
		r        retrieve.Resource
		want     bool
	}{
		{"blank template", "  ", retrieve.ConformanceDeclared, plain, true},
		{"base definition", retrieve.BaseDefinition("Observation"), retrieve.ConformanceDeclared, plain, true},
		{"off", profile, retrieve.ConformanceOff, plain, true},
		{"declared", profile, retrieve.ConformanceDeclared, declared, true},
		{"not declared", profile, retrieve.ConformanceDeclared, plain, false},
		{"enforced without validator", profile, retrieve.ConformanceEnforced, declared, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ConformancePredicate("Observation", tt.template, tt.mode, nil)
			got, err := p(context.Background(), tt.r)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v; want %v", got, tt.want)
			}
		})
	}
}

func TestConformancePredicate_ValidatorError(t *testing.T) {
	boom := errors.New("boom")
	v := validatorFunc(func(context.Context, retrieve.Resource, string) (bool, error) { return false, boom })
	p := ConformancePredicate("Observation", "http://example.org/StructureDefinition/lab", retrieve.ConformanceEnforced, v)
	if _, err := p(context.Background(), resource(t, hba1c)); !errors.Is(err, boom) {
		t.Errorf("error = %v; want wrapped boom", err)
	}
}

func TestContextPredicate(t *testing.T) {
	eval := element.New()
	tests := []struct {
		name  string
		path  string
		value string
		r     string
		want  bool
	}{
		{"reference against bare id", "subject", "123", `{"subject":{"reference":"Patient/123"}}`, true},
		{"other id", "subject", "999", `{"subject":{"reference":"Patient/123"}}`, false},
		{"typed context value", "subject", "Patient/123", `{"subject":{"reference":"Patient/123"}}`, true},
		{"local uuid", "subject", "urn:uuid:abc", `{"subject":{"reference":"urn:uuid:abc"}}`, true},
		{"uuid against bare", "subject", "abc", `{"subject":{"reference":"urn:uuid:abc"}}`, true},
		{"primitive id", "id", "Patient/123", `{"id":"123"}`, true},
		{"composite holding reference", "beneficiary", "123", `{"beneficiary":{"reference":"Patient/123","extension":[{"url":"x"}]}}`, true},
		{"missing element", "subject", "123", `{}`, false},
		{"empty reference", "subject", "123", `{"subject":{"display":"Jane"}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ContextPredicate(eval, "Patient", tt.path, tt.value)
			got, err := p(context.Background(), resource(t, tt.r))
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v; want %v", got, tt.want)
			}
		})
	}

	if ok, _ := ContextPredicate(eval, "", "subject", "123")(context.Background(), resource(t, `{}`)); !ok {
		t.Error("blank context type should yield Always")
	}
}

func TestTerminologyPredicate_Codes(t *testing.T) {
	tr := NewTerminologyResolver(element.New(), nil)
	a := retrieve.Code{System: loinc, Code: "1234-5"}
	b := retrieve.Code{System: loinc, Code: "4548-4"}
	r := resource(t, hba1c)

	for _, codes := range [][]retrieve.Code{{a, b}, {b, a}} {
		ok, err := tr.Predicate("code", codes, "")(context.Background(), r)
		if err != nil || !ok {
			t.Errorf("codes %v: got %v, %v; want true", codes, ok, err)
		}
	}

	ok, err := tr.Predicate("code", []retrieve.Code{b}, "")(context.Background(), r)
	if err != nil || ok {
		t.Errorf("non-matching code: got %v, %v; want false", ok, err)
	}

	ok, _ = tr.Predicate("code", nil, "")(context.Background(), r)
	if !ok {
		t.Error("empty constraint should yield Always")
	}
}

func TestTerminologyPredicate_ValueSet(t *testing.T) {
	ts := &fakeTerminology{valueSets: map[string][]retrieve.Code{"vs-1": {{System: loinc, Code: "1234-5"}}}}
	tr := NewTerminologyResolver(element.New(), ts)
	ctx := context.Background()

	ok, err := tr.Predicate("code", nil, "vs-1")(ctx, resource(t, hba1c))
	if err != nil || !ok {
		t.Errorf("member: got %v, %v; want true", ok, err)
	}

	outside := resource(t, `{"resourceType":"Observation","code":{"coding":[{"system":"http://loinc.org","code":"9"}]}}`)
	ok, err = tr.Predicate("code", nil, "vs-1")(ctx, outside)
	if err != nil || ok {
		t.Errorf("non-member: got %v, %v; want false", ok, err)
	}

	ts.err = errors.New("unavailable")
	if _, err := tr.Predicate("code", nil, "vs-1")(ctx, resource(t, hba1c)); !errors.Is(err, ts.err) {
		t.Errorf("error = %v; want wrapped terminology error", err)
	}

	noService := NewTerminologyResolver(element.New(), nil)
	if _, err := noService.Predicate("code", nil, "vs-1")(ctx, resource(t, hba1c)); !errors.Is(err, retrieve.ErrMissingCollaborator) {
		t.Errorf("error = %v; want ErrMissingCollaborator", err)
	}
}

func TestTerminologyMatches(t *testing.T) {
	ts := &fakeTerminology{valueSets: map[string][]retrieve.Code{"vs-1": {{Code: "final"}}}}
	tr := NewTerminologyResolver(element.New(), ts)
	notDone := service.Composite{Type: "CodeableConcept", Fields: map[string]any{
		"extension": []any{map[string]any{"url": NotDoneValueSetQICore, "valueUri": "vs-1"}},
	}}

	tests := []struct {
		name   string
		values []service.ElementValue
		codes  []retrieve.Code
		vs     string
		want   bool
	}{
		{"primitive in code list", []service.ElementValue{service.Primitive{Value: "123"}}, []retrieve.Code{{Code: "123"}}, "", true},
		{"primitive member of value set", []service.ElementValue{service.Primitive{Value: "final"}}, nil, "vs-1", true},
		{"primitive outside", []service.ElementValue{service.Primitive{Value: "draft"}}, []retrieve.Code{{Code: "123"}}, "", false},
		{"reference as identifier", []service.ElementValue{service.Reference{Reference: "Medication/med-1"}}, []retrieve.Code{{Code: "med-1"}}, "", true},
		{"not done same value set", []service.ElementValue{notDone}, nil, "vs-1", true},
		{"not done other value set", []service.ElementValue{notDone}, nil, "vs-2", false},
		{"coding", []service.ElementValue{service.Composite{Fields: map[string]any{"system": loinc, "code": "1"}}}, []retrieve.Code{{System: loinc, Code: "1"}}, "", true},
		{"no values", nil, []retrieve.Code{{System: loinc, Code: "1"}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Matches(context.Background(), tt.values, tt.codes, tt.vs)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v; want %v", got, tt.want)
			}
		})
	}
}

func TestPushdown(t *testing.T) {
	ts := &fakeTerminology{valueSets: map[string][]retrieve.Code{"vs-1": {{System: loinc, Code: "1"}}}}
	tr := NewTerminologyResolver(element.New(), ts)
	ctx := context.Background()
	extra := []retrieve.Code{{System: loinc, Code: "2"}}

	q, err := tr.Pushdown(ctx, "code", extra, "vs-1", ShapeInline)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := q.String(), "code=http://loinc.org|1,http://loinc.org|2"; got != want {
		t.Errorf("inline = %q; want %q", got, want)
	}

	q, err = tr.Pushdown(ctx, "code", extra, "vs-1", ShapeMembership)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := q.String(), "code:in=vs-1"; got != want {
		t.Errorf("membership = %q; want %q", got, want)
	}

	q, _ = tr.Pushdown(ctx, "code", nil, "", ShapeInline)
	if !q.IsEmpty() {
		t.Errorf("empty constraint = %q; want empty", q)
	}

	if _, err := tr.Pushdown(ctx, "code", nil, "missing", ShapeInline); !errors.Is(err, service.ErrValueSetNotFound) {
		t.Errorf("error = %v; want ErrValueSetNotFound", err)
	}
}

func TestDatePredicate(t *testing.T) {
	eval := element.New()
	rng := &retrieve.DateRange{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 12, 31, 23, 59, 59, 0, time.UTC),
	}

	tests := []struct {
		name            string
		date, low, high string
		r               string
		want            bool
	}{
		{"instant inside", "effective", "", "", `{"effectiveDateTime":"2020-06-15T10:00:00Z"}`, true},
		{"instant before", "effective", "", "", `{"effectiveDateTime":"2019-06-15T10:00:00Z"}`, false},
		{"year overlaps", "effective", "", "", `{"effectiveDateTime":"2020"}`, true},
		{"period overlapping start", "effective", "", "", `{"effectivePeriod":{"start":"2019-12-01","end":"2020-01-05"}}`, true},
		{"open period", "effective", "", "", `{"effectivePeriod":{"start":"2019-12-01"}}`, true},
		{"missing value", "effective", "", "", `{}`, false},
		{"unparsable", "effective", "", "", `{"effectiveDateTime":"soon"}`, false},
		{"low and high inside", "", "onsetDateTime", "abatementDateTime", `{"onsetDateTime":"2020-02-01","abatementDateTime":"2020-03-01"}`, true},
		{"high after end", "", "onsetDateTime", "recordedDate", `{"onsetDateTime":"2020-02-01","recordedDate":"2021-03-01"}`, false},
		{"low before start", "", "onsetDateTime", "", `{"onsetDateTime":"2019-02-01"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DatePredicate(eval, tt.date, tt.low, tt.high, rng)
			got, err := p(context.Background(), resource(t, tt.r))
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v; want %v", got, tt.want)
			}
		})
	}
}

func TestDateQuery(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)

	q := DateQuery("date", "date", retrieve.DateRange{Start: start, End: end})
	if got, want := q.String(), "date=ge2020-01-01T00:00:00Z&date=le2020-12-31T00:00:00Z"; got != want {
		t.Errorf("DateQuery = %q; want %q", got, want)
	}
	q = DateQuery("onset-date", "abatement-date", retrieve.DateRange{End: end})
	if got, want := q.String(), "abatement-date=le2020-12-31T00:00:00Z"; got != want {
		t.Errorf("DateQuery = %q; want %q", got, want)
	}
}

func TestContextQuery(t *testing.T) {
	subject := service.SearchParameter{Name: "subject", Type: service.SearchParamReference, Path: "subject"}
	id := service.SearchParameter{Name: service.ParamID, Type: service.SearchParamToken, Path: "id"}

	tests := []struct {
		param service.SearchParameter
		value string
		want  string
	}{
		{subject, "123", "subject=Patient/123"},
		{subject, "Patient/123", "subject=Patient/123"},
		{subject, "urn:uuid:abc", "subject=Patient/abc"},
		{id, "Patient/123", "_id=123"},
		{id, "", ""},
	}
	for _, tt := range tests {
		if got := ContextQuery(tt.param, "Patient", tt.value).String(); got != tt.want {
			t.Errorf("ContextQuery(%s, %q) = %q; want %q", tt.param.Name, tt.value, got, tt.want)
		}
	}
}
