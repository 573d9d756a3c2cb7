package retrieve

import (
	"errors"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	if s.ConformanceMode != ConformanceDeclared {
		t.Errorf("ConformanceMode = %s; want %s", s.ConformanceMode, ConformanceDeclared)
	}
	if s.FilterMode != FilterAuto {
		t.Errorf("FilterMode = %s; want %s", s.FilterMode, FilterAuto)
	}
	if s.TerminologyMode != TerminologyAuto {
		t.Errorf("TerminologyMode = %s; want %s", s.TerminologyMode, TerminologyAuto)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestNewSettings(t *testing.T) {
	s := NewSettings(
		WithConformanceMode(ConformanceOff),
		WithFilterMode(FilterInMemory),
		WithTerminologyMode(TerminologyInline),
	)

	if s.ConformanceMode != ConformanceOff {
		t.Errorf("ConformanceMode = %s; want off", s.ConformanceMode)
	}
	if s.FilterMode != FilterInMemory {
		t.Errorf("FilterMode = %s; want inmemory", s.FilterMode)
	}
	if s.TerminologyMode != TerminologyInline {
		t.Errorf("TerminologyMode = %s; want inline", s.TerminologyMode)
	}
}

func TestSettings_CopiesAreIndependent(t *testing.T) {
	base := DefaultSettings()
	changed := NewSettings(WithFilterMode(FilterRepository))

	if base.FilterMode != FilterAuto {
		t.Errorf("base FilterMode = %s; want auto", base.FilterMode)
	}
	if changed.FilterMode != FilterRepository {
		t.Errorf("changed FilterMode = %s; want repository", changed.FilterMode)
	}
}

func TestSettings_ValidateUnknownMode(t *testing.T) {
	s := NewSettings(WithFilterMode("sometimes"))

	err := s.Validate()
	if err == nil {
		t.Fatal("expected error for unknown filter mode")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("error %v should wrap ErrConfiguration", err)
	}
}

func TestParseModes(t *testing.T) {
	tests := []struct {
		input string
		want  TerminologyMode
		ok    bool
	}{
		{"auto", TerminologyAuto, true},
		{"Inline", TerminologyInline, true},
		{"InMemory", TerminologyInMemory, true},
		{"in-memory", TerminologyInMemory, true},
		{" repository ", TerminologyRepository, true},
		{"remote", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTerminologyMode(tt.input)
			if (err == nil) != tt.ok {
				t.Fatalf("ParseTerminologyMode(%q) error = %v; want ok=%v", tt.input, err, tt.ok)
			}
			if got != tt.want {
				t.Errorf("ParseTerminologyMode(%q) = %s; want %s", tt.input, got, tt.want)
			}
		})
	}

	if m, err := ParseFilterMode("IN_MEMORY"); err != nil || m != FilterInMemory {
		t.Errorf("ParseFilterMode(IN_MEMORY) = %s, %v; want inmemory", m, err)
	}
	if m, err := ParseConformanceMode("Trust"); err != nil || m != ConformanceTrust {
		t.Errorf("ParseConformanceMode(Trust) = %s, %v; want trust", m, err)
	}
	if _, err := ParseConformanceMode("strict"); err == nil {
		t.Error("expected error for unknown conformance mode")
	}
}
