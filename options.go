package retrieve

import (
	"fmt"
	"strings"
)

// ConformanceMode governs how a criterion's template is checked.
type ConformanceMode string

// Conformance modes. Only Off and the declared-profile comparison change
// behaviour; Enforced additionally consults a ProfileValidator when one is
// configured.
const (
	ConformanceEnforced ConformanceMode = "enforced"
	ConformanceOptional ConformanceMode = "optional"
	ConformanceDeclared ConformanceMode = "declared"
	ConformanceTrust    ConformanceMode = "trust"
	ConformanceOff      ConformanceMode = "off"
)

// String returns the mode name.
func (m ConformanceMode) String() string { return string(m) }

// IsValid returns true for a known mode.
func (m ConformanceMode) IsValid() bool {
	switch m {
	case ConformanceEnforced, ConformanceOptional, ConformanceDeclared, ConformanceTrust, ConformanceOff:
		return true
	default:
		return false
	}
}

// FilterMode selects push-down or in-memory filtering for the conformance,
// context and date dimensions.
type FilterMode string

// Filter modes.
const (
	FilterAuto       FilterMode = "auto"
	FilterRepository FilterMode = "repository"
	FilterInMemory   FilterMode = "inmemory"
)

// String returns the mode name.
func (m FilterMode) String() string { return string(m) }

// IsValid returns true for a known mode.
func (m FilterMode) IsValid() bool {
	switch m {
	case FilterAuto, FilterRepository, FilterInMemory:
		return true
	default:
		return false
	}
}

// TerminologyMode selects how the terminology dimension is filtered.
//
// Inline pushes down an explicit system|code list (expanding value sets
// first). Repository pushes down a ":in" membership query and leaves the
// expansion to the repository. InMemory always filters locally.
type TerminologyMode string

// Terminology modes.
const (
	TerminologyAuto       TerminologyMode = "auto"
	TerminologyRepository TerminologyMode = "repository"
	TerminologyInline     TerminologyMode = "inline"
	TerminologyInMemory   TerminologyMode = "inmemory"
)

// String returns the mode name.
func (m TerminologyMode) String() string { return string(m) }

// IsValid returns true for a known mode.
func (m TerminologyMode) IsValid() bool {
	switch m {
	case TerminologyAuto, TerminologyRepository, TerminologyInline, TerminologyInMemory:
		return true
	default:
		return false
	}
}

// ParseConformanceMode parses a mode name, case-insensitively.
func ParseConformanceMode(s string) (ConformanceMode, error) {
	m := ConformanceMode(normalizeMode(s))
	if !m.IsValid() {
		return "", &ConfigError{Field: "conformanceMode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
	return m, nil
}

// ParseFilterMode parses a mode name, case-insensitively.
func ParseFilterMode(s string) (FilterMode, error) {
	m := FilterMode(normalizeMode(s))
	if !m.IsValid() {
		return "", &ConfigError{Field: "filterMode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
	return m, nil
}

// ParseTerminologyMode parses a mode name, case-insensitively.
func ParseTerminologyMode(s string) (TerminologyMode, error) {
	m := TerminologyMode(normalizeMode(s))
	if !m.IsValid() {
		return "", &ConfigError{Field: "terminologyMode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
	return m, nil
}

// normalizeMode accepts "InMemory", "in-memory" and "in_memory" alike.
func normalizeMode(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "").Replace(s)
}

// Settings holds the filter policy knobs. A Settings value is never mutated
// after construction; build a new one to change policy between calls.
type Settings struct {
	ConformanceMode ConformanceMode
	FilterMode      FilterMode
	TerminologyMode TerminologyMode
}

// Option configures Settings.
type Option func(*Settings)

// DefaultSettings returns the default policy: declared-profile checks and
// automatic push-down for every dimension.
func DefaultSettings() Settings {
	return Settings{
		ConformanceMode: ConformanceDeclared,
		FilterMode:      FilterAuto,
		TerminologyMode: TerminologyAuto,
	}
}

// NewSettings returns DefaultSettings with the given options applied.
func NewSettings(opts ...Option) Settings {
	s := DefaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Validate reports unknown modes.
func (s Settings) Validate() error {
	if !s.ConformanceMode.IsValid() {
		return &ConfigError{Field: "conformanceMode", Reason: fmt.Sprintf("unknown mode %q", s.ConformanceMode)}
	}
	if !s.FilterMode.IsValid() {
		return &ConfigError{Field: "filterMode", Reason: fmt.Sprintf("unknown mode %q", s.FilterMode)}
	}
	if !s.TerminologyMode.IsValid() {
		return &ConfigError{Field: "terminologyMode", Reason: fmt.Sprintf("unknown mode %q", s.TerminologyMode)}
	}
	return nil
}

// WithConformanceMode sets the conformance mode.
func WithConformanceMode(m ConformanceMode) Option {
	return func(s *Settings) {
		s.ConformanceMode = m
	}
}

// WithFilterMode sets the filter mode.
func WithFilterMode(m FilterMode) Option {
	return func(s *Settings) {
		s.FilterMode = m
	}
}

// WithTerminologyMode sets the terminology mode.
func WithTerminologyMode(m TerminologyMode) Option {
	return func(s *Settings) {
		s.TerminologyMode = m
	}
}
