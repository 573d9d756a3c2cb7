package retrieve

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is the root of all configuration errors. A resolution
	// failing with it must not be retried.
	ErrConfiguration = errors.New("retrieve: configuration error")

	// ErrMissingCollaborator is returned when a constraint needs a
	// collaborator (terminology service, catalog, evaluator) that was not
	// configured.
	ErrMissingCollaborator = errors.New("retrieve: missing collaborator")

	// ErrUnresolvedSearchParameter is returned when a dimension that must be
	// pushed down has no search parameter in the catalog.
	ErrUnresolvedSearchParameter = fmt.Errorf("%w: unresolved search parameter", ErrConfiguration)
)

// ConfigError describes an invalid criterion or settings field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("retrieve: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrConfiguration) hold.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}
