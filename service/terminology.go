package service

import (
	"context"
	"errors"

	"github.com/gofhir/retrieve"
)

// ErrValueSetNotFound is returned by terminology services that do not know a
// value set. Chains use it to fall through to the next service.
var ErrValueSetNotFound = errors.New("value set not found")

// MembershipChecker tests whether a code belongs to a value set.
type MembershipChecker interface {
	IsMember(ctx context.Context, code retrieve.Code, valueSetID string) (bool, error)
}

// ValueSetExpander enumerates the codes of a value set.
type ValueSetExpander interface {
	Expand(ctx context.Context, valueSetID string) ([]retrieve.Code, error)
}

// TerminologyService combines membership testing and expansion.
type TerminologyService interface {
	MembershipChecker
	ValueSetExpander
}
