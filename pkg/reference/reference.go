// Package reference normalizes FHIR references and local identifiers so they
// can be compared with context values.
package reference

import "strings"

// Local identifier schemes used for Bundle-local fullUrls.
const (
	SchemeUUID = "urn:uuid:"
	SchemeOID  = "urn:oid:"
)

// StripLocalScheme removes one leading urn:uuid: or urn:oid: prefix.
// Other input is returned unchanged.
func StripLocalScheme(uri string) string {
	switch {
	case strings.HasPrefix(uri, SchemeUUID):
		return uri[len(SchemeUUID):]
	case strings.HasPrefix(uri, SchemeOID):
		return uri[len(SchemeOID):]
	default:
		return uri
	}
}

// SplitRelativeReference returns the part after the first "/" of a
// "Type/id" reference, or ref itself when it has no "/".
func SplitRelativeReference(ref string) string {
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// Normalize strips the local scheme and then the type part.
// Normalize is idempotent for bare ids.
func Normalize(ref string) string {
	return SplitRelativeReference(StripLocalScheme(ref))
}

// IsLocal reports whether uri uses a local identifier scheme.
func IsLocal(uri string) bool {
	return strings.HasPrefix(uri, SchemeUUID) || strings.HasPrefix(uri, SchemeOID)
}

// ResourceType returns the type part of a relative reference "Type/id",
// or "" when the reference has none.
func ResourceType(ref string) string {
	ref = StripLocalScheme(ref)
	i := strings.IndexByte(ref, '/')
	if i <= 0 {
		return ""
	}
	typ := ref[:i]
	if typ[0] < 'A' || typ[0] > 'Z' {
		return ""
	}
	return typ
}

// Equal compares two references or ids after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
