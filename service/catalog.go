package service

// SearchParamType is the FHIR search parameter type.
type SearchParamType string

// Search parameter types used by the resolver.
const (
	SearchParamToken     SearchParamType = "token"
	SearchParamReference SearchParamType = "reference"
	SearchParamDate      SearchParamType = "date"
	SearchParamString    SearchParamType = "string"
	SearchParamURI       SearchParamType = "uri"
	SearchParamNumber    SearchParamType = "number"
	SearchParamQuantity  SearchParamType = "quantity"
	SearchParamComposite SearchParamType = "composite"
	SearchParamSpecial   SearchParamType = "special"
)

// Well-known parameter names.
const (
	// ParamID is the self identity dimension.
	ParamID = "_id"
	// ParamProfile is the conformance dimension.
	ParamProfile = "_profile"
)

// SearchParameter is a search parameter bound to one element path.
type SearchParameter struct {
	Name string
	Type SearchParamType
	// Path is the element path relative to the resource, e.g. "subject".
	Path   string
	Target []string
}

// IsSelfIdentity reports whether the parameter addresses the resource id.
func (p SearchParameter) IsSelfIdentity() bool {
	return p.Name == ParamID
}

// SearchParameterCatalog maps element paths to repository search parameters.
type SearchParameterCatalog interface {
	// Resolve returns the parameter bound to path on resourceType.
	Resolve(resourceType, path string) (SearchParameter, bool)
	// ResolveOfType is Resolve restricted to one parameter type.
	ResolveOfType(resourceType, path string, typ SearchParamType) (SearchParameter, bool)
}

// SearchParameterLookup finds a parameter by name. Repositories that
// evaluate searches themselves use it to go back from name to path.
type SearchParameterLookup interface {
	Lookup(resourceType, name string) (SearchParameter, bool)
}
