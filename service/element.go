package service

// ElementValue is the value found at an element path. It is one of
// Primitive, Reference or Composite.
type ElementValue interface {
	isElementValue()
}

// Primitive is a FHIR primitive rendered as its JSON text
// (strings as-is, numbers and booleans formatted).
type Primitive struct {
	Value string
}

// Reference is a FHIR Reference.
type Reference struct {
	Reference string
	Type      string
}

// Composite is any other complex element. Type is the FHIR type name when
// the path selected a choice type variant ("Period" for effectivePeriod).
type Composite struct {
	Type   string
	Fields map[string]any
}

func (Primitive) isElementValue() {}
func (Reference) isElementValue() {}
func (Composite) isElementValue() {}

// ElementEvaluator reads element values by path. node is a resource or a
// Composite's Fields.
type ElementEvaluator interface {
	// EvaluateFirst returns the first value at path, or nil when absent.
	EvaluateFirst(node map[string]any, path string) (ElementValue, error)
	// EvaluateAll returns every value at path.
	EvaluateAll(node map[string]any, path string) ([]ElementValue, error)
}
