package retrieve

import "strings"

// Version is the module release.
const Version = "0.3.0"

// FHIRVersion is the FHIR release the bundled catalogs and adapters target.
const FHIRVersion = "4.0.1"

// BaseDefinitionPrefix is the canonical prefix of the core resource
// StructureDefinitions.
const BaseDefinitionPrefix = "http://hl7.org/fhir/StructureDefinition/"

// BaseDefinition returns the core StructureDefinition URL of a resource type.
func BaseDefinition(dataType string) string {
	return BaseDefinitionPrefix + dataType
}

// IsBaseDefinition reports whether templateID names the core definition of
// dataType, with or without a version suffix.
func IsBaseDefinition(dataType, templateID string) bool {
	return dataType != "" && strings.HasPrefix(templateID, BaseDefinition(dataType))
}
