package element

import "strings"

// choiceSuffixes are the type suffixes a choice element can carry.
var choiceSuffixes = []string{
	// Complex types
	"CodeableConcept",
	"CodeableReference",
	"SimpleQuantity",
	"ContactDetail",
	"ContactPoint",
	"Annotation",
	"Attachment",
	"Identifier",
	"HumanName",
	"Reference",
	"Signature",
	"Quantity",
	"Duration",
	"Address",
	"Timing",
	"Period",
	"Coding",
	"Dosage",
	"Range",
	"Ratio",
	"Money",
	"Age",

	// Primitives
	"Base64Binary",
	"PositiveInt",
	"UnsignedInt",
	"Canonical",
	"Integer64",
	"DateTime",
	"Markdown",
	"Instant",
	"Boolean",
	"Decimal",
	"Integer",
	"String",
	"Date",
	"Time",
	"Code",
	"Uuid",
	"Uri",
	"Url",
	"Oid",
	"Id",
}

// primitiveTypes holds the lower-cased primitive suffix names.
var primitiveTypes = map[string]bool{
	"base64Binary": true,
	"positiveInt":  true,
	"unsignedInt":  true,
	"canonical":    true,
	"integer64":    true,
	"dateTime":     true,
	"markdown":     true,
	"instant":      true,
	"boolean":      true,
	"decimal":      true,
	"integer":      true,
	"string":       true,
	"date":         true,
	"time":         true,
	"code":         true,
	"uuid":         true,
	"uri":          true,
	"url":          true,
	"oid":          true,
	"id":           true,
}

// referenceKeys are the fields a FHIR Reference may carry.
var referenceKeys = map[string]bool{
	"reference":  true,
	"type":       true,
	"display":    true,
	"identifier": true,
	"id":         true,
	"extension":  true,
}

// choiceType returns the type name when key is base followed by a known
// type suffix, e.g. ("valueQuantity", "value") -> "Quantity".
// Primitive types are returned lower-camel ("dateTime").
func choiceType(key, base string) (string, bool) {
	if len(key) <= len(base) || !strings.HasPrefix(key, base) {
		return "", false
	}
	suffix := key[len(base):]
	for _, s := range choiceSuffixes {
		if s != suffix {
			continue
		}
		if lower := lowerFirst(s); primitiveTypes[lower] {
			return lower, true
		}
		return s, true
	}
	return "", false
}

// IsPrimitiveType returns true if the type code is a FHIR primitive type.
func IsPrimitiveType(typeCode string) bool {
	return primitiveTypes[typeCode]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
