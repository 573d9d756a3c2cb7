// Package element evaluates simple element paths over decoded FHIR JSON.
//
// Paths are dotted element names relative to the node they are evaluated on
// ("subject", "code.coding", "effective"). Arrays are flattened at every
// step, and a step naming a choice element ("value", "effective") selects
// whichever typed variant is present ("valueQuantity", "effectivePeriod").
//
// Results are classified into service.ElementValue:
//
//   - strings, numbers and booleans become Primitive
//   - objects shaped like a FHIR Reference become Reference
//   - every other object becomes Composite
package element
