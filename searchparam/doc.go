// Package searchparam maps element paths to FHIR search parameters.
//
// A Registry is filled from SearchParameter resources (one resource, a
// Bundle, or a directory of either) and from the built-in Default table of
// common R4 parameters. Each FHIRPath expression is split on "|" and reduced
// to a plain path, so "Observation.subject.where(resolve() is Patient)"
// indexes Observation.subject and "(Observation.effective as dateTime)"
// indexes Observation.effective.
package searchparam
