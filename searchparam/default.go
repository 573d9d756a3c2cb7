package searchparam

import "github.com/gofhir/retrieve/service"

type binding struct {
	name   string
	typ    service.SearchParamType
	path   string
	target []string
}

func ref(name, path string, target ...string) binding {
	return binding{name: name, typ: service.SearchParamReference, path: path, target: target}
}

func token(name, path string) binding {
	return binding{name: name, typ: service.SearchParamToken, path: path}
}

func date(name, path string) binding {
	return binding{name: name, typ: service.SearchParamDate, path: path}
}

// subjectOf returns the subject and patient bindings of a resource whose
// subject element links it to a patient.
func subjectOf(path string) []binding {
	return []binding{
		ref("subject", path, "Patient", "Group"),
		ref("patient", path, "Patient"),
	}
}

func with(base []binding, more ...binding) []binding {
	return append(base, more...)
}

// r4Defaults covers the parameters quality measures retrieve most often.
var r4Defaults = map[string][]binding{
	"Resource": {
		token("_id", "id"),
		{name: "_profile", typ: service.SearchParamURI, path: "meta.profile"},
		date("_lastUpdated", "meta.lastUpdated"),
	},
	"Patient": {
		token("identifier", "identifier"),
		token("gender", "gender"),
		date("birthdate", "birthDate"),
		ref("general-practitioner", "generalPractitioner", "Practitioner", "Organization"),
		ref("organization", "managingOrganization", "Organization"),
	},
	"Observation": with(subjectOf("subject"),
		token("code", "code"),
		token("category", "category"),
		token("status", "status"),
		date("date", "effective"),
		ref("encounter", "encounter", "Encounter"),
		token("value-concept", "value"),
	),
	"Condition": with(subjectOf("subject"),
		token("code", "code"),
		token("category", "category"),
		token("clinical-status", "clinicalStatus"),
		token("verification-status", "verificationStatus"),
		date("onset-date", "onset"),
		date("abatement-date", "abatement"),
		date("recorded-date", "recordedDate"),
		ref("encounter", "encounter", "Encounter"),
	),
	"Encounter": with(subjectOf("subject"),
		token("type", "type"),
		token("class", "class"),
		token("status", "status"),
		date("date", "period"),
	),
	"Procedure": with(subjectOf("subject"),
		token("code", "code"),
		token("status", "status"),
		date("date", "performed"),
		ref("encounter", "encounter", "Encounter"),
	),
	"DiagnosticReport": with(subjectOf("subject"),
		token("code", "code"),
		token("category", "category"),
		token("status", "status"),
		date("date", "effective"),
	),
	"MedicationRequest": with(subjectOf("subject"),
		token("code", "medication"),
		token("status", "status"),
		token("intent", "intent"),
		date("authoredon", "authoredOn"),
		ref("medication", "medication", "Medication"),
	),
	"MedicationAdministration": with(subjectOf("subject"),
		token("code", "medication"),
		token("status", "status"),
		date("effective-time", "effective"),
		ref("medication", "medication", "Medication"),
	),
	"MedicationDispense": with(subjectOf("subject"),
		token("code", "medication"),
		token("status", "status"),
		date("whenhandedover", "whenHandedOver"),
	),
	"MedicationStatement": with(subjectOf("subject"),
		token("code", "medication"),
		token("status", "status"),
		date("effective", "effective"),
	),
	"ServiceRequest": with(subjectOf("subject"),
		token("code", "code"),
		token("status", "status"),
		date("authored", "authoredOn"),
	),
	"Immunization": {
		ref("patient", "patient", "Patient"),
		token("vaccine-code", "vaccineCode"),
		token("status", "status"),
		date("date", "occurrence"),
	},
	"AllergyIntolerance": {
		ref("patient", "patient", "Patient"),
		token("code", "code"),
		token("clinical-status", "clinicalStatus"),
		date("onset", "onset"),
	},
	"Coverage": {
		ref("beneficiary", "beneficiary", "Patient"),
		ref("patient", "beneficiary", "Patient"),
		token("type", "type"),
		token("status", "status"),
	},
	"Device": {
		ref("patient", "patient", "Patient"),
		token("type", "type"),
	},
}

// Default returns a registry preloaded with common R4 search parameters.
func Default(opts ...Option) *Registry {
	r := New(opts...)
	for resourceType, bindings := range r4Defaults {
		for _, b := range bindings {
			r.Register(resourceType, service.SearchParameter{
				Name:   b.name,
				Type:   b.typ,
				Path:   b.path,
				Target: b.target,
			})
		}
	}
	return r
}
