package retrieve

// Resource is a decoded FHIR resource in its JSON object form.
type Resource map[string]any

// ResourceType returns the resourceType field.
func (r Resource) ResourceType() string {
	s, _ := r["resourceType"].(string)
	return s
}

// ID returns the logical id.
func (r Resource) ID() string {
	s, _ := r["id"].(string)
	return s
}

// Profiles returns the canonical URLs declared in meta.profile.
func (r Resource) Profiles() []string {
	meta, ok := r["meta"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := meta["profile"].([]any)
	if !ok {
		return nil
	}
	profiles := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok {
			profiles = append(profiles, s)
		}
	}
	return profiles
}

// HasProfile reports whether meta.profile contains url exactly.
func (r Resource) HasProfile(url string) bool {
	for _, p := range r.Profiles() {
		if p == url {
			return true
		}
	}
	return false
}
