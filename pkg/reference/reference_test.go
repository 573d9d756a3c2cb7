package reference

import "testing"

func TestStripLocalScheme(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"uuid", "urn:uuid:123e4567-e89b-12d3-a456-426614174000", "123e4567-e89b-12d3-a456-426614174000"},
		{"oid", "urn:oid:1.2.3.4", "1.2.3.4"},
		{"relative", "Patient/123", "Patient/123"},
		{"bare", "123", "123"},
		{"empty", "", ""},
		{"only one prefix removed", "urn:uuid:urn:oid:1.2", "urn:oid:1.2"},
		{"scheme not at start", "Patient/urn:uuid:1", "Patient/urn:uuid:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripLocalScheme(tt.input); got != tt.want {
				t.Errorf("StripLocalScheme(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitRelativeReference(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Patient/123", "123"},
		{"123", "123"},
		{"Patient/123/_history/2", "123/_history/2"},
		{"", ""},
		{"/abc", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SplitRelativeReference(tt.input); got != tt.want {
				t.Errorf("SplitRelativeReference(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"Patient/123", "urn:uuid:abc", "urn:oid:1.2.3", "123", ""}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize(Normalize(%q)) = %q; want %q", in, twice, once)
		}
	}

	if Normalize("urn:uuid:123") != Normalize("Patient/123") {
		t.Error("urn:uuid:123 and Patient/123 should normalize to the same id")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Patient/123", "123"},
		{"urn:uuid:abc", "abc"},
		{"Patient/123/_history/2", "123/_history/2"},
		{"http://s/fhir/Patient/1", "/s/fhir/Patient/1"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestResourceType(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Patient/123", "Patient"},
		{"123", ""},
		{"urn:uuid:abc", ""},
		{"http://example.org/fhir/Patient/1", ""},
		{"/x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ResourceType(tt.input); got != tt.want {
				t.Errorf("ResourceType(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEqualAndIsLocal(t *testing.T) {
	if !Equal("Patient/1", "1") {
		t.Error("Equal(Patient/1, 1) = false")
	}
	if Equal("Patient/1", "Patient/2") {
		t.Error("Equal(Patient/1, Patient/2) = true")
	}
	if !IsLocal("urn:oid:1.2") || IsLocal("Patient/1") {
		t.Error("IsLocal misclassified")
	}
}
