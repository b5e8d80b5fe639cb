package doctor

import "testing"

func TestRegistry_IsValid(t *testing.T) {
	r := NewRegistry([]string{"Dr. Smith", "Dr. Johnson", "Dr. Williams"})

	cases := map[string]bool{
		"Dr. Smith":    true,
		"Dr. Williams": true,
		"dr. smith":    false,
		"Dr. Who":      false,
		"":             false,
	}
	for name, want := range cases {
		if got := r.IsValid(name); got != want {
			t.Fatalf("IsValid(%q)=%v, want %v", name, got, want)
		}
	}
}

func TestRegistry_NamesDedupesAndCopies(t *testing.T) {
	r := NewRegistry([]string{"Dr. Smith", " ", "Dr. Smith", "Dr. Grey"})

	names := r.Names()
	if len(names) != 2 || names[0] != "Dr. Smith" || names[1] != "Dr. Grey" {
		t.Fatalf("unexpected names: %v", names)
	}

	names[0] = "mutated"
	if !r.IsValid("Dr. Smith") || r.Names()[0] != "Dr. Smith" {
		t.Fatalf("registry must not be mutable through Names")
	}
}
