package repoid

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"acme", "widgets", "a", "A1", "foo.bar", "foo-bar_baz", "x123456789012345678901234567890123456789"[:39]}
	for _, n := range valid {
		if err := ValidateName("owner", n); err != nil {
			t.Errorf("ValidateName(%q) unexpected error: %v", n, err)
		}
	}

	invalid := []string{"", ".", "..", ".hidden", "a/b", "a\\b", "-leading-dash-ok-but-too-long-xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", "has space", "has/slash"}
	for _, n := range invalid {
		if err := ValidateName("owner", n); err == nil {
			t.Errorf("ValidateName(%q) expected error, got nil", n)
		}
	}
}

func TestRepoKeyEquality(t *testing.T) {
	a, err := NewRepoKey("Acme", "Widgets")
	if err != nil {
		t.Fatalf("NewRepoKey: %v", err)
	}
	b, err := NewRepoKey("acme", "widgets")
	if err != nil {
		t.Fatalf("NewRepoKey: %v", err)
	}

	if !a.Equal(b) {
		t.Errorf("expected %v to equal %v case-insensitively", a, b)
	}
	if a.MapKey() != b.MapKey() {
		t.Errorf("expected MapKey to be case-insensitive: %q != %q", a.MapKey(), b.MapKey())
	}
	if a.Owner != "Acme" {
		t.Errorf("expected display case preserved, got %q", a.Owner)
	}
	if a.Canonical().Owner != "acme" {
		t.Errorf("expected canonical form lowercased, got %q", a.Canonical().Owner)
	}
}

func TestGenerationIdOrdering(t *testing.T) {
	g1 := GenerationId(1)
	g2 := g1.Next()
	if g2 != 2 {
		t.Errorf("expected 2, got %d", g2)
	}
	if g1.DirName() != "gen-000001" {
		t.Errorf("unexpected dir name: %s", g1.DirName())
	}
	if NoGeneration.Valid() {
		t.Errorf("NoGeneration must not be valid")
	}
	if !g1.Valid() {
		t.Errorf("gen 1 must be valid")
	}
}

func TestParseGenerationDirName(t *testing.T) {
	id, ok := ParseGenerationDirName("gen-000042")
	if !ok || id != 42 {
		t.Errorf("expected 42/true, got %d/%v", id, ok)
	}

	if _, ok := ParseGenerationDirName("current"); ok {
		t.Errorf("expected 'current' to not parse as a generation dir")
	}
	if _, ok := ParseGenerationDirName("gen-abc"); ok {
		t.Errorf("expected non-numeric suffix to fail")
	}
}
