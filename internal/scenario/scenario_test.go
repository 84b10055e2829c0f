package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinCatalog(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 11 {
		t.Fatalf("builtin scenarios = %d, want 11", c.Len())
	}
	s, ok := c.Get("patricia johnson")
	if !ok || s.ID != "refill-bp" {
		t.Fatalf("lookup by name failed: %+v", s)
	}
	if _, ok := c.At(len(c.All())); ok {
		t.Fatalf("out of range index must fail")
	}
}

func TestParseYAML(t *testing.T) {
	doc := `
scenarios:
  - id: lab-results
    name: Ana Ortiz
    date_of_birth: May 2, 1990
    kind: question
    goal: Ask whether lab results are ready
    details:
      test: blood panel
    hints:
      - mention the draw was last Monday
    max_turns: 6
`
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := c.Get("lab-results")
	if !ok {
		t.Fatalf("scenario not loaded")
	}
	if s.MaxTurns != 6 || len(s.Hints) != 1 || s.Details["test"] != "blood panel" || s.Kind != Question {
		t.Fatalf("fields not decoded: %+v", s)
	}
	if !strings.Contains(s.DetailLines(), "- test: blood panel") {
		t.Fatalf("detail lines: %q", s.DetailLines())
	}
}

func TestNewCatalogRejectsInvalid(t *testing.T) {
	cases := map[string][]Scenario{
		"missing id":   {{Goal: "x"}},
		"missing goal": {{ID: "a"}},
		"duplicate":    {{ID: "a", Goal: "x"}, {ID: "a", Goal: "y"}},
	}
	for name, list := range cases {
		if _, err := NewCatalog(list); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
