package engine

import (
	"testing"
)

func TestFindingIDIsDeterministic(t *testing.T) {
	a := NewFinding(Finding{Category: CategoryStatic, Location: "app/db.py:42", RuleReference: "CWE-89", Title: "SQL injection"})
	b := NewFinding(Finding{Category: CategoryStatic, Location: "app/db.py:42", RuleReference: "CWE-89", Title: "different title"})

	if a.ID != b.ID {
		t.Errorf("Expected identical ids, got %s and %s", a.ID, b.ID)
	}
	if a.ID[:5] != "sast-" {
		t.Errorf("Expected sast- prefix, got %s", a.ID)
	}

	c := NewFinding(Finding{Category: CategoryStatic, Location: "app/db.py:43", RuleReference: "CWE-89"})
	if a.ID == c.ID {
		t.Errorf("Expected different ids for different locations")
	}

	d := NewFinding(Finding{Category: CategoryDependency, Location: "app/db.py:42", RuleReference: "CWE-89"})
	if a.ID == d.ID {
		t.Errorf("Expected category to be part of the id")
	}
}

func TestNormalizeSeverity(t *testing.T) {
	cases := map[string]Severity{
		"CRITICAL":      SeverityCritical,
		"blocker":       SeverityCritical,
		"High":          SeverityHigh,
		"ERROR":         SeverityHigh,
		"moderate":      SeverityMedium,
		"WARNING":       SeverityMedium,
		"low":           SeverityLow,
		"INFO":          SeverityInformational,
		"Informational": SeverityInformational,
		"3":             SeverityHigh,
		"0":             SeverityInformational,
		"whatever":      SeverityMedium,
	}
	for raw, want := range cases {
		if got := NormalizeSeverity(raw); got != want {
			t.Errorf("NormalizeSeverity(%q): expected %s, got %s", raw, want, got)
		}
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	ordered := []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() <= ordered[i].Rank() {
			t.Errorf("Expected %s to outrank %s", ordered[i-1], ordered[i])
		}
	}
	if Severity("bogus").Rank() != -1 {
		t.Errorf("Expected unknown severity rank -1")
	}
}

func TestParseCategory(t *testing.T) {
	for _, s := range []string{"sast", "static", "static-code"} {
		c, err := ParseCategory(s)
		if err != nil || c != CategoryStatic {
			t.Errorf("ParseCategory(%q) = %s, %v", s, c, err)
		}
	}
	if _, err := ParseCategory("iast"); err == nil {
		t.Errorf("Expected error for unknown category")
	}
}
