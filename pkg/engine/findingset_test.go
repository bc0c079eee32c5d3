package engine

import (
	"path/filepath"
	"testing"
)

func TestFindingSetDeduplicates(t *testing.T) {
	set := NewFindingSet()
	f := Finding{Category: CategoryDependency, Location: "lodash@4.17.15", RuleReference: "CVE-2020-8203", Severity: SeverityMedium}

	if added := set.AddFindings([]Finding{f, f}); added != 1 {
		t.Errorf("Expected 1 new finding, got %d", added)
	}

	f.Severity = SeverityHigh
	set.AddFindings([]Finding{f})
	if set.Len() != 1 {
		t.Fatalf("Expected 1 finding, got %d", set.Len())
	}
	got := set.Findings()[0]
	if got.Severity != SeverityHigh {
		t.Errorf("Expected higher severity to win, got %s", got.Severity)
	}
	if got.ID == "" {
		t.Errorf("Expected id to be derived")
	}
}

func TestSnapshotOperations(t *testing.T) {
	// Baseline: finding 1 stays, finding 2 gets fixed
	baseline := NewFindingSet()
	baseline.AddFindings([]Finding{
		{Category: CategoryStatic, Location: "a.go:1", RuleReference: "CWE-79", Title: "Finding 1"},
		{Category: CategoryStatic, Location: "b.go:2", RuleReference: "CWE-89", Title: "Finding 2"},
	})

	tmpFile := filepath.Join(t.TempDir(), "snapshot.json")
	if err := baseline.SaveSnapshot(tmpFile); err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}

	current := NewFindingSet()
	current.AddFindings([]Finding{
		{Category: CategoryStatic, Location: "a.go:1", RuleReference: "CWE-79", Title: "Finding 1"},
		{Category: CategoryStatic, Location: "c.go:3", RuleReference: "CWE-22", Title: "Finding 3"},
	})

	loaded := NewFindingSet()
	if err := loaded.LoadSnapshot(tmpFile); err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}
	if loaded.Len() != 2 {
		t.Errorf("Expected 2 findings in loaded baseline, got %d", loaded.Len())
	}

	diff := current.CompareSnapshot(loaded)

	if len(diff.Unchanged) != 1 || diff.Unchanged[0].Title != "Finding 1" {
		t.Errorf("Expected Finding 1 unchanged, got %+v", diff.Unchanged)
	}
	if len(diff.New) != 1 || diff.New[0].Title != "Finding 3" {
		t.Errorf("Expected Finding 3 new, got %+v", diff.New)
	}
	if len(diff.Fixed) != 1 || diff.Fixed[0].Title != "Finding 2" {
		t.Errorf("Expected Finding 2 fixed, got %+v", diff.Fixed)
	}
}

func TestByCategory(t *testing.T) {
	set := NewFindingSet()
	set.AddFindings([]Finding{
		{Category: CategoryStatic, Location: "a.go:1", RuleReference: "r1"},
		{Category: CategoryDynamic, Location: "GET http://x/", RuleReference: "r2"},
		{Category: CategoryStatic, Location: "a.go:2", RuleReference: "r3"},
	})
	if n := len(set.ByCategory(CategoryStatic)); n != 2 {
		t.Errorf("Expected 2 static findings, got %d", n)
	}
	if n := len(set.ByCategory(CategoryDependency)); n != 0 {
		t.Errorf("Expected 0 dependency findings, got %d", n)
	}
}
