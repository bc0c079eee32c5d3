package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// FindingSet holds normalized findings keyed by their deterministic id.
// Adding the same finding twice keeps one copy.
type FindingSet struct {
	findings map[string]Finding
	order    []string
	mu       sync.RWMutex
}

// NewFindingSet creates an empty set
func NewFindingSet() *FindingSet {
	return &FindingSet{
		findings: make(map[string]Finding),
	}
}

// AddFindings ingests findings and returns how many were new.
func (s *FindingSet) AddFindings(newFindings []Finding) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, f := range newFindings {
		if f.ID == "" {
			f = NewFinding(f)
		}
		existing, ok := s.findings[f.ID]
		if !ok {
			s.findings[f.ID] = f
			s.order = append(s.order, f.ID)
			added++
			continue
		}
		// Same location and rule reported twice: keep the higher severity.
		if f.Severity.Rank() > existing.Severity.Rank() {
			s.findings[f.ID] = f
		}
	}
	return added
}

// Len returns the number of distinct findings.
func (s *FindingSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Findings returns the findings in insertion order.
func (s *FindingSet) Findings() []Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Finding, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.findings[id])
	}
	return out
}

// Get looks up a finding by id.
func (s *FindingSet) Get(id string) (Finding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.findings[id]
	return f, ok
}

// ByCategory returns the findings of one category in insertion order.
func (s *FindingSet) ByCategory(c Category) []Finding {
	var out []Finding
	for _, f := range s.Findings() {
		if f.Category == c {
			out = append(out, f)
		}
	}
	return out
}

// GetReport returns a text summary of the set
func (s *FindingSet) GetReport() string {
	findings := s.Findings()
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() > findings[j].Severity.Rank()
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Findings (%d):\n", len(findings)))
	sb.WriteString("--------------------------------------------------\n")
	for _, f := range findings {
		sb.WriteString(fmt.Sprintf("[%s] %s (%s, %s)\n", f.Severity, f.Title, f.Category, f.Tool))
		sb.WriteString(fmt.Sprintf("  ID: %s\n", f.ID))
		sb.WriteString(fmt.Sprintf("  Location: %s\n", f.Location))
		if f.RuleReference != "" {
			sb.WriteString(fmt.Sprintf("  Rule: %s\n", f.RuleReference))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// SnapshotDiff is the result of comparing the current set against a baseline.
type SnapshotDiff struct {
	New       []Finding `json:"new"`
	Fixed     []Finding `json:"fixed"`
	Unchanged []Finding `json:"unchanged"`
}

// MarshalSnapshot encodes the set for storage.
func (s *FindingSet) MarshalSnapshot() ([]byte, error) {
	return json.MarshalIndent(s.Findings(), "", "  ")
}

// UnmarshalSnapshot loads findings previously produced by MarshalSnapshot.
func (s *FindingSet) UnmarshalSnapshot(data []byte) error {
	var findings []Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}
	s.AddFindings(findings)
	return nil
}

// SaveSnapshot writes the set to a JSON file.
func (s *FindingSet) SaveSnapshot(path string) error {
	data, err := s.MarshalSnapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadSnapshot reads a JSON file written by SaveSnapshot.
func (s *FindingSet) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.UnmarshalSnapshot(data)
}

// CompareSnapshot classifies findings as new, fixed (only in baseline) or unchanged.
func (s *FindingSet) CompareSnapshot(baseline *FindingSet) SnapshotDiff {
	var diff SnapshotDiff
	for _, f := range s.Findings() {
		if _, ok := baseline.Get(f.ID); ok {
			diff.Unchanged = append(diff.Unchanged, f)
		} else {
			diff.New = append(diff.New, f)
		}
	}
	for _, f := range baseline.Findings() {
		if _, ok := s.Get(f.ID); !ok {
			diff.Fixed = append(diff.Fixed, f)
		}
	}
	return diff
}
