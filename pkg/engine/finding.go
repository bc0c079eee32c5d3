package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Category is the analysis kind a finding came from.
type Category string

const (
	CategoryStatic     Category = "static-code"
	CategoryDependency Category = "dependency"
	CategoryDynamic    Category = "dynamic-runtime"
)

// Categories lists every category in pipeline order.
var Categories = []Category{CategoryStatic, CategoryDependency, CategoryDynamic}

// ParseCategory accepts the canonical names and the short scanner aliases.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static-code", "static", "sast":
		return CategoryStatic, nil
	case "dependency", "sca", "deps":
		return CategoryDependency, nil
	case "dynamic-runtime", "dynamic", "dast":
		return CategoryDynamic, nil
	}
	return "", fmt.Errorf("unknown category: %s", s)
}

func (c Category) prefix() string {
	switch c {
	case CategoryStatic:
		return "sast"
	case CategoryDependency:
		return "sca"
	case CategoryDynamic:
		return "dast"
	}
	return "gen"
}

// Severity is ordered: critical is the highest rank.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
)

// Rank returns 4 for critical down to 0 for informational, -1 if unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	case SeverityInformational:
		return 0
	}
	return -1
}

// NormalizeSeverity maps scanner vocabulary onto the five-level scale.
// Unknown labels fall back to medium.
func NormalizeSeverity(raw string) Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL", "BLOCKER":
		return SeverityCritical
	case "HIGH", "ERROR", "3":
		return SeverityHigh
	case "MEDIUM", "MODERATE", "WARNING", "MAJOR", "2":
		return SeverityMedium
	case "LOW", "MINOR", "1":
		return SeverityLow
	case "INFO", "INFORMATIONAL", "NOTE", "NONE", "0":
		return SeverityInformational
	}
	return SeverityMedium
}

// Finding represents a normalized security finding from any tool
type Finding struct {
	ID             string   `json:"id"`
	Category       Category `json:"category"`
	Severity       Severity `json:"severity"`
	Location       string   `json:"location"` // path:line / package@version / METHOD url
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	RuleReference  string   `json:"rule_reference"` // CWE, CVE, GHSA or scanner rule id
	Tool           string   `json:"tool"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// FindingID derives the stable identifier for a finding. Identical scans
// produce identical ids.
func FindingID(category Category, location, ruleRef string) string {
	h := sha256.Sum256([]byte(string(category) + "|" + location + "|" + ruleRef))
	return category.prefix() + "-" + hex.EncodeToString(h[:8])
}

// NewFinding fills in the derived id.
func NewFinding(f Finding) Finding {
	f.ID = FindingID(f.Category, f.Location, f.RuleReference)
	return f
}

// SearchText is the text used to query the compliance index.
func (f Finding) SearchText() string {
	parts := []string{f.Title, f.Description, f.RuleReference}
	if f.Recommendation != "" {
		parts = append(parts, f.Recommendation)
	}
	return strings.Join(parts, " ")
}
