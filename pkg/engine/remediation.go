package engine

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// Priority of a remediation document
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority returns the priority for a label, or "" if unknown.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityHigh:
		return PriorityHigh
	case PriorityMedium:
		return PriorityMedium
	case PriorityLow:
		return PriorityLow
	}
	return ""
}

// PriorityForSeverity is the fallback when neither rules nor the model set one.
func PriorityForSeverity(s Severity) Priority {
	switch s {
	case SeverityCritical:
		return PriorityCritical
	case SeverityHigh:
		return PriorityHigh
	case SeverityMedium:
		return PriorityMedium
	}
	return PriorityLow
}

// RemediationDocument is the generated remediation for one finding
type RemediationDocument struct {
	Summary           string              `json:"summary"`
	RemediationSteps  []string            `json:"remediation_steps"`
	FrameworkMappings map[string][]string `json:"framework_mappings"` // framework -> control ids
	Priority          Priority            `json:"priority"`

	Backend          string   `json:"backend,omitempty"`
	Variant          string   `json:"variant,omitempty"`
	StrippedControls []string `json:"stripped_controls,omitempty"`
	Grounded         bool     `json:"grounded"`
}

// ControlIDs returns every mapped control id, sorted.
func (d *RemediationDocument) ControlIDs() []string {
	var ids []string
	for _, controls := range d.FrameworkMappings {
		ids = append(ids, controls...)
	}
	sort.Strings(ids)
	return ids
}

// RestrictMappings removes control ids not in allowed (framework -> id set)
// and returns what was removed. An id mapped under the wrong framework is
// moved to the framework it was retrieved from.
func (d *RemediationDocument) RestrictMappings(allowed map[string]string) []string {
	var stripped []string
	kept := make(map[string][]string)
	seen := make(map[string]bool)

	frameworks := make([]string, 0, len(d.FrameworkMappings))
	for fw := range d.FrameworkMappings {
		frameworks = append(frameworks, fw)
	}
	sort.Strings(frameworks)

	for _, fw := range frameworks {
		for _, id := range d.FrameworkMappings[fw] {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			source, ok := allowed[id]
			if !ok {
				stripped = append(stripped, id)
				continue
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			kept[source] = append(kept[source], id)
		}
	}

	for fw := range kept {
		sort.Strings(kept[fw])
	}
	d.FrameworkMappings = kept
	d.StrippedControls = append(d.StrippedControls, stripped...)
	return stripped
}

// Render formats the document as plain text for terminals and reports.
func (d *RemediationDocument) Render() string {
	var sb strings.Builder
	sb.WriteString("[REMEDIATION]\n")
	sb.WriteString(fmt.Sprintf("Priority: %s\n", d.Priority))
	sb.WriteString(fmt.Sprintf("Summary: %s\n\n", d.Summary))

	sb.WriteString("Steps:\n")
	for i, step := range d.RemediationSteps {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
	}

	if len(d.FrameworkMappings) > 0 {
		sb.WriteString("\nCompliance:\n")
		frameworks := make([]string, 0, len(d.FrameworkMappings))
		for fw := range d.FrameworkMappings {
			frameworks = append(frameworks, fw)
		}
		sort.Strings(frameworks)
		for _, fw := range frameworks {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", fw, strings.Join(d.FrameworkMappings[fw], ", ")))
		}
	}
	if len(d.StrippedControls) > 0 {
		sb.WriteString(fmt.Sprintf("\nUntraceable controls removed: %s\n", strings.Join(d.StrippedControls, ", ")))
	}
	return sb.String()
}

// RenderTemplate executes a text/template against vars.
func RenderTemplate(name, tmplStr string, vars interface{}) (string, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
