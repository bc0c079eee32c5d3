package orchestrator

import (
	"fmt"
	"sort"
	"strings"
)

// report renders the run as markdown: outcome counts, backend usage,
// coverage, then every generated document with its finding.
func (r *run) report() []byte {
	m := r.manifest
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Remediation report %s\n\n", m.RunID)
	fmt.Fprintf(&sb, "- Profile: %s\n", m.Profile)
	fmt.Fprintf(&sb, "- Started: %s\n", m.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- Succeeded: %d, skipped: %d, failed: %d\n", m.Counts.Succeeded, m.Counts.Skipped, m.Counts.Failed)
	if m.Error != "" {
		fmt.Fprintf(&sb, "- Run error: %s\n", m.Error)
	}

	if len(m.Backends) > 0 {
		sb.WriteString("\n## Backend usage\n\n")
		names := make([]string, 0, len(m.Backends))
		for name := range m.Backends {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "- %s: %d\n", name, m.Backends[name])
		}
	}

	if m.Coverage != nil && len(m.Coverage.Frameworks) > 0 {
		sb.WriteString("\n## Compliance coverage\n\n")
		frameworks := make([]string, 0, len(m.Coverage.Frameworks))
		for name := range m.Coverage.Frameworks {
			frameworks = append(frameworks, name)
		}
		sort.Strings(frameworks)
		for _, name := range frameworks {
			fc := m.Coverage.Frameworks[name]
			fmt.Fprintf(&sb, "- %s: %d/%d controls (%.1f%%)\n", name, fc.CoveredControls, fc.TotalControls, fc.Percentage)
		}
		fmt.Fprintf(&sb, "- Overall: %.1f%%\n", m.Coverage.OverallScore)
	}

	if len(m.Succeeded) > 0 {
		sb.WriteString("\n## Policies\n")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range m.Succeeded {
		doc, ok := r.docs[it.FindingID]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s: %s\n\n", it.PolicyID, it.Title)
		fmt.Fprintf(&sb, "- Finding: %s (%s, %s)\n", it.FindingID, it.Category, it.Severity)
		if r.set != nil {
			if f, ok := r.set.Get(it.FindingID); ok {
				fmt.Fprintf(&sb, "- Location: %s\n", f.Location)
				fmt.Fprintf(&sb, "- Rule: %s\n", f.RuleReference)
			}
		}
		fmt.Fprintf(&sb, "- Backend: %s (%s)\n\n", it.Backend, it.Variant)
		sb.WriteString("```\n")
		sb.WriteString(doc.Render())
		sb.WriteString("```\n")
	}

	if len(m.Failed) > 0 {
		sb.WriteString("\n## Failed\n\n")
		for _, it := range m.Failed {
			fmt.Fprintf(&sb, "- %s %s: %s\n", it.FindingID, it.Title, it.Error)
		}
	}
	return []byte(sb.String())
}
