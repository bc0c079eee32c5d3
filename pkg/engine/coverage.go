package engine

import (
	"math"
	"sort"
	"strings"
)

// nistFunctions names the NIST CSF functions by id prefix.
var nistFunctions = map[string]string{
	"GV": "Govern",
	"ID": "Identify",
	"PR": "Protect",
	"DE": "Detect",
	"RS": "Respond",
	"RC": "Recover",
}

// GroupCoverage counts covered controls within one function or domain.
type GroupCoverage struct {
	Total      int     `json:"total"`
	Covered    int     `json:"covered"`
	Percentage float64 `json:"percentage"`
}

// FrameworkCoverage reports which catalog controls of one framework are
// mapped by at least one remediation document.
type FrameworkCoverage struct {
	TotalControls   int                      `json:"total_controls"`
	CoveredControls int                      `json:"covered_controls"`
	Percentage      float64                  `json:"coverage_percentage"`
	Covered         []string                 `json:"covered"`
	Gaps            []string                 `json:"gaps"`
	Groups          map[string]GroupCoverage `json:"groups"`
}

// Coverage is the per-framework coverage of a set of documents.
type Coverage struct {
	Frameworks   map[string]FrameworkCoverage `json:"frameworks"`
	OverallScore float64                      `json:"overall_score"`
}

// ControlGroup returns the function (NIST CSF) or domain (ISO 27001 style
// "A.8") a control id belongs to.
func ControlGroup(id string) string {
	parts := strings.Split(id, ".")
	if len(parts) >= 2 && parts[0] == "A" {
		return "A." + parts[1]
	}
	if name, ok := nistFunctions[parts[0]]; ok {
		return name
	}
	return parts[0]
}

// Coverage computes control coverage of docs against the catalog. Only ids
// present in the catalog count; a mapping under the wrong framework still
// covers the control of the framework it belongs to.
func (c *Catalog) Coverage(docs []RemediationDocument) Coverage {
	mapped := make(map[string]bool)
	for i := range docs {
		for _, id := range docs[i].ControlIDs() {
			mapped[strings.TrimSpace(id)] = true
		}
	}

	cov := Coverage{Frameworks: make(map[string]FrameworkCoverage)}
	if c == nil || len(c.Frameworks) == 0 {
		return cov
	}
	var sum float64
	for _, name := range c.ListFrameworks() {
		fw := c.Frameworks[name]
		fc := FrameworkCoverage{
			Covered: []string{},
			Gaps:    []string{},
			Groups:  make(map[string]GroupCoverage),
		}
		seen := make(map[string]bool)
		for _, ctrl := range fw.Controls {
			if seen[ctrl.ID] {
				continue
			}
			seen[ctrl.ID] = true
			g := fc.Groups[ControlGroup(ctrl.ID)]
			g.Total++
			fc.TotalControls++
			if mapped[ctrl.ID] {
				g.Covered++
				fc.CoveredControls++
				fc.Covered = append(fc.Covered, ctrl.ID)
			} else {
				fc.Gaps = append(fc.Gaps, ctrl.ID)
			}
			fc.Groups[ControlGroup(ctrl.ID)] = g
		}
		for k, g := range fc.Groups {
			g.Percentage = percent(g.Covered, g.Total)
			fc.Groups[k] = g
		}
		sort.Strings(fc.Covered)
		sort.Strings(fc.Gaps)
		fc.Percentage = percent(fc.CoveredControls, fc.TotalControls)
		sum += fc.Percentage
		cov.Frameworks[name] = fc
	}
	cov.OverallScore = math.Round(sum/float64(len(cov.Frameworks))*10) / 10
	return cov
}

// percent rounds to one decimal place.
func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
