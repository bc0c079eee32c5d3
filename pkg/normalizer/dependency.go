package normalizer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

// npm audit (lockfile v2+) advisory entry
type npmAdvisory struct {
	Name         string          `json:"name"`
	Severity     string          `json:"severity"`
	Range        string          `json:"range"`
	Title        string          `json:"title"`
	URL          string          `json:"url"`
	Cwe          json.RawMessage `json:"cwe"`
	Via          json.RawMessage `json:"via"`
	FixAvailable json.RawMessage `json:"fixAvailable"`
}

type npmVia struct {
	Source   json.RawMessage `json:"source"`
	Name     string          `json:"name"`
	Title    string          `json:"title"`
	URL      string          `json:"url"`
	Severity string          `json:"severity"`
	Cwe      json.RawMessage `json:"cwe"`
	Range    string          `json:"range"`
}

type pipDependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Vulns   []struct {
		ID           string   `json:"id"`
		Description  string   `json:"description"`
		Severity     string   `json:"severity"`
		FixVersions  []string `json:"fix_versions"`
		FixedVersion string   `json:"fixed_version"`
		Aliases      []string `json:"aliases"`
	} `json:"vulns"`
}

type trivyVuln struct {
	VulnerabilityID  string   `json:"VulnerabilityID"`
	PkgName          string   `json:"PkgName"`
	InstalledVersion string   `json:"InstalledVersion"`
	FixedVersion     string   `json:"FixedVersion"`
	Severity         string   `json:"Severity"`
	Title            string   `json:"Title"`
	Description      string   `json:"Description"`
	CweIDs           []string `json:"CweIDs"`
}

func normalizeDependency(payload []byte) (Result, error) {
	doc, err := topLevel(payload)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	if raw, ok := doc["vulnerabilities"]; ok {
		return parseNpmAudit(raw)
	}
	if raw, ok := doc["dependencies"]; ok {
		return parsePipAudit(raw)
	}
	if raw, ok := doc["Results"]; ok {
		return parseTrivy(raw)
	}
	return Result{}, ErrUnknownFormat
}

func parseNpmAudit(raw json.RawMessage) (Result, error) {
	res := Result{Format: "npm-audit"}
	var packages map[string]json.RawMessage
	if err := json.Unmarshal(raw, &packages); err != nil {
		return res, fmt.Errorf("npm audit vulnerabilities: %w", err)
	}

	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		// Older reports carry a list of advisories per package.
		entries := []json.RawMessage{packages[name]}
		if list, err := rawList(packages[name]); err == nil && list != nil {
			entries = list
		}

		for _, entry := range entries {
			var adv npmAdvisory
			if err := json.Unmarshal(entry, &adv); err != nil {
				res.skip("npm audit package %s: %v", name, err)
				continue
			}
			pkg := firstNonEmpty(adv.Name, name)
			fix := npmFix(adv.FixAvailable)

			vias, transitive := npmVias(adv.Via)
			if len(vias) == 0 {
				ref := firstNonEmpty(advisoryID(adv.URL), firstCWE(adv.Cwe))
				if ref == "" && len(transitive) > 0 {
					ref = "via:" + strings.Join(transitive, ",")
				}
				if ref == "" {
					res.skip("npm audit package %s: no advisory reference", pkg)
					continue
				}
				res.add(engine.Finding{
					Category:       engine.CategoryDependency,
					Severity:       engine.NormalizeSeverity(adv.Severity),
					Location:       fmt.Sprintf("%s@%s", pkg, firstNonEmpty(adv.Range, "unknown")),
					Title:          firstNonEmpty(adv.Title, fmt.Sprintf("Vulnerable dependency %s", pkg)),
					Description:    npmDescription(adv.Title, transitive),
					RuleReference:  ref,
					Tool:           "npm-audit",
					Recommendation: fix,
				})
				continue
			}

			for _, v := range vias {
				ref := firstNonEmpty(advisoryID(v.URL), firstCWE(v.Cwe), string(v.Source))
				res.add(engine.Finding{
					Category:       engine.CategoryDependency,
					Severity:       engine.NormalizeSeverity(firstNonEmpty(v.Severity, adv.Severity)),
					Location:       fmt.Sprintf("%s@%s", pkg, firstNonEmpty(v.Range, adv.Range, "unknown")),
					Title:          firstNonEmpty(v.Title, fmt.Sprintf("Vulnerable dependency %s", pkg)),
					Description:    firstNonEmpty(v.Title, "No description available"),
					RuleReference:  ref,
					Tool:           "npm-audit",
					Recommendation: fix,
				})
			}
		}
	}
	return res, nil
}

// npmVias splits "via" into advisory objects and names of transitive packages.
func npmVias(raw json.RawMessage) ([]npmVia, []string) {
	items, err := rawList(raw)
	if err != nil {
		return nil, nil
	}
	var vias []npmVia
	var names []string
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			names = append(names, name)
			continue
		}
		var v npmVia
		if err := json.Unmarshal(item, &v); err == nil && (v.Title != "" || v.URL != "") {
			vias = append(vias, v)
		}
	}
	return vias, names
}

func npmFix(raw json.RawMessage) string {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return "Run npm audit fix."
		}
		return ""
	}
	var fix struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &fix); err == nil && fix.Version != "" {
		return fmt.Sprintf("Upgrade %s to %s.", fix.Name, fix.Version)
	}
	return ""
}

func npmDescription(title string, transitive []string) string {
	if title != "" {
		return title
	}
	if len(transitive) > 0 {
		return "Vulnerable through " + strings.Join(transitive, ", ")
	}
	return "No description available"
}

func firstCWE(raw json.RawMessage) string {
	if cwes := stringOrList(raw); len(cwes) > 0 {
		return cweID(cwes[0])
	}
	return ""
}

// advisoryID extracts GHSA-xxxx from an advisory URL.
func advisoryID(url string) string {
	idx := strings.Index(url, "GHSA-")
	if idx < 0 {
		return ""
	}
	id := url[idx:]
	if end := strings.IndexAny(id, "/?#"); end >= 0 {
		id = id[:end]
	}
	return id
}

func parsePipAudit(raw json.RawMessage) (Result, error) {
	res := Result{Format: "pip-audit"}
	items, err := rawList(raw)
	if err != nil {
		return res, fmt.Errorf("pip-audit dependencies: %w", err)
	}

	for i, item := range items {
		var dep pipDependency
		if err := json.Unmarshal(item, &dep); err != nil {
			res.skip("pip-audit dependency %d: %v", i, err)
			continue
		}
		if dep.Name == "" {
			res.skip("pip-audit dependency %d: missing name", i)
			continue
		}
		for _, v := range dep.Vulns {
			if v.ID == "" {
				res.skip("pip-audit %s: vulnerability without id", dep.Name)
				continue
			}
			fixed := v.FixedVersion
			if fixed == "" && len(v.FixVersions) > 0 {
				fixed = v.FixVersions[0]
			}
			rec := ""
			if fixed != "" {
				rec = fmt.Sprintf("Upgrade %s to %s.", dep.Name, fixed)
			}
			res.add(engine.Finding{
				Category:       engine.CategoryDependency,
				Severity:       engine.NormalizeSeverity(v.Severity),
				Location:       fmt.Sprintf("%s@%s", dep.Name, firstNonEmpty(dep.Version, "unknown")),
				Title:          fmt.Sprintf("%s - %s", dep.Name, v.ID),
				Description:    firstNonEmpty(v.Description, "No description"),
				RuleReference:  v.ID,
				Tool:           "pip-audit",
				Recommendation: rec,
			})
		}
	}
	return res, nil
}

func parseTrivy(raw json.RawMessage) (Result, error) {
	res := Result{Format: "trivy"}
	var results []struct {
		Target          string            `json:"Target"`
		Vulnerabilities []json.RawMessage `json:"Vulnerabilities"`
	}
	if err := json.Unmarshal(raw, &results); err != nil {
		return res, fmt.Errorf("trivy results: %w", err)
	}

	for _, r := range results {
		for i, item := range r.Vulnerabilities {
			var v trivyVuln
			if err := json.Unmarshal(item, &v); err != nil {
				res.skip("trivy %s vulnerability %d: %v", r.Target, i, err)
				continue
			}
			if v.VulnerabilityID == "" || v.PkgName == "" {
				res.skip("trivy %s vulnerability %d: missing id or package", r.Target, i)
				continue
			}
			rec := ""
			if v.FixedVersion != "" {
				rec = fmt.Sprintf("Upgrade %s to %s.", v.PkgName, v.FixedVersion)
			}
			desc := v.Description
			if len(v.CweIDs) > 0 {
				desc = strings.TrimSpace(desc + " (" + strings.Join(v.CweIDs, ", ") + ")")
			}
			res.add(engine.Finding{
				Category:       engine.CategoryDependency,
				Severity:       engine.NormalizeSeverity(v.Severity),
				Location:       fmt.Sprintf("%s@%s", v.PkgName, firstNonEmpty(v.InstalledVersion, "unknown")),
				Title:          firstNonEmpty(v.Title, fmt.Sprintf("%s - %s", v.PkgName, v.VulnerabilityID)),
				Description:    firstNonEmpty(desc, "No description"),
				RuleReference:  v.VulnerabilityID,
				Tool:           "trivy",
				Recommendation: rec,
			})
		}
	}
	return res, nil
}
