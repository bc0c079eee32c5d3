package normalizer

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

type semgrepResult struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
	} `json:"start"`
	Extra struct {
		Message  string `json:"message"`
		Severity string `json:"severity"` // INFO|WARNING|ERROR
		Fix      string `json:"fix"`
		Metadata struct {
			Cwe        json.RawMessage `json:"cwe"` // string | []string | null
			Confidence string          `json:"confidence"`
		} `json:"metadata"`
	} `json:"extra"`
}

type sonarIssue struct {
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
	Component string `json:"component"`
	Line      int    `json:"line"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

type gitleaksLeak struct {
	RuleID      string `json:"RuleID"`
	Description string `json:"Description"`
	File        string `json:"File"`
	StartLine   int    `json:"StartLine"`
}

func normalizeStatic(payload []byte) (Result, error) {
	// gitleaks writes a bare array
	if payload[0] == '[' {
		return parseGitleaks(payload)
	}

	doc, err := topLevel(payload)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	if raw, ok := doc["results"]; ok {
		return parseSemgrep(raw)
	}
	if raw, ok := doc["issues"]; ok {
		return parseSonarQube(raw)
	}
	return Result{}, ErrUnknownFormat
}

func parseSemgrep(raw json.RawMessage) (Result, error) {
	res := Result{Format: "semgrep"}
	items, err := rawList(raw)
	if err != nil {
		return res, fmt.Errorf("semgrep results: %w", err)
	}

	for i, item := range items {
		var r semgrepResult
		if err := json.Unmarshal(item, &r); err != nil {
			res.skip("semgrep result %d: %v", i, err)
			continue
		}
		if r.CheckID == "" || r.Path == "" {
			res.skip("semgrep result %d: missing check_id or path", i)
			continue
		}

		ruleRef := r.CheckID
		if cwes := stringOrList(r.Extra.Metadata.Cwe); len(cwes) > 0 {
			ruleRef = cweID(cwes[0])
		}

		res.add(engine.Finding{
			Category:       engine.CategoryStatic,
			Severity:       engine.NormalizeSeverity(r.Extra.Severity),
			Location:       fmt.Sprintf("%s:%d", cleanPath(r.Path), r.Start.Line),
			Title:          ruleTitle(r.CheckID),
			Description:    firstNonEmpty(strings.TrimSpace(r.Extra.Message), "No description"),
			RuleReference:  ruleRef,
			Tool:           "semgrep",
			Recommendation: r.Extra.Fix,
		})
	}
	return res, nil
}

func parseSonarQube(raw json.RawMessage) (Result, error) {
	res := Result{Format: "sonarqube"}
	items, err := rawList(raw)
	if err != nil {
		return res, fmt.Errorf("sonarqube issues: %w", err)
	}

	for i, item := range items {
		var is sonarIssue
		if err := json.Unmarshal(item, &is); err != nil {
			res.skip("sonarqube issue %d: %v", i, err)
			continue
		}
		if is.Rule == "" || is.Component == "" {
			res.skip("sonarqube issue %d: missing rule or component", i)
			continue
		}

		// component is "<projectKey>:<path>"
		path := is.Component
		if idx := strings.Index(path, ":"); idx >= 0 {
			path = path[idx+1:]
		}

		res.add(engine.Finding{
			Category:      engine.CategoryStatic,
			Severity:      sonarSeverity(is.Severity),
			Location:      fmt.Sprintf("%s:%d", cleanPath(path), is.Line),
			Title:         firstNonEmpty(is.Message, is.Rule),
			Description:   firstNonEmpty(is.Message, "No description"),
			RuleReference: is.Rule,
			Tool:          "sonarqube",
		})
	}
	return res, nil
}

func parseGitleaks(payload []byte) (Result, error) {
	res := Result{Format: "gitleaks"}
	items, err := rawList(payload)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}

	for i, item := range items {
		var l gitleaksLeak
		if err := json.Unmarshal(item, &l); err != nil {
			res.skip("gitleaks leak %d: %v", i, err)
			continue
		}
		if l.RuleID == "" || l.File == "" {
			res.skip("gitleaks leak %d: missing RuleID or File", i)
			continue
		}

		// The secret value is deliberately not carried into the finding.
		res.add(engine.Finding{
			Category:       engine.CategoryStatic,
			Severity:       engine.SeverityHigh,
			Location:       fmt.Sprintf("%s:%d", cleanPath(l.File), l.StartLine),
			Title:          "Hardcoded secret: " + firstNonEmpty(l.Description, l.RuleID),
			Description:    fmt.Sprintf("Potential secret (%s) committed to the repository.", l.RuleID),
			RuleReference:  "CWE-798",
			Tool:           "gitleaks",
			Recommendation: "Remove the secret from source control and rotate it.",
		})
	}
	return res, nil
}

// sonarqube uses its own severity ladder
func sonarSeverity(s string) engine.Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BLOCKER":
		return engine.SeverityCritical
	case "CRITICAL":
		return engine.SeverityHigh
	case "MAJOR":
		return engine.SeverityMedium
	case "MINOR":
		return engine.SeverityLow
	case "INFO":
		return engine.SeverityInformational
	}
	return engine.NormalizeSeverity(s)
}

// cweID trims "CWE-89: Improper Neutralization..." down to "CWE-89".
func cweID(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[:idx]
	}
	if s != "" && !strings.HasPrefix(strings.ToUpper(s), "CWE-") {
		s = "CWE-" + s
	}
	return s
}

// ruleTitle turns "python.lang.security.audit.sql-injection" into "sql injection".
func ruleTitle(checkID string) string {
	last := checkID
	if idx := strings.LastIndex(checkID, "."); idx >= 0 {
		last = checkID[idx+1:]
	}
	return strings.ReplaceAll(last, "-", " ")
}

func cleanPath(p string) string {
	p = filepath.ToSlash(p)
	for strings.HasPrefix(p, "../") {
		p = strings.TrimPrefix(p, "../")
	}
	return strings.TrimPrefix(p, "./")
}
