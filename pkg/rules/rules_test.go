package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

func finding(cat engine.Category, sev engine.Severity, loc, rule string) engine.Finding {
	return engine.NewFinding(engine.Finding{
		Category:      cat,
		Severity:      sev,
		Location:      loc,
		Title:         "t",
		RuleReference: rule,
		Tool:          "semgrep",
	})
}

func TestIncludeFilter(t *testing.T) {
	e, err := Compile([]string{
		`severity_rank >= 3`,
		`category == "dependency" && rule.startsWith("CVE-")`,
	}, nil)
	require.NoError(t, err)

	in := []engine.Finding{
		finding(engine.CategoryStatic, engine.SeverityHigh, "a.go:1", "CWE-89"),
		finding(engine.CategoryStatic, engine.SeverityLow, "a.go:2", "CWE-79"),
		finding(engine.CategoryDependency, engine.SeverityLow, "x@1", "CVE-2024-1"),
		finding(engine.CategoryDependency, engine.SeverityLow, "y@1", "GHSA-aaaa"),
	}
	kept, dropped := e.Filter(in)
	assert.Equal(t, 2, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "a.go:1", kept[0].Location)
	assert.Equal(t, "x@1", kept[1].Location)
}

func TestNoRulesKeepsEverything(t *testing.T) {
	var nilEngine *Engine
	f := finding(engine.CategoryDynamic, engine.SeverityInformational, "GET /", "zap-1")
	assert.True(t, nilEngine.Include(f))

	e, err := NewEngine()
	require.NoError(t, err)
	assert.True(t, e.Include(f))
	_, _, ok := e.Priority(f)
	assert.False(t, ok)
}

func TestPriorityFirstMatchWins(t *testing.T) {
	e, err := Compile(nil, []PriorityRule{
		{ID: "secrets", Condition: `tool == "gitleaks"`, Priority: "critical"},
		{ID: "sqli", Condition: `rule == "CWE-89"`, Priority: "high"},
		{ID: "any-static", Condition: `category == "static-code"`, Priority: "low"},
	})
	require.NoError(t, err)

	p, id, ok := e.Priority(finding(engine.CategoryStatic, engine.SeverityMedium, "db.py:4", "CWE-89"))
	require.True(t, ok)
	assert.Equal(t, engine.PriorityHigh, p)
	assert.Equal(t, "sqli", id)

	p, id, ok = e.Priority(finding(engine.CategoryStatic, engine.SeverityMedium, "db.py:9", "CWE-79"))
	require.True(t, ok)
	assert.Equal(t, engine.PriorityLow, p)
	assert.Equal(t, "any-static", id)

	_, _, ok = e.Priority(finding(engine.CategoryDynamic, engine.SeverityHigh, "GET /", "CWE-79"))
	assert.False(t, ok)
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile([]string{`severity ==`}, nil)
	assert.Error(t, err)

	_, err = Compile([]string{`severity_rank + 1`}, nil)
	assert.ErrorContains(t, err, "must return bool")

	_, err = Compile(nil, []PriorityRule{{ID: "x", Condition: `true`, Priority: "urgent"}})
	assert.ErrorContains(t, err, "unknown priority")

	_, err = Compile(nil, []PriorityRule{{ID: "x", Condition: `unknown_var == 1`, Priority: "low"}})
	assert.ErrorContains(t, err, "rule x compilation error")
}
