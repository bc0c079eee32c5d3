package normalizer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

func load(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestNormalizeStaticReports(t *testing.T) {
	t.Run("semgrep", func(t *testing.T) {
		res, err := Normalize(engine.CategoryStatic, load(t, "semgrep.json"))
		require.NoError(t, err)

		assert.Equal(t, "semgrep", res.Format)
		assert.Equal(t, 2, res.Skipped)
		require.Len(t, res.Findings, 2)

		f := res.Findings[0]
		assert.Equal(t, engine.SeverityHigh, f.Severity)
		assert.Equal(t, "app/db.py:42", f.Location)
		assert.Equal(t, "CWE-89", f.RuleReference)
		assert.Equal(t, "Use parameterized queries.", f.Recommendation)
		assert.Equal(t, engine.FindingID(engine.CategoryStatic, "app/db.py:42", "CWE-89"), f.ID)

		assert.Equal(t, engine.SeverityMedium, res.Findings[1].Severity)
		assert.Equal(t, "CWE-79", res.Findings[1].RuleReference)
	})

	t.Run("sonarqube", func(t *testing.T) {
		res, err := Normalize(engine.CategoryStatic, load(t, "sonarqube.json"))
		require.NoError(t, err)
		require.Len(t, res.Findings, 2)
		assert.Equal(t, engine.SeverityCritical, res.Findings[0].Severity)
		assert.Equal(t, "src/main/java/Cmd.java:12", res.Findings[0].Location)
		assert.Equal(t, engine.SeverityLow, res.Findings[1].Severity)
	})

	t.Run("gitleaks", func(t *testing.T) {
		res, err := Normalize(engine.CategoryStatic, load(t, "gitleaks.json"))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		require.Len(t, res.Findings, 1)
		f := res.Findings[0]
		assert.Equal(t, "config/settings.py:9", f.Location)
		assert.Equal(t, "CWE-798", f.RuleReference)
		assert.False(t, strings.Contains(f.Description+f.Title, "AKIA"), "secret value leaked into finding")
	})
}

func TestNormalizeDependencyReports(t *testing.T) {
	t.Run("npm audit", func(t *testing.T) {
		res, err := Normalize(engine.CategoryDependency, load(t, "npm_audit.json"))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		require.Len(t, res.Findings, 2)

		express, lodash := res.Findings[0], res.Findings[1]
		assert.Equal(t, "via:body-parser", express.RuleReference)
		assert.Equal(t, engine.SeverityMedium, express.Severity)

		assert.Equal(t, "GHSA-p6mc-m468-83gw", lodash.RuleReference)
		assert.Equal(t, "lodash@<4.17.19", lodash.Location)
		assert.Equal(t, engine.SeverityHigh, lodash.Severity)
		assert.Equal(t, "Upgrade lodash to 4.17.21.", lodash.Recommendation)
	})

	t.Run("pip-audit", func(t *testing.T) {
		res, err := Normalize(engine.CategoryDependency, load(t, "pip_audit.json"))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		require.Len(t, res.Findings, 2)
		assert.Equal(t, "django@3.2.0", res.Findings[0].Location)
		assert.Equal(t, engine.SeverityMedium, res.Findings[0].Severity)
		assert.Equal(t, engine.SeverityCritical, res.Findings[1].Severity)
	})

	t.Run("trivy", func(t *testing.T) {
		res, err := Normalize(engine.CategoryDependency, load(t, "trivy.json"))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, "CVE-2023-39325", res.Findings[0].RuleReference)
		assert.Equal(t, "golang.org/x/net@0.15.0", res.Findings[0].Location)
	})
}

func TestNormalizeDynamicReports(t *testing.T) {
	t.Run("zap xml", func(t *testing.T) {
		res, err := Normalize(engine.CategoryDynamic, load(t, "zap.xml"))
		require.NoError(t, err)
		assert.Equal(t, "zap-xml", res.Format)
		assert.Equal(t, 1, res.Skipped)
		require.Len(t, res.Findings, 2)

		csp := res.Findings[0]
		assert.Equal(t, engine.SeverityMedium, csp.Severity)
		assert.Equal(t, "GET http://localhost:3000/login", csp.Location)
		assert.Equal(t, "CWE-693", csp.RuleReference)
		assert.Equal(t, "Content Security Policy (CSP) is an added layer of security.", csp.Description)

		xss := res.Findings[1]
		assert.Equal(t, engine.SeverityHigh, xss.Severity)
		assert.Equal(t, "POST http://localhost:3000/search?q=x", xss.Location)
	})

	t.Run("zap json", func(t *testing.T) {
		res, err := Normalize(engine.CategoryDynamic, load(t, "zap.json"))
		require.NoError(t, err)
		require.Len(t, res.Findings, 2)
		assert.Equal(t, engine.SeverityLow, res.Findings[0].Severity)
		assert.Equal(t, "CWE-352", res.Findings[0].RuleReference)
		assert.Equal(t, engine.SeverityInformational, res.Findings[1].Severity)
		assert.Equal(t, "zap-10096", res.Findings[1].RuleReference)
		assert.Equal(t, "GET https://shop.example.com", res.Findings[1].Location)
	})

	t.Run("generic json", func(t *testing.T) {
		res, err := Normalize(engine.CategoryDynamic, load(t, "dast_generic.json"))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, "GET https://api.example.com/users/1", res.Findings[0].Location)
		assert.Equal(t, "CWE-639", res.Findings[0].RuleReference)
	})
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, tc := range []struct {
		cat  engine.Category
		file string
	}{
		{engine.CategoryStatic, "semgrep.json"},
		{engine.CategoryDependency, "npm_audit.json"},
		{engine.CategoryDynamic, "zap.xml"},
	} {
		first, err := Normalize(tc.cat, load(t, tc.file))
		require.NoError(t, err)
		second, err := Normalize(tc.cat, load(t, tc.file))
		require.NoError(t, err)

		require.Equal(t, len(first.Findings), len(second.Findings))
		for i := range first.Findings {
			assert.Equal(t, first.Findings[i].ID, second.Findings[i].ID, tc.file)
		}
	}
}

func TestNormalizeErrors(t *testing.T) {
	_, err := Normalize(engine.CategoryStatic, []byte("   "))
	assert.True(t, errors.Is(err, ErrEmptyReport))

	_, err = Normalize(engine.CategoryStatic, []byte(`{"something": []}`))
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	_, err = Normalize(engine.CategoryDependency, []byte(`not json`))
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	_, err = Normalize(engine.Category("iast"), []byte(`{}`))
	assert.Error(t, err)
}
