package scanners

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

type fakeRunner struct {
	missing map[string]bool
	exit    map[string]int
	calls   [][]string
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missing[name] {
		return "", errors.New("not found")
	}
	return "/usr/bin/" + name, nil
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	code := f.exit[name]
	switch name {
	case "semgrep":
		return []byte(`{"results": []}`), nil, code, nil
	case "trivy":
		return []byte(`{"Results": []}`), nil, code, nil
	case "gitleaks":
		for i, a := range args {
			if a == "--report-path" {
				os.WriteFile(args[i+1], []byte(`[{"RuleID":"aws-access-token","File":"a.py","StartLine":3}]`), 0600)
			}
		}
		return nil, nil, code, nil
	case "docker":
		for i, a := range args {
			if a == "-v" {
				dir := strings.Split(args[i+1], ":")[0]
				os.WriteFile(filepath.Join(dir, "report.json"), []byte(`{"site": []}`), 0600)
			}
		}
		return nil, []byte("boom"), code, nil
	}
	return nil, nil, 0, nil
}

func TestRunAllCollectsByCategory(t *testing.T) {
	r := &fakeRunner{exit: map[string]int{"gitleaks": 1, "docker": 2}}
	reports, failures := RunAll(context.Background(), Default(r), Target{Path: "/src", URL: "http://localhost:3000"}, nil)

	assert.Empty(t, failures)
	assert.Len(t, reports[engine.CategoryStatic], 2)
	assert.Len(t, reports[engine.CategoryDependency], 1)
	require.Len(t, reports[engine.CategoryDynamic], 1)
	assert.JSONEq(t, `{"site": []}`, string(reports[engine.CategoryDynamic][0]))
	assert.Contains(t, string(reports[engine.CategoryStatic][1]), "aws-access-token")

	zap := r.calls[len(r.calls)-1]
	assert.Contains(t, zap, "--network")
}

func TestRunAllSkipsMissingTargetsAndRecordsFailures(t *testing.T) {
	r := &fakeRunner{missing: map[string]bool{"trivy": true}, exit: map[string]int{"semgrep": 7}}
	var lines []string
	reports, failures := RunAll(context.Background(), Default(r), Target{Path: "/src"}, func(s string) { lines = append(lines, s) })

	assert.NotContains(t, reports, engine.CategoryDynamic)
	assert.Len(t, reports[engine.CategoryStatic], 1)
	require.Len(t, failures, 2)
	assert.True(t, errors.Is(failures["trivy"], ErrNotInstalled))
	assert.ErrorContains(t, failures["semgrep"], "exited 7")
	assert.NotEmpty(t, lines)

	for _, c := range r.calls {
		assert.NotEqual(t, "docker", c[0])
	}
}

func TestZAPRejectsBadURL(t *testing.T) {
	z := &ZAPBaseline{Runner: &fakeRunner{}}
	_, err := z.Scan(context.Background(), Target{URL: "not a url"}, noProgress)
	assert.Error(t, err)

	_, err = z.Scan(context.Background(), Target{URL: "http://localhost:8080"}, noProgress)
	assert.NoError(t, err)
}

type niktoRunner struct {
	fakeRunner
	report string
}

func (n *niktoRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	n.calls = append(n.calls, append([]string{name}, args...))
	for i, a := range args {
		if a == "-o" {
			os.WriteFile(args[i+1], []byte(n.report), 0600)
		}
	}
	return nil, nil, 1, nil
}

func TestNiktoConvertsToGenericIssues(t *testing.T) {
	r := &niktoRunner{report: `{"host":"localhost","ip":"127.0.0.1","port":"8080","vulnerabilities":[
		{"id":"999990","method":"GET","url":"/","msg":"Allowed HTTP Methods: GET, HEAD, OPTIONS"},
		{"id":"","method":"GET","url":"/admin/","msg":""},
		{"id":"000645","method":"GET","url":"/.git/config","msg":"Git config file found. It may contain credentials."}]}`}

	out, err := (&Nikto{Runner: r}).Scan(context.Background(), Target{URL: "http://localhost:8080/"}, noProgress)
	require.NoError(t, err)

	var doc struct {
		Issues []genericDynamicIssue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Issues, 2)
	assert.Equal(t, "http://localhost:8080/", doc.Issues[0].URL)
	assert.Equal(t, "nikto-999990: Allowed HTTP Methods", doc.Issues[0].Title)
	assert.Equal(t, "http://localhost:8080/.git/config", doc.Issues[1].URL)
	assert.Equal(t, "medium", doc.Issues[1].Severity)
}

func TestNiktoAcceptsHostArray(t *testing.T) {
	out, err := convertNikto([]byte(`[{"host":"a","vulnerabilities":[{"id":"1","url":"/x","msg":"Outdated server"}]}]`), "https://a.example.com")
	require.NoError(t, err)
	assert.Contains(t, string(out), "https://a.example.com/x")

	_, err = convertNikto([]byte(`garbage`), "https://a.example.com")
	assert.Error(t, err)
}

func TestSelectScanners(t *testing.T) {
	all := Available(&fakeRunner{})
	got, err := Select(all, []string{"nikto", "semgrep"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "nikto", got[0].Name())

	_, err = Select(all, []string{"nmap"})
	assert.Error(t, err)
}
