package scanners

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

// Semgrep runs the registry ruleset and emits its JSON report.
type Semgrep struct {
	Runner Runner
	// Config defaults to "auto".
	Config string
}

func (s *Semgrep) Name() string              { return "semgrep" }
func (s *Semgrep) Description() string       { return "Static code analysis with semgrep" }
func (s *Semgrep) Category() engine.Category { return engine.CategoryStatic }

func (s *Semgrep) Scan(ctx context.Context, target Target, progress func(string)) ([]byte, error) {
	if err := requireBinary(s.Runner, "semgrep"); err != nil {
		return nil, err
	}
	config := s.Config
	if config == "" {
		config = "auto"
	}
	progress(fmt.Sprintf("[semgrep] scanning %s", target.Path))
	stdout, stderr, code, err := s.Runner.Run(ctx, "semgrep", "scan", "--json", "--quiet", "--config", config, target.Path)
	if err != nil {
		return nil, err
	}
	// 1 means findings were reported
	if code != 0 && code != 1 {
		return nil, fmt.Errorf("semgrep exited %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	return stdout, nil
}

// Gitleaks looks for committed secrets.
type Gitleaks struct {
	Runner Runner
}

func (g *Gitleaks) Name() string              { return "gitleaks" }
func (g *Gitleaks) Description() string       { return "Secret detection with gitleaks" }
func (g *Gitleaks) Category() engine.Category { return engine.CategoryStatic }

func (g *Gitleaks) Scan(ctx context.Context, target Target, progress func(string)) ([]byte, error) {
	if err := requireBinary(g.Runner, "gitleaks"); err != nil {
		return nil, err
	}
	dir, cleanup, err := tempReport("gitleaks-report-*")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	reportPath := filepath.Join(dir, "report.json")

	progress(fmt.Sprintf("[gitleaks] scanning %s", target.Path))
	_, stderr, code, err := g.Runner.Run(ctx, "gitleaks", "detect",
		"--source", target.Path,
		"--report-format", "json",
		"--report-path", reportPath,
		"--redact",
		"--no-banner",
	)
	if err != nil {
		return nil, err
	}
	// gitleaks exits 1 when leaks are found
	if code != 0 && code != 1 {
		return nil, fmt.Errorf("gitleaks exited %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	data, err := readReport(reportPath)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []byte("[]"), nil
	}
	return data, nil
}
