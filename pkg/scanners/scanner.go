// Package scanners runs the external analysis tools that produce the raw
// reports the normalizer consumes.
package scanners

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
)

var ErrNotInstalled = errors.New("scanner binary not found")

// Target is what a scanner looks at. Code scanners use Path, runtime
// scanners use URL.
type Target struct {
	Path string
	URL  string
}

// Scanner produces one raw report.
type Scanner interface {
	Name() string
	Description() string
	Category() engine.Category
	Scan(ctx context.Context, target Target, progress func(string)) ([]byte, error)
}

// Runner executes a command. exitCode is -1 when the process did not run.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
	LookPath(name string) (string, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func requireBinary(r Runner, bin string) error {
	if _, err := r.LookPath(bin); err != nil {
		return fmt.Errorf("%w: %s", ErrNotInstalled, bin)
	}
	return nil
}

func tempReport(pattern string) (string, func(), error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", nil, fmt.Errorf("error creating temp dir: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

func readReport(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

func noProgress(string) {}

// Default returns the stock scanner set.
func Default(r Runner) []Scanner {
	return []Scanner{
		&Semgrep{Runner: r},
		&Gitleaks{Runner: r},
		&Trivy{Runner: r},
		&ZAPBaseline{Runner: r},
	}
}

// Reports groups raw reports by category, in scanner order.
type Reports map[engine.Category][][]byte

// RunAll runs every scanner whose target is present. A failing scanner is
// logged and recorded; the rest still run.
func RunAll(ctx context.Context, scanners []Scanner, target Target, progress func(string)) (Reports, map[string]error) {
	if progress == nil {
		progress = noProgress
	}
	reports := make(Reports)
	failures := make(map[string]error)
	for _, s := range scanners {
		if s.Category() == engine.CategoryDynamic && target.URL == "" {
			continue
		}
		if s.Category() != engine.CategoryDynamic && target.Path == "" {
			continue
		}
		progress(fmt.Sprintf("[%s] %s", s.Name(), s.Description()))
		report, err := s.Scan(ctx, target, progress)
		if err != nil {
			logging.Warnf("%s scan failed: %v", s.Name(), err)
			failures[s.Name()] = err
			continue
		}
		reports[s.Category()] = append(reports[s.Category()], report)
	}
	return reports, failures
}

// Available returns every scanner, including the opt-in ones Default leaves
// out.
func Available(r Runner) []Scanner {
	return append(Default(r), &Nikto{Runner: r})
}

// Select picks scanners by name, in the order given.
func Select(all []Scanner, names []string) ([]Scanner, error) {
	byName := make(map[string]Scanner, len(all))
	for _, s := range all {
		byName[s.Name()] = s
	}
	out := make([]Scanner, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown scanner %q", n)
		}
		out = append(out, s)
	}
	return out, nil
}
