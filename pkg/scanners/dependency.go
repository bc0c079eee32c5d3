package scanners

import (
	"context"
	"fmt"
	"strings"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

// Trivy scans the filesystem for vulnerable dependencies.
type Trivy struct {
	Runner Runner
}

func (t *Trivy) Name() string              { return "trivy" }
func (t *Trivy) Description() string       { return "Dependency analysis with trivy fs" }
func (t *Trivy) Category() engine.Category { return engine.CategoryDependency }

func (t *Trivy) Scan(ctx context.Context, target Target, progress func(string)) ([]byte, error) {
	if err := requireBinary(t.Runner, "trivy"); err != nil {
		return nil, err
	}
	progress(fmt.Sprintf("[trivy] scanning %s", target.Path))
	stdout, stderr, code, err := t.Runner.Run(ctx, "trivy", "fs", "--quiet", "--format", "json", "--scanners", "vuln", target.Path)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("trivy exited %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	return stdout, nil
}
