package scanners

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

const zapImage = "ghcr.io/zaproxy/zaproxy:stable"

// ZAPBaseline runs the ZAP baseline scan in docker against a live URL.
type ZAPBaseline struct {
	Runner Runner
	Image  string
}

func (z *ZAPBaseline) Name() string              { return "zap-baseline" }
func (z *ZAPBaseline) Description() string       { return "Passive dynamic scan with the ZAP baseline" }
func (z *ZAPBaseline) Category() engine.Category { return engine.CategoryDynamic }

func (z *ZAPBaseline) Scan(ctx context.Context, target Target, progress func(string)) ([]byte, error) {
	if err := requireBinary(z.Runner, "docker"); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(target.URL); err != nil {
		return nil, fmt.Errorf("invalid target url %q: %w", target.URL, err)
	}
	image := z.Image
	if image == "" {
		image = zapImage
	}

	dir, cleanup, err := tempReport("zap-report-*")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// containers reach the host's localhost through host networking
	args := []string{"run", "--rm", "-v", dir + ":/zap/wrk:rw"}
	if u, _ := url.Parse(target.URL); u != nil && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1") {
		args = append(args, "--network", "host")
	}
	args = append(args, image, "zap-baseline.py", "-t", target.URL, "-J", "report.json", "-I")

	progress(fmt.Sprintf("[zap] baseline scan of %s", target.URL))
	_, stderr, code, err := z.Runner.Run(ctx, "docker", args...)
	if err != nil {
		return nil, err
	}
	// 1 and 2 report warnings and failures, 3 is an error
	if code != 0 && code != 1 && code != 2 {
		return nil, fmt.Errorf("zap baseline exited %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	return readReport(filepath.Join(dir, "report.json"))
}
