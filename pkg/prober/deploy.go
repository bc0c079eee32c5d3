package prober

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/yousef-elgarch1/secureflow/pkg/logging"
)

// Runner executes an external command and returns combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Deployer builds and runs a checkout in a throwaway container.
type Deployer struct {
	Runner       Runner
	Checker      Checker
	BuildTimeout time.Duration
	// StartupWait bounds how long the container has to start answering.
	StartupWait time.Duration
	PollEvery   time.Duration
	LookPath    func(string) (string, error)
	now         func() time.Time
}

func NewDeployer(runner Runner, checker Checker) *Deployer {
	return &Deployer{
		Runner:       runner,
		Checker:      checker,
		BuildTimeout: 5 * time.Minute,
		StartupWait:  30 * time.Second,
		PollEvery:    time.Second,
		LookPath:     exec.LookPath,
		now:          time.Now,
	}
}

func (d *Deployer) Attempt() Attempt {
	return Attempt{Tier: TierLocal, Run: d.deploy}
}

func (d *Deployer) deploy(ctx context.Context, req Request) (Result, bool, error) {
	if req.RepoPath == "" {
		return Result{}, false, nil
	}
	if _, err := d.LookPath("docker"); err != nil {
		logging.Warnf("docker not available, skipping local deploy")
		return Result{}, false, nil
	}
	project, ok, err := DetectProject(req.RepoPath)
	if err != nil {
		return Result{}, false, err
	}
	if !ok {
		logging.Infof("no build manifest in %s", req.RepoPath)
		return Result{}, false, nil
	}
	logging.Infof("detected %s project, deploying locally on port %d", project.Kind, project.Port)

	buildArgs := []string{"build"}
	if project.Dockerfile != "" {
		tmp, err := os.MkdirTemp("", "secureflow-probe-*")
		if err != nil {
			return Result{}, false, fmt.Errorf("failed to create temp directory: %w", err)
		}
		defer os.RemoveAll(tmp)
		path := filepath.Join(tmp, "Dockerfile")
		if err := os.WriteFile(path, []byte(project.Dockerfile), 0644); err != nil {
			return Result{}, false, fmt.Errorf("failed to write Dockerfile: %w", err)
		}
		buildArgs = append(buildArgs, "-f", path)
	}

	image := fmt.Sprintf("secureflow-probe-%d", d.now().UnixNano())
	buildArgs = append(buildArgs, "-t", image, req.RepoPath)

	buildCtx, cancel := context.WithTimeout(ctx, d.BuildTimeout)
	out, err := d.Runner.Run(buildCtx, "docker", buildArgs...)
	cancel()
	if err != nil {
		return Result{}, false, fmt.Errorf("docker build failed: %v: %s", err, tail(out))
	}

	port := fmt.Sprintf("%d", project.Port)
	out, err = d.Runner.Run(ctx, "docker", "run", "-d", "-p", port+":"+port, "--name", image, image)
	if err != nil {
		d.remove(image, "")
		return Result{}, false, fmt.Errorf("docker run failed: %v: %s", err, tail(out))
	}
	container := strings.TrimSpace(string(out))
	cleanup := func(ctx context.Context) error {
		return d.remove(image, container)
	}

	url := "http://localhost:" + port
	if !d.waitAlive(ctx, url) {
		cleanup(context.Background())
		return Result{}, false, fmt.Errorf("container %s did not answer on %s within %s", image, url, d.StartupWait)
	}
	return Result{URL: url, Source: "docker:" + project.Kind, Cleanup: cleanup}, true, nil
}

func (d *Deployer) waitAlive(ctx context.Context, url string) bool {
	deadline := time.NewTimer(d.StartupWait)
	defer deadline.Stop()
	tick := time.NewTicker(d.PollEvery)
	defer tick.Stop()

	for {
		if d.Checker.Alive(ctx, url) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

// remove stops the container and deletes the image. Errors are logged and
// the first one returned.
func (d *Deployer) remove(image, container string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var first error
	steps := [][]string{{"rmi", "-f", image}}
	if container != "" {
		steps = append([][]string{{"stop", container}, {"rm", container}}, steps...)
	}
	for _, args := range steps {
		if out, err := d.Runner.Run(ctx, "docker", args...); err != nil {
			logging.Warnf("docker %s: %v: %s", args[0], err, tail(out))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 400 {
		s = "..." + s[len(s)-400:]
	}
	return s
}
