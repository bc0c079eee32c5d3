package prober

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousef-elgarch1/secureflow/pkg/events"
)

type recordingChecker struct {
	mu      sync.Mutex
	alive   map[string]bool
	checked []string
}

func (r *recordingChecker) Alive(ctx context.Context, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checked = append(r.checked, url)
	return r.alive[url]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) trace() []string {
	var out []string
	for _, e := range r.events {
		out = append(out, e.Data["tier"].(string)+":"+string(e.Status))
	}
	return out
}

const repo = "https://github.com/Acme/shop.git"

func TestExplicitTargetWins(t *testing.T) {
	checker := &recordingChecker{alive: map[string]bool{"https://staging.acme.io": true, "https://acme.github.io/shop": true}}
	pub := &recordingPublisher{}
	p := New(checker, nil, WithPublisher(pub))

	res := p.Resolve(context.Background(), Request{URL: "https://staging.acme.io", RepoURL: repo})
	assert.True(t, res.Reachable)
	assert.Equal(t, TierExplicit, res.Tier)
	assert.Equal(t, "https://staging.acme.io", res.URL)
	assert.Equal(t, []string{"https://staging.acme.io"}, checker.checked)
	assert.Equal(t, []string{"explicit:started", "explicit:completed"}, pub.trace())
	assert.NoError(t, res.Cleanup(context.Background()))
}

func TestCascadeTriesConventionsInOrder(t *testing.T) {
	checker := &recordingChecker{alive: map[string]bool{"https://shop.netlify.app": true}}
	pub := &recordingPublisher{}
	p := New(checker, nil, WithPublisher(pub))

	res := p.Resolve(context.Background(), Request{URL: "https://down.acme.io", RepoURL: repo})
	require.True(t, res.Reachable)
	assert.Equal(t, TierConvention, res.Tier)
	assert.Equal(t, "Netlify", res.Source)
	assert.Equal(t, []string{
		"https://down.acme.io",
		"https://acme.github.io/shop",
		"https://acme.github.io",
		"https://shop.vercel.app",
		"https://shop.netlify.app",
	}, checker.checked)
	assert.Equal(t, []string{"explicit:started", "explicit:failed", "convention:started", "convention:completed"}, pub.trace())
}

func TestFallbackNeverFails(t *testing.T) {
	pub := &recordingPublisher{}
	p := New(&recordingChecker{}, nil, WithPublisher(pub))

	res := p.Resolve(context.Background(), Request{RepoURL: repo})
	assert.False(t, res.Reachable)
	assert.Equal(t, TierFallback, res.Tier)
	assert.NotEmpty(t, res.Guidance)
	assert.NotNil(t, res.Cleanup)
	assert.Equal(t, []string{"explicit:started", "explicit:skipped", "convention:started", "convention:skipped", "fallback:completed"}, pub.trace())

	assert.Equal(t, res.Guidance, p.Resolve(context.Background(), Request{RepoURL: repo}).Guidance, "fallback is deterministic")
}

func TestProbeEventsCarryRunID(t *testing.T) {
	pub := &recordingPublisher{}
	p := New(&recordingChecker{alive: map[string]bool{"https://acme.github.io/shop": true}}, nil, WithPublisher(pub))

	res := p.Resolve(context.Background(), Request{RepoURL: repo, RunID: "run-42"})
	require.True(t, res.Reachable)
	require.NotEmpty(t, pub.events)
	for _, e := range pub.events {
		assert.Equal(t, "run-42", e.RunID, e.Message)
		assert.Equal(t, events.PhaseProbe, e.Phase)
	}
}

func TestLaterTierNotTriedAfterSuccess(t *testing.T) {
	var calls []Tier
	attempt := func(tier Tier, ok bool, err error) Attempt {
		return Attempt{Tier: tier, Run: func(ctx context.Context, req Request) (Result, bool, error) {
			calls = append(calls, tier)
			return Result{URL: "http://x"}, ok, err
		}}
	}
	p := New(nil, nil, WithAttempts(
		attempt(TierExplicit, false, errors.New("boom")),
		attempt(TierConvention, true, nil),
		attempt(TierLocal, true, nil),
	))

	res := p.Resolve(context.Background(), Request{})
	assert.Equal(t, TierConvention, res.Tier)
	assert.Equal(t, []Tier{TierExplicit, TierConvention}, calls)
}

func TestConventionURLs(t *testing.T) {
	for _, in := range []string{"https://github.com/Acme/shop", "git@github.com:Acme/shop.git", "https://github.com/Acme/shop/"} {
		owner, name, err := ParseRepoURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, "Acme", owner)
		assert.Equal(t, "shop", name)
	}
	_, _, err := ParseRepoURL("https://gitlab.com/acme/shop")
	assert.Error(t, err)

	urls, err := ConventionURLs(repo)
	require.NoError(t, err)
	require.Len(t, urls, 6)
	assert.Equal(t, "https://shop.herokuapp.com", urls[5].URL)
}

func TestHTTPChecker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/ok", http.StatusFound) })
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) { time.Sleep(300 * time.Millisecond) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPChecker(100 * time.Millisecond)
	ctx := context.Background()
	assert.True(t, c.Alive(ctx, srv.URL+"/ok"))
	assert.True(t, c.Alive(ctx, srv.URL+"/moved"))
	assert.False(t, c.Alive(ctx, srv.URL+"/missing"))
	assert.False(t, c.Alive(ctx, srv.URL+"/slow"))
	assert.False(t, c.Alive(ctx, "http://127.0.0.1:1"))
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDetectProject(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		kind  string
		port  int
	}{
		{"dockerfile", map[string]string{"Dockerfile": "FROM nginx\nEXPOSE 9000/tcp\n", "go.mod": "module x\n"}, "docker", 9000},
		{"go", map[string]string{"go.mod": "module example.com/svc\n\ngo 1.22.3\n"}, "go", 8080},
		{"flask via pyproject", map[string]string{"pyproject.toml": "[project]\nname = \"svc\"\ndependencies = [\"Flask>=3.0\"]\n"}, "flask", 5000},
		{"django", map[string]string{"requirements.txt": "django==4.2\n", "manage.py": ""}, "django", 8000},
		{"next", map[string]string{"package.json": `{"scripts": {"dev": "next dev"}}`}, "nextjs", 3000},
		{"static", map[string]string{"index.html": "<html></html>"}, "static", 8080},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				write(t, dir, name, content)
			}
			p, ok, err := DetectProject(dir)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, tt.port, p.Port)
			if tt.kind == "docker" {
				assert.Empty(t, p.Dockerfile)
			} else {
				assert.Contains(t, p.Dockerfile, "EXPOSE")
			}
		})
	}

	_, ok, err := DetectProject(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)

	dir := t.TempDir()
	write(t, dir, "go.mod", "module example.com/svc\n\ngo 1.22.3\n")
	p, _, _ := DetectProject(dir)
	assert.True(t, strings.HasPrefix(p.Dockerfile, "FROM golang:1.22-alpine"))
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args[0])
	if args[0] == f.fail {
		return []byte("error output"), errors.New("exit status 1")
	}
	if args[0] == "run" {
		return []byte("c0ffee\n"), nil
	}
	return nil, nil
}

func newTestDeployer(runner Runner, checker Checker) *Deployer {
	d := NewDeployer(runner, checker)
	d.LookPath = func(string) (string, error) { return "/usr/bin/docker", nil }
	d.StartupWait = 50 * time.Millisecond
	d.PollEvery = 5 * time.Millisecond
	return d
}

func TestLocalDeployTier(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "index.html", "<html></html>")

	runner := &fakeRunner{}
	checker := &recordingChecker{alive: map[string]bool{"http://localhost:8080": true}}
	p := New(checker, newTestDeployer(runner, checker))

	res := p.Resolve(context.Background(), Request{RepoPath: dir})
	require.True(t, res.Reachable)
	assert.Equal(t, TierLocal, res.Tier)
	assert.Equal(t, "http://localhost:8080", res.URL)
	assert.Equal(t, "docker:static", res.Source)
	assert.Equal(t, []string{"build", "run"}, runner.calls)

	require.NoError(t, res.Cleanup(context.Background()))
	assert.Equal(t, []string{"build", "run", "stop", "rm", "rmi"}, runner.calls)
}

func TestLocalDeployFailuresFallThrough(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "index.html", "<html></html>")

	runner := &fakeRunner{fail: "build"}
	p := New(&recordingChecker{}, newTestDeployer(runner, &recordingChecker{}))
	res := p.Resolve(context.Background(), Request{RepoPath: dir})
	assert.Equal(t, TierFallback, res.Tier)

	// container never answers: it must be torn down
	runner = &fakeRunner{}
	p = New(&recordingChecker{}, newTestDeployer(runner, &recordingChecker{}))
	res = p.Resolve(context.Background(), Request{RepoPath: dir})
	assert.Equal(t, TierFallback, res.Tier)
	assert.Equal(t, []string{"build", "run", "stop", "rm", "rmi"}, runner.calls)

	d := newTestDeployer(&fakeRunner{}, &recordingChecker{})
	d.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	_, ok, err := d.deploy(context.Background(), Request{RepoPath: dir})
	assert.False(t, ok)
	assert.NoError(t, err)
}
