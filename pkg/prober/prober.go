// Package prober resolves a reachable URL for dynamic analysis by trying
// an ordered cascade of strategies.
package prober

import (
	"context"
	"fmt"

	"github.com/yousef-elgarch1/secureflow/pkg/events"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
	"github.com/yousef-elgarch1/secureflow/pkg/telemetry"
)

type Tier string

const (
	TierExplicit   Tier = "explicit"
	TierConvention Tier = "convention"
	TierLocal      Tier = "local-deploy"
	TierFallback   Tier = "fallback"
)

type Request struct {
	// URL is a caller supplied target.
	URL string
	// RepoURL is the source repository, used to derive hosting URLs.
	RepoURL string
	// RepoPath is a local checkout, used for the local deploy tier.
	RepoPath string
	// RunID tags the probe events with the batch that asked for them.
	RunID string
}

// Result is the outcome of a cascade. Unreachable results carry Guidance.
type Result struct {
	Reachable bool     `json:"reachable"`
	URL       string   `json:"url,omitempty"`
	Tier      Tier     `json:"tier"`
	Source    string   `json:"source,omitempty"`
	Guidance  []string `json:"guidance,omitempty"`

	// Cleanup tears down anything the cascade started. Never nil.
	Cleanup func(context.Context) error `json:"-"`
}

func noCleanup(context.Context) error { return nil }

// Attempt is one tier. ok=false with a nil error means the tier did not
// apply or found nothing.
type Attempt struct {
	Tier Tier
	Run  func(ctx context.Context, req Request) (res Result, ok bool, err error)
}

type Prober struct {
	attempts  []Attempt
	publisher events.Publisher
	metrics   *telemetry.Metrics
}

type Option func(*Prober)

func WithPublisher(p events.Publisher) Option {
	return func(pr *Prober) { pr.publisher = p }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(pr *Prober) { pr.metrics = m }
}

// WithAttempts replaces the default cascade.
func WithAttempts(attempts ...Attempt) Option {
	return func(pr *Prober) { pr.attempts = attempts }
}

// New builds the standard cascade: explicit URL, hosting conventions, local
// docker deploy.
func New(checker Checker, deployer *Deployer, opts ...Option) *Prober {
	p := &Prober{publisher: events.Discard{}}
	p.attempts = []Attempt{
		ExplicitAttempt(checker),
		ConventionAttempt(checker),
	}
	if deployer != nil {
		p.attempts = append(p.attempts, deployer.Attempt())
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve walks the cascade in order and stops at the first reachable
// target. It never fails; exhaustion yields the fallback result.
func (p *Prober) Resolve(ctx context.Context, req Request) Result {
	for _, a := range p.attempts {
		if ctx.Err() != nil {
			break
		}
		p.emit(req.RunID, a.Tier, events.StatusStarted, fmt.Sprintf("trying %s target", a.Tier), nil)

		res, ok, err := a.Run(ctx, req)
		switch {
		case err != nil:
			logging.Warnf("probe tier %s failed: %v", a.Tier, err)
			p.metrics.ProbeAttempt(string(a.Tier), "failed")
			p.emit(req.RunID, a.Tier, events.StatusFailed, err.Error(), nil)
		case !ok:
			p.metrics.ProbeAttempt(string(a.Tier), "skipped")
			p.emit(req.RunID, a.Tier, events.StatusSkipped, fmt.Sprintf("no %s target", a.Tier), nil)
		default:
			res.Reachable = true
			res.Tier = a.Tier
			if res.Cleanup == nil {
				res.Cleanup = noCleanup
			}
			p.metrics.ProbeAttempt(string(a.Tier), "reachable")
			p.emit(req.RunID, a.Tier, events.StatusCompleted, "reachable at "+res.URL, map[string]interface{}{"url": res.URL, "source": res.Source})
			return res
		}
	}

	res := Fallback(req)
	p.metrics.ProbeAttempt(string(TierFallback), "unreachable")
	p.emit(req.RunID, TierFallback, events.StatusCompleted, "no reachable target, dynamic analysis skipped", nil)
	return res
}

func (p *Prober) emit(runID string, tier Tier, status events.Status, msg string, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["tier"] = string(tier)
	p.publisher.Publish(events.Event{RunID: runID, Phase: events.PhaseProbe, Status: status, Message: msg, Data: data})
}

// ExplicitAttempt accepts the caller's URL if it is alive.
func ExplicitAttempt(checker Checker) Attempt {
	return Attempt{Tier: TierExplicit, Run: func(ctx context.Context, req Request) (Result, bool, error) {
		if req.URL == "" {
			return Result{}, false, nil
		}
		if !checker.Alive(ctx, req.URL) {
			return Result{}, false, fmt.Errorf("%s is not responding", req.URL)
		}
		return Result{URL: req.URL, Source: "provided"}, true, nil
	}}
}

// ConventionAttempt tries well known hosting URLs derived from the
// repository, in order.
func ConventionAttempt(checker Checker) Attempt {
	return Attempt{Tier: TierConvention, Run: func(ctx context.Context, req Request) (Result, bool, error) {
		candidates, err := ConventionURLs(req.RepoURL)
		if err != nil || len(candidates) == 0 {
			return Result{}, false, nil
		}
		for _, c := range candidates {
			if ctx.Err() != nil {
				return Result{}, false, ctx.Err()
			}
			if checker.Alive(ctx, c.URL) {
				logging.Infof("detected %s deployment: %s", c.Platform, c.URL)
				return Result{URL: c.URL, Source: c.Platform}, true, nil
			}
		}
		return Result{}, false, nil
	}}
}

// Fallback is the deterministic unreachable result.
func Fallback(req Request) Result {
	guidance := []string{
		"Provide a live URL with --dast-url for immediate scanning",
		"Deploy to GitHub Pages, Vercel, Netlify, Render or Heroku for automatic detection",
		"Add a Dockerfile or a supported build manifest to enable local docker deployment",
		"Dynamic analysis needs a running application; static and dependency results are unaffected",
	}
	if req.RepoURL != "" {
		if urls, err := ConventionURLs(req.RepoURL); err == nil {
			for _, c := range urls {
				guidance = append(guidance, fmt.Sprintf("Checked %s: %s", c.Platform, c.URL))
			}
		}
	}
	return Result{Tier: TierFallback, Guidance: guidance, Cleanup: noCleanup}
}
