// Package generator turns a finding and its compliance context into a
// remediation document using the backend its category is routed to.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/llm"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
	"github.com/yousef-elgarch1/secureflow/pkg/retriever"
	"github.com/yousef-elgarch1/secureflow/pkg/rules"
	"github.com/yousef-elgarch1/secureflow/pkg/telemetry"
)

var (
	ErrGenerationFailed = errors.New("generation failed")
	ErrNoRoute          = errors.New("no backend route")
	ErrMalformedOutput  = errors.New("malformed model output")
)

const DefaultMaxAttempts = 3

type Options struct {
	Backends map[string]Backend
	Routes   RouteTable
	Rules    *rules.Engine
	Metrics  *telemetry.Metrics

	MaxAttempts int
	// InitialBackoff is the wait before the second attempt; it doubles after.
	InitialBackoff time.Duration
}

type Generator struct {
	backends       map[string]Backend
	routes         RouteTable
	rules          *rules.Engine
	metrics        *telemetry.Metrics
	system         string
	maxAttempts    int
	initialBackoff time.Duration
}

func New(opts Options) (*Generator, error) {
	routes := opts.Routes
	if routes == nil {
		routes = RouteTable(DefaultRoutes())
	}
	backends := make(map[string]Backend, len(opts.Backends))
	for name, b := range opts.Backends {
		if b.Client == nil {
			return nil, fmt.Errorf("backend %s has no client", name)
		}
		b.Profile.Name = name
		b.Profile = b.Profile.withDefaults()
		backends[name] = b
	}
	if err := routes.Validate(backends); err != nil {
		return nil, err
	}

	g := &Generator{
		backends:       backends,
		routes:         routes,
		rules:          opts.Rules,
		metrics:        opts.Metrics,
		system:         SystemPrompt(),
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.initialBackoff <= 0 {
		g.initialBackoff = time.Second
	}
	return g, nil
}

// Route returns the backend for a category.
func (g *Generator) Route(c engine.Category) (Backend, error) {
	name, ok := g.routes[c]
	if !ok {
		return Backend{}, fmt.Errorf("%w: category %s", ErrNoRoute, c)
	}
	b, ok := g.backends[name]
	if !ok {
		return Backend{}, fmt.Errorf("%w: backend %s", ErrNoRoute, name)
	}
	return b, nil
}

// Generate produces one remediation document. Transient backend errors are
// retried with exponential backoff; anything else fails at once. Control
// ids the context did not supply are removed from the result.
func (g *Generator) Generate(ctx context.Context, f engine.Finding, rctx retriever.Context, expertise Expertise) (engine.RemediationDocument, error) {
	backend, err := g.Route(f.Category)
	if err != nil {
		return engine.RemediationDocument{}, err
	}
	name := backend.Profile.Name

	variant, prompt, err := BuildPrompt(f, rctx, expertise)
	if err != nil {
		return engine.RemediationDocument{}, fmt.Errorf("%w: %s: %w", ErrGenerationFailed, f.ID, err)
	}

	start := time.Now()
	attempt := 0
	op := func() (engine.RemediationDocument, error) {
		attempt++
		text, err := backend.Client.Complete(ctx, g.system, prompt, backend.Profile.Temperature, backend.Profile.MaxTokens)
		if err != nil {
			if llm.IsTransient(err) {
				return engine.RemediationDocument{}, err
			}
			return engine.RemediationDocument{}, backoff.Permanent(err)
		}
		doc, err := ParseDocument(text)
		if err != nil {
			return engine.RemediationDocument{}, backoff.Permanent(err)
		}
		return doc, nil
	}
	notify := func(err error, wait time.Duration) {
		g.metrics.GenerationRetry(name)
		logging.Debugf("generation for %s on %s attempt %d failed, retrying in %s: %v", f.ID, name, attempt, wait, err)
	}

	doc, err := backoff.RetryNotifyWithData(op, g.policy(ctx), notify)
	if err != nil {
		g.metrics.ObserveGeneration(name, "failed", time.Since(start))
		return engine.RemediationDocument{}, fmt.Errorf("%w: %s via %s after %d attempt(s): %w", ErrGenerationFailed, f.ID, name, attempt, err)
	}
	g.metrics.ObserveGeneration(name, "success", time.Since(start))

	if stripped := doc.RestrictMappings(rctx.Controls()); len(stripped) > 0 {
		logging.Warnf("removed untraceable controls from %s: %s", f.ID, strings.Join(stripped, ", "))
	}
	doc.Backend = name
	doc.Variant = variant
	doc.Grounded = !rctx.Empty()
	doc.Priority = g.priority(f, doc.Priority)
	return doc, nil
}

func (g *Generator) policy(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.initialBackoff
	expo.MaxInterval = 30 * g.initialBackoff
	expo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(g.maxAttempts-1)), ctx)
}

// priority applies the first matching rule, then the model's answer, then
// the severity fallback.
func (g *Generator) priority(f engine.Finding, fromModel engine.Priority) engine.Priority {
	if p, id, ok := g.rules.Priority(f); ok {
		logging.Debugf("priority rule %s set %s for %s", id, p, f.ID)
		return p
	}
	if fromModel != "" {
		return fromModel
	}
	return engine.PriorityForSeverity(f.Severity)
}

type modelOutput struct {
	Summary           string              `json:"summary"`
	RemediationSteps  []string            `json:"remediation_steps"`
	Steps             []string            `json:"steps"`
	FrameworkMappings map[string][]string `json:"framework_mappings"`
	Priority          string              `json:"priority"`
}

// ParseDocument extracts the JSON object from model text. Markdown fences
// and leading prose are tolerated.
func ParseDocument(text string) (engine.RemediationDocument, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return engine.RemediationDocument{}, fmt.Errorf("%w: no JSON object in response", ErrMalformedOutput)
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return engine.RemediationDocument{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	steps := out.RemediationSteps
	if len(steps) == 0 {
		steps = out.Steps
	}

	var cleaned []string
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if strings.TrimSpace(out.Summary) == "" || len(cleaned) == 0 {
		return engine.RemediationDocument{}, fmt.Errorf("%w: summary and remediation steps are required", ErrMalformedOutput)
	}

	mappings := out.FrameworkMappings
	if mappings == nil {
		mappings = make(map[string][]string)
	}
	return engine.RemediationDocument{
		Summary:           strings.TrimSpace(out.Summary),
		RemediationSteps:  cleaned,
		FrameworkMappings: mappings,
		Priority:          engine.ParsePriority(out.Priority),
	}, nil
}
