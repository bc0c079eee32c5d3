// Package orchestrator runs a batch of scanner reports through normalization,
// compliance retrieval, remediation generation and the policy ledger.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/events"
	"github.com/yousef-elgarch1/secureflow/pkg/generator"
	"github.com/yousef-elgarch1/secureflow/pkg/ledger"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
	"github.com/yousef-elgarch1/secureflow/pkg/normalizer"
	"github.com/yousef-elgarch1/secureflow/pkg/prober"
	"github.com/yousef-elgarch1/secureflow/pkg/retriever"
	"github.com/yousef-elgarch1/secureflow/pkg/rules"
	"github.com/yousef-elgarch1/secureflow/pkg/scanners"
	"github.com/yousef-elgarch1/secureflow/pkg/storage"
	"github.com/yousef-elgarch1/secureflow/pkg/telemetry"
)

var ErrNoFindings = errors.New("no findings could be extracted from the input reports")

const DefaultConcurrency = 3

// Retriever supplies compliance context for a finding.
type Retriever interface {
	Retrieve(ctx context.Context, f engine.Finding, topK int) retriever.Context
}

// Generator produces a remediation document.
type Generator interface {
	Generate(ctx context.Context, f engine.Finding, rctx retriever.Context, expertise generator.Expertise) (engine.RemediationDocument, error)
}

type Options struct {
	Retriever Retriever
	Generator Generator
	Ledger    *ledger.Ledger
	Prober    *prober.Prober
	Rules     *rules.Engine
	Store     storage.BlobStore
	Publisher events.Publisher
	Metrics   *telemetry.Metrics
	// Catalog enables per-run control coverage in the manifest.
	Catalog *engine.Catalog

	Concurrency  int
	TopK         int
	BatchTimeout time.Duration
}

// Report is one raw scanner output.
type Report struct {
	Name     string
	Category engine.Category
	Payload  []byte
}

// ScanRequest runs scanners before normalization. Dynamic scanners target
// the URL the prober resolved.
type ScanRequest struct {
	Path     string
	Scanners []scanners.Scanner
}

type Request struct {
	Reports        []Report
	MaxPerCategory int
	Profile        generator.Expertise
	DynamicTarget  *prober.Request
	Scan           *ScanRequest
}

type Orchestrator struct {
	retriever    Retriever
	generator    Generator
	ledger       *ledger.Ledger
	prober       *prober.Prober
	rules        *rules.Engine
	store        storage.BlobStore
	publisher    events.Publisher
	metrics      *telemetry.Metrics
	catalog      *engine.Catalog
	tracer       trace.Tracer
	concurrency  int
	topK         int
	batchTimeout time.Duration
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Generator == nil {
		return nil, errors.New("orchestrator needs a generator")
	}
	if opts.Ledger == nil {
		return nil, errors.New("orchestrator needs a ledger")
	}
	o := &Orchestrator{
		retriever:    opts.Retriever,
		generator:    opts.Generator,
		ledger:       opts.Ledger,
		prober:       opts.Prober,
		rules:        opts.Rules,
		store:        opts.Store,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		catalog:      opts.Catalog,
		tracer:       telemetry.Tracer("orchestrator"),
		concurrency:  opts.Concurrency,
		topK:         opts.TopK,
		batchTimeout: opts.BatchTimeout,
	}
	if o.retriever == nil {
		o.retriever = retriever.New(nil, 0)
	}
	if o.publisher == nil {
		o.publisher = events.Discard{}
	}
	if o.concurrency <= 0 {
		o.concurrency = DefaultConcurrency
	}
	if o.topK <= 0 {
		o.topK = retriever.DefaultTopK
	}
	return o, nil
}

// run carries the per-run state shared by workers.
type run struct {
	*Orchestrator
	id       string
	mu       sync.Mutex
	manifest *Manifest
	set      *engine.FindingSet
	docs     map[string]engine.RemediationDocument // finding id -> stored document
}

func (r *run) emit(phase events.Phase, status events.Status, findingID, msg string, data map[string]interface{}) {
	r.publisher.Publish(events.Event{
		RunID:     r.id,
		Phase:     phase,
		Status:    status,
		FindingID: findingID,
		Message:   msg,
		Data:      data,
	})
}

func (r *run) record(list *[]Item, it Item, outcome string) {
	r.mu.Lock()
	*list = append(*list, it)
	r.mu.Unlock()
	r.metrics.FindingOutcome(string(it.Category), outcome)
}

// Run processes one batch. Per-finding failures are recorded in the
// manifest and do not fail the run. ErrNoFindings and context errors do;
// the manifest is still returned and persisted when there is one.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Manifest, error) {
	r := &run{
		Orchestrator: o,
		id:           uuid.NewString(),
		manifest: &Manifest{
			Profile:   generator.ParseExpertise(string(req.Profile)),
			StartedAt: time.Now().UTC(),
			Succeeded: []Item{},
			Skipped:   []Item{},
			Failed:    []Item{},
		},
		docs: make(map[string]engine.RemediationDocument),
	}
	r.manifest.RunID = r.id

	ctx, span := o.tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(attribute.String("run.id", r.id)))
	defer span.End()
	if o.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.batchTimeout)
		defer cancel()
	}

	r.emit(events.PhaseBatch, events.StatusStarted, "", fmt.Sprintf("run %s started", r.id), nil)
	start := time.Now()

	err := r.execute(ctx, req)

	r.manifest.FinishedAt = time.Now().UTC()
	r.manifest.finalize()
	if o.catalog != nil {
		cov := o.catalog.Coverage(r.documents())
		r.manifest.Coverage = &cov
	}
	if err != nil {
		r.manifest.Error = err.Error()
	}
	o.metrics.ObserveRun(time.Since(start))

	// artifacts are written even when the batch was cut short
	if perr := r.persist(context.WithoutCancel(ctx)); perr != nil {
		logging.Warnf("failed to persist run %s: %v", r.id, perr)
		if err == nil {
			err = perr
		}
	}

	counts := map[string]interface{}{
		"succeeded": r.manifest.Counts.Succeeded,
		"skipped":   r.manifest.Counts.Skipped,
		"failed":    r.manifest.Counts.Failed,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.emit(events.PhaseBatch, events.StatusFailed, "", err.Error(), counts)
		return r.manifest, err
	}
	r.emit(events.PhaseBatch, events.StatusCompleted, "", fmt.Sprintf("run %s finished", r.id), counts)
	return r.manifest, nil
}

func (r *run) execute(ctx context.Context, req Request) error {
	reports := append([]Report(nil), req.Reports...)

	var target string
	if req.DynamicTarget != nil && r.prober != nil {
		preq := *req.DynamicTarget
		preq.RunID = r.id
		res := r.prober.Resolve(ctx, preq)
		r.manifest.Probe = &res
		defer func() {
			if err := res.Cleanup(context.WithoutCancel(ctx)); err != nil {
				logging.Warnf("probe cleanup failed: %v", err)
			}
		}()
		if res.Reachable {
			target = res.URL
		}
	}

	if req.Scan != nil {
		reports = append(reports, r.scan(ctx, req.Scan, target)...)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	set, err := r.normalize(reports)
	if err != nil {
		return err
	}
	r.set = set
	if set.Len() == 0 {
		return fmt.Errorf("%w: %d report(s) parsed without findings", ErrNoFindings, len(r.manifest.Reports))
	}

	work := r.selectFindings(set.Findings(), req.MaxPerCategory)
	if len(work) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, f := range work {
		f := f
		g.Go(func() error {
			r.process(ctx, f, r.manifest.Profile)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (r *run) scan(ctx context.Context, sr *ScanRequest, url string) []Report {
	progress := func(msg string) {
		r.emit(events.PhaseNormalize, events.StatusProgress, "", msg, nil)
	}
	found, failures := scanners.RunAll(ctx, sr.Scanners, scanners.Target{Path: sr.Path, URL: url}, progress)
	if len(failures) > 0 {
		r.manifest.ScanFailures = make(map[string]string, len(failures))
		for name, err := range failures {
			r.manifest.ScanFailures[name] = err.Error()
		}
	}

	var out []Report
	for _, c := range engine.Categories {
		for i, payload := range found[c] {
			out = append(out, Report{Name: fmt.Sprintf("scan-%s-%d", c, i+1), Category: c, Payload: payload})
		}
	}
	return out
}

// normalize parses every report into one deduplicated set. A report that
// cannot be parsed is recorded and skipped.
func (r *run) normalize(reports []Report) (*engine.FindingSet, error) {
	set := engine.NewFindingSet()
	parsed := 0
	for _, rep := range reports {
		name := rep.Name
		if name == "" {
			name = string(rep.Category)
		}
		r.emit(events.PhaseNormalize, events.StatusStarted, "", "parsing "+name, map[string]interface{}{"category": rep.Category})

		summary := ReportSummary{Name: name, Category: rep.Category}
		res, err := normalizer.Normalize(rep.Category, rep.Payload)
		if err != nil {
			summary.Error = err.Error()
			r.manifest.Reports = append(r.manifest.Reports, summary)
			logging.Warnf("report %s could not be parsed: %v", name, err)
			r.emit(events.PhaseNormalize, events.StatusFailed, "", fmt.Sprintf("%s: %v", name, err), nil)
			continue
		}
		parsed++
		added := set.AddFindings(res.Findings)
		summary.Format = res.Format
		summary.Findings = len(res.Findings)
		summary.Skipped = res.Skipped
		r.manifest.Reports = append(r.manifest.Reports, summary)
		r.emit(events.PhaseNormalize, events.StatusCompleted, "", fmt.Sprintf("%s: %d findings (%d new)", name, len(res.Findings), added),
			map[string]interface{}{"format": res.Format, "findings": len(res.Findings), "skipped": res.Skipped, "new": added})
	}

	if parsed == 0 {
		return nil, fmt.Errorf("%w: %d report(s) supplied", ErrNoFindings, len(reports))
	}
	return set, nil
}

// selectFindings applies the rule filter, the per-category cap and the
// ledger check. Everything not selected is recorded as skipped.
func (r *run) selectFindings(findings []engine.Finding, maxPerCategory int) []engine.Finding {
	tracked, err := r.ledger.TrackedFindings()
	if err != nil {
		logging.Warnf("could not read tracked findings, relying on ledger checks: %v", err)
		tracked = map[string]string{}
	}

	byCategory := make(map[engine.Category][]engine.Finding)
	for _, f := range findings {
		if !r.rules.Include(f) {
			r.skip(f, ReasonExcluded, "")
			continue
		}
		if policyID, ok := tracked[f.ID]; ok {
			r.skip(f, ReasonAlreadyTracked, policyID)
			continue
		}
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	var work []engine.Finding
	for _, c := range engine.Categories {
		list := byCategory[c]
		// most severe first so the cap keeps what matters
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Severity.Rank() != list[j].Severity.Rank() {
				return list[i].Severity.Rank() > list[j].Severity.Rank()
			}
			return list[i].ID < list[j].ID
		})
		for i, f := range list {
			if maxPerCategory > 0 && i >= maxPerCategory {
				r.skip(f, ReasonCategoryLimit, "")
				continue
			}
			work = append(work, f)
		}
	}
	return work
}

func (r *run) skip(f engine.Finding, reason, policyID string) {
	it := itemFor(f)
	it.Reason = reason
	it.PolicyID = policyID
	r.record(&r.manifest.Skipped, it, "skipped")
	r.emit(events.PhaseBatch, events.StatusSkipped, f.ID, reason, nil)
}

func (r *run) fail(span trace.Span, f engine.Finding, phase events.Phase, it Item, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	it.Error = err.Error()
	r.record(&r.manifest.Failed, it, "failed")
	r.emit(phase, events.StatusFailed, f.ID, err.Error(), nil)
	logging.Warnf("finding %s failed during %s: %v", f.ID, phase, err)
}

// process runs retrieve, generate and ledger create for one finding.
func (r *run) process(ctx context.Context, f engine.Finding, expertise generator.Expertise) {
	ctx, span := r.tracer.Start(ctx, "orchestrator.finding", trace.WithAttributes(
		attribute.String("finding.id", f.ID),
		attribute.String("finding.category", string(f.Category)),
		attribute.String("finding.severity", string(f.Severity)),
	))
	defer span.End()

	it := itemFor(f)
	if err := ctx.Err(); err != nil {
		r.fail(span, f, events.PhaseBatch, it, err)
		return
	}

	r.emit(events.PhaseRetrieve, events.StatusStarted, f.ID, "retrieving compliance context", nil)
	rctx := r.retriever.Retrieve(ctx, f, r.topK)
	r.emit(events.PhaseRetrieve, events.StatusCompleted, f.ID, fmt.Sprintf("%d passages", len(rctx.Passages)),
		map[string]interface{}{"passages": len(rctx.Passages)})

	r.emit(events.PhaseGenerate, events.StatusStarted, f.ID, "generating remediation", nil)
	doc, err := r.generator.Generate(ctx, f, rctx, expertise)
	if err != nil {
		r.fail(span, f, events.PhaseGenerate, it, err)
		return
	}
	it.Backend = doc.Backend
	it.Variant = doc.Variant
	it.Priority = doc.Priority
	it.StrippedControls = doc.StrippedControls
	r.emit(events.PhaseGenerate, events.StatusCompleted, f.ID, "remediation generated",
		map[string]interface{}{"backend": doc.Backend, "variant": doc.Variant, "grounded": doc.Grounded})

	r.emit(events.PhaseLedger, events.StatusStarted, f.ID, "recording policy", nil)
	policyID, err := r.ledger.Create(f, doc)
	switch {
	case errors.Is(err, ledger.ErrAlreadyTracked):
		it.Reason = ReasonAlreadyTracked
		it.PolicyID = policyID
		r.record(&r.manifest.Skipped, it, "skipped")
		r.emit(events.PhaseLedger, events.StatusSkipped, f.ID, ReasonAlreadyTracked, map[string]interface{}{"policy_id": policyID})
		return
	case err != nil:
		r.fail(span, f, events.PhaseLedger, it, err)
		return
	}

	it.PolicyID = policyID
	span.SetAttributes(attribute.String("policy.id", policyID))
	r.mu.Lock()
	r.docs[f.ID] = doc
	r.mu.Unlock()
	r.record(&r.manifest.Succeeded, it, "succeeded")
	r.emit(events.PhaseLedger, events.StatusCompleted, f.ID, "policy "+policyID, map[string]interface{}{"policy_id": policyID})
}

// documents returns the stored documents in finding id order.
func (r *run) documents() []engine.RemediationDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]engine.RemediationDocument, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.docs[id])
	}
	return out
}

// persist writes the findings snapshot, the readable report and the
// manifest under runs/<id>/.
func (r *run) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.manifest.Artifacts = map[string]string{}

	snapshot := r.set
	if snapshot == nil {
		snapshot = engine.NewFindingSet()
	}
	findings, err := snapshot.MarshalSnapshot()
	if err != nil {
		return err
	}
	findingsKey := path.Join("runs", r.id, "findings.json")
	if err := r.store.Put(ctx, findingsKey, findings); err != nil {
		return fmt.Errorf("writing findings snapshot: %w", err)
	}
	r.manifest.Artifacts["findings"] = r.store.Location(findingsKey)

	reportKey := path.Join("runs", r.id, "report.md")
	if err := r.store.Put(ctx, reportKey, r.report()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	r.manifest.Artifacts["report"] = r.store.Location(reportKey)

	manifestKey := path.Join("runs", r.id, "manifest.json")
	r.manifest.Artifacts["manifest"] = r.store.Location(manifestKey)
	data, err := json.MarshalIndent(r.manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, manifestKey, data); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
