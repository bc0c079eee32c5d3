// Package ledger tracks remediation policies through their lifecycle.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
	"github.com/yousef-elgarch1/secureflow/pkg/telemetry"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrActorRequired     = errors.New("actor is required")
	ErrAlreadyTracked    = errors.New("finding already tracked")
)

// SystemActor records changes made by the pipeline itself.
const SystemActor = "secureflow"

type Option func(*Ledger)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithCatalog enables control coverage on the dashboard.
func WithCatalog(c *engine.Catalog) Option {
	return func(l *Ledger) { l.catalog = c }
}

// Ledger applies the state machine on top of a Store. Mutations of one
// entry are serialized; different entries proceed in parallel.
type Ledger struct {
	store   Store
	now     func() time.Time
	metrics *telemetry.Metrics
	catalog *engine.Catalog

	locks    sync.Map // policy id -> *sync.Mutex
	createMu sync.Mutex
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) lock(id string) func() {
	m, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create records a new policy in not_started with a single created event.
// A finding that already has a policy is rejected with ErrAlreadyTracked.
func (l *Ledger) Create(f engine.Finding, doc engine.RemediationDocument) (string, error) {
	l.createMu.Lock()
	defer l.createMu.Unlock()

	if existing, ok, err := l.FindByFinding(f.ID); err != nil {
		return "", err
	} else if ok {
		return existing.PolicyID, fmt.Errorf("%w: %s is %s", ErrAlreadyTracked, f.ID, existing.PolicyID)
	}

	now := l.now().UTC()
	id, err := l.store.NextID(now)
	if err != nil {
		return "", err
	}
	e := Entry{
		PolicyID:  id,
		Finding:   f,
		Document:  doc,
		Status:    StatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
		DueAt:     DueDate(f.Severity, now),
		Timeline: []TimelineEvent{{
			Type:  EventCreated,
			Actor: SystemActor,
			To:    string(StatusNotStarted),
			Note:  fmt.Sprintf("policy generated for %s", f.ID),
			At:    now,
		}},
	}
	if err := l.store.Put(e); err != nil {
		return "", fmt.Errorf("failed to store policy %s: %w", id, err)
	}
	l.metrics.Transition(string(StatusNotStarted))
	logging.Debugf("created policy %s for finding %s", id, f.ID)
	return id, nil
}

// Transition moves a policy to status to. Illegal edges leave the entry
// untouched.
func (l *Ledger) Transition(id string, to Status, actor, note string) error {
	if strings.TrimSpace(actor) == "" {
		return ErrActorRequired
	}
	unlock := l.lock(id)
	defer unlock()

	e, err := l.store.Get(id)
	if err != nil {
		return err
	}
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrIllegalTransition, e.Status, to, id)
	}

	now := l.stamp(e)
	e.Timeline = append(e.Timeline, TimelineEvent{
		Type:  EventStatusChanged,
		Actor: actor,
		From:  string(e.Status),
		To:    string(to),
		Note:  note,
		At:    now,
	})
	e.Status = to
	e.UpdatedAt = now
	if err := l.store.Put(e); err != nil {
		return fmt.Errorf("failed to store policy %s: %w", id, err)
	}
	l.metrics.Transition(string(to))
	return nil
}

// Assign sets the owner of a policy.
func (l *Ledger) Assign(id, assignee, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return ErrActorRequired
	}
	unlock := l.lock(id)
	defer unlock()

	e, err := l.store.Get(id)
	if err != nil {
		return err
	}
	now := l.stamp(e)
	e.Timeline = append(e.Timeline, TimelineEvent{
		Type:  EventAssigned,
		Actor: actor,
		From:  e.AssignedTo,
		To:    assignee,
		At:    now,
	})
	e.AssignedTo = assignee
	e.UpdatedAt = now
	if err := l.store.Put(e); err != nil {
		return fmt.Errorf("failed to store policy %s: %w", id, err)
	}
	return nil
}

// stamp returns a time that keeps the timeline non-decreasing even if the
// wall clock steps backwards.
func (l *Ledger) stamp(e Entry) time.Time {
	now := l.now().UTC()
	if n := len(e.Timeline); n > 0 && now.Before(e.Timeline[n-1].At) {
		return e.Timeline[n-1].At
	}
	return now
}

func (l *Ledger) Get(id string) (Entry, error) {
	return l.store.Get(id)
}

// FindByFinding returns the policy tracking a finding id, if any.
func (l *Ledger) FindByFinding(findingID string) (Entry, bool, error) {
	entries, err := l.store.List()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Finding.ID == findingID {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// TrackedFindings returns the set of finding ids that already have a policy.
func (l *Ledger) TrackedFindings() (map[string]string, error) {
	entries, err := l.store.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Finding.ID] = e.PolicyID
	}
	return out, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Status     Status
	Severity   engine.Severity
	Category   engine.Category
	AssignedTo string
	OverdueAt  time.Time
}

func (f Filter) match(e Entry) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Severity != "" && e.Finding.Severity != f.Severity {
		return false
	}
	if f.Category != "" && e.Finding.Category != f.Category {
		return false
	}
	if f.AssignedTo != "" && e.AssignedTo != f.AssignedTo {
		return false
	}
	if !f.OverdueAt.IsZero() && !e.Overdue(f.OverdueAt) {
		return false
	}
	return true
}

// List returns matching entries by policy id.
func (l *Ledger) List(f Filter) ([]Entry, error) {
	entries, err := l.store.List()
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Stats are recomputed from a full scan on every call.
type Stats struct {
	TotalPolicies        int            `json:"total_policies"`
	ByStatus             map[Status]int `json:"by_status"`
	CompliancePercentage float64        `json:"compliance_percentage"`
}

func computeStats(entries []Entry) Stats {
	s := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	resolved := 0
	for _, e := range entries {
		s.TotalPolicies++
		s.ByStatus[e.Status]++
		if e.Status.Resolved() {
			resolved++
		}
	}
	if s.TotalPolicies > 0 {
		s.CompliancePercentage = math.Round(float64(resolved)/float64(s.TotalPolicies)*10000) / 100
	}
	return s
}

func (l *Ledger) Stats() (Stats, error) {
	entries, err := l.store.List()
	if err != nil {
		return Stats{}, err
	}
	return computeStats(entries), nil
}

// ActivityItem is a timeline event with the policy it belongs to.
type ActivityItem struct {
	PolicyID string `json:"policy_id"`
	TimelineEvent
}

type Dashboard struct {
	Stats          Stats                   `json:"stats"`
	Overdue        []Entry                 `json:"overdue"`
	BySeverity     map[engine.Severity]int `json:"by_severity"`
	Unassigned     int                     `json:"unassigned"`
	RecentActivity []ActivityItem          `json:"recent_activity"`
	Coverage       *engine.Coverage        `json:"coverage,omitempty"`
}

const recentActivityLimit = 20

// Dashboard summarizes the ledger as of now from a single scan.
func (l *Ledger) Dashboard(now time.Time) (Dashboard, error) {
	entries, err := l.store.List()
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		Stats:      computeStats(entries),
		BySeverity: make(map[engine.Severity]int),
	}
	var activity []ActivityItem
	for _, e := range entries {
		d.BySeverity[e.Finding.Severity]++
		if e.AssignedTo == "" && !e.Status.Resolved() {
			d.Unassigned++
		}
		if e.Overdue(now) {
			d.Overdue = append(d.Overdue, e)
		}
		for _, ev := range e.Timeline {
			activity = append(activity, ActivityItem{PolicyID: e.PolicyID, TimelineEvent: ev})
		}
	}

	sort.Slice(d.Overdue, func(i, j int) bool {
		return d.Overdue[i].DueAt.Before(d.Overdue[j].DueAt)
	})
	sort.SliceStable(activity, func(i, j int) bool {
		return activity[i].At.After(activity[j].At)
	})
	if len(activity) > recentActivityLimit {
		activity = activity[:recentActivityLimit]
	}
	d.RecentActivity = activity

	if l.catalog != nil {
		docs := make([]engine.RemediationDocument, 0, len(entries))
		for _, e := range entries {
			docs = append(docs, e.Document)
		}
		cov := l.catalog.Coverage(docs)
		d.Coverage = &cov
	}
	return d, nil
}
