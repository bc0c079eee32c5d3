package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFinding(i int, sev engine.Severity) engine.Finding {
	return engine.NewFinding(engine.Finding{
		Category:      engine.CategoryStatic,
		Severity:      sev,
		Location:      fmt.Sprintf("src/file%d.go:%d", i, i),
		Title:         "finding",
		RuleReference: "CWE-79",
	})
}

func doc() engine.RemediationDocument {
	return engine.RemediationDocument{Summary: "s", RemediationSteps: []string{"a"}, Priority: engine.PriorityHigh}
}

func stores(t *testing.T) map[string]Store {
	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{"memory": NewMemoryStore(), "bolt": bolt}
}

func TestCreate(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: epoch}
			l := New(store, WithClock(clock.Now))

			f := newFinding(1, engine.SeverityCritical)
			id, err := l.Create(f, doc())
			require.NoError(t, err)
			assert.Equal(t, "POL-20260314-0001", id)

			e, err := l.Get(id)
			require.NoError(t, err)
			assert.Equal(t, StatusNotStarted, e.Status)
			assert.Equal(t, f.ID, e.Finding.ID)
			assert.Equal(t, epoch.Add(48*time.Hour), e.DueAt)
			require.Len(t, e.Timeline, 1)
			assert.Equal(t, EventCreated, e.Timeline[0].Type)

			id2, err := l.Create(newFinding(2, engine.SeverityLow), doc())
			require.NoError(t, err)
			assert.Equal(t, "POL-20260314-0002", id2)

			_, err = l.Create(f, doc())
			assert.True(t, errors.Is(err, ErrAlreadyTracked))
		})
	}
}

func TestDueDates(t *testing.T) {
	tests := []struct {
		sev  engine.Severity
		days int
	}{
		{engine.SeverityCritical, 2},
		{engine.SeverityHigh, 7},
		{engine.SeverityMedium, 30},
		{engine.SeverityLow, 90},
		{engine.SeverityInformational, 180},
	}
	for _, tt := range tests {
		got := DueDate(tt.sev, epoch)
		if want := epoch.AddDate(0, 0, tt.days); !got.Equal(want) {
			t.Errorf("DueDate(%s) = %v, want %v", tt.sev, got, want)
		}
	}
}

func TestTransitionLegality(t *testing.T) {
	for _, from := range Statuses {
		for _, to := range Statuses {
			legal := CanTransition(from, to)
			switch {
			case from == StatusNotStarted && to == StatusInProgress,
				from == StatusInProgress && to == StatusUnderReview,
				from == StatusUnderReview && to == StatusFixed,
				from == StatusFixed && to == StatusVerified,
				from == StatusFixed && to == StatusReopened,
				from == StatusVerified && to == StatusReopened,
				from == StatusReopened && to == StatusInProgress:
				assert.True(t, legal, "%s -> %s", from, to)
			default:
				assert.False(t, legal, "%s -> %s", from, to)
			}
		}
	}
}

func TestIllegalTransitionLeavesEntryUnchanged(t *testing.T) {
	l := New(NewMemoryStore())
	id, err := l.Create(newFinding(1, engine.SeverityHigh), doc())
	require.NoError(t, err)
	before, _ := l.Get(id)

	err = l.Transition(id, StatusVerified, "alice", "")
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	after, _ := l.Get(id)
	assert.Equal(t, before, after)

	assert.True(t, errors.Is(l.Transition(id, StatusInProgress, " ", ""), ErrActorRequired))
	assert.True(t, errors.Is(l.Transition("POL-00000000-9999", StatusInProgress, "alice", ""), ErrNotFound))
	assert.True(t, errors.Is(l.Assign(id, "bob", ""), ErrActorRequired))
}

func TestReopenLoop(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: epoch}
			l := New(store, WithClock(clock.Now))
			id, err := l.Create(newFinding(1, engine.SeverityHigh), doc())
			require.NoError(t, err)

			path := []Status{
				StatusInProgress, StatusUnderReview, StatusFixed, StatusVerified,
				StatusReopened, StatusInProgress, StatusUnderReview, StatusFixed,
			}
			for _, st := range path {
				clock.Advance(time.Hour)
				require.NoError(t, l.Transition(id, st, "alice", "step"))
			}

			e, err := l.Get(id)
			require.NoError(t, err)
			assert.Equal(t, StatusFixed, e.Status)
			require.Len(t, e.Timeline, 1+len(path))

			prev := StatusNotStarted
			for i, ev := range e.Timeline[1:] {
				assert.Equal(t, EventStatusChanged, ev.Type)
				assert.Equal(t, string(prev), ev.From)
				assert.Equal(t, string(path[i]), ev.To)
				prev = path[i]
			}
			for i := 1; i < len(e.Timeline); i++ {
				assert.False(t, e.Timeline[i].At.Before(e.Timeline[i-1].At), "timeline must be non-decreasing")
			}
			assert.False(t, e.UpdatedAt.Before(e.CreatedAt))
		})
	}
}

func TestTimelineMonotonicWhenClockStepsBack(t *testing.T) {
	clock := &fakeClock{now: epoch}
	l := New(NewMemoryStore(), WithClock(clock.Now))
	id, err := l.Create(newFinding(1, engine.SeverityHigh), doc())
	require.NoError(t, err)

	clock.Advance(-time.Hour)
	require.NoError(t, l.Transition(id, StatusInProgress, "alice", ""))
	e, _ := l.Get(id)
	assert.Equal(t, e.Timeline[0].At, e.Timeline[1].At)
	assert.False(t, e.UpdatedAt.Before(e.CreatedAt))
}

func TestAssign(t *testing.T) {
	l := New(NewMemoryStore())
	id, err := l.Create(newFinding(1, engine.SeverityHigh), doc())
	require.NoError(t, err)

	require.NoError(t, l.Assign(id, "bob", "alice"))
	require.NoError(t, l.Assign(id, "carol", "alice"))

	e, _ := l.Get(id)
	assert.Equal(t, "carol", e.AssignedTo)
	last := e.Timeline[len(e.Timeline)-1]
	assert.Equal(t, EventAssigned, last.Type)
	assert.Equal(t, "bob", last.From)
	assert.Equal(t, "carol", last.To)

	mine, err := l.List(Filter{AssignedTo: "carol"})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestStatsUnderConcurrentWriters(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store)
			const n = 40

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id, err := l.Create(newFinding(i, engine.SeverityMedium), doc())
					if err != nil {
						t.Errorf("create %d: %v", i, err)
						return
					}
					if i%2 == 0 {
						for _, st := range []Status{StatusInProgress, StatusUnderReview, StatusFixed} {
							if err := l.Transition(id, st, "worker", ""); err != nil {
								t.Errorf("transition %s: %v", id, err)
							}
						}
					}
					if _, err := l.Stats(); err != nil {
						t.Errorf("stats: %v", err)
					}
				}(i)
			}
			wg.Wait()

			stats, err := l.Stats()
			require.NoError(t, err)
			assert.Equal(t, n, stats.TotalPolicies)
			assert.Equal(t, n/2, stats.ByStatus[StatusFixed])
			assert.Equal(t, n/2, stats.ByStatus[StatusNotStarted])
			assert.Equal(t, 50.0, stats.CompliancePercentage)

			again, err := l.Stats()
			require.NoError(t, err)
			assert.Equal(t, stats, again)

			entries, err := l.List(Filter{})
			require.NoError(t, err)
			seen := make(map[string]bool)
			for _, e := range entries {
				assert.False(t, seen[e.PolicyID], "duplicate id %s", e.PolicyID)
				seen[e.PolicyID] = true
			}
		})
	}
}

func TestStatsEmpty(t *testing.T) {
	stats, err := New(NewMemoryStore()).Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalPolicies)
	assert.Zero(t, stats.CompliancePercentage)
	assert.Len(t, stats.ByStatus, len(Statuses))
}

func TestDashboard(t *testing.T) {
	clock := &fakeClock{now: epoch}
	l := New(NewMemoryStore(), WithClock(clock.Now))

	crit, err := l.Create(newFinding(1, engine.SeverityCritical), doc())
	require.NoError(t, err)
	_, err = l.Create(newFinding(2, engine.SeverityLow), doc())
	require.NoError(t, err)
	fixed, err := l.Create(newFinding(3, engine.SeverityCritical), doc())
	require.NoError(t, err)
	for _, st := range []Status{StatusInProgress, StatusUnderReview, StatusFixed} {
		require.NoError(t, l.Transition(fixed, st, "alice", ""))
	}
	require.NoError(t, l.Assign(crit, "bob", "alice"))

	d, err := l.Dashboard(epoch.Add(72 * time.Hour))
	require.NoError(t, err)

	require.Len(t, d.Overdue, 1)
	assert.Equal(t, crit, d.Overdue[0].PolicyID)
	assert.Equal(t, 2, d.BySeverity[engine.SeverityCritical])
	assert.Equal(t, 1, d.BySeverity[engine.SeverityLow])
	assert.Equal(t, 1, d.Unassigned)
	assert.Equal(t, 3, d.Stats.TotalPolicies)
	assert.Len(t, d.RecentActivity, 3+3+1)

	overdue, err := l.List(Filter{OverdueAt: epoch.Add(72 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, overdue, 1)
	assert.Nil(t, d.Coverage)
}

func TestDashboardCoverage(t *testing.T) {
	catalog, err := engine.DefaultCatalog()
	require.NoError(t, err)
	l := New(NewMemoryStore(), WithCatalog(catalog))

	mapped := doc()
	mapped.FrameworkMappings = map[string][]string{"ISO 27001": {"A.8.28"}, "NIST CSF": {"PR.PS-06"}}
	_, err = l.Create(newFinding(1, engine.SeverityHigh), mapped)
	require.NoError(t, err)
	_, err = l.Create(newFinding(2, engine.SeverityLow), doc())
	require.NoError(t, err)

	d, err := l.Dashboard(epoch)
	require.NoError(t, err)
	require.NotNil(t, d.Coverage)

	iso := d.Coverage.Frameworks["ISO 27001"]
	assert.Equal(t, []string{"A.8.28"}, iso.Covered)
	assert.Equal(t, 1, iso.Groups["A.8"].Covered)
	assert.NotContains(t, iso.Gaps, "A.8.28")
	assert.Equal(t, []string{"PR.PS-06"}, d.Coverage.Frameworks["NIST CSF"].Covered)
	assert.Greater(t, d.Coverage.OverallScore, 0.0)
}

func TestConcurrentTransitionsOnOnePolicy(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store)
			id, err := l.Create(newFinding(1, engine.SeverityHigh), doc())
			require.NoError(t, err)

			const n = 25
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				illegal   int
			)
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					err := l.Transition(id, StatusInProgress, fmt.Sprintf("worker-%d", i), "")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, ErrIllegalTransition):
						illegal++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			assert.Equal(t, 1, succeeded)
			assert.Equal(t, n-1, illegal)

			e, err := l.Get(id)
			require.NoError(t, err)
			assert.Equal(t, StatusInProgress, e.Status)
			require.Len(t, e.Timeline, 2)
			assert.Equal(t, EventStatusChanged, e.Timeline[1].Type)
			assert.Equal(t, string(StatusNotStarted), e.Timeline[1].From)
		})
	}
}

func TestListKeepsCreationOrderPastFourDigits(t *testing.T) {
	mem := NewMemoryStore()
	mem.seq = 9997

	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	require.NoError(t, bolt.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(policiesBucket).SetSequence(9997)
	}))

	for name, store := range map[string]Store{"memory": mem, "bolt": bolt} {
		t.Run(name, func(t *testing.T) {
			l := New(store, WithClock(func() time.Time { return epoch }))
			var created []string
			for i := 1; i <= 4; i++ {
				id, err := l.Create(newFinding(i, engine.SeverityMedium), doc())
				require.NoError(t, err)
				created = append(created, id)
			}
			assert.Equal(t, []string{"POL-20260314-9998", "POL-20260314-9999", "POL-20260314-10000", "POL-20260314-10001"}, created)

			entries, err := l.List(Filter{})
			require.NoError(t, err)
			var listed []string
			for _, e := range entries {
				listed = append(listed, e.PolicyID)
			}
			assert.Equal(t, created, listed)
		})
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)

	l := New(store)
	id, err := l.Create(newFinding(1, engine.SeverityHigh), doc())
	require.NoError(t, err)
	require.NoError(t, l.Transition(id, StatusInProgress, "alice", "started"))
	require.NoError(t, l.Close())

	store, err = NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()
	l = New(store)

	e, err := l.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, e.Status)
	assert.Len(t, e.Timeline, 2)

	next, err := l.Create(newFinding(2, engine.SeverityHigh), doc())
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("Under-Review")
	require.NoError(t, err)
	assert.Equal(t, StatusUnderReview, st)
	_, err = ParseStatus("done")
	assert.Error(t, err)
}
