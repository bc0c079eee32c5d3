package orchestrator

import (
	"sort"
	"time"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/generator"
	"github.com/yousef-elgarch1/secureflow/pkg/prober"
)

// Skip reasons recorded in the manifest.
const (
	ReasonAlreadyTracked = "already_tracked"
	ReasonExcluded       = "excluded_by_rules"
	ReasonCategoryLimit  = "category_limit"
)

// Item is the per-finding outcome of a run.
type Item struct {
	FindingID        string          `json:"finding_id"`
	Category         engine.Category `json:"category"`
	Severity         engine.Severity `json:"severity"`
	Title            string          `json:"title"`
	PolicyID         string          `json:"policy_id,omitempty"`
	Backend          string          `json:"backend,omitempty"`
	Variant          string          `json:"variant,omitempty"`
	Priority         engine.Priority `json:"priority,omitempty"`
	StrippedControls []string        `json:"stripped_controls,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Error            string          `json:"error,omitempty"`
}

func itemFor(f engine.Finding) Item {
	return Item{FindingID: f.ID, Category: f.Category, Severity: f.Severity, Title: f.Title}
}

// ReportSummary describes one normalized input report.
type ReportSummary struct {
	Name     string          `json:"name"`
	Category engine.Category `json:"category"`
	Format   string          `json:"format,omitempty"`
	Findings int             `json:"findings"`
	Skipped  int             `json:"skipped"`
	Error    string          `json:"error,omitempty"`
}

type Counts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Manifest is the record of one batch run.
type Manifest struct {
	RunID      string              `json:"run_id"`
	Profile    generator.Expertise `json:"profile"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`

	Probe        *prober.Result    `json:"probe,omitempty"`
	ScanFailures map[string]string `json:"scan_failures,omitempty"`
	Reports      []ReportSummary   `json:"reports"`

	Succeeded []Item `json:"succeeded"`
	Skipped   []Item `json:"skipped"`
	Failed    []Item `json:"failed"`
	Counts    Counts `json:"counts"`
	// Backends counts succeeded documents per generation backend.
	Backends map[string]int   `json:"backends,omitempty"`
	Coverage *engine.Coverage `json:"coverage,omitempty"`

	// Artifacts maps an artifact name to where it was written.
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// finalize orders every list by finding id and recomputes the counts.
func (m *Manifest) finalize() {
	for _, items := range [][]Item{m.Succeeded, m.Skipped, m.Failed} {
		sort.Slice(items, func(i, j int) bool { return items[i].FindingID < items[j].FindingID })
	}
	m.Counts = Counts{
		Succeeded: len(m.Succeeded),
		Skipped:   len(m.Skipped),
		Failed:    len(m.Failed),
	}
	m.Counts.Total = m.Counts.Succeeded + m.Counts.Skipped + m.Counts.Failed

	m.Backends = nil
	for _, it := range m.Succeeded {
		if it.Backend == "" {
			continue
		}
		if m.Backends == nil {
			m.Backends = make(map[string]int)
		}
		m.Backends[it.Backend]++
	}
}

// Item looks up a finding's outcome in any list.
func (m *Manifest) Item(findingID string) (Item, bool) {
	for _, items := range [][]Item{m.Succeeded, m.Skipped, m.Failed} {
		for _, it := range items {
			if it.FindingID == findingID {
				return it, true
			}
		}
	}
	return Item{}, false
}
