// Package retriever finds compliance control passages relevant to a finding.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
)

const DefaultTopK = 5

// Passage is one retrieved control text with its relevance score.
type Passage struct {
	Text      string  `json:"text"`
	ControlID string  `json:"control_id"`
	Framework string  `json:"framework"`
	Score     float64 `json:"score"`
}

// Index is a similarity search over control passages.
type Index interface {
	Query(ctx context.Context, text string, topK int) ([]Passage, error)
}

// Context is the ordered retrieval result handed to generation.
type Context struct {
	Passages []Passage `json:"passages"`
}

// Empty reports whether nothing was retrieved.
func (c Context) Empty() bool {
	return len(c.Passages) == 0
}

// Controls maps each retrieved control id to its framework.
func (c Context) Controls() map[string]string {
	out := make(map[string]string, len(c.Passages))
	for _, p := range c.Passages {
		out[p.ControlID] = p.Framework
	}
	return out
}

// Format renders the passages for inclusion in a prompt.
func (c Context) Format() string {
	if c.Empty() {
		return "No compliance context was retrieved."
	}
	var sb strings.Builder
	for i, p := range c.Passages {
		sb.WriteString(fmt.Sprintf("[%d] %s %s (relevance %.2f)\n%s\n\n", i+1, p.Framework, p.ControlID, p.Score, p.Text))
	}
	return strings.TrimSpace(sb.String())
}

// Retriever wraps an Index with the ordering and size guarantees the
// generator relies on.
type Retriever struct {
	index   Index
	timeout time.Duration
}

// New creates a retriever over index. A zero timeout means no per-query limit.
func New(index Index, timeout time.Duration) *Retriever {
	return &Retriever{index: index, timeout: timeout}
}

// Retrieve returns at most topK passages in descending score order. An
// unavailable or empty index yields an empty context, never an error.
func (r *Retriever) Retrieve(ctx context.Context, f engine.Finding, topK int) Context {
	if r == nil || r.index == nil || topK <= 0 {
		return Context{}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	passages, err := r.index.Query(ctx, f.SearchText(), topK)
	if err != nil {
		logging.Warnf("retrieval failed for %s, continuing without context: %v", f.ID, err)
		return Context{}
	}

	ranked := make([]Passage, 0, len(passages))
	for _, p := range passages {
		if p.ControlID == "" {
			continue
		}
		ranked = append(ranked, p)
	}
	sortPassages(ranked)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return Context{Passages: ranked}
}

// sortPassages orders by score, ties broken by control id so results are
// stable for a fixed index.
func sortPassages(ps []Passage) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Score != ps[j].Score {
			return ps[i].Score > ps[j].Score
		}
		if ps[i].Framework != ps[j].Framework {
			return ps[i].Framework < ps[j].Framework
		}
		return ps[i].ControlID < ps[j].ControlID
	})
}
