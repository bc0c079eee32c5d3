package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("policy not found")

// Store persists ledger entries. Implementations serialize their own writes;
// the ledger serializes per entry.
type Store interface {
	// NextID allocates a policy id for day. Ids never repeat within a store.
	NextID(day time.Time) (string, error)
	Put(e Entry) error
	Get(id string) (Entry, error)
	List() ([]Entry, error)
	Close() error
}

func formatPolicyID(day time.Time, seq uint64) string {
	return fmt.Sprintf("POL-%s-%04d", day.UTC().Format("20060102"), seq)
}

// policySeq extracts the store sequence from a policy id, 0 if malformed.
func policySeq(id string) uint64 {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// sortEntries orders entries by creation sequence. Ids widen past 9999 so
// their string order alone is not enough.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := policySeq(entries[i].PolicyID), policySeq(entries[j].PolicyID)
		if a != b {
			return a < b
		}
		return entries[i].PolicyID < entries[j].PolicyID
	})
}

// MemoryStore keeps entries in process.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     uint64
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) NextID(day time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return formatPolicyID(day, m.seq), nil
}

func (m *MemoryStore) Put(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.PolicyID] = e.clone()
	return nil
}

func (m *MemoryStore) Get(id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.clone(), nil
}

func (m *MemoryStore) List() ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.clone())
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
