package ledger

import (
	"time"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

type EventType string

const (
	EventCreated       EventType = "created"
	EventStatusChanged EventType = "status_changed"
	EventAssigned      EventType = "assigned"
)

// TimelineEvent is one append-only record in an entry's history.
type TimelineEvent struct {
	Type  EventType `json:"type"`
	Actor string    `json:"actor"`
	From  string    `json:"from,omitempty"`
	To    string    `json:"to,omitempty"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// Entry tracks one remediation document through its lifecycle.
type Entry struct {
	PolicyID   string                     `json:"policy_id"`
	Finding    engine.Finding             `json:"finding"`
	Document   engine.RemediationDocument `json:"document"`
	Status     Status                     `json:"status"`
	AssignedTo string                     `json:"assigned_to,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
	DueAt      time.Time                  `json:"due_at"`
	Timeline   []TimelineEvent            `json:"timeline"`
}

// Overdue reports whether the entry is unresolved past its due date.
func (e Entry) Overdue(now time.Time) bool {
	return !e.Status.Resolved() && !e.DueAt.IsZero() && now.After(e.DueAt)
}

func (e Entry) clone() Entry {
	e.Timeline = append([]TimelineEvent(nil), e.Timeline...)
	return e
}

var dueWindows = map[engine.Severity]time.Duration{
	engine.SeverityCritical:      2 * 24 * time.Hour,
	engine.SeverityHigh:          7 * 24 * time.Hour,
	engine.SeverityMedium:        30 * 24 * time.Hour,
	engine.SeverityLow:           90 * 24 * time.Hour,
	engine.SeverityInformational: 180 * 24 * time.Hour,
}

// DueDate returns when a finding of severity s created at created must be fixed.
func DueDate(s engine.Severity, created time.Time) time.Time {
	window, ok := dueWindows[s]
	if !ok {
		window = dueWindows[engine.SeverityMedium]
	}
	return created.Add(window)
}
