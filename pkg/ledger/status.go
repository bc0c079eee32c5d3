package ledger

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a policy.
type Status string

const (
	StatusNotStarted  Status = "not_started"
	StatusInProgress  Status = "in_progress"
	StatusUnderReview Status = "under_review"
	StatusFixed       Status = "fixed"
	StatusVerified    Status = "verified"
	StatusReopened    Status = "reopened"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusNotStarted, StatusInProgress, StatusUnderReview, StatusFixed, StatusVerified, StatusReopened}

var transitions = map[Status][]Status{
	StatusNotStarted:  {StatusInProgress},
	StatusInProgress:  {StatusUnderReview},
	StatusUnderReview: {StatusFixed},
	StatusFixed:       {StatusVerified, StatusReopened},
	StatusVerified:    {StatusReopened},
	StatusReopened:    {StatusInProgress},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from s in one step.
func (s Status) Next() []Status {
	return append([]Status(nil), transitions[s]...)
}

// Resolved reports whether the status counts toward compliance.
func (s Status) Resolved() bool {
	return s == StatusFixed || s == StatusVerified
}

func ParseStatus(s string) (Status, error) {
	norm := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, st := range Statuses {
		if st == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}
