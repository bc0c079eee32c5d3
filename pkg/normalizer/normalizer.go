// Package normalizer converts raw scanner reports into engine.Finding records.
//
// Parsing is best effort: a record that cannot be decoded or lacks the fields
// needed to identify it is skipped and counted, never fatal for the report.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

var (
	ErrEmptyReport   = errors.New("empty report")
	ErrUnknownFormat = errors.New("unrecognized report format")
)

// Result is the outcome of normalizing one report.
type Result struct {
	Format   string           `json:"format"`
	Findings []engine.Finding `json:"findings"`
	Skipped  int              `json:"skipped"`
	Warnings []string         `json:"warnings,omitempty"`
}

func (r *Result) add(f engine.Finding) {
	r.Findings = append(r.Findings, engine.NewFinding(f))
}

func (r *Result) skip(format string, args ...interface{}) {
	r.Skipped++
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Normalize parses a report of the declared category. The concrete tool
// format is detected from the payload.
func Normalize(category engine.Category, payload []byte) (Result, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return Result{}, ErrEmptyReport
	}

	switch category {
	case engine.CategoryStatic:
		return normalizeStatic(payload)
	case engine.CategoryDependency:
		return normalizeDependency(payload)
	case engine.CategoryDynamic:
		return normalizeDynamic(payload)
	}
	return Result{}, fmt.Errorf("unknown category: %s", category)
}

// topLevel decodes an object into its raw members.
func topLevel(payload []byte) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// rawList decodes a JSON array into its raw elements so each element can
// fail independently.
func rawList(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// stringOrList accepts "x", ["x", "y"] or null.
func stringOrList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
