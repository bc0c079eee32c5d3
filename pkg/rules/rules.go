// Package rules evaluates user supplied CEL expressions against findings.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
)

// PriorityRule overrides the document priority when Condition holds.
// Example: `category == "dependency" && severity_rank >= 3`.
type PriorityRule struct {
	ID        string `yaml:"id" mapstructure:"id" json:"id"`
	Condition string `yaml:"condition" mapstructure:"condition" json:"condition"`
	Priority  string `yaml:"priority" mapstructure:"priority" json:"priority"`
}

type compiledPriority struct {
	rule     PriorityRule
	priority engine.Priority
	prg      cel.Program
}

// Engine holds compiled include filters and priority rules.
type Engine struct {
	env      *cel.Env
	include  []cel.Program
	priority []compiledPriority
}

// NewEngine declares the finding variables available to every expression.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("severity_rank", cel.IntType),
		cel.Variable("location", cel.StringType),
		cel.Variable("rule", cel.StringType),
		cel.Variable("tool", cel.StringType),
		cel.Variable("title", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Engine{env: env}, nil
}

// Compile builds an engine from configuration in one step.
func Compile(include []string, priority []PriorityRule) (*Engine, error) {
	e, err := NewEngine()
	if err != nil {
		return nil, err
	}
	if err := e.AddInclude(include...); err != nil {
		return nil, err
	}
	if err := e.AddPriority(priority...); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return e.env.Program(ast)
}

// AddInclude compiles include filters. A finding is kept when any filter
// matches, or when there are none.
func (e *Engine) AddInclude(exprs ...string) error {
	for i, expr := range exprs {
		prg, err := e.compile(expr)
		if err != nil {
			return fmt.Errorf("include rule %d compilation error: %w", i, err)
		}
		e.include = append(e.include, prg)
	}
	return nil
}

// AddPriority compiles priority rules. Order is significant: the first
// matching rule wins.
func (e *Engine) AddPriority(rules ...PriorityRule) error {
	for _, r := range rules {
		p := engine.ParsePriority(r.Priority)
		if p == "" {
			return fmt.Errorf("rule %s: unknown priority %q", r.ID, r.Priority)
		}
		prg, err := e.compile(r.Condition)
		if err != nil {
			return fmt.Errorf("rule %s compilation error: %w", r.ID, err)
		}
		e.priority = append(e.priority, compiledPriority{rule: r, priority: p, prg: prg})
	}
	return nil
}

// Include reports whether f passes the include filters.
func (e *Engine) Include(f engine.Finding) bool {
	if e == nil || len(e.include) == 0 {
		return true
	}
	vars := activation(f)
	for _, prg := range e.include {
		if eval(prg, vars, f.ID) {
			return true
		}
	}
	return false
}

// Filter returns the findings that pass Include, preserving order.
func (e *Engine) Filter(findings []engine.Finding) (kept []engine.Finding, dropped int) {
	for _, f := range findings {
		if e.Include(f) {
			kept = append(kept, f)
		} else {
			dropped++
		}
	}
	return kept, dropped
}

// Priority returns the priority of the first matching rule and its id.
func (e *Engine) Priority(f engine.Finding) (engine.Priority, string, bool) {
	if e == nil {
		return "", "", false
	}
	vars := activation(f)
	for _, c := range e.priority {
		if eval(c.prg, vars, f.ID) {
			return c.priority, c.rule.ID, true
		}
	}
	return "", "", false
}

func activation(f engine.Finding) map[string]interface{} {
	return map[string]interface{}{
		"id":            f.ID,
		"category":      string(f.Category),
		"severity":      string(f.Severity),
		"severity_rank": int64(f.Severity.Rank()),
		"location":      f.Location,
		"rule":          f.RuleReference,
		"tool":          f.Tool,
		"title":         f.Title,
	}
}

func eval(prg cel.Program, vars map[string]interface{}, findingID string) bool {
	out, _, err := prg.Eval(vars)
	if err != nil {
		logging.Warnf("rule evaluation failed for %s: %v", findingID, err)
		return false
	}
	match, ok := out.Value().(bool)
	return ok && match
}
