package generator

import (
	"fmt"
	"sort"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/llm"
)

const (
	BackendCapable = "capable"
	BackendFast    = "fast"

	DefaultTemperature float32 = 0.3
	DefaultMaxTokens   int32   = 1500
)

// BackendProfile describes how one named backend is called.
type BackendProfile struct {
	Name        string  `yaml:"-" mapstructure:"-"`
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int32   `yaml:"max_tokens" mapstructure:"max_tokens"`
}

func (p BackendProfile) withDefaults() BackendProfile {
	if p.Temperature == 0 {
		p.Temperature = DefaultTemperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	return p
}

// Backend pairs a profile with the client that serves it.
type Backend struct {
	Profile BackendProfile
	Client  llm.Completer
}

// DefaultProfiles returns the stock capable and fast backends.
func DefaultProfiles() map[string]BackendProfile {
	return map[string]BackendProfile{
		BackendCapable: {Name: BackendCapable, Provider: "gemini", Model: "gemini-1.5-pro", Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens},
		BackendFast:    {Name: BackendFast, Provider: "gemini", Model: "gemini-1.5-flash", Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens},
	}
}

// DefaultRoutes sends code and dependency findings to the capable backend
// and runtime findings to the fast one.
func DefaultRoutes() map[engine.Category]string {
	return map[engine.Category]string{
		engine.CategoryStatic:     BackendCapable,
		engine.CategoryDependency: BackendCapable,
		engine.CategoryDynamic:    BackendFast,
	}
}

// RouteTable maps categories to backend names. Overrides replace single
// entries of the default table.
type RouteTable map[engine.Category]string

func NewRouteTable(overrides map[string]string) (RouteTable, error) {
	rt := RouteTable(DefaultRoutes())
	for cat, backend := range overrides {
		c, err := engine.ParseCategory(cat)
		if err != nil {
			return nil, fmt.Errorf("routing: %w", err)
		}
		rt[c] = backend
	}
	return rt, nil
}

// Validate checks that every category routes to a known backend.
func (rt RouteTable) Validate(backends map[string]Backend) error {
	for _, c := range engine.Categories {
		name, ok := rt[c]
		if !ok {
			return fmt.Errorf("%w: category %s", ErrNoRoute, c)
		}
		if _, ok := backends[name]; !ok {
			return fmt.Errorf("%w: category %s routes to unknown backend %q", ErrNoRoute, c, name)
		}
	}
	return nil
}

// Backends returns the distinct backend names referenced by the table.
func (rt RouteTable) Backends() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range rt {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
