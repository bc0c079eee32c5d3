// Package config loads and saves ~/.secureflow/config.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/yousef-elgarch1/secureflow/pkg/generator"
	"github.com/yousef-elgarch1/secureflow/pkg/rules"
)

const (
	dirName  = ".secureflow"
	fileName = "config.yaml"
)

type ProviderConfig struct {
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
}

type PipelineConfig struct {
	Concurrency      int           `yaml:"concurrency" mapstructure:"concurrency"`
	TopK             int           `yaml:"top_k" mapstructure:"top_k"`
	MaxPerCategory   int           `yaml:"max_per_category" mapstructure:"max_per_category"`
	BatchTimeout     time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout" mapstructure:"retrieval_timeout"`
	Profile          string        `yaml:"profile" mapstructure:"profile"`
}

type LedgerConfig struct {
	// Path of the bbolt file. Empty keeps the ledger in memory.
	Path string `yaml:"path" mapstructure:"path"`
}

type OutputConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	S3Bucket string `yaml:"s3_bucket,omitempty" mapstructure:"s3_bucket"`
	S3Region string `yaml:"s3_region,omitempty" mapstructure:"s3_region"`
	S3Prefix string `yaml:"s3_prefix,omitempty" mapstructure:"s3_prefix"`
}

// Target returns the artifact store location, s3:// when a bucket is set.
func (o OutputConfig) Target() string {
	if o.S3Bucket != "" {
		return "s3://" + strings.Trim(o.S3Bucket+"/"+o.S3Prefix, "/")
	}
	return o.Dir
}

type RulesConfig struct {
	Include  []string             `yaml:"include,omitempty" mapstructure:"include"`
	Priority []rules.PriorityRule `yaml:"priority,omitempty" mapstructure:"priority"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" mapstructure:"otlp_endpoint"`
}

type KnowledgeConfig struct {
	// Dirs holds extra framework YAML files merged into the catalog.
	Dirs []string `yaml:"dirs,omitempty" mapstructure:"dirs"`
}

type ProberConfig struct {
	LivenessTimeout time.Duration `yaml:"liveness_timeout" mapstructure:"liveness_timeout"`
	LocalDeploy     bool          `yaml:"local_deploy" mapstructure:"local_deploy"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type Config struct {
	SelectedProvider string                              `yaml:"selected_provider"`
	Providers        map[string]ProviderConfig           `yaml:"providers"`
	Backends         map[string]generator.BackendProfile `yaml:"backends"`
	Routing          map[string]string                   `yaml:"routing,omitempty"`
	Pipeline         PipelineConfig                      `yaml:"pipeline"`
	Ledger           LedgerConfig                        `yaml:"ledger"`
	Output           OutputConfig                        `yaml:"output"`
	Rules            RulesConfig                         `yaml:"rules,omitempty"`
	Telemetry        TelemetryConfig                     `yaml:"telemetry,omitempty"`
	Knowledge        KnowledgeConfig                     `yaml:"knowledge,omitempty"`
	Prober           ProberConfig                        `yaml:"prober"`
	Server           ServerConfig                        `yaml:"server"`
}

// Dir returns ~/.secureflow, creating it.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// Default is the configuration used when no file exists. Relative paths
// are resolved against ~/.secureflow by Resolve.
func Default() *Config {
	return &Config{
		SelectedProvider: "gemini",
		Providers:        make(map[string]ProviderConfig),
		Backends:         generator.DefaultProfiles(),
		Pipeline: PipelineConfig{
			Concurrency:      3,
			TopK:             5,
			MaxPerCategory:   0,
			BatchTimeout:     30 * time.Minute,
			RetrievalTimeout: 10 * time.Second,
			Profile:          string(generator.Intermediate),
		},
		Ledger: LedgerConfig{Path: "ledger.db"},
		Output: OutputConfig{Dir: "runs"},
		Prober: ProberConfig{LivenessTimeout: 10 * time.Second, LocalDeploy: true},
		Server: ServerConfig{Addr: "127.0.0.1:8088"},
	}
}

func LoadConfig() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads path over the defaults. A missing file yields defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	if cfg.Backends == nil {
		cfg.Backends = generator.DefaultProfiles()
	}
	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

func SaveTo(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	// 0600 permissions for security (api keys)
	return os.WriteFile(path, data, 0600)
}

func (c *Config) SetAPIKey(provider, key string) {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	p := c.Providers[provider]
	p.APIKey = key
	c.Providers[provider] = p
}

func (c *Config) GetAPIKey(provider string) string {
	return c.Providers[provider].APIKey
}

// SetModel points one backend, or every backend when name is empty, at a
// provider and model.
func (c *Config) SetModel(name, provider, model string) error {
	names := []string{name}
	if name == "" {
		names = c.BackendNames()
	}
	for _, n := range names {
		b, ok := c.Backends[n]
		if !ok {
			return fmt.Errorf("unknown backend %q", n)
		}
		if provider != "" {
			b.Provider = provider
		}
		if model != "" {
			b.Model = model
		}
		c.Backends[n] = b
	}
	return nil
}

func (c *Config) BackendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for n := range c.Backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve makes relative ledger and output paths absolute under base.
func (c *Config) Resolve(base string) {
	if c.Ledger.Path != "" && !filepath.IsAbs(c.Ledger.Path) {
		c.Ledger.Path = filepath.Join(base, c.Ledger.Path)
	}
	if c.Output.Dir != "" && !filepath.IsAbs(c.Output.Dir) {
		c.Output.Dir = filepath.Join(base, c.Output.Dir)
	}
}

// ApplyEnv overlays SECUREFLOW_* variables, and the conventional provider
// key variables, through viper.
func ApplyEnv(c *Config, v *viper.Viper) error {
	v.SetEnvPrefix("SECUREFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	keyVars := map[string][]string{
		"gemini": {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"openai": {"OPENAI_API_KEY"},
		"azure":  {"AZURE_OPENAI_API_KEY"},
	}
	for provider, extra := range keyVars {
		key := "providers." + provider + ".api_key"
		names := append([]string{"SECUREFLOW_PROVIDERS_" + strings.ToUpper(provider) + "_API_KEY"}, extra...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return err
		}
		if val := v.GetString(key); val != "" {
			c.SetAPIKey(provider, val)
		}
	}
	if err := v.BindEnv("providers.azure.endpoint", "SECUREFLOW_PROVIDERS_AZURE_ENDPOINT", "AZURE_OPENAI_ENDPOINT"); err != nil {
		return err
	}
	if ep := v.GetString("providers.azure.endpoint"); ep != "" {
		p := c.Providers["azure"]
		p.Endpoint = ep
		c.Providers["azure"] = p
	}

	sections := map[string][]string{
		"pipeline":  {"concurrency", "top_k", "max_per_category", "batch_timeout", "retrieval_timeout", "profile"},
		"ledger":    {"path"},
		"output":    {"dir", "s3_bucket", "s3_region", "s3_prefix"},
		"telemetry": {"otlp_endpoint"},
		"prober":    {"liveness_timeout", "local_deploy"},
		"server":    {"addr"},
	}
	for section, keys := range sections {
		for _, k := range keys {
			if err := v.BindEnv(section + "." + k); err != nil {
				return err
			}
		}
	}

	// Unmarshal only sees keys that are actually set, so fields without an
	// override keep their current value.
	overrides := struct {
		Pipeline  *PipelineConfig  `mapstructure:"pipeline"`
		Ledger    *LedgerConfig    `mapstructure:"ledger"`
		Output    *OutputConfig    `mapstructure:"output"`
		Telemetry *TelemetryConfig `mapstructure:"telemetry"`
		Prober    *ProberConfig    `mapstructure:"prober"`
		Server    *ServerConfig    `mapstructure:"server"`
	}{&c.Pipeline, &c.Ledger, &c.Output, &c.Telemetry, &c.Prober, &c.Server}
	if err := v.Unmarshal(&overrides); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}
