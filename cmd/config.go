package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yousef-elgarch1/secureflow/pkg/config"
	"github.com/yousef-elgarch1/secureflow/pkg/llm"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration (providers, backends, keys)",
}

func validProvider(p string) error {
	for _, known := range llm.Providers {
		if p == known {
			return nil
		}
	}
	return fmt.Errorf("unknown provider %q (choose from %s)", p, strings.Join(llm.Providers, ", "))
}

var setKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Manually set API key for a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		key, _ := cmd.Flags().GetString("key")
		endpoint, _ := cmd.Flags().GetString("endpoint")

		if provider == "" || key == "" {
			return fmt.Errorf("--provider and --key are required")
		}
		provider = strings.ToLower(provider)
		if err := validProvider(provider); err != nil {
			return err
		}

		c, err := rawConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		c.SetAPIKey(provider, key)
		if endpoint != "" {
			p := c.Providers[provider]
			p.Endpoint = endpoint
			c.Providers[provider] = p
		}
		if err := saveConfig(c); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Printf("API key saved for provider: %s\n", provider)
		return nil
	},
}

var setModelCmd = &cobra.Command{
	Use:   "set-model",
	Short: "Point a generation backend at a provider and model",
	Long: `Point a generation backend at a provider and model. Static and dependency
findings use the "capable" backend, dynamic findings the "fast" one. Without
--backend every backend is updated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("backend")
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")

		provider = strings.ToLower(provider)
		if provider != "" {
			if err := validProvider(provider); err != nil {
				return err
			}
		}

		c, err := rawConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := c.SetModel(backend, provider, model); err != nil {
			return err
		}
		if provider != "" {
			c.SelectedProvider = provider
		}
		if err := saveConfig(c); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		for _, name := range c.BackendNames() {
			b := c.Backends[name]
			fmt.Printf("%-8s provider=%s model=%s\n", name, b.Provider, b.Model)
		}
		return nil
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with keys masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		masked := *cfg
		masked.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
		for name, p := range cfg.Providers {
			p.APIKey = mask(p.APIKey)
			masked.Providers[name] = p
		}
		out, err := yaml.Marshal(&masked)
		if err != nil {
			return err
		}
		path, _, _ := configLocation()
		fmt.Printf("# %s\n%s", path, out)
		return nil
	},
}

func mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List available models from the configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		if provider == "" {
			provider = cfg.SelectedProvider
		}
		if provider == "" {
			return fmt.Errorf("no provider selected, run 'secureflow config setup'")
		}
		p := cfg.Providers[provider]
		if p.APIKey == "" {
			return fmt.Errorf("no API key found for %s", provider)
		}

		fmt.Printf("Fetching models for %s...\n", provider)
		ctx := cmd.Context()
		client, err := llm.NewCompleter(ctx, llm.Options{Provider: provider, APIKey: p.APIKey, Endpoint: p.Endpoint, Model: deploymentFor(provider)})
		if err != nil {
			return fmt.Errorf("initializing provider: %w", err)
		}
		if closer, ok := client.(interface{ Close() error }); ok {
			defer closer.Close()
		}
		lister, ok := client.(llm.ModelLister)
		if !ok {
			return fmt.Errorf("%s cannot list models", provider)
		}
		models, err := lister.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("fetching models: %w", err)
		}

		inUse := make(map[string]bool)
		for _, b := range cfg.Backends {
			if b.Provider == provider {
				inUse[b.Model] = true
			}
		}
		fmt.Printf("\nAvailable Models (%s):\n", provider)
		for _, m := range models {
			mark := " "
			if inUse[m] {
				mark = "*"
			}
			fmt.Printf("%s %s\n", mark, m)
		}
		return nil
	},
}

// deploymentFor picks a configured model for providers that need one to
// build a client.
func deploymentFor(provider string) string {
	for _, name := range cfg.BackendNames() {
		if b := cfg.Backends[name]; b.Provider == provider {
			return b.Model
		}
	}
	return ""
}

func init() {
	setKeyCmd.Flags().StringP("provider", "p", "", "Provider ("+strings.Join(llm.Providers, ", ")+")")
	setKeyCmd.Flags().StringP("key", "k", "", "API Key")
	setKeyCmd.Flags().String("endpoint", "", "Endpoint (required for azure)")

	setModelCmd.Flags().StringP("backend", "b", "", "Backend (capable, fast); empty updates all")
	setModelCmd.Flags().StringP("provider", "p", "", "Provider ("+strings.Join(llm.Providers, ", ")+")")
	setModelCmd.Flags().StringP("model", "m", "", "Model or azure deployment name")

	listModelsCmd.Flags().StringP("provider", "p", "", "Provider (default: selected provider)")

	configCmd.AddCommand(setKeyCmd)
	configCmd.AddCommand(setModelCmd)
	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(listModelsCmd)
	rootCmd.AddCommand(configCmd)
}
