package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yousef-elgarch1/secureflow/pkg/generator"
	"github.com/yousef-elgarch1/secureflow/pkg/llm"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	RunE: func(cmd *cobra.Command, args []string) error {
		scanner := bufio.NewScanner(os.Stdin)
		ask := func(prompt string) string {
			fmt.Print(prompt)
			scanner.Scan()
			return strings.TrimSpace(scanner.Text())
		}

		fmt.Println("Welcome to SecureFlow Setup Wizard")
		fmt.Println("----------------------------------")

		// 1. Select Provider
		fmt.Println("Step 1: Choose your AI Provider")
		fmt.Println("1. Gemini (Google)")
		fmt.Println("2. Azure OpenAI")
		fmt.Println("3. OpenAI")
		var provider string
		switch strings.ToLower(ask("Enter number or name > ")) {
		case "1", "gemini":
			provider = "gemini"
		case "2", "azure":
			provider = "azure"
		case "3", "openai":
			provider = "openai"
		default:
			return fmt.Errorf("invalid choice")
		}

		// 2. Enter API Key
		fmt.Printf("\nStep 2: Enter API Key for %s\n", provider)
		apiKey := ask("> ")
		if apiKey == "" {
			return fmt.Errorf("API key cannot be empty")
		}
		var endpoint, deployment string
		if provider == "azure" {
			endpoint = ask("Endpoint (https://<resource>.openai.azure.com) > ")
			deployment = ask("Deployment name > ")
		}

		// 3. Fetch Models
		fmt.Println("\nStep 3: Validating key and fetching available models...")
		ctx := cmd.Context()
		var models []string
		client, err := llm.NewCompleter(ctx, llm.Options{Provider: provider, APIKey: apiKey, Endpoint: endpoint, Model: deployment})
		if err == nil {
			if closer, ok := client.(interface{ Close() error }); ok {
				defer closer.Close()
			}
			if lister, ok := client.(llm.ModelLister); ok {
				models, err = lister.ListModels(ctx)
			}
		}

		choose := func(role string) string {
			if len(models) == 0 {
				return ask(fmt.Sprintf("Model for the %s backend > ", role))
			}
			sel, err := strconv.Atoi(ask(fmt.Sprintf("Model for the %s backend (number) > ", role)))
			if err != nil || sel < 1 || sel > len(models) {
				fmt.Println("Invalid selection. Using first available model.")
				return models[0]
			}
			return models[sel-1]
		}

		if err != nil || len(models) == 0 {
			fmt.Printf("Warning: Could not fetch models from API: %v\n", err)
			fmt.Println("Please enter model names manually (e.g., 'gemini-1.5-pro', 'gpt-4o'):")
			models = nil
		} else {
			fmt.Printf("Successfully retrieved %d models.\n", len(models))
			for i, m := range models {
				fmt.Printf("%d. %s\n", i+1, m)
			}
		}
		capable := choose(generator.BackendCapable)
		fast := choose(generator.BackendFast)

		// 4. Save Configuration
		fmt.Println("\nStep 4: Saving Configuration...")
		c, err := rawConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		c.SelectedProvider = provider
		c.SetAPIKey(provider, apiKey)
		if endpoint != "" {
			p := c.Providers[provider]
			p.Endpoint = endpoint
			c.Providers[provider] = p
		}
		if err := c.SetModel(generator.BackendCapable, provider, capable); err != nil {
			return err
		}
		if err := c.SetModel(generator.BackendFast, provider, fast); err != nil {
			return err
		}
		if err := saveConfig(c); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Println("----------------------------------")
		fmt.Println("Setup Complete!")
		fmt.Printf("Provider: %s\n", provider)
		fmt.Printf("Capable:  %s\n", capable)
		fmt.Printf("Fast:     %s\n", fast)
		fmt.Println("You can now run 'secureflow run --sast <report.json>'")
		return nil
	},
}

func init() {
	configCmd.AddCommand(setupCmd)
}
