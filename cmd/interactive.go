package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yousef-elgarch1/secureflow/pkg/generator"
	"github.com/yousef-elgarch1/secureflow/pkg/ledger"
)

const assistantPrompt = `You are a security compliance assistant. Answer questions about the
remediation policies in the ledger snapshot provided with each question.
Only refer to policy ids, controls and dates that appear in the snapshot.
If the snapshot does not contain the answer, say so.`

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Ask questions about tracked remediation policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		profile, ok := cfg.Backends[generator.BackendCapable]
		if !ok {
			return fmt.Errorf("no %q backend configured, run 'secureflow config setup'", generator.BackendCapable)
		}
		ctx := cmd.Context()
		fmt.Printf("Connecting to %s (Model: %s)...\n", profile.Provider, profile.Model)
		client, err := a.completer(ctx, profile)
		if err != nil {
			return fmt.Errorf("creating AI provider: %w", err)
		}
		l, err := a.openLedger()
		if err != nil {
			return err
		}

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("\n---------------------------------------------------------")
		fmt.Println("SecureFlow assistant ready.")
		fmt.Println("Example: 'Which critical policies are overdue?'")
		fmt.Println("Type 'focus <policy-id>' to discuss one policy, 'quit' to stop.")
		fmt.Println("---------------------------------------------------------")

		var focus *ledger.Entry
		for {
			fmt.Print("\n> ")
			if !scanner.Scan() {
				break
			}
			input := strings.TrimSpace(scanner.Text())
			switch {
			case input == "quit" || input == "exit":
				return nil
			case input == "":
				continue
			case strings.HasPrefix(input, "focus "):
				e, err := l.Get(strings.TrimSpace(strings.TrimPrefix(input, "focus ")))
				if err != nil {
					fmt.Printf("Error: %v\n", err)
					continue
				}
				focus = &e
				fmt.Printf("Focused on %s: %s (%s)\n", e.PolicyID, e.Finding.Title, e.Status)
				continue
			}

			snapshot, err := ledgerSnapshot(l, focus)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Print("Assistant thinking... ")
			resp, err := client.Complete(ctx, assistantPrompt, snapshot+"\n\nQuestion: "+input, 0.2, 1024)
			fmt.Print("\r\033[K")
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("\n[Assistant]: %s\n", strings.TrimSpace(resp))
		}
		return scanner.Err()
	},
}

// ledgerSnapshot renders the dashboard, plus the focused policy when set,
// as prompt context.
func ledgerSnapshot(l *ledger.Ledger, focus *ledger.Entry) (string, error) {
	d, err := l.Dashboard(time.Now())
	if err != nil {
		return "", err
	}
	snap := struct {
		Dashboard ledger.Dashboard `json:"dashboard"`
		Policy    *ledger.Entry    `json:"policy,omitempty"`
	}{d, nil}
	if focus != nil {
		// refresh in case it changed since it was focused
		e, err := l.Get(focus.PolicyID)
		if err != nil {
			return "", err
		}
		snap.Policy = &e
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	return "Ledger snapshot:\n" + string(out), nil
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}
