package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

var diffCmd = &cobra.Command{
	Use:   "diff <baseline> <current>",
	Short: "Compare the findings of two runs",
	Long: `Compare two findings snapshots. Each argument is either a snapshot file or
a run id whose findings.json is read from the configured output store.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		baseline, err := loadSnapshot(ctx, args[0])
		if err != nil {
			return err
		}
		current, err := loadSnapshot(ctx, args[1])
		if err != nil {
			return err
		}

		diff := current.CompareSnapshot(baseline)
		if asJSON {
			return printJSON(diff)
		}
		fmt.Printf("New: %d  Fixed: %d  Unchanged: %d\n", len(diff.New), len(diff.Fixed), len(diff.Unchanged))
		for _, f := range diff.New {
			fmt.Printf("  + [%s] %s (%s)\n", f.Severity, f.Title, f.Location)
		}
		for _, f := range diff.Fixed {
			fmt.Printf("  - [%s] %s (%s)\n", f.Severity, f.Title, f.Location)
		}
		return nil
	},
}

func loadSnapshot(ctx context.Context, ref string) (*engine.FindingSet, error) {
	set := engine.NewFindingSet()
	if _, err := os.Stat(ref); err == nil {
		return set, set.LoadSnapshot(ref)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	store, err := newApp().openStore(ctx)
	if err != nil {
		return nil, err
	}
	data, err := store.Get(ctx, "runs/"+ref+"/findings.json")
	if err != nil {
		return nil, fmt.Errorf("%s is neither a snapshot file nor a known run: %w", ref, err)
	}
	return set, set.UnmarshalSnapshot(data)
}

func init() {
	diffCmd.Flags().Bool("json", false, "Print JSON")
	rootCmd.AddCommand(diffCmd)
}
