package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yousef-elgarch1/secureflow/pkg/prober"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Find a reachable deployment for dynamic analysis",
	Long: `Tries, in order: the given URL, hosting conventions derived from the
repository URL (GitHub Pages, Vercel, Netlify, Render, Heroku), and a local
docker deployment of the checkout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		repoURL, _ := cmd.Flags().GetString("repo-url")
		repoPath, _ := cmd.Flags().GetString("repo-path")
		keep, _ := cmd.Flags().GetBool("keep")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := newApp()
		defer a.Close()
		progress, cancel := a.broker.Subscribe()
		defer cancel()
		go func() {
			for ev := range progress {
				fmt.Printf("[%s] %v: %s\n", ev.Status, ev.Data["tier"], ev.Message)
			}
		}()

		res := a.prober().Resolve(ctx, prober.Request{URL: url, RepoURL: repoURL, RepoPath: repoPath})
		if !res.Reachable {
			fmt.Println("\nNo reachable deployment found.")
			for _, g := range res.Guidance {
				fmt.Printf("  - %s\n", g)
			}
			return nil
		}

		fmt.Printf("\nReachable: %s (tier %s, %s)\n", res.URL, res.Tier, res.Source)
		if keep {
			fmt.Println("Leaving the deployment running.")
			return nil
		}
		if res.Tier == prober.TierLocal {
			fmt.Println("Press Ctrl+C to stop the local deployment.")
			<-ctx.Done()
		}
		return res.Cleanup(cmd.Context())
	},
}

func init() {
	probeCmd.Flags().String("url", "", "Explicit URL to check")
	probeCmd.Flags().String("repo-url", "", "Repository URL")
	probeCmd.Flags().String("repo-path", "", "Local checkout for docker deployment")
	probeCmd.Flags().Bool("keep", false, "Do not stop a local deployment on exit")
	rootCmd.AddCommand(probeCmd)
}
