package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/events"
	"github.com/yousef-elgarch1/secureflow/pkg/generator"
	"github.com/yousef-elgarch1/secureflow/pkg/orchestrator"
	"github.com/yousef-elgarch1/secureflow/pkg/prober"
	"github.com/yousef-elgarch1/secureflow/pkg/scanners"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate remediation policies from scanner reports",
	Example: `  secureflow run --sast semgrep.json --sca npm-audit.json --profile beginner
  secureflow run --scan --repo-path . --repo-url https://github.com/acme/shop`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		sast, _ := flags.GetStringSlice("sast")
		sca, _ := flags.GetStringSlice("sca")
		dast, _ := flags.GetStringSlice("dast")
		maxPer, _ := flags.GetInt("max-per-category")
		profile, _ := flags.GetString("profile")
		dastURL, _ := flags.GetString("dast-url")
		repoURL, _ := flags.GetString("repo-url")
		repoPath, _ := flags.GetString("repo-path")
		scan, _ := flags.GetBool("scan")
		asJSON, _ := flags.GetBool("json")

		if !flags.Changed("max-per-category") {
			maxPer = cfg.Pipeline.MaxPerCategory
		}
		if profile == "" {
			profile = cfg.Pipeline.Profile
		}

		req := orchestrator.Request{
			MaxPerCategory: maxPer,
			Profile:        generator.ParseExpertise(profile),
		}
		for _, in := range []struct {
			cat   engine.Category
			files []string
		}{{engine.CategoryStatic, sast}, {engine.CategoryDependency, sca}, {engine.CategoryDynamic, dast}} {
			for _, path := range in.files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading %s report: %w", in.cat, err)
				}
				req.Reports = append(req.Reports, orchestrator.Report{Name: path, Category: in.cat, Payload: data})
			}
		}
		if dastURL != "" || repoURL != "" || (scan && repoPath != "") {
			req.DynamicTarget = &prober.Request{URL: dastURL, RepoURL: repoURL, RepoPath: repoPath}
		}
		if scan {
			if repoPath == "" && req.DynamicTarget == nil {
				return fmt.Errorf("--scan needs --repo-path or a dynamic target")
			}
			set := scanners.Default(scanners.ExecRunner{})
			if names, _ := flags.GetStringSlice("scanners"); len(names) > 0 {
				var err error
				if set, err = scanners.Select(scanners.Available(scanners.ExecRunner{}), names); err != nil {
					return err
				}
			}
			req.Scan = &orchestrator.ScanRequest{Path: repoPath, Scanners: set}
		}
		if len(req.Reports) == 0 && req.Scan == nil {
			return fmt.Errorf("no input: pass --sast, --sca, --dast or --scan")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := newApp()
		defer a.Close()
		orch, _, err := a.orchestrator(ctx)
		if err != nil {
			return err
		}

		printed := make(chan struct{})
		if asJSON {
			close(printed)
		} else {
			progress, cancel := a.broker.Subscribe()
			defer cancel()
			go func() {
				printProgress(progress)
				close(printed)
			}()
		}

		manifest, runErr := orch.Run(ctx, req)
		a.broker.Close()
		<-printed
		if manifest == nil {
			return runErr
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(manifest); err != nil {
				return err
			}
			return runErr
		}
		printManifest(manifest)
		return runErr
	},
}

func printProgress(ch <-chan events.Event) {
	for ev := range ch {
		// per-finding start events are noise on a terminal
		if ev.Status == events.StatusStarted && ev.FindingID != "" {
			continue
		}
		prefix := string(ev.Phase)
		if ev.FindingID != "" {
			prefix += " " + ev.FindingID
		}
		fmt.Printf("\r\033[K[%s] %s: %s\n", ev.Status, prefix, ev.Message)
	}
}

func printManifest(m *orchestrator.Manifest) {
	fmt.Println("--------------------------------------------------")
	fmt.Printf("Run %s (%s profile)\n", m.RunID, m.Profile)
	if m.Probe != nil {
		if m.Probe.Reachable {
			fmt.Printf("Dynamic target: %s (%s)\n", m.Probe.URL, m.Probe.Tier)
		} else {
			fmt.Println("Dynamic target: none found")
			for _, g := range m.Probe.Guidance {
				fmt.Printf("  - %s\n", g)
			}
		}
	}
	for _, r := range m.Reports {
		if r.Error != "" {
			fmt.Printf("Report %s: %s\n", r.Name, r.Error)
			continue
		}
		fmt.Printf("Report %s (%s): %d findings, %d records skipped\n", r.Name, r.Format, r.Findings, r.Skipped)
	}
	fmt.Printf("\nSucceeded: %d  Skipped: %d  Failed: %d\n", m.Counts.Succeeded, m.Counts.Skipped, m.Counts.Failed)
	for _, it := range m.Succeeded {
		line := fmt.Sprintf("  %s -> %s [%s, %s]", it.FindingID, it.PolicyID, it.Priority, it.Backend)
		if len(it.StrippedControls) > 0 {
			line += " stripped: " + strings.Join(it.StrippedControls, ", ")
		}
		fmt.Println(line)
	}
	for _, it := range m.Skipped {
		fmt.Printf("  %s skipped: %s %s\n", it.FindingID, it.Reason, it.PolicyID)
	}
	for _, it := range m.Failed {
		fmt.Printf("  %s failed: %s\n", it.FindingID, it.Error)
	}
	if loc, ok := m.Artifacts["manifest"]; ok {
		fmt.Printf("\nManifest: %s\n", loc)
	}
}

func init() {
	runCmd.Flags().StringSlice("sast", nil, "Static analysis report (semgrep, sonarqube, gitleaks)")
	runCmd.Flags().StringSlice("sca", nil, "Dependency report (npm audit, pip-audit, trivy)")
	runCmd.Flags().StringSlice("dast", nil, "Dynamic analysis report (ZAP XML/JSON, generic JSON)")
	runCmd.Flags().Int("max-per-category", 0, "Process at most n findings per category, most severe first (0 = all)")
	runCmd.Flags().String("profile", "", "Expertise profile: beginner, intermediate, advanced")
	runCmd.Flags().String("dast-url", "", "Live URL for dynamic analysis")
	runCmd.Flags().String("repo-url", "", "Repository URL, used to discover deployments")
	runCmd.Flags().String("repo-path", "", "Local checkout to scan or deploy")
	runCmd.Flags().Bool("scan", false, "Run semgrep, gitleaks, trivy and ZAP before generating")
	runCmd.Flags().StringSlice("scanners", nil, "Scanners to run with --scan (semgrep, gitleaks, trivy, zap-baseline, nikto)")
	runCmd.Flags().Bool("json", false, "Print the manifest as JSON")
	rootCmd.AddCommand(runCmd)
}
