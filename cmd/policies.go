package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/ledger"
)

var policiesCmd = &cobra.Command{
	Use:     "policies",
	Aliases: []string{"policy"},
	Short:   "Inspect and update tracked remediation policies",
}

// withLedger opens the ledger for the duration of fn.
func withLedger(fn func(l *ledger.Ledger) error) error {
	a := newApp()
	defer a.Close()
	l, err := a.openLedger()
	if err != nil {
		return err
	}
	return fn(l)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// defaultActor is the login name, so CLI changes are attributed to someone.
func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

var listPoliciesCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		severity, _ := cmd.Flags().GetString("severity")
		category, _ := cmd.Flags().GetString("category")
		assignee, _ := cmd.Flags().GetString("assignee")
		overdue, _ := cmd.Flags().GetBool("overdue")
		asJSON, _ := cmd.Flags().GetBool("json")

		var f ledger.Filter
		if status != "" {
			st, err := ledger.ParseStatus(status)
			if err != nil {
				return err
			}
			f.Status = st
		}
		if category != "" {
			c, err := engine.ParseCategory(category)
			if err != nil {
				return err
			}
			f.Category = c
		}
		if severity != "" {
			f.Severity = engine.NormalizeSeverity(severity)
		}
		f.AssignedTo = assignee
		if overdue {
			f.OverdueAt = time.Now()
		}

		return withLedger(func(l *ledger.Ledger) error {
			entries, err := l.List(f)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("No policies found.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "POLICY\tSTATUS\tSEVERITY\tCATEGORY\tASSIGNEE\tDUE\tTITLE")
			now := time.Now()
			for _, e := range entries {
				due := e.DueAt.Format("2006-01-02")
				if e.Overdue(now) {
					due += " (overdue)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", e.PolicyID, e.Status, e.Finding.Severity,
					e.Finding.Category, orDash(e.AssignedTo), due, e.Finding.Title)
			}
			return tw.Flush()
		})
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var showPolicyCmd = &cobra.Command{
	Use:   "show <policy-id>",
	Short: "Show a policy with its remediation and timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withLedger(func(l *ledger.Ledger) error {
			e, err := l.Get(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(e)
			}
			fmt.Printf("%s  [%s]  due %s\n", e.PolicyID, e.Status, e.DueAt.Format("2006-01-02"))
			fmt.Printf("Finding:  %s (%s, %s)\n", e.Finding.Title, e.Finding.Severity, e.Finding.ID)
			fmt.Printf("Location: %s\n", e.Finding.Location)
			fmt.Printf("Assignee: %s\n\n", orDash(e.AssignedTo))
			fmt.Println(e.Document.Render())
			fmt.Println("Timeline:")
			for _, ev := range e.Timeline {
				line := fmt.Sprintf("  %s  %-14s %s", ev.At.Format(time.RFC3339), ev.Type, ev.Actor)
				if ev.From != "" || ev.To != "" {
					line += fmt.Sprintf("  %s -> %s", orDash(ev.From), ev.To)
				}
				if ev.Note != "" {
					line += "  " + ev.Note
				}
				fmt.Println(line)
			}
			return nil
		})
	},
}

var statusPolicyCmd = &cobra.Command{
	Use:   "status <policy-id> <status>",
	Short: "Move a policy to a new status",
	Long: `Move a policy along its lifecycle:
  not_started -> in_progress -> under_review -> fixed -> verified
  fixed|verified -> reopened -> in_progress`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		note, _ := cmd.Flags().GetString("note")
		to, err := ledger.ParseStatus(args[1])
		if err != nil {
			return err
		}
		return withLedger(func(l *ledger.Ledger) error {
			if err := l.Transition(args[0], to, actor, note); err != nil {
				e, gerr := l.Get(args[0])
				if gerr == nil {
					next := make([]string, 0)
					for _, s := range e.Status.Next() {
						next = append(next, string(s))
					}
					return fmt.Errorf("%w (allowed from %s: %s)", err, e.Status, strings.Join(next, ", "))
				}
				return err
			}
			fmt.Printf("%s is now %s\n", args[0], to)
			return nil
		})
	},
}

var assignPolicyCmd = &cobra.Command{
	Use:   "assign <policy-id> <assignee>",
	Short: "Assign a policy to an owner",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		return withLedger(func(l *ledger.Ledger) error {
			if err := l.Assign(args[0], args[1], actor); err != nil {
				return err
			}
			fmt.Printf("%s assigned to %s\n", args[0], args[1])
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate compliance statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withLedger(func(l *ledger.Ledger) error {
			s, err := l.Stats()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(s)
			}
			printStats(s)
			return nil
		})
	},
}

func printStats(s ledger.Stats) {
	fmt.Printf("Policies: %d   Compliance: %.2f%%\n", s.TotalPolicies, s.CompliancePercentage)
	for _, st := range ledger.Statuses {
		fmt.Printf("  %-13s %d\n", st, s.ByStatus[st])
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show overdue policies, severity counts and recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withLedger(func(l *ledger.Ledger) error {
			d, err := l.Dashboard(time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(d)
			}
			printStats(d.Stats)
			fmt.Println("\nBy severity:")
			for _, sev := range []engine.Severity{engine.SeverityCritical, engine.SeverityHigh, engine.SeverityMedium, engine.SeverityLow, engine.SeverityInformational} {
				fmt.Printf("  %-13s %d\n", sev, d.BySeverity[sev])
			}
			fmt.Printf("\nUnassigned open policies: %d\n", d.Unassigned)
			if len(d.Overdue) > 0 {
				fmt.Println("\nOverdue:")
				for _, e := range d.Overdue {
					fmt.Printf("  %s  %s  due %s  %s\n", e.PolicyID, e.Finding.Severity, e.DueAt.Format("2006-01-02"), e.Finding.Title)
				}
			}
			if len(d.RecentActivity) > 0 {
				fmt.Println("\nRecent activity:")
				for _, a := range d.RecentActivity {
					fmt.Printf("  %s  %s  %s by %s %s\n", a.At.Format("2006-01-02 15:04"), a.PolicyID, a.Type, a.Actor, a.To)
				}
			}
			if d.Coverage != nil {
				printCoverage(d.Coverage)
			}
			return nil
		})
	},
}

func init() {
	listPoliciesCmd.Flags().String("status", "", "Filter by status")
	listPoliciesCmd.Flags().String("severity", "", "Filter by severity")
	listPoliciesCmd.Flags().String("category", "", "Filter by category (static, dependency, dynamic)")
	listPoliciesCmd.Flags().String("assignee", "", "Filter by assignee")
	listPoliciesCmd.Flags().Bool("overdue", false, "Only overdue policies")

	for _, c := range []*cobra.Command{listPoliciesCmd, showPolicyCmd, statsCmd, dashboardCmd} {
		c.Flags().Bool("json", false, "Print JSON")
	}
	for _, c := range []*cobra.Command{statusPolicyCmd, assignPolicyCmd} {
		c.Flags().String("actor", defaultActor(), "Who is making the change")
	}
	statusPolicyCmd.Flags().String("note", "", "Note recorded on the timeline")

	policiesCmd.AddCommand(listPoliciesCmd, showPolicyCmd, statusPolicyCmd, assignPolicyCmd, statsCmd, dashboardCmd)
	rootCmd.AddCommand(policiesCmd)
}

func printCoverage(c *engine.Coverage) {
	fmt.Printf("\nCompliance coverage (overall %.1f%%):\n", c.OverallScore)
	frameworks := make([]string, 0, len(c.Frameworks))
	for name := range c.Frameworks {
		frameworks = append(frameworks, name)
	}
	sort.Strings(frameworks)
	for _, name := range frameworks {
		fc := c.Frameworks[name]
		fmt.Printf("  %-10s %d/%d controls (%.1f%%)\n", name, fc.CoveredControls, fc.TotalControls, fc.Percentage)
		groups := make([]string, 0, len(fc.Groups))
		for g := range fc.Groups {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			gc := fc.Groups[g]
			fmt.Printf("    %-10s %d/%d\n", g, gc.Covered, gc.Total)
		}
	}
}
