package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

// Nikto runs a nikto web server scan and rewrites its report into the
// generic dynamic issue list.
type Nikto struct {
	Runner Runner
}

func (n *Nikto) Name() string              { return "nikto" }
func (n *Nikto) Description() string       { return "Web server misconfiguration scan with nikto" }
func (n *Nikto) Category() engine.Category { return engine.CategoryDynamic }

func (n *Nikto) Scan(ctx context.Context, target Target, progress func(string)) ([]byte, error) {
	if err := requireBinary(n.Runner, "nikto"); err != nil {
		return nil, err
	}
	u, err := url.ParseRequestURI(target.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid target url %q", target.URL)
	}

	dir, cleanup, err := tempReport("nikto-report-*")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	out := filepath.Join(dir, "report.json")

	progress(fmt.Sprintf("[nikto] scanning %s", target.URL))
	_, stderr, code, err := n.Runner.Run(ctx, "nikto", "-h", target.URL, "-o", out, "-Format", "json", "-ask", "no")
	if err != nil {
		return nil, err
	}
	if s := string(stderr); strings.Contains(s, "Can't locate JSON.pm") || strings.Contains(s, `via package "JSON"`) {
		return nil, fmt.Errorf("nikto is missing the perl JSON module")
	}
	// nikto exits non-zero whenever it reports items, so only a missing report is fatal
	data, err := readReport(out)
	if err != nil {
		return nil, fmt.Errorf("nikto exited %d without a report: %w", code, err)
	}
	return convertNikto(data, target.URL)
}

type niktoHost struct {
	Host            string      `json:"host"`
	IP              string      `json:"ip"`
	Port            json.Number `json:"port"`
	Vulnerabilities []struct {
		ID     string `json:"id"`
		Msg    string `json:"msg"`
		OSVDB  string `json:"osvdb"`
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"vulnerabilities"`
}

type genericDynamicIssue struct {
	URL         string `json:"url"`
	Method      string `json:"method,omitempty"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Solution    string `json:"solution"`
}

// convertNikto accepts both the single-host object and the host array that
// different nikto releases write.
func convertNikto(data []byte, base string) ([]byte, error) {
	var hosts []niktoHost
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &hosts); err != nil {
			return nil, fmt.Errorf("parsing nikto report: %w", err)
		}
	} else {
		var h niktoHost
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("parsing nikto report: %w", err)
		}
		hosts = append(hosts, h)
	}

	root := strings.TrimRight(base, "/")
	issues := []genericDynamicIssue{}
	for _, h := range hosts {
		for _, v := range h.Vulnerabilities {
			if strings.TrimSpace(v.Msg) == "" {
				continue
			}
			title := v.Msg
			if i := strings.IndexAny(title, ".:"); i > 0 && i < 80 {
				title = title[:i]
			}
			if v.ID != "" {
				title = fmt.Sprintf("nikto-%s: %s", v.ID, title)
			}
			issues = append(issues, genericDynamicIssue{
				URL:         root + v.URL,
				Method:      v.Method,
				Title:       title,
				Severity:    "medium",
				Description: v.Msg,
				Solution:    "Review the web server configuration and update outdated software.",
			})
		}
	}
	return json.Marshal(map[string]any{"issues": issues})
}
