package normalizer

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

type zapXMLReport struct {
	Sites []struct {
		Name   string        `xml:"name,attr"`
		Alerts []zapXMLAlert `xml:"alerts>alertitem"`
	} `xml:"site"`
}

type zapXMLAlert struct {
	PluginID   string `xml:"pluginid"`
	Alert      string `xml:"alert"`
	Name       string `xml:"name"`
	RiskCode   string `xml:"riskcode"`
	Confidence string `xml:"confidence"`
	Desc       string `xml:"desc"`
	Solution   string `xml:"solution"`
	CWEID      string `xml:"cweid"`
	Instances  []struct {
		URI    string `xml:"uri"`
		Method string `xml:"method"`
	} `xml:"instances>instance"`
}

type zapJSONAlert struct {
	PluginID   string `json:"pluginid"`
	Alert      string `json:"alert"`
	Name       string `json:"name"`
	RiskCode   string `json:"riskcode"`
	Confidence string `json:"confidence"`
	Desc       string `json:"desc"`
	Solution   string `json:"solution"`
	CWEID      string `json:"cweid"`
	Instances  []struct {
		URI    string `json:"uri"`
		Method string `json:"method"`
	} `json:"instances"`
}

type genericIssue struct {
	URL         string          `json:"url"`
	Endpoint    string          `json:"endpoint"`
	Path        string          `json:"path"`
	Method      string          `json:"method"`
	Title       string          `json:"title"`
	Name        string          `json:"name"`
	Severity    string          `json:"severity"`
	Description string          `json:"description"`
	Solution    string          `json:"solution"`
	Remediation string          `json:"remediation"`
	CWE         json.RawMessage `json:"cwe"`
}

func normalizeDynamic(payload []byte) (Result, error) {
	if payload[0] == '<' {
		return parseZapXML(payload)
	}

	doc, err := topLevel(payload)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	if raw, ok := doc["site"]; ok {
		return parseZapJSON(raw)
	}
	if raw, ok := doc["issues"]; ok {
		return parseGenericDynamic(raw)
	}
	if raw, ok := doc["findings"]; ok {
		return parseGenericDynamic(raw)
	}
	return Result{}, ErrUnknownFormat
}

func parseZapXML(payload []byte) (Result, error) {
	res := Result{Format: "zap-xml"}
	var report zapXMLReport
	if err := xml.Unmarshal(payload, &report); err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}

	for _, site := range report.Sites {
		for i, a := range site.Alerts {
			title := firstNonEmpty(a.Alert, a.Name)
			if title == "" {
				res.skip("zap alert %d on %s: missing alert name", i, site.Name)
				continue
			}
			uri, method := site.Name, "GET"
			if len(a.Instances) > 0 {
				uri = firstNonEmpty(a.Instances[0].URI, uri)
				method = firstNonEmpty(a.Instances[0].Method, method)
			}
			res.add(zapFinding(title, a.PluginID, a.RiskCode, a.Desc, a.Solution, a.CWEID, uri, method))
		}
	}
	return res, nil
}

func parseZapJSON(raw json.RawMessage) (Result, error) {
	res := Result{Format: "zap-json"}
	var sites []struct {
		Name   string            `json:"@name"`
		Alerts []json.RawMessage `json:"alerts"`
	}
	if err := json.Unmarshal(raw, &sites); err != nil {
		return res, fmt.Errorf("zap sites: %w", err)
	}

	for _, site := range sites {
		for i, item := range site.Alerts {
			var a zapJSONAlert
			if err := json.Unmarshal(item, &a); err != nil {
				res.skip("zap alert %d on %s: %v", i, site.Name, err)
				continue
			}
			title := firstNonEmpty(a.Alert, a.Name)
			if title == "" {
				res.skip("zap alert %d on %s: missing alert name", i, site.Name)
				continue
			}
			uri, method := site.Name, "GET"
			if len(a.Instances) > 0 {
				uri = firstNonEmpty(a.Instances[0].URI, uri)
				method = firstNonEmpty(a.Instances[0].Method, method)
			}
			res.add(zapFinding(title, a.PluginID, a.RiskCode, a.Desc, a.Solution, a.CWEID, uri, method))
		}
	}
	return res, nil
}

func zapFinding(title, pluginID, risk, desc, solution, cwe, uri, method string) engine.Finding {
	ref := "zap-" + firstNonEmpty(pluginID, strings.ReplaceAll(strings.ToLower(title), " ", "-"))
	if cwe = strings.TrimSpace(cwe); cwe != "" && cwe != "-1" && cwe != "0" {
		ref = cweID(cwe)
	}
	return engine.Finding{
		Category:       engine.CategoryDynamic,
		Severity:       engine.NormalizeSeverity(risk),
		Location:       fmt.Sprintf("%s %s", strings.ToUpper(method), uri),
		Title:          title,
		Description:    firstNonEmpty(stripTags(desc), "No description"),
		RuleReference:  ref,
		Tool:           "zap",
		Recommendation: stripTags(solution),
	}
}

func parseGenericDynamic(raw json.RawMessage) (Result, error) {
	res := Result{Format: "dast-json"}
	items, err := rawList(raw)
	if err != nil {
		return res, fmt.Errorf("dast issues: %w", err)
	}

	for i, item := range items {
		var is genericIssue
		if err := json.Unmarshal(item, &is); err != nil {
			res.skip("dast issue %d: %v", i, err)
			continue
		}
		title := firstNonEmpty(is.Title, is.Name)
		target := firstNonEmpty(is.URL, is.Endpoint, is.Path)
		if title == "" || target == "" {
			res.skip("dast issue %d: missing title or url", i)
			continue
		}
		ref := firstCWE(is.CWE)
		if ref == "" {
			ref = strings.ReplaceAll(strings.ToLower(title), " ", "-")
		}
		res.add(engine.Finding{
			Category:       engine.CategoryDynamic,
			Severity:       engine.NormalizeSeverity(is.Severity),
			Location:       fmt.Sprintf("%s %s", strings.ToUpper(firstNonEmpty(is.Method, "GET")), target),
			Title:          title,
			Description:    firstNonEmpty(is.Description, "No description"),
			RuleReference:  ref,
			Tool:           "dast",
			Recommendation: firstNonEmpty(is.Solution, is.Remediation),
		})
	}
	return res, nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// ZAP wraps descriptions in <p> tags
func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, " ")))
}
