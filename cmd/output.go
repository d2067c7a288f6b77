package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/khanhnv2901/secscan/internal/api"
	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
	"github.com/khanhnv2901/secscan/internal/checker"
	"github.com/khanhnv2901/secscan/internal/compliance"
	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func parseOutputFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", outputText:
		return outputText, nil
	case outputJSON, outputYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text, json or yaml)", s)
	}
}

// writeStructured encodes v as indented JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// renderScanResult prints a full scan result.
func renderScanResult(w io.Writer, format string, res *scanapp.Result) error {
	if format != outputText {
		return writeStructured(w, format, res)
	}

	fmt.Fprintf(w, "%s %s (%s)\n", colorInfo("Scan:"), res.URL, res.ScanType)
	if res.ScanID != "" {
		fmt.Fprintf(w, "%s %s\n", colorInfo("ID:"), res.ScanID)
	}
	fmt.Fprintf(w, "%s %s\n", colorInfo("Security score:"), formatScoreWithColor(res.SecurityScore))
	printSummary(w, res.Summary.Summary)

	for _, name := range moduleOrder(res.Results) {
		mod := res.Results[name]
		fmt.Fprintf(w, "  %-16s %s  %.0fms\n", name, moduleStatus(mod), mod.DurationMs)
	}

	if len(res.Findings) > 0 {
		fmt.Fprintln(w)
		printFindings(w, res.Findings)
	}
	if len(res.Recommendations) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorInfo("Recommendations:"))
		for i, rec := range res.Recommendations {
			fmt.Fprintf(w, "  %d. [%s] %s: %s\n", i+1, formatSeverityWithColor(rec.Priority), rec.Title, rec.Action)
		}
	}
	printOWASPCoverage(w, res.Summary.OWASP)
	printCompliance(w, res.Findings)
	return nil
}

func printSummary(w io.Writer, s finding.Summary) {
	fmt.Fprintf(w, "%s %d total (critical %d, high %d, medium %d, low %d, info %d)\n",
		colorInfo("Findings:"), s.Total, s.Critical, s.High, s.Medium, s.Low, s.Info)
}

func printFindings(w io.Writer, findings []finding.Finding) {
	for _, f := range findings {
		fmt.Fprintf(w, "[%s] %s\n", formatSeverityWithColor(f.Severity), f.Title)
		if f.Description != "" {
			fmt.Fprintf(w, "    %s\n", f.Description)
		}
		if ref := findingReference(f); ref != "" {
			fmt.Fprintf(w, "    %s\n", colorMuted(ref))
		}
		if f.Evidence != "" {
			fmt.Fprintf(w, "    Evidence: %s\n", f.Evidence)
		}
		if f.Recommendation != "" {
			fmt.Fprintf(w, "    Fix: %s\n", f.Recommendation)
		}
	}
}

// findingReference renders the OWASP and CWE classification of f.
func findingReference(f finding.Finding) string {
	var parts []string
	if f.OWASPCategory != "" {
		parts = append(parts, "OWASP "+compliance.OWASPLabel(f.OWASPCategory))
	}
	if f.CWEID != "" {
		label := f.CWEID
		if name := compliance.CWEName(f.CWEID); name != "" {
			label += " " + name
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, " | ")
}

func printOWASPCoverage(w io.Writer, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", colorInfo("OWASP Top 10:"))
	for _, code := range compliance.OWASPCodes() {
		if n := counts[code]; n > 0 {
			fmt.Fprintf(w, "  %-48s %d\n", compliance.OWASPLabel(code), n)
		}
	}
}

func printCompliance(w io.Writer, findings []finding.Finding) {
	header := false
	for _, fw := range compliance.SupportedFrameworks() {
		reqs := compliance.RequirementsFor(fw.ID, findings)
		if len(reqs) == 0 {
			continue
		}
		if !header {
			fmt.Fprintf(w, "\n%s\n", colorInfo("Compliance controls affected:"))
			header = true
		}
		fmt.Fprintf(w, "  %-24s %s\n", fw.Name, strings.Join(reqs, ", "))
	}
}

func moduleOrder(results map[string]checker.ModuleResult) []string {
	rank := map[string]int{
		checker.ModuleHeaders:         0,
		checker.ModuleSSL:             1,
		checker.ModuleVulnerabilities: 2,
		checker.ModuleCORS:            3,
	}
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return rank[names[i]] < rank[names[j]] })
	return names
}

func moduleStatus(res checker.ModuleResult) string {
	if res.Success {
		return formatStatusWithColor("ok")
	}
	return formatStatusWithColor("failed")
}

// renderModuleResults prints single-module check results.
func renderModuleResults(w io.Writer, format string, results []checker.ModuleResult) error {
	if format != outputText {
		if len(results) == 1 {
			return writeStructured(w, format, results[0])
		}
		return writeStructured(w, format, results)
	}
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		printModuleText(w, res)
	}
	return nil
}

func printModuleText(w io.Writer, res checker.ModuleResult) {
	fmt.Fprintf(w, "%s %s %s %s\n", colorInfo("Target:"), res.Target, colorMuted("module="+res.Module), moduleStatus(res))
	if res.Error != "" {
		fmt.Fprintf(w, "%s %s\n", colorError("Error:"), res.Error)
	}
	if res.Certificate != nil {
		c := res.Certificate
		fmt.Fprintf(w, "Certificate: %s (issuer %s), expires in %d days\n", c.Subject, c.Issuer, c.DaysUntilExpiry)
	}
	if res.Connection != nil {
		fmt.Fprintf(w, "Connection: %s %s, trusted=%t\n", res.Connection.Protocol, res.Connection.Cipher, res.Connection.Authorized)
	}
	if res.CORS != nil {
		for _, advisory := range res.CORS.Advisories {
			fmt.Fprintf(w, "%s %s\n", colorWarn("Advisory:"), advisory)
		}
	}
	for _, c := range res.Cookies {
		var missing []string
		if c.MissingSecure {
			missing = append(missing, "Secure")
		}
		if c.MissingHTTPOnly {
			missing = append(missing, "HttpOnly")
		}
		if c.MissingSameSite {
			missing = append(missing, "SameSite")
		}
		fmt.Fprintf(w, "%s %s missing %s\n", colorWarn("Cookie:"), c.Name, strings.Join(missing, ", "))
	}
	printSummary(w, finding.Summarize(res.Findings))
	fmt.Fprintf(w, "%s %s\n", colorInfo("Module score:"), formatScoreWithColor(finding.Score(res.Findings)))
	printFindings(w, res.Findings)
}

// renderJWT prints a token analysis.
func renderJWT(w io.Writer, format string, analysis checker.JWTAnalysis) error {
	if format != outputText {
		return writeStructured(w, format, analysis)
	}
	if analysis.Error != "" {
		fmt.Fprintf(w, "%s %s\n", colorError("Error:"), analysis.Error)
	}
	if analysis.Decoded != nil {
		header, _ := json.Marshal(analysis.Decoded.Header)
		payload, _ := json.Marshal(analysis.Decoded.Payload)
		fmt.Fprintf(w, "%s %s\n%s %s\n", colorInfo("Header:"), header, colorInfo("Payload:"), payload)
	}
	printSummary(w, finding.Summarize(analysis.Findings))
	printFindings(w, analysis.Findings)
	return nil
}

// renderRecords prints stored scan records as a table.
func renderRecords(w io.Writer, format string, records []*scan.Record) error {
	if format != outputText {
		views := make([]api.ScanView, 0, len(records))
		for _, rec := range records {
			views = append(views, api.NewScanView(rec))
		}
		return writeStructured(w, format, views)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No scans stored.")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-10s  %-15s  %-5s  %-20s  %s\n", "ID", "STATUS", "TYPE", "SCORE", "STARTED", "URL")
	for _, rec := range records {
		started := "-"
		if t := rec.StartedAt(); !t.IsZero() {
			started = t.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-36s  %-10s  %-15s  %-5d  %-20s  %s\n",
			rec.ID(), rec.Status(), rec.ScanType(), rec.Score(), started, rec.URL())
	}
	return nil
}

// renderRecord prints one stored scan with its findings.
func renderRecord(w io.Writer, format string, rec *scan.Record) error {
	if format != outputText {
		return writeStructured(w, format, struct {
			Scan     api.ScanView      `json:"scan" yaml:"scan"`
			Findings []finding.Finding `json:"findings" yaml:"findings"`
		}{api.NewScanView(rec), rec.Findings()})
	}
	fmt.Fprintf(w, "%s %s (%s)\n", colorInfo("Scan:"), rec.URL(), rec.ScanType())
	fmt.Fprintf(w, "%s %s\n", colorInfo("ID:"), rec.ID())
	fmt.Fprintf(w, "%s %s\n", colorInfo("Status:"), formatStatusWithColor(string(rec.Status())))
	if rec.ErrorMessage() != "" {
		fmt.Fprintf(w, "%s %s\n", colorError("Error:"), rec.ErrorMessage())
	}
	fmt.Fprintf(w, "%s %s\n", colorInfo("Security score:"), formatScoreWithColor(rec.Score()))
	printSummary(w, rec.Summary())
	if findings := rec.Findings(); len(findings) > 0 {
		fmt.Fprintln(w)
		printFindings(w, findings)
	}
	return nil
}
