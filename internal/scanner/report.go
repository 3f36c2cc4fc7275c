// Package scanner runs external security scanners against registered
// entities, archives their results, and applies verdicts to registry state.
package scanner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
)

// Report is the normalized output of one scanner invocation: findings
// grouped by analyzer plus the raw per-tool or per-card payload.
type Report struct {
	AnalysisResults map[string]*model.AnalyzerResult `json:"analysis_results"`
	ToolResults     json.RawMessage                  `json:"tool_results,omitempty"`
	ScanResults     json.RawMessage                  `json:"scan_results,omitempty"`
}

// Counts sums finding severities across all analyzers, case-insensitively.
func (r *Report) Counts() (critical, high, medium, low int) {
	for _, ar := range r.AnalysisResults {
		for _, f := range ar.Findings {
			switch model.Severity(strings.ToUpper(string(f.Severity))) {
			case model.SeverityCritical:
				critical++
			case model.SeverityHigh:
				high++
			case model.SeverityMedium:
				medium++
			case model.SeverityLow:
				low++
			}
		}
	}
	return
}

// IsSafe reports the scan verdict: no critical and no high findings.
func (r *Report) IsSafe() bool {
	critical, high, _, _ := r.Counts()
	return critical == 0 && high == 0
}

var ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI removes terminal escape sequences from scanner output.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

var arrayStart = regexp.MustCompile(`\[\s*\{`)

// LocateJSON finds the offset of the first top-level JSON payload in cleaned
// scanner output: a '[' or '{' that begins a line wins, with a bracketed
// object sequence as fallback. Returns -1 when none is found.
func LocateJSON(s string) int {
	for i := 0; i < len(s); i++ {
		if (s[i] == '[' || s[i] == '{') && (i == 0 || s[i-1] == '\n' || s[i-1] == '\r') {
			return i
		}
	}
	if loc := arrayStart.FindStringIndex(s); loc != nil {
		return loc[0]
	}
	return -1
}

// serverToolResult is one entry of the mcp-scanner raw output array.
type serverToolResult struct {
	ToolName string                     `json:"tool_name"`
	IsSafe   *bool                      `json:"is_safe"`
	Findings map[string]json.RawMessage `json:"findings"`
}

type rawFinding struct {
	Severity      string   `json:"severity"`
	ThreatNames   []string `json:"threat_names"`
	ThreatSummary string   `json:"threat_summary"`
	SkillName     string   `json:"skill_name"`
	Analyzer      string   `json:"analyzer"`
}

// ParseServerOutput normalizes mcp-scanner stdout: strip ANSI, locate the
// JSON array of per-tool results, and regroup findings by analyzer.
func ParseServerOutput(stdout string) (*Report, error) {
	clean := StripANSI(strings.TrimSpace(stdout))
	start := LocateJSON(clean)
	if start == -1 {
		return nil, fmt.Errorf("no JSON found in scanner output")
	}

	var toolResults []serverToolResult
	dec := json.NewDecoder(strings.NewReader(clean[start:]))
	if err := dec.Decode(&toolResults); err != nil {
		return nil, fmt.Errorf("parse scanner output: %w", err)
	}

	report := &Report{AnalysisResults: map[string]*model.AnalyzerResult{}}
	raw, err := json.Marshal(toolResults)
	if err != nil {
		return nil, fmt.Errorf("re-encode tool results: %w", err)
	}
	report.ToolResults = raw

	for _, tr := range toolResults {
		safe := true
		if tr.IsSafe != nil {
			safe = *tr.IsSafe
		}
		for analyzer, rawF := range tr.Findings {
			var f rawFinding
			if err := json.Unmarshal(rawF, &f); err != nil {
				continue
			}
			ar, ok := report.AnalysisResults[analyzer]
			if !ok {
				ar = &model.AnalyzerResult{}
				report.AnalysisResults[analyzer] = ar
			}
			ar.Findings = append(ar.Findings, model.Finding{
				Severity:      model.Severity(f.Severity),
				ThreatNames:   f.ThreatNames,
				ThreatSummary: f.ThreatSummary,
				IsSafe:        safe,
				ToolName:      tr.ToolName,
				Analyzer:      analyzer,
			})
		}
	}
	return report, nil
}

// agentScanOutput is the a2a-scanner JSON object shape.
type agentScanOutput struct {
	Findings []json.RawMessage `json:"findings"`
}

// ParseAgentOutput normalizes a2a-scanner stdout: strip ANSI, parse the
// whole output as JSON or locate the first line-starting payload, and group
// findings by their declared analyzer.
func ParseAgentOutput(stdout string) (*Report, error) {
	clean := StripANSI(strings.TrimSpace(stdout))

	payload := clean
	if !json.Valid([]byte(payload)) {
		start := LocateJSON(clean)
		if start == -1 {
			return nil, fmt.Errorf("no JSON found in scanner output")
		}
		payload = clean[start:]
	}

	report := &Report{AnalysisResults: map[string]*model.AnalyzerResult{}}

	var out agentScanOutput
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		// Array-shaped output carries no findings object; keep it raw.
		var arr []json.RawMessage
		if arrErr := json.Unmarshal([]byte(payload), &arr); arrErr != nil {
			return nil, fmt.Errorf("parse scanner output: %w", err)
		}
		report.ScanResults = json.RawMessage(payload)
		return report, nil
	}
	report.ScanResults = json.RawMessage(payload)

	for _, rawF := range out.Findings {
		var f rawFinding
		if err := json.Unmarshal(rawF, &f); err != nil {
			continue
		}
		analyzer := f.Analyzer
		if analyzer == "" {
			analyzer = "unknown"
		}
		ar, ok := report.AnalysisResults[analyzer]
		if !ok {
			ar = &model.AnalyzerResult{}
			report.AnalysisResults[analyzer] = ar
		}
		critical := strings.EqualFold(f.Severity, string(model.SeverityCritical))
		high := strings.EqualFold(f.Severity, string(model.SeverityHigh))
		ar.Findings = append(ar.Findings, model.Finding{
			Severity:      model.Severity(f.Severity),
			ThreatNames:   f.ThreatNames,
			ThreatSummary: f.ThreatSummary,
			IsSafe:        !critical && !high,
			SkillName:     f.SkillName,
			Analyzer:      analyzer,
		})
	}
	return report, nil
}
