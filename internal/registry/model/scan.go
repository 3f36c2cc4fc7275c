package model

import "encoding/json"

// Severity is the level assigned to a scanner finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeveritySafe     Severity = "SAFE"
)

// Finding is a single issue reported by a scanner analyzer. ToolName is set
// for server scans, SkillName for agent scans.
type Finding struct {
	Severity      Severity `json:"severity"`
	ThreatNames   []string `json:"threat_names,omitempty"`
	ThreatSummary string   `json:"threat_summary,omitempty"`
	IsSafe        bool     `json:"is_safe"`
	ToolName      string   `json:"tool_name,omitempty"`
	SkillName     string   `json:"skill_name,omitempty"`
	Analyzer      string   `json:"analyzer,omitempty"`
}

// AnalyzerResult groups the findings one analyzer produced.
type AnalyzerResult struct {
	Findings []Finding `json:"findings"`
}

// ScanResult is the persisted outcome of one security scan. is_safe holds
// exactly when the scan produced zero critical and zero high findings.
type ScanResult struct {
	Path           string          `json:"path"`
	URL            string          `json:"url,omitempty"`
	ScanTimestamp  string          `json:"scan_timestamp"`
	IsSafe         bool            `json:"is_safe"`
	CriticalIssues int             `json:"critical_issues"`
	HighSeverity   int             `json:"high_severity"`
	MediumSeverity int             `json:"medium_severity"`
	LowSeverity    int             `json:"low_severity"`
	AnalyzersUsed  []string        `json:"analyzers_used"`
	RawOutput      json.RawMessage `json:"raw_output,omitempty"`
	OutputFile     string          `json:"output_file,omitempty"`
	ScanFailed     bool            `json:"scan_failed"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}
