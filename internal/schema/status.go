package schema

// ServiceStatus is the probed state of one supervised tool.
type ServiceStatus struct {
	Enabled    bool                   `json:"enabled"`
	Installed  bool                   `json:"installed"`
	Configured bool                   `json:"configured"`
	Running    bool                   `json:"running"`
	Functional *bool                  `json:"functional,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Healthy is enabled, installed and configured, plus functional when that is
// explicitly known, otherwise running.
func (s ServiceStatus) Healthy() bool {
	if !s.Enabled || !s.Installed || !s.Configured {
		return false
	}
	if s.Functional != nil {
		return *s.Functional
	}
	return s.Running
}

// Applicable is false for disabled services, which are excluded from
// aggregate health.
func (s ServiceStatus) Applicable() bool { return s.Enabled }

// Bool returns a pointer for the optional Functional field.
func Bool(v bool) *bool { return &v }

// AuditStatus is the terminal state of a single audit run.
type AuditStatus string

const (
	AuditDisabled      AuditStatus = "disabled"
	AuditNotInstalled  AuditStatus = "not_installed"
	AuditNotConfigured AuditStatus = "not_configured"
	AuditSecure        AuditStatus = "secure"
	AuditIssuesFound   AuditStatus = "issues_found"
)

// AuditResult groups the findings of one audit run for one service.
type AuditResult struct {
	Service     string                 `json:"service"`
	DisplayName string                 `json:"display_name"`
	Status      AuditStatus            `json:"status"`
	Issues      []Event                `json:"issues"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// CountBySeverity tallies issues for reporting.
func (r AuditResult) CountBySeverity() map[Severity]int {
	out := make(map[Severity]int, len(severityRank))
	for _, sev := range Severities() {
		out[sev] = 0
	}
	for _, e := range r.Issues {
		out[e.Severity]++
	}
	return out
}
