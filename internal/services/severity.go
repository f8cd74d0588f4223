package services

import (
	"strings"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

// severityTable maps one tool's native vocabulary onto the canonical scale.
// Lookups are case-insensitive; unknown tokens map to info.
type severityTable map[string]schema.Severity

func (t severityTable) lookup(token string) schema.Severity {
	if sev, ok := t[strings.ToLower(strings.TrimSpace(token))]; ok {
		return sev
	}
	return schema.SevInfo
}

var (
	clamavSeverities = severityTable{
		"found": schema.SevCritical,
		"error": schema.SevMedium,
	}

	fail2banLevels = severityTable{
		"critical": schema.SevCritical,
		"error":    schema.SevHigh,
		"warning":  schema.SevMedium,
		"warn":     schema.SevMedium,
		"notice":   schema.SevLow,
		"info":     schema.SevInfo,
		"debug":    schema.SevInfo,
	}

	fail2banActions = severityTable{
		"ban":   schema.SevHigh,
		"unban": schema.SevInfo,
	}

	falcoPriorities = severityTable{
		"emergency":     schema.SevCritical,
		"alert":         schema.SevCritical,
		"critical":      schema.SevCritical,
		"error":         schema.SevHigh,
		"warning":       schema.SevMedium,
		"notice":        schema.SevLow,
		"informational": schema.SevInfo,
		"info":          schema.SevInfo,
		"debug":         schema.SevInfo,
	}

	trivySeverities = severityTable{
		"critical": schema.SevCritical,
		"high":     schema.SevHigh,
		"medium":   schema.SevMedium,
		"low":      schema.SevLow,
		"unknown":  schema.SevInfo,
	}

	ufwActions = severityTable{
		"block": schema.SevMedium,
		"audit": schema.SevLow,
		"allow": schema.SevInfo,
	}
)

func MapClamAVResult(token string) schema.Severity { return clamavSeverities.lookup(token) }
func MapFail2banLevel(level string) schema.Severity { return fail2banLevels.lookup(level) }
func MapFail2banAction(act string) schema.Severity { return fail2banActions.lookup(act) }
func MapFalcoPriority(prio string) schema.Severity { return falcoPriorities.lookup(prio) }
func MapTrivySeverity(sev string) schema.Severity { return trivySeverities.lookup(sev) }
func MapUFWAction(action string) schema.Severity { return ufwActions.lookup(action) }
