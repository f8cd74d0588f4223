// Package services wraps each supervised host security tool in an adapter
// that probes its lifecycle state, audits it and converts its output into
// canonical events.
package services

import (
	"context"
	"time"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/parsers"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

// Capability tags what an adapter can do beyond the common audit contract.
type Capability string

const (
	CapScanner              Capability = "scanner"
	CapMonitor              Capability = "monitor"
	CapFirewall             Capability = "firewall"
	CapIntrusionPrevention  Capability = "intrusion-prevention"
	CapVulnerabilityScanner Capability = "vulnerability-scanner"
)

// Adapter is the contract every tool adapter satisfies.
type Adapter interface {
	Name() string
	DisplayName() string
	Capabilities() []Capability

	IsEnabled() bool
	IsInstalled() bool
	IsConfigured() bool
	IsHealthy() bool
	GetStatus(ctx context.Context) schema.ServiceStatus
	RunAudit(ctx context.Context) schema.AuditResult
}

// ScanResult is the outcome of one synchronous scan.
type ScanResult struct {
	ScanID   string            `json:"scan_id"`
	Target   string            `json:"target"`
	Events   []schema.Event    `json:"events"`
	Summary  map[string]string `json:"summary,omitempty"`
	Duration time.Duration     `json:"duration"`
}

type Scanner interface {
	Adapter
	ScanPath(ctx context.Context, path string) (ScanResult, error)
}

type VulnerabilityScanner interface {
	Scanner
	ScanImage(ctx context.Context, image string) (ScanResult, error)
}

// Monitor adapters run a long-lived process whose output becomes events.
type Monitor interface {
	Adapter
	StartMonitoring(ctx context.Context, d time.Duration) bool
	StartDetached(ctx context.Context, d time.Duration) bool
	StopMonitoring() bool
	IsMonitoring() bool
	GetRecentEvents(limit int) []schema.Event
}

type Firewall interface {
	Adapter
	FirewallStatus(ctx context.Context) (parsers.FirewallStatus, error)
	RecentEvents(ctx context.Context, limit int) []schema.Event
}

type IntrusionPrevention interface {
	Adapter
	BannedIPs(ctx context.Context) (map[string][]string, error)
	RecentEvents(ctx context.Context, limit int) []schema.Event
}

// HasCapability reports whether a advertises c.
func HasCapability(a Adapter, c Capability) bool {
	for _, have := range a.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}

var (
	_ Scanner              = (*ClamAV)(nil)
	_ IntrusionPrevention  = (*Fail2ban)(nil)
	_ Monitor              = (*Fail2ban)(nil)
	_ Monitor              = (*Falco)(nil)
	_ VulnerabilityScanner = (*Trivy)(nil)
	_ Firewall             = (*UFW)(nil)
)
