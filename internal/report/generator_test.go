package report

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
	"github.com/yorozuya-cybersecurity/yoroguard/pkg/utils"
)

func sampleRun() utils.AuditRun {
	ts := time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)
	return utils.AuditRun{
		Host:      "web01",
		ScanID:    "scan-42",
		Timestamp: ts,
		Results: []schema.AuditResult{
			{
				Service: "ufw", DisplayName: "UFW Firewall", Status: schema.AuditIssuesFound,
				Issues: []schema.Event{
					schema.MustEvent(schema.Event{Timestamp: ts, Type: schema.TypeFirewall, Severity: schema.SevMedium, Service: "ufw", Description: "port 22 open to Anywhere"}),
					schema.MustEvent(schema.Event{Timestamp: ts, Type: schema.TypeFirewall, Severity: schema.SevCritical, Service: "ufw", Description: "firewall is inactive"}),
				},
			},
			{
				Service: "clamav", DisplayName: "ClamAV", Status: schema.AuditIssuesFound,
				Issues: []schema.Event{
					schema.MustEvent(schema.Event{Type: schema.TypeMalware, Severity: schema.SevCritical, Service: "clamav", Description: "<script>Eicar</script>", Location: "/tmp/eicar.com"}),
				},
			},
			{Service: "falco", DisplayName: "Falco", Status: schema.AuditSecure},
		},
	}
}

func TestBuildViewModel(t *testing.T) {
	now := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	vm := buildViewModel(sampleRun(), now)

	assert.Equal(t, 3, vm.TotalIssues)
	assert.Equal(t, map[string]int{"CRITICAL": 2, "HIGH": 0, "MEDIUM": 1, "LOW": 0, "INFO": 0}, vm.Counts)
	// weighted = 4+4+2 = 10 of a possible 12
	assert.Equal(t, 17, vm.Score)
	assert.Equal(t, "F", vm.Grade)
	require.Len(t, vm.Issues, 3)
	assert.Equal(t, "CRITICAL", vm.Issues[0].Severity)
	assert.Equal(t, "clamav", vm.Issues[0].Service)
	assert.Equal(t, "ufw", vm.Issues[1].Service)
	assert.Equal(t, "MEDIUM", vm.Issues[2].Severity)
	assert.Equal(t, "-", vm.Issues[0].Time)
	require.Len(t, vm.Services, 3)
	assert.Equal(t, "secure", vm.Services[2].Status)
	assert.Equal(t, 2025, vm.Year)
}

func TestBuildViewModelNoIssues(t *testing.T) {
	vm := buildViewModel(utils.AuditRun{Host: "empty"}, time.Now())
	assert.Equal(t, 100, vm.Score)
	assert.Equal(t, "A", vm.Grade)
	assert.Zero(t, vm.TotalIssues)
}

func TestGenerateHTML(t *testing.T) {
	dir := t.TempDir()
	path, err := GenerateHTML(sampleRun(), dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "Host security audit: web01")
	assert.Contains(t, html, "firewall is inactive")
	assert.Contains(t, html, "/tmp/eicar.com")
	assert.NotContains(t, html, "<script>Eicar")
	assert.True(t, strings.Contains(html, "&lt;script&gt;Eicar"))
}

func TestTrimTo(t *testing.T) {
	assert.Equal(t, "abc", trimTo("  abc ", 5))
	assert.Equal(t, "ab…", trimTo("abcdef", 2))
}
