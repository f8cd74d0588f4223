package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/execx"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/parsers"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

const TrivyName = "trivy"

// Trivy adapts the vulnerability scanner. It has no daemon; it is
// functional whenever the binary is present.
type Trivy struct {
	base
}

func NewTrivy(s Settings, d Deps) *Trivy {
	if s.Binary == "" {
		s.Binary = "trivy"
	}
	t := &Trivy{}
	t.base = newBase(TrivyName, "Trivy", schema.TypeVulnerability,
		[]Capability{CapScanner, CapVulnerabilityScanner}, s, d)
	t.hooks = t
	return t
}

func (t *Trivy) installed(context.Context) bool { return t.lookPath() }

func (t *Trivy) configured(context.Context) (bool, string) {
	if t.settings.ConfigPath != "" && !t.exists(t.settings.ConfigPath) {
		return false, fmt.Sprintf("%s not found", t.settings.ConfigPath)
	}
	return true, ""
}

func (t *Trivy) running(context.Context) bool { return false }

func (t *Trivy) functional(context.Context) *bool { return schema.Bool(t.lookPath()) }

func (t *Trivy) audit(ctx context.Context, _ string) ([]schema.Event, map[string]interface{}, error) {
	meta := map[string]interface{}{"targets": t.settings.Targets}
	if out, err := t.run(ctx, "--version"); err == nil {
		meta["version"] = strings.TrimPrefix(firstLine(strings.TrimSpace(out.Stdout)), "Version: ")
	}
	var issues []schema.Event
	for _, target := range t.settings.Targets {
		res, err := t.ScanPath(ctx, target)
		if err != nil {
			return issues, meta, err
		}
		issues = append(issues, res.Events...)
	}
	return issues, meta, nil
}

// ScanPath runs `trivy fs` over path.
func (t *Trivy) ScanPath(ctx context.Context, path string) (ScanResult, error) {
	return t.scan(ctx, "fs", path)
}

// ScanImage runs `trivy image` against a container image reference.
func (t *Trivy) ScanImage(ctx context.Context, image string) (ScanResult, error) {
	return t.scan(ctx, "image", image)
}

// scan exports a JSON report to a scratch file and reads it back. When no
// usable report appears after a clean exit it reruns with table output and
// parses that. A non-zero exit without a report is an error.
func (t *Trivy) scan(ctx context.Context, mode, target string) (res ScanResult, err error) {
	res = ScanResult{ScanID: newScanID(), Target: target}
	start := t.deps.Now()
	defer func() { res.Duration = t.deps.Now().Sub(start) }()

	scratch := filepath.Join(t.deps.StateDir, "scratch")
	if err := t.deps.FS.MkdirAll(scratch, 0o755); err != nil {
		return res, fmt.Errorf("create scratch dir: %w", err)
	}
	report := filepath.Join(scratch, fmt.Sprintf("trivy_%s.json", res.ScanID))
	defer func() { _ = t.deps.FS.Remove(report) }()

	out, err := t.run(ctx, mode, "--quiet", "--format", "json", "--output", report, target)
	if err != nil {
		return res, fmt.Errorf("trivy %s failed: %w", mode, err)
	}
	var vulns []parsers.Vulnerability
	ok := false
	if data, rerr := afero.ReadFile(t.deps.FS, report); rerr == nil {
		vulns, ok = parsers.ParseTrivyJSON(data)
	}
	if !ok {
		if out.ExitCode != 0 {
			return res, exitError(mode, out)
		}
		t.logger.Warnw("No JSON report, falling back to table output", "target", target)
		table, err := t.run(ctx, mode, "--quiet", "--format", "table", target)
		if err != nil {
			return res, fmt.Errorf("trivy %s failed: %w", mode, err)
		}
		if table.ExitCode != 0 {
			return res, exitError(mode, table)
		}
		vulns = parsers.ParseTrivyTable(table.Stdout)
	}

	res.Summary = map[string]string{"mode": mode}
	counts := map[schema.Severity]int{}
	for _, v := range vulns {
		e := t.ToCanonicalEvent(v, res.ScanID)
		counts[e.Severity]++
		res.Events = append(res.Events, e)
	}
	for _, sev := range schema.Severities() {
		res.Summary[string(sev)] = fmt.Sprint(counts[sev])
	}
	t.logger.Infow("Scan complete", "target", target, "mode", mode, "scan_id", res.ScanID, "vulnerabilities", len(vulns))
	return res, nil
}

func exitError(mode string, out execx.Result) error {
	return fmt.Errorf("trivy %s exited %d: %s", mode, out.ExitCode, firstLine(strings.TrimSpace(out.Stderr)))
}

// ToCanonicalEvent converts one vulnerability; the location is the package.
func (t *Trivy) ToCanonicalEvent(v parsers.Vulnerability, scanID string) schema.Event {
	desc := fmt.Sprintf("%s in %s %s: %s", v.VulnerabilityID, v.PkgName, v.InstalledVersion, v.Title)
	return t.event(MapTrivySeverity(v.Severity), desc, v.PkgName, "", time.Time{}, scanID, map[string]interface{}{
		"vulnerability_id":  v.VulnerabilityID,
		"installed_version": v.InstalledVersion,
		"fixed_version":     v.FixedVersion,
		"target":            v.Target,
		"title":             v.Title,
		"description":       v.Description,
		"primary_url":       v.PrimaryURL,
		"native_severity":   v.Severity,
	})
}
