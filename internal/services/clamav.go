package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/parsers"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

const (
	ClamAVName = "clamav"

	clamDaemon       = "clamd"
	clamDefaultDB    = "/var/lib/clamav"
	clamDefaultLog   = "/var/log/clamav/clamav.log"
	clamStaleAfter   = 7 * 24 * time.Hour
	clamExitInfected = 1
)

// ClamAV adapts clamscan/clamd. clamscan works without the daemon, so the
// service is functional whenever a signature database is present.
type ClamAV struct {
	base
	dbDir string
}

func NewClamAV(s Settings, d Deps) *ClamAV {
	if s.Binary == "" {
		s.Binary = "clamscan"
	}
	if s.ConfigPath == "" {
		s.ConfigPath = "/etc/clamav/clamd.conf"
	}
	if s.LogPath == "" {
		s.LogPath = clamDefaultLog
	}
	c := &ClamAV{dbDir: clamDefaultDB}
	c.base = newBase(ClamAVName, "ClamAV", schema.TypeMalware, []Capability{CapScanner}, s, d)
	c.hooks = c
	return c
}

// WithDatabaseDir overrides the signature database location.
func (c *ClamAV) WithDatabaseDir(dir string) *ClamAV {
	c.dbDir = dir
	return c
}

func (c *ClamAV) installed(context.Context) bool { return c.lookPath() }

func (c *ClamAV) configured(context.Context) (bool, string) {
	if _, ok := c.signatureDB(); !ok {
		return false, fmt.Sprintf("no signature database in %s", c.dbDir)
	}
	return true, ""
}

func (c *ClamAV) running(ctx context.Context) bool { return c.processRunning(ctx, clamDaemon) }

func (c *ClamAV) functional(ctx context.Context) *bool {
	_, ok := c.signatureDB()
	return schema.Bool(ok && c.lookPath())
}

// signatureDB returns the newest modification time among daily.cvd/cld.
func (c *ClamAV) signatureDB() (time.Time, bool) {
	var newest time.Time
	found := false
	for _, name := range []string{"daily.cld", "daily.cvd"} {
		info, err := c.deps.FS.Stat(filepath.Join(c.dbDir, name))
		if err != nil {
			continue
		}
		found = true
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, found
}

func (c *ClamAV) audit(ctx context.Context, scanID string) ([]schema.Event, map[string]interface{}, error) {
	var issues []schema.Event
	meta := map[string]interface{}{}

	if updated, ok := c.signatureDB(); ok {
		age := c.deps.Now().Sub(updated)
		meta["signatures_updated"] = updated
		if age > clamStaleAfter {
			issues = append(issues, c.event(schema.SevMedium,
				fmt.Sprintf("signature database is %d days old", int(age.Hours()/24)),
				c.dbDir, "", time.Time{}, scanID, map[string]interface{}{"age_hours": int(age.Hours())}))
		}
	}

	// clamscan works without clamd, so a stopped daemon is reported, not raised.
	daemon := c.running(ctx)
	meta["daemon_running"] = daemon
	if !daemon {
		c.logger.Debugw("clamd is not running; on-access scanning unavailable", "process", clamDaemon)
	}

	if log, err := c.readTail(c.settings.LogPath); err == nil {
		hits := parsers.ParseClamDetections(log)
		meta["logged_detections"] = len(hits)
		for _, d := range hits {
			issues = append(issues, c.ToCanonicalEvent(d, scanID))
		}
	} else if !isNotExist(err) {
		c.logger.Debugw("Cannot read clamav log", "path", c.settings.LogPath, "error", err)
	}

	for _, target := range c.settings.Targets {
		res, err := c.ScanPath(ctx, target)
		if err != nil {
			return issues, meta, err
		}
		issues = append(issues, res.Events...)
	}
	return issues, meta, nil
}

// ScanPath runs a recursive clamscan over path.
func (c *ClamAV) ScanPath(ctx context.Context, path string) (ScanResult, error) {
	res := ScanResult{ScanID: newScanID(), Target: path}
	start := c.deps.Now()
	out, err := c.run(ctx, "-r", "-i", path)
	res.Duration = c.deps.Now().Sub(start)
	if err != nil {
		return res, fmt.Errorf("clamscan failed: %w", err)
	}
	for _, d := range parsers.ParseClamDetections(out.Stdout) {
		res.Events = append(res.Events, c.ToCanonicalEvent(d, res.ScanID))
	}
	res.Summary = parsers.ParseClamSummary(out.Stdout)
	if out.ExitCode > clamExitInfected {
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("clamscan exited with %d", out.ExitCode)
		}
		res.Events = append(res.Events, c.event(MapClamAVResult("error"), "scan error: "+firstLine(msg),
			path, "", time.Time{}, res.ScanID, map[string]interface{}{"exit_code": out.ExitCode}))
	}
	c.logger.Infow("Scan complete", "target", path, "scan_id", res.ScanID, "detections", len(res.Events))
	return res, nil
}

// ToCanonicalEvent converts one detection. Daemon log lines carry a
// "<date> -> " prefix in front of the path.
func (c *ClamAV) ToCanonicalEvent(d parsers.Detection, scanID string) schema.Event {
	path := d.Path
	if i := strings.LastIndex(path, " -> "); i >= 0 {
		path = path[i+len(" -> "):]
	}
	return c.event(MapClamAVResult("found"), fmt.Sprintf("%s detected in %s", d.Threat, path),
		path, "", time.Time{}, scanID, map[string]interface{}{"threat": d.Threat})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
