package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/parsers"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

const Fail2banName = "fail2ban"

// Fail2ban adapts fail2ban-client. Its log can also be followed live.
type Fail2ban struct {
	base
	*streamMonitor
}

func NewFail2ban(s Settings, d Deps) *Fail2ban {
	if s.Binary == "" {
		s.Binary = "fail2ban-client"
	}
	if s.ConfigPath == "" {
		s.ConfigPath = "/etc/fail2ban"
	}
	if s.LogPath == "" {
		s.LogPath = "/var/log/fail2ban.log"
	}
	f := &Fail2ban{}
	f.base = newBase(Fail2banName, "Fail2Ban", schema.TypeIntrusion,
		[]Capability{CapIntrusionPrevention, CapMonitor}, s, d)
	f.hooks = f
	f.streamMonitor = newStreamMonitor(&f.base, f.tailArgv, f.parseLine)
	return f
}

func (f *Fail2ban) tailArgv() []string {
	return []string{"tail", "-n", "0", "-F", f.settings.LogPath}
}

func (f *Fail2ban) parseLine(line string) (schema.Event, bool) {
	entry, ok := parsers.ParseFail2banLogLine(line, f.deps.Now())
	if !ok {
		return schema.Event{}, false
	}
	return f.ToCanonicalEvent(entry, ""), true
}

func (f *Fail2ban) installed(context.Context) bool { return f.lookPath() }

func (f *Fail2ban) configured(context.Context) (bool, string) {
	for _, name := range []string{"jail.local", "jail.conf"} {
		if f.exists(filepath.Join(f.settings.ConfigPath, name)) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("no jail.conf or jail.local in %s", f.settings.ConfigPath)
}

func (f *Fail2ban) running(ctx context.Context) bool {
	st, err := f.serverStatus(ctx)
	return err == nil && st.Running
}

func (f *Fail2ban) functional(context.Context) *bool { return nil }

func (f *Fail2ban) serverStatus(ctx context.Context) (parsers.Fail2banStatus, error) {
	out, err := f.run(ctx, "status")
	if err != nil {
		return parsers.Fail2banStatus{}, fmt.Errorf("fail2ban-client status: %w", err)
	}
	st := parsers.ParseFail2banStatus(out.Combined())
	if st.Version == "" {
		if v, err := f.run(ctx, "version"); err == nil {
			st.Version = parsers.ParseFail2banVersion(v.Combined())
		}
	}
	return st, nil
}

func (f *Fail2ban) jailStatus(ctx context.Context, jail string) (parsers.JailStatus, error) {
	out, err := f.run(ctx, "status", jail)
	if err != nil {
		return parsers.JailStatus{}, fmt.Errorf("fail2ban-client status %s: %w", jail, err)
	}
	js := parsers.ParseJailStatus(out.Stdout)
	js.Name = jail
	return js, nil
}

func (f *Fail2ban) audit(ctx context.Context, scanID string) ([]schema.Event, map[string]interface{}, error) {
	st, err := f.serverStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	meta := map[string]interface{}{"version": st.Version, "jails": st.Jails}
	if !st.Running {
		return []schema.Event{f.event(schema.SevHigh, "fail2ban server is not running",
			"process:fail2ban-server", "", time.Time{}, scanID, nil)}, meta, nil
	}

	var issues []schema.Event
	if len(st.Jails) == 0 {
		issues = append(issues, f.event(schema.SevMedium, "no fail2ban jails are enabled", "", "", time.Time{}, scanID, nil))
	}
	totalBanned := 0
	for _, jail := range st.Jails {
		js, err := f.jailStatus(ctx, jail)
		if err != nil {
			f.logger.Warnw("Jail status failed", "jail", jail, "error", err)
			continue
		}
		totalBanned += len(js.BannedIPs)
		details := map[string]interface{}{
			"jail":             jail,
			"currently_failed": js.CurrentlyFailed,
			"total_failed":     js.TotalFailed,
			"currently_banned": js.CurrentlyBanned,
			"total_banned":     js.TotalBanned,
		}
		if len(js.BannedIPs) > 0 {
			details["banned_ips"] = js.BannedIPs
			issues = append(issues, f.event(MapFail2banAction("ban"),
				fmt.Sprintf("[%s] %d banned IP(s)", jail, len(js.BannedIPs)),
				strings.Join(js.BannedIPs, ","), "", time.Time{}, scanID, details))
		}
		if js.CurrentlyFailed > 0 {
			issues = append(issues, f.event(MapFail2banLevel("warning"),
				fmt.Sprintf("[%s] %d host(s) currently failing authentication", jail, js.CurrentlyFailed),
				"", "", time.Time{}, scanID, details))
		}
	}
	meta["banned_ips"] = totalBanned
	return issues, meta, nil
}

// BannedIPs returns the banned addresses per jail. A jail without a
// banned-IP line and a jail with an empty list look the same.
func (f *Fail2ban) BannedIPs(ctx context.Context) (map[string][]string, error) {
	st, err := f.serverStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(st.Jails))
	for _, jail := range st.Jails {
		js, err := f.jailStatus(ctx, jail)
		if err != nil {
			return nil, err
		}
		ips := append([]string{}, js.BannedIPs...)
		sort.Strings(ips)
		out[jail] = ips
	}
	return out, nil
}

// RecentEvents reads the fail2ban log, newest first.
func (f *Fail2ban) RecentEvents(_ context.Context, limit int) []schema.Event {
	data, err := f.readTail(f.settings.LogPath)
	if err != nil {
		f.logger.Debugw("Cannot read fail2ban log", "path", f.settings.LogPath, "error", err)
		return nil
	}
	entries := parsers.ParseFail2banLog(data, limit, f.deps.Now())
	out := make([]schema.Event, 0, len(entries))
	for _, e := range entries {
		out = append(out, f.ToCanonicalEvent(e, ""))
	}
	return out
}

// ToCanonicalEvent classifies ban actions by action and everything else
// by log level.
func (f *Fail2ban) ToCanonicalEvent(e parsers.Fail2banLogEntry, scanID string) schema.Event {
	sev := MapFail2banLevel(e.Level)
	details := map[string]interface{}{
		"component": e.Component,
		"pid":       e.PID,
		"level":     e.Level,
	}
	if e.Action != "" {
		sev = MapFail2banAction(e.Action)
		details["jail"] = e.Jail
		details["action"] = e.Action
		details["ip"] = e.IP
	}
	return f.event(sev, e.Message, e.IP, "", e.Timestamp, scanID, details)
}
