package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/parsers"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

const UFWName = "ufw"

// sensitivePorts should never accept connections from anywhere.
var sensitivePorts = map[int]string{
	22:   "ssh",
	3306: "mysql",
	5432: "postgresql",
	6379: "redis",
}

// UFW adapts the uncomplicated firewall. "Running" means the firewall is
// active, which `ufw status` reports only to root.
type UFW struct {
	base
}

func NewUFW(s Settings, d Deps) *UFW {
	if s.Binary == "" {
		s.Binary = "ufw"
	}
	if s.ConfigPath == "" {
		s.ConfigPath = "/etc/ufw/ufw.conf"
	}
	if s.LogPath == "" {
		s.LogPath = "/var/log/ufw.log"
	}
	u := &UFW{}
	u.base = newBase(UFWName, "UFW", schema.TypeFirewall, []Capability{CapFirewall}, s, d)
	u.hooks = u
	return u
}

func (u *UFW) installed(context.Context) bool { return u.lookPath() }

func (u *UFW) configured(context.Context) (bool, string) {
	if !u.exists(u.settings.ConfigPath) {
		return false, fmt.Sprintf("%s not found", u.settings.ConfigPath)
	}
	return true, ""
}

func (u *UFW) running(ctx context.Context) bool {
	st, err := u.FirewallStatus(ctx)
	return err == nil && st.Active
}

func (u *UFW) functional(context.Context) *bool { return nil }

// FirewallStatus runs `ufw status verbose`. An unreadable status, usually
// from running without root, is an error.
func (u *UFW) FirewallStatus(ctx context.Context) (parsers.FirewallStatus, error) {
	out, err := u.run(ctx, "status", "verbose")
	if err != nil {
		return parsers.FirewallStatus{}, fmt.Errorf("ufw status: %w", err)
	}
	st := parsers.ParseUFWStatus(out.Stdout)
	if !st.Known {
		msg := strings.TrimSpace(out.Combined())
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", out.ExitCode)
		}
		return st, fmt.Errorf("ufw status unreadable: %s", firstLine(msg))
	}
	return st, nil
}

func (u *UFW) audit(ctx context.Context, scanID string) ([]schema.Event, map[string]interface{}, error) {
	st, err := u.FirewallStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	meta := map[string]interface{}{"active": st.Active, "defaults": st.Defaults, "rules": len(st.Rules)}
	if !st.Active {
		return []schema.Event{u.event(schema.SevCritical, "firewall is inactive", "", "", time.Time{}, scanID, nil)}, meta, nil
	}

	var issues []schema.Event
	if strings.EqualFold(st.Defaults["incoming"], "allow") {
		issues = append(issues, u.event(schema.SevHigh, "default incoming policy is allow", "", "", time.Time{}, scanID,
			map[string]interface{}{"policy": st.Defaults["incoming"]}))
	}
	for _, r := range st.Rules {
		svc, sensitive := sensitivePorts[r.Port()]
		if !sensitive || r.Action != "ALLOW" || r.Direction != "IN" || !strings.HasPrefix(r.From, "Anywhere") {
			continue
		}
		issues = append(issues, u.event(schema.SevMedium,
			fmt.Sprintf("%s port %d is open to anywhere", svc, r.Port()), r.To, "", time.Time{}, scanID,
			map[string]interface{}{"rule": r.Number, "from": r.From, "ipv6": r.IPv6}))
	}
	return issues, meta, nil
}

// RecentEvents reads the UFW kernel log, newest first.
func (u *UFW) RecentEvents(_ context.Context, limit int) []schema.Event {
	data, err := u.readTail(u.settings.LogPath)
	if err != nil {
		u.logger.Debugw("Cannot read ufw log", "path", u.settings.LogPath, "error", err)
		return nil
	}
	entries := parsers.ParseUFWLog(data)
	out := make([]schema.Event, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, u.ToCanonicalEvent(entries[i], ""))
	}
	return out
}

// ToCanonicalEvent converts one log line; the location is the source address.
func (u *UFW) ToCanonicalEvent(e parsers.FirewallLogEntry, scanID string) schema.Event {
	desc := fmt.Sprintf("UFW %s %s %s -> %s", strings.ToUpper(e.Action), e.Proto,
		hostPort(e.Src, e.SrcPort), hostPort(e.Dst, e.DstPort))
	details := map[string]interface{}{
		"action":      e.Action,
		"in":          e.In,
		"out":         e.Out,
		"dst":         e.Dst,
		"proto":       e.Proto,
		"src_port":    e.SrcPort,
		"dst_port":    e.DstPort,
		"kernel_time": e.KernelTime,
	}
	ts := schema.ParseTime(e.SyslogTime, u.deps.Now())
	return u.event(MapUFWAction(e.Action), desc, e.Src, "", ts, scanID, details)
}

func hostPort(host, port string) string {
	if port == "" {
		return host
	}
	return host + ":" + port
}
