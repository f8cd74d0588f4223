package parsers

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// FirewallLogEntry is one `[UFW <ACTION>]` kernel log line.
type FirewallLogEntry struct {
	SyslogTime string
	KernelTime string
	Action     string
	In         string
	Out        string
	Src        string
	Dst        string
	Proto      string
	SrcPort    string
	DstPort    string
}

// FirewallRule is one row of the `ufw status numbered` table.
type FirewallRule struct {
	Number    int
	To        string
	Action    string
	Direction string
	From      string
	IPv6      bool
}

// FirewallStatus is what `ufw status verbose|numbered` reports.
type FirewallStatus struct {
	Known    bool
	Active   bool
	Defaults map[string]string
	Rules    []FirewallRule
}

var (
	ufwLogRe = regexp.MustCompile(`^(?:([A-Z][a-z]{2}\s+\d+\s+\d{2}:\d{2}:\d{2}|\d{4}-\d{2}-\d{2}T\S+)\s+)?.*?\[\s*(\d+\.\d+)\]\s*\[UFW ([A-Z ]+?)\]\s*(.*)$`)

	ufwInRe    = regexp.MustCompile(`\bIN=(\S*)`)
	ufwOutRe   = regexp.MustCompile(`\bOUT=(\S*)`)
	ufwSrcRe   = regexp.MustCompile(`\bSRC=(\S+)`)
	ufwDstRe   = regexp.MustCompile(`\bDST=(\S+)`)
	ufwProtoRe = regexp.MustCompile(`\bPROTO=(\S+)`)
	ufwSptRe   = regexp.MustCompile(`\bSPT=(\d+)`)
	ufwDptRe   = regexp.MustCompile(`\bDPT=(\d+)`)

	ufwStatusRe   = regexp.MustCompile(`(?i)^Status:\s*(active|inactive)`)
	ufwDefaultRe  = regexp.MustCompile(`(?i)^Default:\s*(.*)$`)
	ufwPolicyRe   = regexp.MustCompile(`(\w+)\s*\((\w+)\)`)
	ufwDashRe     = regexp.MustCompile(`^\s*--\s+-{2,}`)
	ufwNumRowRe   = regexp.MustCompile(`^\[\s*(\d+)\]\s+(.+?)\s+(ALLOW|DENY|REJECT|LIMIT)(?:\s+(IN|OUT|FWD))?\s+(.+?)\s*$`)
	ufwPlainRowRe = regexp.MustCompile(`^(.+?)\s{2,}(ALLOW|DENY|REJECT|LIMIT)(?:\s+(IN|OUT|FWD))?\s{2,}(.+?)\s*$`)
)

// ParseUFWLog parses every UFW line in a log excerpt, oldest first.
func ParseUFWLog(out string) []FirewallLogEntry {
	var entries []FirewallLogEntry
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if e, ok := ParseUFWLogLine(sc.Text()); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// ParseUFWLogLine extracts the timestamps and action, then each
// key=value field independently.
func ParseUFWLogLine(line string) (FirewallLogEntry, bool) {
	m := ufwLogRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return FirewallLogEntry{}, false
	}
	kv := m[4]
	return FirewallLogEntry{
		SyslogTime: m[1],
		KernelTime: m[2],
		Action:     strings.ToLower(strings.TrimSpace(m[3])),
		In:         firstGroup(ufwInRe, kv),
		Out:        firstGroup(ufwOutRe, kv),
		Src:        firstGroup(ufwSrcRe, kv),
		Dst:        firstGroup(ufwDstRe, kv),
		Proto:      firstGroup(ufwProtoRe, kv),
		SrcPort:    firstGroup(ufwSptRe, kv),
		DstPort:    firstGroup(ufwDptRe, kv),
	}, true
}

// ParseUFWStatus reads the active flag, default policies and the rule table
// that follows the dashed header line.
func ParseUFWStatus(out string) FirewallStatus {
	st := FirewallStatus{Defaults: map[string]string{}}
	inTable := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := ufwStatusRe.FindStringSubmatch(line); m != nil {
			st.Known = true
			st.Active = strings.EqualFold(m[1], "active")
			continue
		}
		if m := ufwDefaultRe.FindStringSubmatch(line); m != nil {
			for _, p := range ufwPolicyRe.FindAllStringSubmatch(m[1], -1) {
				st.Defaults[strings.ToLower(p[2])] = strings.ToLower(p[1])
			}
			continue
		}
		if ufwDashRe.MatchString(line) {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		if rule, ok := parseUFWRule(line); ok {
			st.Rules = append(st.Rules, rule)
		}
	}
	return st
}

func parseUFWRule(line string) (FirewallRule, bool) {
	var rule FirewallRule
	if m := ufwNumRowRe.FindStringSubmatch(line); m != nil {
		rule.Number, _ = strconv.Atoi(m[1])
		rule.To, rule.Action, rule.Direction, rule.From = m[2], m[3], m[4], m[5]
	} else if m := ufwPlainRowRe.FindStringSubmatch(line); m != nil {
		rule.To, rule.Action, rule.Direction, rule.From = m[1], m[2], m[3], m[4]
	} else {
		return rule, false
	}
	rule.To = strings.TrimSpace(rule.To)
	rule.Direction = orDefault(rule.Direction, "IN")
	rule.IPv6 = strings.Contains(rule.To, "(v6)") || strings.Contains(rule.From, "(v6)")
	return rule, true
}

// Port returns the numeric port of the rule target, or 0.
func (r FirewallRule) Port() int {
	to := strings.TrimSpace(strings.TrimSuffix(r.To, "(v6)"))
	to = strings.SplitN(to, "/", 2)[0]
	if i := strings.LastIndex(to, " "); i >= 0 {
		to = to[i+1:]
	}
	n, err := strconv.Atoi(to)
	if err != nil {
		return 0
	}
	return n
}
