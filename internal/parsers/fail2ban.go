package parsers

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Fail2banStatus is what can be recovered from `fail2ban-client status`.
type Fail2banStatus struct {
	Running bool
	Version string
	Jails   []string
}

// JailStatus is the detail block of `fail2ban-client status <jail>`.
type JailStatus struct {
	Name            string
	CurrentlyFailed int
	TotalFailed     int
	CurrentlyBanned int
	TotalBanned     int
	BannedIPs       []string
	Files           []string
	Filter          string
	Actions         []string
}

// Fail2banLogEntry is one parsed line of fail2ban.log.
type Fail2banLogEntry struct {
	Timestamp time.Time
	Component string
	PID       int
	Level     string
	Message   string
	Jail      string
	Action    string
	IP        string
}

// The status dump changes between releases, so any of these means the
// server answered.
var fail2banRunningMarkers = []string{"Server replied:", "Jail list:", "Number of jail:"}

var (
	f2bVersionRe  = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?(?:[.-][0-9A-Za-z]+)*)`)
	f2bJailListRe = regexp.MustCompile(`(?m)Jail list:\s*(.*)$`)

	jailNameRe       = regexp.MustCompile(`(?m)Status for the jail:\s*(\S+)`)
	jailCurFailedRe  = regexp.MustCompile(`(?m)Currently failed:\s*(\d+)`)
	jailTotFailedRe  = regexp.MustCompile(`(?m)Total failed:\s*(\d+)`)
	jailCurBannedRe  = regexp.MustCompile(`(?m)Currently banned:\s*(\d+)`)
	jailTotBannedRe  = regexp.MustCompile(`(?m)Total banned:\s*(\d+)`)
	jailBannedListRe = regexp.MustCompile(`(?m)Banned IP list:[ \t]*(.*)$`)
	jailFileListRe   = regexp.MustCompile(`(?m)File list:[ \t]*(.*)$`)
	jailFilterRe     = regexp.MustCompile(`(?mi)^[\s|` + "`" + `-]*filter(?: name)?:[ \t]*(\S.*)$`)
	jailActionsRe    = regexp.MustCompile(`(?mi)^[\s|` + "`" + `-]*actions?(?: list)?:[ \t]*(\S.*)$`)
	jailJournalRe    = regexp.MustCompile(`(?m)Journal matches:[ \t]*(.*)$`)

	f2bLogRe    = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:,\d+)?)\s+fail2ban\.(\S+)\s*\[(\d+)\]:\s*([A-Z]+)\s+(.*)$`)
	f2bActionRe = regexp.MustCompile(`\[([^\]]+)\]\s+(?:Restore\s+)?(Ban|Unban)\s+(\S+)`)
)

// ParseFail2banStatus runs the three independent extractors over one dump.
func ParseFail2banStatus(out string) Fail2banStatus {
	return Fail2banStatus{
		Running: ParseFail2banRunning(out),
		Version: ParseFail2banVersion(out),
		Jails:   ParseFail2banJails(out),
	}
}

func ParseFail2banRunning(out string) bool {
	for _, marker := range fail2banRunningMarkers {
		if strings.Contains(out, marker) {
			return true
		}
	}
	return false
}

// ParseFail2banVersion returns the first semver-like token, or "".
func ParseFail2banVersion(out string) string {
	m := f2bVersionRe.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return m[1]
}

func ParseFail2banJails(out string) []string {
	m := f2bJailListRe.FindStringSubmatch(out)
	if m == nil {
		return nil
	}
	return splitList(m[1], ", ")
}

// ParseJailStatus extracts each field of a jail block independently.
// A missing "Banned IP list" line and an empty one both yield no IPs.
func ParseJailStatus(out string) JailStatus {
	js := JailStatus{
		Name:            firstGroup(jailNameRe, out),
		CurrentlyFailed: atoiOrZero(firstGroup(jailCurFailedRe, out)),
		TotalFailed:     atoiOrZero(firstGroup(jailTotFailedRe, out)),
		CurrentlyBanned: atoiOrZero(firstGroup(jailCurBannedRe, out)),
		TotalBanned:     atoiOrZero(firstGroup(jailTotBannedRe, out)),
		BannedIPs:       strings.Fields(firstGroup(jailBannedListRe, out)),
		Files:           strings.Fields(firstGroup(jailFileListRe, out)),
		Filter:          strings.TrimSpace(firstGroup(jailFilterRe, out)),
		Actions:         splitList(firstGroup(jailActionsRe, out), ","),
	}
	if js.Filter == "" {
		js.Filter = strings.TrimSpace(firstGroup(jailJournalRe, out))
	}
	return js
}

// ParseFail2banLog parses fail2ban.log lines most-recent-first and returns
// at most limit entries. A limit <= 0 returns everything.
func ParseFail2banLog(out string, limit int, now time.Time) []Fail2banLogEntry {
	lines := strings.Split(out, "\n")
	var entries []Fail2banLogEntry
	for i := len(lines) - 1; i >= 0; i-- {
		if limit > 0 && len(entries) >= limit {
			break
		}
		entry, ok := ParseFail2banLogLine(lines[i], now)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// ParseFail2banLogLine parses a single log line.
func ParseFail2banLogLine(line string, now time.Time) (Fail2banLogEntry, bool) {
	m := f2bLogRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Fail2banLogEntry{}, false
	}
	pid, _ := strconv.Atoi(m[3])
	entry := Fail2banLogEntry{
		Timestamp: fail2banTime(m[1], now),
		Component: m[2],
		PID:       pid,
		Level:     m[4],
		Message:   strings.TrimSpace(m[5]),
	}
	if a := f2bActionRe.FindStringSubmatch(entry.Message); a != nil {
		entry.Jail = a[1]
		entry.Action = strings.ToLower(a[2])
		entry.IP = a[3]
	}
	return entry, true
}

func fail2banTime(raw string, now time.Time) time.Time {
	if t, err := time.ParseInLocation("2006-01-02 15:04:05,000", raw, time.Local); err == nil {
		return t
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, time.Local); err == nil {
		return t
	}
	return now
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
