// Package parsers turns the raw text and JSON emitted by the supervised
// security tools into intermediate records. Parsers never fail: malformed
// input yields fewer records, and every extracted field is optional.
package parsers

import (
	"bufio"
	"regexp"
	"strings"
)

// Detection is one `<path>: <threat> FOUND` hit from clamscan/clamdscan.
type Detection struct {
	Path   string
	Threat string
}

var (
	clamFoundRe   = regexp.MustCompile(`^(.+?):\s+(.+?)\s+FOUND\s*$`)
	clamSummaryRe = regexp.MustCompile(`^-+\s*SCAN SUMMARY\s*-+$`)
	clamKVRe      = regexp.MustCompile(`^([^:]+):\s*(.*)$`)
)

// ParseClamDetections scans line by line for FOUND markers.
func ParseClamDetections(out string) []Detection {
	var hits []Detection
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := clamFoundRe.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		hits = append(hits, Detection{Path: m[1], Threat: m[2]})
	}
	return hits
}

// ParseClamSummary captures the key: value pairs following the
// SCAN SUMMARY marker, stopping at the first blank line after it.
// Keys are lower-cased and snake_cased ("Infected files" -> "infected_files").
func ParseClamSummary(out string) map[string]string {
	summary := map[string]string{}
	capturing := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !capturing {
			if clamSummaryRe.MatchString(line) {
				capturing = true
			}
			continue
		}
		if line == "" {
			break
		}
		m := clamKVRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		summary[snakeKey(m[1])] = strings.TrimSpace(m[2])
	}
	return summary
}

func snakeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}
