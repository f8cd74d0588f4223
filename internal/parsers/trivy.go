package parsers

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Placeholders substituted for missing Trivy fields so a record is never dropped.
const (
	TrivyNoTitle       = "No title available"
	TrivyNoDescription = "No description available"
	TrivyNotFixed      = "Not fixed"
	TrivyUnknown       = "unknown"
)

// Vulnerability is one finding from `trivy fs`.
type Vulnerability struct {
	Target           string
	PkgName          string
	InstalledVersion string
	FixedVersion     string
	VulnerabilityID  string
	Severity         string
	Title            string
	Description      string
	PrimaryURL       string
}

type trivyJSON struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID  string `json:"VulnerabilityID"`
			PkgName          string `json:"PkgName"`
			InstalledVersion string `json:"InstalledVersion"`
			FixedVersion     string `json:"FixedVersion"`
			Title            string `json:"Title"`
			Description      string `json:"Description"`
			Severity         string `json:"Severity"`
			PrimaryURL       string `json:"PrimaryURL"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

var (
	trivyVulnIDRe   = regexp.MustCompile(`^(CVE-\d{4}-\d+|GHSA-[0-9a-z-]+|[A-Z]+-\d{4}-\d+)$`)
	trivyPackageRe  = regexp.MustCompile(`^(?:Package|Library|PkgName):\s*(\S+)`)
	trivyVersionRe  = regexp.MustCompile(`^(?:Installed Version|InstalledVersion|Version):\s*(\S+)`)
	trivyPlainRowRe = regexp.MustCompile(`^(CVE-\d{4}-\d+|GHSA-[0-9a-z-]+)\s+(CRITICAL|HIGH|MEDIUM|LOW|UNKNOWN)\s*(.*)$`)
	trivyFixedRe    = regexp.MustCompile(`^Fixed [Vv]ersion:\s*(\S+)`)
)

// ParseTrivyJSON walks Results[].Vulnerabilities[]. ok is false when the
// payload is not a Trivy JSON report at all.
func ParseTrivyJSON(raw []byte) (vulns []Vulnerability, ok bool) {
	var doc trivyJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	for _, r := range doc.Results {
		for _, v := range r.Vulnerabilities {
			vulns = append(vulns, Vulnerability{
				Target:           r.Target,
				PkgName:          orDefault(v.PkgName, TrivyUnknown),
				InstalledVersion: orDefault(v.InstalledVersion, TrivyUnknown),
				FixedVersion:     orDefault(v.FixedVersion, TrivyNotFixed),
				VulnerabilityID:  orDefault(v.VulnerabilityID, TrivyUnknown),
				Severity:         orDefault(strings.ToUpper(v.Severity), "UNKNOWN"),
				Title:            orDefault(v.Title, TrivyNoTitle),
				Description:      orDefault(v.Description, TrivyNoDescription),
				PrimaryURL:       v.PrimaryURL,
			})
		}
	}
	return vulns, true
}

// ParseTrivyTable handles the human-readable table output. It keeps the
// current package/version context from context lines and from merged
// table cells, and peeks one line ahead for a "Fixed version:" continuation.
func ParseTrivyTable(out string) []Vulnerability {
	var (
		vulns  []Vulnerability
		target string
		curPkg string
		curVer string
	)
	lines := strings.Split(out, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if i+1 < len(lines) && isUnderline(lines[i+1]) {
			target = strings.TrimSpace(strings.SplitN(line, " (", 2)[0])
			continue
		}
		if m := trivyPackageRe.FindStringSubmatch(line); m != nil {
			curPkg, curVer = m[1], ""
			continue
		}
		if m := trivyVersionRe.FindStringSubmatch(line); m != nil {
			curVer = m[1]
			continue
		}
		if cells := tableCells(line); len(cells) >= 3 {
			v, ok := tableRow(cells, curPkg, curVer)
			if !ok {
				continue
			}
			curPkg, curVer = v.PkgName, v.InstalledVersion
			v.Target = target
			vulns = append(vulns, v)
			continue
		}
		if m := trivyPlainRowRe.FindStringSubmatch(line); m != nil {
			v := Vulnerability{
				Target:           target,
				PkgName:          orDefault(curPkg, TrivyUnknown),
				InstalledVersion: orDefault(curVer, TrivyUnknown),
				FixedVersion:     TrivyNotFixed,
				VulnerabilityID:  m[1],
				Severity:         m[2],
				Title:            orDefault(strings.TrimSpace(m[3]), TrivyNoTitle),
				Description:      TrivyNoDescription,
			}
			if i+1 < len(lines) {
				if f := trivyFixedRe.FindStringSubmatch(strings.TrimSpace(lines[i+1])); f != nil {
					v.FixedVersion = f[1]
					i++
				}
			}
			vulns = append(vulns, v)
		}
	}
	return vulns
}

// tableRow reads `Library | Vulnerability | Severity | Installed | Fixed | Title`.
// Blank leading cells inherit the package context of the row above.
func tableRow(cells []string, curPkg, curVer string) (Vulnerability, bool) {
	idx := -1
	for i, c := range cells {
		if trivyVulnIDRe.MatchString(c) {
			idx = i
			break
		}
	}
	if idx < 0 || idx+1 >= len(cells) {
		return Vulnerability{}, false
	}
	pkg := curPkg
	if idx > 0 && cells[idx-1] != "" {
		pkg = cells[idx-1]
	}
	rest := cells[idx+1:]
	cell := func(n int) string {
		if n < len(rest) {
			return rest[n]
		}
		return ""
	}
	ver := cell(1)
	if ver == "" && pkg == curPkg {
		ver = curVer
	}
	return Vulnerability{
		PkgName:          orDefault(pkg, TrivyUnknown),
		VulnerabilityID:  cells[idx],
		Severity:         orDefault(strings.ToUpper(cell(0)), "UNKNOWN"),
		InstalledVersion: orDefault(ver, TrivyUnknown),
		FixedVersion:     orDefault(cell(2), TrivyNotFixed),
		Title:            orDefault(cell(3), TrivyNoTitle),
		Description:      TrivyNoDescription,
	}, true
}

func tableCells(line string) []string {
	sep := ""
	switch {
	case strings.Contains(line, "│"):
		sep = "│"
	case strings.HasPrefix(line, "|"):
		sep = "|"
	default:
		return nil
	}
	parts := strings.Split(strings.Trim(line, sep+" "), sep)
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

func isUnderline(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) > 2 && strings.Trim(line, "=") == ""
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}
