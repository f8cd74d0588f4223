package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trivyReport = `{
  "SchemaVersion": 2,
  "ArtifactName": "/srv/app",
  "Results": [
    {
      "Target": "composer.lock",
      "Class": "lang-pkgs",
      "Vulnerabilities": [
        {
          "VulnerabilityID": "CVE-2023-25575",
          "PkgName": "symfony/http-kernel",
          "InstalledVersion": "5.4.8",
          "FixedVersion": "5.4.21",
          "Severity": "CRITICAL",
          "Title": "symfony: cache poisoning",
          "PrimaryURL": "https://avd.aquasec.com/nvd/cve-2023-25575"
        },
        {
          "VulnerabilityID": "CVE-2022-24894",
          "PkgName": "symfony/http-kernel",
          "InstalledVersion": "5.4.8",
          "Severity": "medium"
        }
      ]
    },
    {"Target": "package-lock.json", "Class": "lang-pkgs"}
  ]
}`

func TestParseTrivyJSON(t *testing.T) {
	vulns, ok := ParseTrivyJSON([]byte(trivyReport))
	require.True(t, ok)
	require.Len(t, vulns, 2)

	assert.Equal(t, Vulnerability{
		Target:           "composer.lock",
		PkgName:          "symfony/http-kernel",
		InstalledVersion: "5.4.8",
		FixedVersion:     "5.4.21",
		VulnerabilityID:  "CVE-2023-25575",
		Severity:         "CRITICAL",
		Title:            "symfony: cache poisoning",
		Description:      TrivyNoDescription,
		PrimaryURL:       "https://avd.aquasec.com/nvd/cve-2023-25575",
	}, vulns[0])

	assert.Equal(t, TrivyNoTitle, vulns[1].Title)
	assert.Equal(t, TrivyNotFixed, vulns[1].FixedVersion)
	assert.Equal(t, "MEDIUM", vulns[1].Severity)
}

func TestParseTrivyJSONRejectsText(t *testing.T) {
	_, ok := ParseTrivyJSON([]byte("composer.lock (composer)\n====="))
	assert.False(t, ok)
	vulns, ok := ParseTrivyJSON([]byte(`{"Results":null}`))
	assert.True(t, ok)
	assert.Empty(t, vulns)
}

const trivyTable = `
composer.lock (composer)
========================
Total: 3 (UNKNOWN: 0, LOW: 0, MEDIUM: 1, HIGH: 1, CRITICAL: 1)

┌─────────────────────┬────────────────┬──────────┬───────────────────┬───────────────┬──────────────────────────┐
│       Library       │ Vulnerability  │ Severity │ Installed Version │ Fixed Version │          Title           │
├─────────────────────┼────────────────┼──────────┼───────────────────┼───────────────┼──────────────────────────┤
│ symfony/http-kernel │ CVE-2023-25575 │ CRITICAL │ 5.4.8             │ 5.4.21        │ symfony: cache poisoning │
│                     │ CVE-2022-24894 │ MEDIUM   │                   │ 5.4.20        │ symfony: cookie exposure │
│                     │                │          │                   │               │ in http cache            │
├─────────────────────┼────────────────┼──────────┼───────────────────┼───────────────┼──────────────────────────┤
│ guzzlehttp/psr7     │ CVE-2023-29197 │ HIGH     │ 2.4.3             │               │ improper header parsing  │
└─────────────────────┴────────────────┴──────────┴───────────────────┴───────────────┴──────────────────────────┘
`

func TestParseTrivyTable(t *testing.T) {
	vulns := ParseTrivyTable(trivyTable)
	require.Len(t, vulns, 3)

	assert.Equal(t, "composer.lock", vulns[0].Target)
	assert.Equal(t, "CRITICAL", vulns[0].Severity)
	assert.Equal(t, "5.4.21", vulns[0].FixedVersion)

	assert.Equal(t, "symfony/http-kernel", vulns[1].PkgName, "merged cell inherits package")
	assert.Equal(t, "5.4.8", vulns[1].InstalledVersion, "merged cell inherits version")
	assert.Equal(t, "CVE-2022-24894", vulns[1].VulnerabilityID)

	assert.Equal(t, "guzzlehttp/psr7", vulns[2].PkgName)
	assert.Equal(t, TrivyNotFixed, vulns[2].FixedVersion)
}

func TestParseTrivyPlainRowsWithContext(t *testing.T) {
	out := `Package: openssl
Installed Version: 3.0.2
CVE-2024-0727 MEDIUM openssl: denial of service via null dereference
Fixed version: 3.0.13
CVE-2023-5678 LOW openssl: excessive time spent in DH checks
Package: zlib
Version: 1.2.11
CVE-2022-37434 CRITICAL zlib: heap overflow in inflate
`
	vulns := ParseTrivyTable(out)
	require.Len(t, vulns, 3)
	assert.Equal(t, "openssl", vulns[0].PkgName)
	assert.Equal(t, "3.0.2", vulns[0].InstalledVersion)
	assert.Equal(t, "3.0.13", vulns[0].FixedVersion)
	assert.Equal(t, TrivyNotFixed, vulns[1].FixedVersion)
	assert.Equal(t, "zlib", vulns[2].PkgName)
	assert.Equal(t, "1.2.11", vulns[2].InstalledVersion)
	assert.Equal(t, "CRITICAL", vulns[2].Severity)
}
