package report

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
	"github.com/yorozuya-cybersecurity/yoroguard/pkg/utils"
)

//go:embed templates/report.html
var reportHTMLTemplate string

const pdfTimeout = 60 * time.Second

// ---------- Public API ----------

func GenerateHTML(run utils.AuditRun, outDir string) (string, error) {
	vm := buildViewModel(run, time.Now().UTC())

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("create out dir: %w", err)
	}

	tmpl, err := template.New("report").Parse(reportHTMLTemplate)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vm); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	htmlPath := filepath.Join(outDir, "report.html")
	if err := os.WriteFile(htmlPath, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write report.html: %w", err)
	}

	return htmlPath, nil
}

var ErrBrowserNotFound = errors.New("no chrome or chromium binary found")

var browserCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
}

// GeneratePDF prints htmlPath to a sibling .pdf through headless Chrome.
func GeneratePDF(ctx context.Context, htmlPath string) (string, error) {
	browser, err := findBrowser()
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", htmlPath, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.ExecPath(browser))
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	browserCtx, cancel := context.WithTimeout(browserCtx, pdfTimeout)
	defer cancel()

	var pdf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("file://"+abs),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp: %w", err)
	}

	pdfPath := strings.TrimSuffix(abs, ".html") + ".pdf"
	if err := os.WriteFile(pdfPath, pdf, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(pdfPath), err)
	}
	return pdfPath, nil
}

func findBrowser() (string, error) {
	for _, name := range browserCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", ErrBrowserNotFound
}

// ---------- View Model & helpers ----------

type viewModel struct {
	Host           string
	ScanID         string
	ScanTime       string
	TotalIssues    int
	Counts         map[string]int
	Score          int
	Grade          string
	Services       []serviceRow
	Issues         []issueRow
	Generator      string
	GeneratedAt    string
	LegendSeverity []string
	Year           int
}

type serviceRow struct {
	DisplayName string
	Status      string
	Issues      int
}

type issueRow struct {
	Severity    string
	Service     string
	Type        string
	Description string
	Location    string
	Time        string
	rank        int
}

var sevWeight = map[schema.Severity]int{
	schema.SevCritical: 4,
	schema.SevHigh:     3,
	schema.SevMedium:   2,
	schema.SevLow:      1,
	schema.SevInfo:     0,
}

func buildViewModel(run utils.AuditRun, now time.Time) viewModel {
	counts := map[schema.Severity]int{}
	var rows []issueRow
	var svcRows []serviceRow

	for _, res := range run.Results {
		svcRows = append(svcRows, serviceRow{
			DisplayName: emptyFallback(res.DisplayName, res.Service),
			Status:      string(res.Status),
			Issues:      len(res.Issues),
		})
		for _, e := range res.Issues {
			counts[e.Severity]++
			ts := "-"
			if !e.Timestamp.IsZero() {
				ts = e.Timestamp.UTC().Format(time.RFC3339)
			}
			rows = append(rows, issueRow{
				Severity:    strings.ToUpper(string(e.Severity)),
				Service:     e.Service,
				Type:        string(e.Type),
				Description: trimTo(e.Description, 500),
				Location:    emptyFallback(trimTo(e.Location, 200), "-"),
				Time:        ts,
				rank:        e.Severity.Rank(),
			})
		}
	}

	// Sort issues: severity -> service -> description
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].rank != rows[j].rank {
			return rows[i].rank < rows[j].rank
		}
		if rows[i].Service != rows[j].Service {
			return rows[i].Service < rows[j].Service
		}
		return rows[i].Description < rows[j].Description
	})

	total := 0
	weighted := 0
	for sev, c := range counts {
		total += c
		weighted += sevWeight[sev] * c
	}
	score := 100
	if total > 0 {
		// More high/critical issues lower the score.
		penalty := min(100, (weighted*100)/(total*4))
		score = 100 - penalty
	}

	return viewModel{
		Host:           run.Host,
		ScanID:         run.ScanID,
		ScanTime:       run.Timestamp.UTC().Format(time.RFC3339),
		TotalIssues:    total,
		Counts:         normalizeCounts(counts),
		Score:          score,
		Grade:          scoreToGrade(score),
		Services:       svcRows,
		Issues:         rows,
		Generator:      "yoroguard",
		GeneratedAt:    now.Format(time.RFC3339),
		LegendSeverity: []string{"CRITICAL", "HIGH", "MEDIUM", "LOW", "INFO"},
		Year:           now.Year(),
	}
}

func scoreToGrade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func normalizeCounts(in map[schema.Severity]int) map[string]int {
	out := make(map[string]int)
	for _, sev := range schema.Severities() {
		out[strings.ToUpper(string(sev))] = in[sev]
	}
	return out
}

func trimTo(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func emptyFallback(s, fb string) string {
	if strings.TrimSpace(s) == "" {
		return fb
	}
	return s
}
