package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

// AuditRun is the on-disk form of one audit across services.
type AuditRun struct {
	Host      string               `json:"host"`
	ScanID    string               `json:"scan_id"`
	Timestamp time.Time            `json:"timestamp"`
	Results   []schema.AuditResult `json:"results"`
}

// SaveResult writes an audit run into ./<output>/<host_timestamp>/results.json
func SaveResult(run AuditRun, outputDir string) (string, error) {
	dir := filepath.Join(outputDir, SafeName(run.Host)+"_"+run.Timestamp.Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	file := filepath.Join(dir, "results.json")
	fh, err := os.Create(file)
	if err != nil {
		return "", fmt.Errorf("failed to create results.json: %w", err)
	}
	defer fh.Close()

	enc := json.NewEncoder(fh)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return "", fmt.Errorf("failed to encode results: %w", err)
	}

	return file, nil
}

// LoadResult reads back a results.json written by SaveResult.
func LoadResult(fromDir string) (AuditRun, error) {
	var run AuditRun
	data, err := os.ReadFile(filepath.Join(fromDir, "results.json"))
	if err != nil {
		return run, fmt.Errorf("read results.json: %w", err)
	}
	if err := json.Unmarshal(data, &run); err != nil {
		return run, fmt.Errorf("parse results.json: %w", err)
	}
	return run, nil
}

// SafeName replaces characters not safe for file paths
func SafeName(s string) string {
	invalid := []rune{'/', '\\', ':', '*', '?', '"', '<', '>', '|', ' '}
	rs := []rune(s)
	for i, r := range rs {
		for _, bad := range invalid {
			if r == bad {
				rs[i] = '_'
			}
		}
	}
	return string(rs)
}
