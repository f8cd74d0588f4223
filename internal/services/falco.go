package services

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/parsers"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

const FalcoName = "falco"

// falcoConfig is the subset of falco.yaml the audit inspects.
type falcoConfig struct {
	JSONOutput  *bool       `yaml:"json_output"`
	RulesFile   stringOrSeq `yaml:"rules_file"`
	RulesFiles  stringOrSeq `yaml:"rules_files"`
	Priority    string      `yaml:"priority"`
	StdoutOut   outputBlock `yaml:"stdout_output"`
	FileOutput  outputBlock `yaml:"file_output"`
	SyslogOut   outputBlock `yaml:"syslog_output"`
	HTTPOutput  outputBlock `yaml:"http_output"`
	GRPCOutput  outputBlock `yaml:"grpc_output"`
	ProgramOut  outputBlock `yaml:"program_output"`
	BufferedOut *bool       `yaml:"buffered_outputs"`
}

type outputBlock struct {
	Enabled bool `yaml:"enabled"`
}

// stringOrSeq accepts a scalar or a list in YAML.
type stringOrSeq []string

func (s *stringOrSeq) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	return fmt.Errorf("rules file: unexpected yaml node kind %d", node.Kind)
}

func (c falcoConfig) rules() []string {
	return append(append([]string{}, c.RulesFile...), c.RulesFiles...)
}

func (c falcoConfig) anyOutput() bool {
	return c.StdoutOut.Enabled || c.FileOutput.Enabled || c.SyslogOut.Enabled ||
		c.HTTPOutput.Enabled || c.GRPCOutput.Enabled || c.ProgramOut.Enabled
}

// Falco adapts the runtime behavior monitor. Alerts are streamed from a
// supervised falco process with JSON output forced on.
type Falco struct {
	base
	*streamMonitor
}

func NewFalco(s Settings, d Deps) *Falco {
	if s.Binary == "" {
		s.Binary = "falco"
	}
	if s.ConfigPath == "" {
		s.ConfigPath = "/etc/falco/falco.yaml"
	}
	f := &Falco{}
	f.base = newBase(FalcoName, "Falco", schema.TypeBehavioral, []Capability{CapMonitor}, s, d)
	f.hooks = f
	f.streamMonitor = newStreamMonitor(&f.base, f.monitorArgv, f.parseLine)
	return f
}

func (f *Falco) monitorArgv() []string {
	return []string{f.binary(), "-U", "-c", f.settings.ConfigPath, "-o", "json_output=true", "-o", "stdout_output.enabled=true"}
}

func (f *Falco) parseLine(line string) (schema.Event, bool) {
	rec, ok := parsers.ParseFalcoLine(line)
	if !ok {
		return schema.Event{}, false
	}
	return f.ToCanonicalEvent(rec, ""), true
}

func (f *Falco) loadConfig() (falcoConfig, error) {
	var cfg falcoConfig
	data, err := afero.ReadFile(f.deps.FS, f.settings.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", f.settings.ConfigPath, err)
	}
	return cfg, nil
}

func (f *Falco) installed(context.Context) bool { return f.lookPath() }

func (f *Falco) configured(context.Context) (bool, string) {
	if _, err := f.loadConfig(); err != nil {
		if isNotExist(err) {
			return false, fmt.Sprintf("%s not found", f.settings.ConfigPath)
		}
		return false, err.Error()
	}
	return true, ""
}

func (f *Falco) running(ctx context.Context) bool {
	return f.IsMonitoring() || f.processRunning(ctx, "falco")
}

func (f *Falco) functional(context.Context) *bool { return nil }

func (f *Falco) audit(ctx context.Context, scanID string) ([]schema.Event, map[string]interface{}, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	var issues []schema.Event
	rules := cfg.rules()
	meta := map[string]interface{}{"rules_files": rules, "monitoring": f.IsMonitoring()}

	if cfg.JSONOutput == nil || !*cfg.JSONOutput {
		issues = append(issues, f.event(schema.SevLow, "json_output is disabled; alerts are only parseable as text",
			f.settings.ConfigPath, "", time.Time{}, scanID, nil))
	}
	if !cfg.anyOutput() {
		issues = append(issues, f.event(schema.SevHigh, "no falco output channel is enabled",
			f.settings.ConfigPath, "", time.Time{}, scanID, nil))
	}
	if len(rules) == 0 {
		issues = append(issues, f.event(schema.SevMedium, "no rules files configured",
			f.settings.ConfigPath, "", time.Time{}, scanID, nil))
	}
	for _, r := range rules {
		if !f.exists(r) {
			issues = append(issues, f.event(schema.SevMedium, "rules file missing: "+r,
				r, "", time.Time{}, scanID, nil))
		}
	}
	if !f.running(ctx) {
		issues = append(issues, f.event(schema.SevMedium, "falco is not running; runtime behavior is unmonitored",
			"process:falco", "", time.Time{}, scanID, nil))
	}
	for _, e := range f.GetRecentEvents(0) {
		if e.Severity.AtLeast(schema.SevHigh) {
			e.ScanID = scanID
			issues = append(issues, e)
		}
	}
	return issues, meta, nil
}

// ToCanonicalEvent converts one alert. The location names the offending
// process when the alert carries one.
func (f *Falco) ToCanonicalEvent(rec parsers.FalcoRecord, scanID string) schema.Event {
	fields := rec.Fields()
	rule := rec.String("rule")
	desc := rec.String("output")
	if desc == "" {
		desc = rule
	}
	location := ""
	if p := fields["proc.name"]; p != "" {
		location = "process:" + p
	} else if fd := fields["fd.name"]; fd != "" {
		location = fd
	}
	details := map[string]interface{}{"priority": rec.String("priority")}
	if rule != "" {
		details["rule"] = rule
	}
	for k, v := range fields {
		if k == "user.name" {
			continue
		}
		details[k] = v
	}
	ts := schema.ParseTime(rec.String("time"), f.deps.Now())
	return f.event(MapFalcoPriority(rec.String("priority")), desc, location, fields["user.name"], ts, scanID, details)
}
