package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/events"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/execx"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/metrics"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/supervisor"
)

const (
	probeTimeout = 10 * time.Second
	tailBytes    = 256 * 1024
)

// Settings is the per-service slice of configuration.
type Settings struct {
	Enabled    bool
	Binary     string
	ConfigPath string
	LogPath    string
	Targets    []string
	Timeout    time.Duration
}

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Runner     execx.Runner
	FS         afero.Fs
	Logger     *zap.SugaredLogger
	Metrics    *metrics.Metrics
	Supervisor *supervisor.Supervisor
	Bus        *events.Bus
	StateDir   string
	BufferSize int
	Now        func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Runner == nil {
		d.Runner = execx.NewOSRunner(0)
	}
	if d.FS == nil {
		d.FS = afero.NewOsFs()
	}
	d.Logger = logging.OrNop(d.Logger)
	if d.Bus == nil {
		d.Bus = events.NewBus(d.BufferSize, d.Logger, d.Metrics)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// probes are the tool-specific steps plugged into the audit template.
type probes interface {
	installed(ctx context.Context) bool
	// configured returns false with a reason when required files are absent.
	configured(ctx context.Context) (bool, string)
	running(ctx context.Context) bool
	// functional may return nil when usability equals daemon liveness.
	functional(ctx context.Context) *bool
	audit(ctx context.Context, scanID string) ([]schema.Event, map[string]interface{}, error)
}

// base implements the lifecycle state machine shared by all adapters.
type base struct {
	name      string
	display   string
	eventType schema.EventType
	caps      []Capability
	settings  Settings
	deps      Deps
	logger    *zap.SugaredLogger
	hooks     probes
}

func newBase(name, display string, t schema.EventType, caps []Capability, s Settings, d Deps) base {
	d = d.withDefaults()
	return base{
		name:      name,
		display:   display,
		eventType: t,
		caps:      caps,
		settings:  s,
		deps:      d,
		logger:    d.Logger.With("service", name),
	}
}

func (b *base) Name() string { return b.name }
func (b *base) DisplayName() string { return b.display }
func (b *base) Capabilities() []Capability { return append([]Capability(nil), b.caps...) }
func (b *base) IsEnabled() bool { return b.settings.Enabled }

func (b *base) IsInstalled() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return b.hooks.installed(ctx)
}

func (b *base) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	ok, _ := b.hooks.configured(ctx)
	return ok
}

func (b *base) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return b.GetStatus(ctx).Healthy()
}

// GetStatus probes the tool. Disabled services are not probed.
func (b *base) GetStatus(ctx context.Context) schema.ServiceStatus {
	st := schema.ServiceStatus{Enabled: b.settings.Enabled, Details: map[string]interface{}{}}
	if !st.Enabled {
		st.Message = "disabled in configuration"
		return st
	}
	st.Installed = b.hooks.installed(ctx)
	if !st.Installed {
		st.Message = fmt.Sprintf("%s not found", b.binary())
		return st
	}
	var reason string
	st.Configured, reason = b.hooks.configured(ctx)
	st.Running = b.hooks.running(ctx)
	st.Functional = b.hooks.functional(ctx)
	switch {
	case !st.Configured:
		st.Message = reason
	case st.Healthy():
		st.Message = "healthy"
	default:
		st.Message = "not running"
	}
	return st
}

// RunAudit evaluates the fixed state order disabled, not_installed,
// not_configured, then secure or issues_found. It never panics.
func (b *base) RunAudit(ctx context.Context) (res schema.AuditResult) {
	res = schema.AuditResult{
		Service:     b.name,
		DisplayName: b.display,
		Issues:      []schema.Event{},
		Metadata:    map[string]interface{}{},
	}
	start := b.deps.Now()
	defer func() {
		if p := recover(); p != nil {
			b.logger.Errorw("Audit panicked", "panic", p)
			res.Status = schema.AuditNotConfigured
			res.Metadata["error"] = fmt.Sprint(p)
		}
		res.Metadata["duration_ms"] = b.deps.Now().Sub(start).Milliseconds()
		b.deps.Metrics.IncAudit(b.name, string(res.Status))
		b.progress("audit finished: %s (%d issues)", res.Status, len(res.Issues))
	}()

	if !b.settings.Enabled {
		res.Status = schema.AuditDisabled
		return res
	}
	if !b.hooks.installed(ctx) {
		res.Status = schema.AuditNotInstalled
		res.Metadata["message"] = fmt.Sprintf("%s not found", b.binary())
		return res
	}
	if ok, reason := b.hooks.configured(ctx); !ok {
		res.Status = schema.AuditNotConfigured
		res.Metadata["message"] = reason
		return res
	}

	b.progress("audit started")
	scanID := newScanID()
	res.Metadata["scan_id"] = scanID
	issues, meta, err := b.hooks.audit(ctx, scanID)
	for k, v := range meta {
		res.Metadata[k] = v
	}
	if err != nil {
		b.logger.Warnw("Audit probe failed", "error", err)
		res.Metadata["error"] = err.Error()
		issues = append(issues, b.event(schema.SevMedium, "audit probe failed: "+err.Error(), "", "", time.Time{}, scanID, nil))
	}
	res.Issues = append(res.Issues, issues...)
	if len(res.Issues) == 0 {
		res.Status = schema.AuditSecure
	} else {
		res.Status = schema.AuditIssuesFound
	}
	return res
}

// event builds a canonical event of this adapter's type. A zero ts means now.
func (b *base) event(sev schema.Severity, desc, location, user string, ts time.Time, scanID string, details map[string]interface{}) schema.Event {
	if ts.IsZero() {
		ts = b.deps.Now()
	}
	return schema.MustEvent(schema.Event{
		Timestamp:   ts,
		Type:        b.eventType,
		Severity:    sev,
		Description: desc,
		Location:    location,
		User:        user,
		Service:     b.name,
		ScanID:      scanID,
		Details:     details,
	})
}

func (b *base) binary() string { return b.settings.Binary }

func (b *base) lookPath() bool {
	_, err := b.deps.Runner.LookPath(b.binary())
	return err == nil
}

// run executes the tool binary with the adapter's timeout.
func (b *base) run(ctx context.Context, args ...string) (execx.Result, error) {
	return b.deps.Runner.Run(ctx, b.binary(), args, execx.Options{Timeout: b.settings.Timeout})
}

// processRunning asks pgrep for an exact process name match.
func (b *base) processRunning(ctx context.Context, name string) bool {
	if _, err := b.deps.Runner.LookPath("pgrep"); err != nil {
		return false
	}
	res, err := b.deps.Runner.Run(ctx, "pgrep", []string{"-x", name}, execx.Options{Timeout: probeTimeout})
	return err == nil && res.ExitCode == 0
}

func (b *base) exists(path string) bool {
	if path == "" {
		return false
	}
	ok, err := afero.Exists(b.deps.FS, path)
	return err == nil && ok
}

// readTail returns at most the last tailBytes of path, starting at a line
// boundary.
func (b *base) readTail(path string) (string, error) {
	f, err := b.deps.FS.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	partial := false
	if info.Size() > tailBytes {
		if _, err := f.Seek(info.Size()-tailBytes, io.SeekStart); err != nil {
			return "", err
		}
		partial = true
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	out := string(data)
	if partial {
		if i := strings.IndexByte(out, '\n'); i >= 0 {
			out = out[i+1:]
		}
	}
	return out, nil
}

// progress appends a line to the adapter's scratch log. Failures are ignored.
func (b *base) progress(format string, args ...interface{}) {
	if b.deps.StateDir == "" {
		return
	}
	dir := filepath.Join(b.deps.StateDir, "progress")
	if err := b.deps.FS.MkdirAll(dir, 0o755); err != nil {
		return
	}
	f, err := b.deps.FS.OpenFile(filepath.Join(dir, b.name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = fmt.Fprintf(f, "%s %s\n", b.deps.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

func isNotExist(err error) bool { return errors.Is(err, os.ErrNotExist) }
