package services

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/events"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/supervisor"
)

// streamMonitor runs a tool under the supervisor and turns each output line
// into a canonical event kept in a private ring buffer and published on the bus.
type streamMonitor struct {
	b       *base
	proc    string
	argv    func() []string
	parse   func(line string) (schema.Event, bool)
	buffer  *events.Buffer
	mu      sync.Mutex
	handles []handlerRef
}

type handlerRef struct {
	event string
	id    uint64
}

func newStreamMonitor(b *base, argv func() []string, parse func(string) (schema.Event, bool)) *streamMonitor {
	return &streamMonitor{
		b:      b,
		proc:   b.name + "-monitor",
		argv:   argv,
		parse:  parse,
		buffer: events.NewBuffer(b.deps.BufferSize),
	}
}

// logPath is where a detached monitor writes its output.
func (m *streamMonitor) logPath() string {
	return filepath.Join(m.b.deps.StateDir, m.proc+".log")
}

func (m *streamMonitor) canStart(ctx context.Context) bool {
	if m.b.deps.Supervisor == nil {
		m.b.logger.Warnw("No process supervisor available")
		return false
	}
	if !m.b.settings.Enabled || !m.b.hooks.installed(ctx) {
		m.b.logger.Infow("Monitoring unavailable", "enabled", m.b.settings.Enabled)
		return false
	}
	return true
}

// StartMonitoring attaches to the tool's output. A positive d bounds the
// session. Already-running monitors report success.
func (m *streamMonitor) StartMonitoring(ctx context.Context, d time.Duration) bool {
	if !m.canStart(ctx) {
		return false
	}
	if m.IsMonitoring() {
		return true
	}
	sup := m.b.deps.Supervisor

	m.mu.Lock()
	m.handles = append(m.handles,
		handlerRef{supervisor.EventOutput, sup.On(m.proc, supervisor.EventOutput, m.onLine)},
		handlerRef{supervisor.EventExit, sup.On(m.proc, supervisor.EventExit, func(supervisor.OutputEvent) { m.detach() })},
	)
	m.mu.Unlock()

	pid, err := sup.Start(ctx, m.argv(), m.proc, supervisor.StartOptions{StreamOutput: true, Timeout: d})
	if err != nil {
		m.detach()
		m.b.logger.Errorw("Failed to start monitor", "error", err)
		return false
	}
	m.b.logger.Infow("Monitoring started", "pid", pid, "duration", d.String())
	return true
}

// StartDetached launches the monitor so it outlives this process, writing
// its output to logPath. A positive d schedules its termination.
func (m *streamMonitor) StartDetached(ctx context.Context, d time.Duration) bool {
	if !m.canStart(ctx) {
		return false
	}
	if m.IsMonitoring() {
		return true
	}
	if err := m.b.deps.FS.MkdirAll(m.b.deps.StateDir, 0o755); err != nil {
		m.b.logger.Errorw("Failed to create state dir", "error", err)
		return false
	}
	pid, err := m.b.deps.Supervisor.Start(ctx, m.argv(), m.proc, supervisor.StartOptions{Timeout: d, LogPath: m.logPath()})
	if err != nil {
		m.b.logger.Errorw("Failed to start detached monitor", "error", err)
		return false
	}
	m.b.logger.Infow("Detached monitoring started", "pid", pid, "log", m.logPath(), "duration", d.String())
	return true
}

func (m *streamMonitor) onLine(ev supervisor.OutputEvent) {
	e, ok := m.parse(ev.Line)
	if !ok {
		return
	}
	if m.buffer.Add(e) {
		m.b.deps.Bus.Publish(context.Background(), e)
	}
}

func (m *streamMonitor) detach() {
	sup := m.b.deps.Supervisor
	m.mu.Lock()
	refs := m.handles
	m.handles = nil
	m.mu.Unlock()
	for _, r := range refs {
		sup.Off(m.proc, r.event, r.id)
	}
}

func (m *streamMonitor) StopMonitoring() bool {
	if m.b.deps.Supervisor == nil {
		return true
	}
	ok := m.b.deps.Supervisor.Stop(m.proc, false)
	if ok {
		m.detach()
	}
	return ok
}

func (m *streamMonitor) IsMonitoring() bool {
	if m.b.deps.Supervisor == nil {
		return false
	}
	return m.b.deps.Supervisor.IsRunningName(m.proc)
}

// GetRecentEvents returns buffered events newest first. A process that did
// not start the monitor itself reads the detached monitor's log instead.
func (m *streamMonitor) GetRecentEvents(limit int) []schema.Event {
	if m.buffer.Len() > 0 {
		return m.buffer.Recent(limit)
	}
	data, err := m.b.readTail(m.logPath())
	if err != nil {
		return nil
	}
	lines := strings.Split(data, "\n")
	var out []schema.Event
	for i := len(lines) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e, ok := m.parse(lines[i]); ok {
			out = append(out, e)
		}
	}
	return out
}
