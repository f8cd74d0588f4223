// Package supervisor starts, streams, signals and tracks long-running
// monitor processes whose lifetime must outlive a single yoroguard
// invocation. PIDs are persisted to name-keyed side-files.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/execx"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/metrics"
)

var (
	ErrPIDUndeterminable = errors.New("pid undeterminable")
	ErrNotStreaming      = errors.New("process has no live input handle")
	ErrUnknownProcess    = errors.New("unknown process")
)

const (
	ModeDetached  = "detached"
	ModeStreaming = "streaming"

	watchdogSuffix = ".watchdog"
)

// StartOptions select the launch mode. StreamOutput attaches the process
// and relays its output to registered handlers; otherwise it is detached.
type StartOptions struct {
	StreamOutput bool
	Timeout      time.Duration
	Env          map[string]string
	// LogPath receives a detached process's stdout/stderr. Empty discards it.
	LogPath string
}

type Config struct {
	StateDir    string
	SettleDelay time.Duration
	StopGrace   time.Duration
}

type Supervisor struct {
	store    *PIDStore
	runner   execx.Runner
	table    ProcessTable
	handlers *handlerRegistry
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	settle   time.Duration
	grace    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	live map[string]*execx.Process
}

func New(fs afero.Fs, runner execx.Runner, logger *zap.SugaredLogger, m *metrics.Metrics, cfg Config) *Supervisor {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 300 * time.Millisecond
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 3 * time.Second
	}
	logger = logging.OrNop(logger).With("component", "supervisor")
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		store:    NewPIDStore(fs, cfg.StateDir),
		runner:   runner,
		table:    NewProcessTable(),
		handlers: newHandlerRegistry(logger, m),
		logger:   logger,
		metrics:  m,
		settle:   cfg.SettleDelay,
		grace:    cfg.StopGrace,
		ctx:      ctx,
		cancel:   cancel,
		live:     map[string]*execx.Process{},
	}
}

// WithProcessTable swaps the process table, mainly for tests.
func (s *Supervisor) WithProcessTable(t ProcessTable) *Supervisor {
	s.table = t
	return s
}

func (s *Supervisor) Store() *PIDStore { return s.store }

// Start launches argv under name and returns its PID. The PID is persisted
// so a later invocation can stop the process by name.
func (s *Supervisor) Start(ctx context.Context, argv []string, name string, opts StartOptions) (int, error) {
	if len(argv) == 0 || name == "" {
		return 0, errors.New("start requires a command and a name")
	}
	if h, err := s.store.Load(name); err == nil && s.IsRunning(h.PID) {
		return 0, fmt.Errorf("process %q already running with pid %d", name, h.PID)
	}

	mode := ModeDetached
	var (
		pid int
		err error
	)
	if opts.StreamOutput {
		mode = ModeStreaming
		pid, err = s.startStreaming(argv, name, opts)
	} else {
		pid, err = s.startDetached(ctx, argv, name, opts)
	}
	if err != nil {
		s.metrics.IncProcessFailure("start")
		s.logger.Errorw("Failed to start process", "name", name, "command", strings.Join(argv, " "), "mode", mode, "error", err)
		return 0, err
	}

	h := Handle{Name: name, PID: pid, Command: strings.Join(argv, " "), StartedAt: time.Now(), Mode: mode}
	if err := s.store.Save(h); err != nil {
		s.logger.Warnw("Failed to persist pid record", "name", name, "pid", pid, "error", err)
	}
	s.metrics.IncProcessStart(mode)
	s.logger.Infow("Process started", "name", name, "pid", pid, "mode", mode, "command", h.Command)

	if !opts.StreamOutput && opts.Timeout > 0 {
		if _, err := s.ScheduleTermination(strconv.Itoa(pid), opts.Timeout); err != nil {
			s.logger.Warnw("Failed to schedule termination", "name", name, "pid", pid, "error", err)
		}
	}
	return pid, nil
}

func (s *Supervisor) startDetached(ctx context.Context, argv []string, name string, opts StartOptions) (int, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	execx.SetDetached(cmd)
	cmd.Env = execx.MergeEnv(opts.Env)
	if opts.LogPath != "" {
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("open log %s: %w", opts.LogPath, err)
		}
		defer f.Close()
		cmd.Stdout, cmd.Stderr = f, f
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	pid := cmd.Process.Pid
	// Reap the child if it exits while this process is still alive.
	go func() { _ = cmd.Wait() }()

	// Let the OS settle; daemonizing tools fork away from the launched pid.
	select {
	case <-time.After(s.settle):
	case <-ctx.Done():
	}
	if s.IsRunning(pid) {
		return pid, nil
	}
	if found, ok := s.discoverPID(ctx, argv); ok {
		return found, nil
	}
	return 0, fmt.Errorf("%s: %w", name, ErrPIDUndeterminable)
}

func (s *Supervisor) startStreaming(argv []string, name string, opts StartOptions) (int, error) {
	var pid int
	var pidOnce sync.WaitGroup
	pidOnce.Add(1)
	proc, err := execx.Start(s.ctx, argv[0], argv[1:], execx.Options{Timeout: opts.Timeout, Env: opts.Env},
		func(stream, line string) {
			pidOnce.Wait()
			s.dispatch(name, pid, stream, line)
		})
	if err != nil {
		pidOnce.Done()
		return 0, err
	}
	pid = proc.PID()
	pidOnce.Done()

	s.mu.Lock()
	s.live[name] = proc
	s.mu.Unlock()

	go func() {
		<-proc.Done()
		s.mu.Lock()
		if s.live[name] == proc {
			delete(s.live, name)
		}
		s.mu.Unlock()
		if h, err := s.store.Load(name); err == nil && h.PID == pid {
			_ = s.store.Remove(name)
		}
		code := proc.ExitCode()
		s.logger.Infow("Streaming process exited", "name", name, "pid", pid, "exit_code", code)
		s.handlers.fire(OutputEvent{Name: name, PID: pid, Type: EventExit, Line: strconv.Itoa(code), At: time.Now()})
	}()
	return pid, nil
}

func (s *Supervisor) dispatch(name string, pid int, stream, line string) {
	ev := OutputEvent{Name: name, PID: pid, Stream: stream, Line: line, At: time.Now()}
	ev.Type = EventOutput
	if stream == execx.Stderr {
		ev.Type = EventError
	}
	s.handlers.fire(ev)
	ev.Type = EventData
	s.handlers.fire(ev)
}

// On registers fn for (name, event) and returns an id for Off.
func (s *Supervisor) On(name, event string, fn Handler) uint64 {
	return s.handlers.on(name, event, fn)
}

func (s *Supervisor) Off(name, event string, id uint64) bool {
	return s.handlers.off(name, event, id)
}

// Stop terminates the process identified by a name or a numeric pid. It
// sends SIGTERM (SIGKILL when force), waits briefly, escalates to SIGKILL
// if needed and removes the side-file once the process is gone. Stopping
// an already-dead or unknown process succeeds.
func (s *Supervisor) Stop(nameOrPid string, force bool) bool {
	pid, name, err := s.resolve(nameOrPid)
	if errors.Is(err, ErrNoRecord) {
		return true
	}
	if err != nil {
		s.logger.Warnw("Cannot resolve process", "target", nameOrPid, "error", err)
		s.metrics.IncProcessFailure("stop")
		return false
	}
	if name != "" && !strings.HasSuffix(name, watchdogSuffix) {
		s.Stop(name+watchdogSuffix, true)
	}

	if s.IsRunning(pid) {
		sig, sigName := sigTerm, "SIGTERM"
		if force {
			sig, sigName = sigKill, "SIGKILL"
		}
		if err := sendSignal(pid, sig); err != nil {
			s.logger.Warnw("Signal failed", "name", name, "pid", pid, "signal", sigName, "error", err)
		}
		if !s.waitGone(pid, s.grace) && !force {
			s.logger.Infow("Process ignored SIGTERM, escalating", "name", name, "pid", pid)
			if err := sendSignal(pid, sigKill); err != nil {
				s.logger.Warnw("Signal failed", "name", name, "pid", pid, "signal", "SIGKILL", "error", err)
			}
			s.waitGone(pid, s.grace)
		}
		if s.IsRunning(pid) {
			s.metrics.IncProcessFailure("stop")
			s.logger.Errorw("Process survived termination", "name", name, "pid", pid)
			return false
		}
	}

	s.forget(name, pid)
	s.logger.Infow("Process stopped", "name", name, "pid", pid)
	return true
}

func (s *Supervisor) waitGone(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !s.IsRunning(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !s.IsRunning(pid)
}

func (s *Supervisor) forget(name string, pid int) {
	if name == "" {
		if h, ok := s.store.FindByPID(pid); ok {
			name = h.Name
		}
	}
	if name == "" {
		return
	}
	if err := s.store.Remove(name); err != nil {
		s.logger.Warnw("Failed to remove pid record", "name", name, "error", err)
	}
	s.mu.Lock()
	delete(s.live, name)
	s.mu.Unlock()
}

// ScheduleTermination launches an independent detached watcher that sleeps
// for d and then signals the target, so the deadline holds even after this
// process exits. It returns the watcher's pid.
func (s *Supervisor) ScheduleTermination(nameOrPid string, d time.Duration) (int, error) {
	pid, name, err := s.resolve(nameOrPid)
	if err != nil {
		return 0, err
	}
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	graceSecs := int(s.grace/time.Second) + 1
	script := fmt.Sprintf("sleep %d; kill -TERM %d 2>/dev/null; sleep %d; kill -KILL %d 2>/dev/null",
		secs, pid, graceSecs, pid)
	if name != "" {
		script += "; rm -f " + shellQuote(s.store.Path(name)) + " " + shellQuote(s.store.Path(name+watchdogSuffix))
	}

	cmd := exec.Command("sh", "-c", script)
	execx.SetDetached(cmd)
	if err := cmd.Start(); err != nil {
		s.metrics.IncProcessFailure("schedule")
		return 0, fmt.Errorf("failed to start termination watcher: %w", err)
	}
	watcher := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()

	if name != "" {
		h := Handle{Name: name + watchdogSuffix, PID: watcher, Command: "sh -c " + script, StartedAt: time.Now(), Mode: ModeDetached}
		if err := s.store.Save(h); err != nil {
			s.logger.Warnw("Failed to persist watcher record", "name", h.Name, "error", err)
		}
	}
	s.logger.Infow("Termination scheduled", "name", name, "pid", pid, "after", d.String(), "watcher_pid", watcher)
	return watcher, nil
}

// IsRunning probes the process table; zombies count as dead.
func (s *Supervisor) IsRunning(pid int) bool {
	return s.table.Exists(pid)
}

// IsRunningName resolves name through its side-file.
func (s *Supervisor) IsRunningName(name string) bool {
	h, err := s.store.Load(name)
	if err != nil {
		return false
	}
	return s.IsRunning(h.PID)
}

// SendInput writes text to the target's stdin: through the live handle for
// streaming processes, else best effort through /proc/<pid>/fd/0.
func (s *Supervisor) SendInput(nameOrPid, text string) error {
	pid, name, err := s.resolve(nameOrPid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	proc := s.live[name]
	s.mu.Unlock()
	if proc != nil {
		if _, err := proc.Write([]byte(text)); err != nil {
			return fmt.Errorf("write to %s: %w", name, err)
		}
		return nil
	}
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/fd/0", pid), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", nameOrPid, ErrNotStreaming)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("write to pid %d: %w", pid, err)
	}
	return nil
}

// Status pairs a persisted handle with a liveness probe.
type Status struct {
	Handle
	Running bool `json:"running"`
}

// List reports every persisted process.
func (s *Supervisor) List() []Status {
	handles, err := s.store.List()
	if err != nil {
		s.logger.Warnw("Failed to list pid records", "error", err)
		return nil
	}
	out := make([]Status, 0, len(handles))
	for _, h := range handles {
		out = append(out, Status{Handle: h, Running: s.IsRunning(h.PID)})
	}
	return out
}

// Close kills every attached streaming process owned by this supervisor.
func (s *Supervisor) Close() {
	s.cancel()
}

// resolve maps a name or numeric pid to (pid, name). Name may be empty
// when a bare pid has no side-file.
func (s *Supervisor) resolve(nameOrPid string) (int, string, error) {
	if pid, err := strconv.Atoi(nameOrPid); err == nil {
		if pid <= 0 {
			return 0, "", fmt.Errorf("%w: pid %d", ErrUnknownProcess, pid)
		}
		if h, ok := s.store.FindByPID(pid); ok {
			return pid, h.Name, nil
		}
		return pid, "", nil
	}
	h, err := s.store.Load(nameOrPid)
	if err != nil {
		return 0, nameOrPid, err
	}
	return h.PID, h.Name, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
