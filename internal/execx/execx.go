// Package execx runs the external security tools: one-shot commands with
// a hard timeout, and attached long-running processes whose output is
// relayed line by line.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"
)

// ErrTimeout is returned when a command outlives its timeout and is killed.
var ErrTimeout = errors.New("command timed out")

// Options tune a single invocation.
type Options struct {
	Timeout time.Duration
	Env     map[string]string
	Dir     string
}

// Result is the captured outcome of a finished command. A non-zero exit
// code is not an error: scanners use it to signal findings.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner is the process-execution facility the adapters depend on.
type Runner interface {
	Run(ctx context.Context, name string, args []string, opts Options) (Result, error)
	LookPath(name string) (string, error)
}

// OSRunner runs real processes.
type OSRunner struct {
	DefaultTimeout time.Duration
}

func NewOSRunner(defaultTimeout time.Duration) *OSRunner {
	return &OSRunner{DefaultTimeout: defaultTimeout}
}

func (r *OSRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes name with args and waits for it. The returned error is set
// only when the process could not be started or was killed on timeout.
func (r *OSRunner) Run(ctx context.Context, name string, args []string, opts Options) (Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = MergeEnv(opts.Env)
	cmd.Dir = opts.Dir
	cmd.WaitDelay = time.Second
	killGroupOnCancel(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd, err),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%s: %w after %s", name, ErrTimeout, timeout)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return res, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// MergeEnv overlays overrides on the current environment. A nil map keeps
// the inherited environment untouched.
func MergeEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}
	env := os.Environ()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
