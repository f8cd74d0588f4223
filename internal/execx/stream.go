package execx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Stream names passed to a LineHandler.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// LineHandler receives every output line of an attached process. Calls are
// serialized; lines of one stream arrive in emission order.
type LineHandler func(stream, line string)

// Process is a running attached child.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	done    chan struct{}
	waitErr error
	cancel  context.CancelFunc
}

// Start launches an attached process and relays its output to onLine
// from background goroutines. A positive opts.Timeout kills it on expiry.
func Start(ctx context.Context, name string, args []string, opts Options, onLine LineHandler) (*Process, error) {
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = MergeEnv(opts.Env)
	cmd.Dir = opts.Dir
	killGroupOnCancel(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe for %s: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe for %s: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe for %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	p := &Process{cmd: cmd, stdin: stdin, done: make(chan struct{}), cancel: cancel}

	var (
		relay sync.WaitGroup
		mu    sync.Mutex
	)
	emit := func(stream, line string) {
		if onLine == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onLine(stream, line)
	}
	relay.Add(2)
	go scanLines(stdout, Stdout, emit, &relay)
	go scanLines(stderr, Stderr, emit, &relay)

	go func() {
		relay.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		cancel()
		close(p.done)
	}()
	return p, nil
}

func scanLines(r io.Reader, stream string, emit func(string, string), wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		emit(stream, sc.Text())
	}
}

func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited and all output was relayed.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until Done and returns the exit error, if any.
func (p *Process) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return nil
	}
	return p.waitErr
}

// ExitCode is valid after Done.
func (p *Process) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Write sends text to the process stdin.
func (p *Process) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errors.New("process has exited")
	default:
	}
	return p.stdin.Write(b)
}

// CloseInput closes stdin so the process sees EOF.
func (p *Process) CloseInput() error { return p.stdin.Close() }

// Kill cancels the process context, which kills the child.
func (p *Process) Kill() { p.cancel() }
