package execx

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	requireShell(t)
	r := NewOSRunner(5 * time.Second)

	res, err := r.Run(context.Background(), "sh", []string{"-c", "echo hi; echo oops >&2; exit 3"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hi\n\noops\n", res.Combined())
}

func TestRunEnvOverrides(t *testing.T) {
	requireShell(t)
	r := NewOSRunner(5 * time.Second)

	res, err := r.Run(context.Background(), "sh", []string{"-c", "printf %s \"$YOROGUARD_PROBE\""},
		Options{Env: map[string]string{"YOROGUARD_PROBE": "set"}})
	require.NoError(t, err)
	assert.Equal(t, "set", res.Stdout)
}

func TestRunTimeoutKills(t *testing.T) {
	requireShell(t)
	r := NewOSRunner(0)

	start := time.Now()
	_, err := r.Run(context.Background(), "sh", []string{"-c", "sleep 5"}, Options{Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunMissingBinary(t *testing.T) {
	r := NewOSRunner(time.Second)
	_, err := r.Run(context.Background(), "yoroguard-definitely-missing", nil, Options{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestStartRelaysLinesInOrder(t *testing.T) {
	requireShell(t)

	var (
		mu    sync.Mutex
		lines []string
	)
	p, err := Start(context.Background(), "sh", []string{"-c", "for i in 1 2 3 4 5; do echo line$i; done; echo bad >&2"}, Options{},
		func(stream, line string) {
			mu.Lock()
			defer mu.Unlock()
			if stream == Stdout {
				lines = append(lines, line)
			}
		})
	require.NoError(t, err)
	assert.Greater(t, p.PID(), 0)
	require.NoError(t, p.Wait())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"line1", "line2", "line3", "line4", "line5"}, lines)
}

func TestStartWritesStdin(t *testing.T) {
	requireShell(t)

	got := make(chan string, 1)
	p, err := Start(context.Background(), "cat", nil, Options{}, func(stream, line string) {
		got <- line
	})
	require.NoError(t, err)

	_, err = p.Write([]byte("hello\n"))
	require.NoError(t, err)
	select {
	case line := <-got:
		assert.Equal(t, "hello", line)
	case <-time.After(3 * time.Second):
		t.Fatal("no echo from cat")
	}
	require.NoError(t, p.CloseInput())
	require.NoError(t, p.Wait())
}

func TestStartTimeoutKills(t *testing.T) {
	requireShell(t)

	p, err := Start(context.Background(), "sh", []string{"-c", "sleep 5"}, Options{Timeout: 100 * time.Millisecond}, nil)
	require.NoError(t, err)
	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process was not killed on timeout")
	}
}
